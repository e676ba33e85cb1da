package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	credentialsdomain "github.com/smallbiznis/ocpilink/internal/credentials/domain"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictReason(err),
		}
	case errors.Is(err, registrationdomain.ErrBusy):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "peer_busy",
			Message: "another operation on this peer is in progress",
		}
	case ocpi.KindOf(err) != nil:
		// Remote failures carry no tokens, only the kind is exposed.
		return http.StatusBadGateway, errorPayload{
			Type:    ocpi.KindName(err),
			Message: remoteMessage(err),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with a stable type and code.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		return "internal", payload.Type
	case status == http.StatusBadGateway:
		return "remote", payload.Type
	default:
		return "client", payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest,
		ocpi.ErrInvalidParameters,
		peerdomain.ErrInvalidCountryCode,
		peerdomain.ErrInvalidPartyID,
		peerdomain.ErrInvalidRoles,
		peerdomain.ErrInvalidVersionsURL,
		peerdomain.ErrInvalidToken,
		peerdomain.ErrInvalidStatus,
		peerdomain.ErrInvalidVersion,
		catalogdomain.ErrEmptyManifest,
		catalogdomain.ErrInvalidVersion,
		catalogdomain.ErrInvalidIdentifier,
		catalogdomain.ErrInvalidEndpointURL,
		catalogdomain.ErrInvalidEndpointRole,
		catalogdomain.ErrDuplicateIdentifier,
		auditdomain.ErrInvalidTimeRange,
	} {
		if errors.Is(err, target) {
			// remote invalid_parameters answers are not our caller's fault
			var remote *ocpi.Error
			return !errors.As(err, &remote)
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, peerdomain.ErrNotFound),
		errors.Is(err, catalogdomain.ErrCatalogNotFound),
		errors.Is(err, catalogdomain.ErrEndpointNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, peerdomain.ErrConflict),
		errors.Is(err, peerdomain.ErrPeerRevoked),
		errors.Is(err, peerdomain.ErrInvalidTransition),
		errors.Is(err, registrationdomain.ErrAlreadyRegistered),
		errors.Is(err, registrationdomain.ErrNotRegistered),
		errors.Is(err, registrationdomain.ErrNoToken),
		errors.Is(err, credentialsdomain.ErrNotRegistered),
		errors.Is(err, credentialsdomain.ErrNoCredentialsURL),
		errors.Is(err, catalogdomain.ErrNoEndpointRoles):
		return true
	default:
		return false
	}
}

func conflictReason(err error) string {
	for _, target := range []error{
		peerdomain.ErrConflict,
		peerdomain.ErrPeerRevoked,
		peerdomain.ErrInvalidTransition,
		registrationdomain.ErrAlreadyRegistered,
		registrationdomain.ErrNotRegistered,
		registrationdomain.ErrNoToken,
		credentialsdomain.ErrNotRegistered,
		credentialsdomain.ErrNoCredentialsURL,
		catalogdomain.ErrNoEndpointRoles,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "conflict"
}

func remoteMessage(err error) string {
	if ocpi.IsRetryable(err) {
		return "remote party call failed, retry later"
	}
	return "remote party call failed"
}

func validationErrorCode(err error) string {
	for _, target := range []error{
		peerdomain.ErrInvalidCountryCode,
		peerdomain.ErrInvalidPartyID,
		peerdomain.ErrInvalidRoles,
		peerdomain.ErrInvalidVersionsURL,
		peerdomain.ErrInvalidToken,
		peerdomain.ErrInvalidStatus,
		peerdomain.ErrInvalidVersion,
		catalogdomain.ErrDuplicateIdentifier,
		catalogdomain.ErrInvalidIdentifier,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
