package ocpi

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameters   = errors.New("invalid_parameters")
	ErrUnsupportedVersion  = errors.New("unsupported_version")
	ErrUnknownToken        = errors.New("unknown_token")
	ErrUnknownLocation     = errors.New("unknown_location")
	ErrUnableToUseClient   = errors.New("unable_to_use_client")
	ErrNoMatchingEndpoints = errors.New("no_matching_endpoints")
)

var kinds = []error{
	ErrInvalidParameters,
	ErrUnsupportedVersion,
	ErrUnknownToken,
	ErrUnknownLocation,
	ErrUnableToUseClient,
	ErrNoMatchingEndpoints,
}

// Error describes a failed exchange with a remote party. It never carries a token.
type Error struct {
	Op         string
	Kind       error
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether err is a remote failure worth retrying later.
func IsRetryable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	return false
}

// KindOf returns the taxonomy sentinel err belongs to, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName is the stable label for err's kind, "unknown" when unclassified.
func KindName(err error) string {
	if kind := KindOf(err); kind != nil {
		return kind.Error()
	}
	return "unknown"
}

// StatusCodeFor maps a kind to the OCPI body status code reported for it.
func StatusCodeFor(err error) int {
	switch KindOf(err) {
	case ErrInvalidParameters:
		return StatusInvalidParameters
	case ErrUnknownToken:
		return StatusUnknownToken
	case ErrUnknownLocation:
		return StatusUnknownLocation
	case ErrUnsupportedVersion:
		return StatusUnsupportedVersion
	case ErrNoMatchingEndpoints:
		return StatusNoMatchingEndpoints
	case ErrUnableToUseClient:
		return StatusUnableToUseClient
	default:
		return StatusServerError
	}
}

// KindForStatusCode maps a non-success OCPI body status code to a kind.
func KindForStatusCode(code int) (kind error, retryable bool) {
	switch code {
	case StatusUnknownToken:
		return ErrUnknownToken, false
	case StatusUnknownLocation:
		return ErrUnknownLocation, false
	case StatusUnsupportedVersion:
		return ErrUnsupportedVersion, false
	case StatusNoMatchingEndpoints:
		return ErrNoMatchingEndpoints, false
	case StatusServerError, StatusUnableToUseClient:
		return ErrUnableToUseClient, true
	default:
		if code >= StatusServerError {
			return ErrUnableToUseClient, true
		}
		return ErrInvalidParameters, false
	}
}
