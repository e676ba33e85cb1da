package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ocpilink/internal/audit/auditcontext"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	obscontext "github.com/smallbiznis/ocpilink/internal/observability/context"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	"github.com/smallbiznis/ocpilink/internal/secret"
	"go.uber.org/zap"
)

const (
	HeaderAdminKey = "X-Admin-Key"

	contextPeerKey = "ocpi_peer"
)

// PeerTokenRequired resolves the OCPI Authorization header to a non-revoked
// peer. With allowBootstrap, a configured bootstrap token is accepted as well
// and no peer is attached to the request.
func (s *Server) PeerTokenRequired(allowBootstrap bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		candidates := ocpi.TokenCandidates(c.GetHeader("Authorization"))
		if len(candidates) == 0 {
			s.rejectToken(c, "missing")
			return
		}

		for _, token := range candidates {
			record, err := s.peerSvc.FindByToken(c.Request.Context(), token)
			if err != nil {
				if errors.Is(err, ocpi.ErrUnknownToken) {
					continue
				}
				s.abortOCPI(c, http.StatusInternalServerError, ocpi.StatusServerError, "Internal error", err)
				return
			}

			c.Set(contextPeerKey, record)
			ctx := obscontext.WithPeerID(c.Request.Context(), record.ID)
			ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypePeer), record.ID)
			c.Request = c.Request.WithContext(auditcontext.WithRequest(ctx, c.ClientIP(), c.Request.UserAgent()))
			c.Next()
			return
		}

		if allowBootstrap && s.isBootstrapToken(candidates) {
			c.Next()
			return
		}

		s.rejectToken(c, secret.Mask(candidates[0]))
	}
}

// AdminKeyRequired guards operator routes. An unset admin key disables them.
func (s *Server) AdminKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.AdminAPIKey)
		presented := strings.TrimSpace(c.GetHeader(HeaderAdminKey))
		if expected == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAdmin), "")
		c.Request = c.Request.WithContext(auditcontext.WithRequest(ctx, c.ClientIP(), c.Request.UserAgent()))
		c.Next()
	}
}

func (s *Server) isBootstrapToken(candidates []string) bool {
	for _, configured := range s.cfg.BootstrapTokens {
		for _, token := range candidates {
			if subtle.ConstantTimeCompare([]byte(configured), []byte(token)) == 1 {
				return true
			}
		}
	}
	return false
}

func (s *Server) rejectToken(c *gin.Context, masked string) {
	s.metrics.IncInboundAuthFailure()
	s.log.Info("inbound token rejected",
		zap.String("route", c.FullPath()),
		zap.String("token", masked),
	)
	s.abortOCPI(c, http.StatusUnauthorized, ocpi.StatusUnknownToken, "Unknown token", ocpi.ErrUnknownToken)
}

func authenticatedPeer(c *gin.Context) *peerdomain.Record {
	value, ok := c.Get(contextPeerKey)
	if !ok {
		return nil
	}
	record, _ := value.(*peerdomain.Record)
	return record
}
