package server

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	"go.uber.org/zap"
)

// ListVersions publishes the versions we speak, most preferred first.
func (s *Server) ListVersions(c *gin.Context) {
	versions := s.priority.Priority()
	refs := make([]ocpi.VersionRef, 0, len(versions))
	for _, v := range versions {
		refs = append(refs, ocpi.VersionRef{
			Version: v,
			URL:     s.cfg.Party.PublicURL + "/" + string(v),
		})
	}

	c.JSON(http.StatusOK, ocpi.Success(refs, s.clock.Now()))
}

func (s *Server) GetVersionDetails(c *gin.Context) {
	version, ok := s.publishedVersion(c)
	if !ok {
		return
	}

	base := s.cfg.Party.PublicURL
	detail := ocpi.VersionDetail{
		Version: version,
		Endpoints: []ocpi.Endpoint{
			{Identifier: ocpi.ModuleCredentials, URL: base + "/" + string(version) + "/credentials"},
			{Identifier: ocpi.ModuleVersions, URL: base + "/versions"},
		},
	}

	c.JSON(http.StatusOK, ocpi.Success(detail, s.clock.Now()))
}

// GetCredentials returns our credentials object as the calling peer knows it.
func (s *Server) GetCredentials(c *gin.Context) {
	if _, ok := s.publishedVersion(c); !ok {
		return
	}
	record := authenticatedPeer(c)
	if record == nil {
		s.abortOCPI(c, http.StatusUnauthorized, ocpi.StatusUnknownToken, "Unknown token", ocpi.ErrUnknownToken)
		return
	}

	c.JSON(http.StatusOK, ocpi.Success(s.credentialsSvc.Describe(record.OurTokenForPeer), s.clock.Now()))
}

// DeleteCredentials is the peer unregistering itself.
func (s *Server) DeleteCredentials(c *gin.Context) {
	if _, ok := s.publishedVersion(c); !ok {
		return
	}
	record := authenticatedPeer(c)
	if record == nil {
		s.abortOCPI(c, http.StatusUnauthorized, ocpi.StatusUnknownToken, "Unknown token", ocpi.ErrUnknownToken)
		return
	}

	if err := s.peerSvc.Transition(c.Request.Context(), record.PeerID, peerdomain.StatusRevoked); err != nil {
		if errors.Is(err, peerdomain.ErrInvalidTransition) || errors.Is(err, peerdomain.ErrPeerRevoked) {
			s.abortOCPI(c, http.StatusMethodNotAllowed, ocpi.StatusClientError, "Peer is not registered", err)
			return
		}
		s.abortOCPI(c, http.StatusInternalServerError, ocpi.StatusServerError, "Internal error", err)
		return
	}

	s.log.Info("peer unregistered",
		zap.String("peer_id", record.ID),
		zap.String("country_code", record.CountryCode),
		zap.String("party_id", record.PartyID),
	)
	if s.auditSvc != nil {
		targetID := record.ID
		_ = s.auditSvc.AuditLog(c.Request.Context(), "", nil, auditdomain.ActionCredentialsDeleted, auditdomain.TargetTypePeer, &targetID, map[string]any{
			"version":    c.Param("version"),
			"peer_token": record.PeerTokenForUs,
		})
	}
	c.JSON(http.StatusOK, ocpi.Success[any](nil, s.clock.Now()))
}

func (s *Server) publishedVersion(c *gin.Context) (ocpi.Version, bool) {
	version := ocpi.Version(c.Param("version"))
	if !version.Valid() || !slices.Contains(s.priority.Priority(), version) {
		s.abortOCPI(c, http.StatusNotFound, ocpi.StatusUnsupportedVersion, "Unsupported version", ocpi.ErrUnsupportedVersion)
		return "", false
	}
	return version, true
}

// abortOCPI answers with an OCPI envelope. err is kept for request logging only.
func (s *Server) abortOCPI(c *gin.Context, status, code int, message string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ocpi.Failure(code, message, s.clock.Now()))
}
