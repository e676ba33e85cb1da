package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	"go.uber.org/zap"
)

type upsertPeerRequest struct {
	CountryCode    string   `json:"country_code"`
	PartyID        string   `json:"party_id"`
	BusinessName   string   `json:"business_name"`
	Roles          []string `json:"roles"`
	VersionsURL    string   `json:"versions_url"`
	BootstrapToken string   `json:"bootstrap_token"`
	AllowUpdate    bool     `json:"allow_update"`
}

func (s *Server) UpsertPeer(c *gin.Context) {
	var req upsertPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	roles := make([]ocpi.Role, 0, len(req.Roles))
	for _, raw := range req.Roles {
		role, ok := ocpi.ParseRole(raw)
		if !ok {
			AbortWithError(c, newValidationError("roles", "invalid_roles", "invalid role"))
			return
		}
		roles = append(roles, role)
	}

	resp, err := s.peerSvc.Upsert(c.Request.Context(), peerdomain.UpsertRequest{
		CountryCode:     strings.TrimSpace(req.CountryCode),
		PartyID:         strings.TrimSpace(req.PartyID),
		BusinessName:    strings.TrimSpace(req.BusinessName),
		Roles:           roles,
		BaseVersionsURL: strings.TrimSpace(req.VersionsURL),
		BootstrapToken:  strings.TrimSpace(req.BootstrapToken),
		AllowUpdate:     req.AllowUpdate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPeers(c *gin.Context) {
	var query struct {
		Status      string `form:"status"`
		CountryCode string `form:"country_code"`
		PartyID     string `form:"party_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.peerSvc.List(c.Request.Context(), peerdomain.ListRequest{
		Status:      peerdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
		CountryCode: query.CountryCode,
		PartyID:     query.PartyID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPeer(c *gin.Context) {
	id, ok := peerIDParam(c)
	if !ok {
		return
	}

	record, err := s.peerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record.Summary})
}

func (s *Server) DeletePeer(c *gin.Context) {
	id, ok := peerIDParam(c)
	if !ok {
		return
	}

	if err := s.peerSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) GetPeerEndpoints(c *gin.Context) {
	id, ok := peerIDParam(c)
	if !ok {
		return
	}

	resp, err := s.catalogSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RegisterPeer(c *gin.Context) {
	s.runLifecycle(c, "register", s.registrationSvc.Register)
}

func (s *Server) RenegotiatePeer(c *gin.Context) {
	s.runLifecycle(c, "renegotiate", s.registrationSvc.Renegotiate)
}

func (s *Server) RotatePeer(c *gin.Context) {
	s.runLifecycle(c, "rotate", s.registrationSvc.Rotate)
}

func (s *Server) RevokePeer(c *gin.Context) {
	s.runLifecycle(c, "revoke", s.registrationSvc.Revoke)
}

type lifecycleFunc func(ctx context.Context, id snowflake.ID) (*registrationdomain.Outcome, error)

func (s *Server) runLifecycle(c *gin.Context, operation string, fn lifecycleFunc) {
	id, ok := peerIDParam(c)
	if !ok {
		return
	}

	resp, err := fn(c.Request.Context(), id)
	if err != nil {
		s.log.Warn("peer lifecycle operation failed",
			zap.String("operation", operation),
			zap.String("peer_id", id.String()),
			zap.String("error_kind", ocpi.KindName(err)),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func peerIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
