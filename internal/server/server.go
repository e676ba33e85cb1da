package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/config"
	credentialsdomain "github.com/smallbiznis/ocpilink/internal/credentials/domain"
	"github.com/smallbiznis/ocpilink/internal/observability"
	obsmiddleware "github.com/smallbiznis/ocpilink/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ocpilink/internal/observability/metrics"
	obstracing "github.com/smallbiznis/ocpilink/internal/observability/tracing"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	versionsdomain "github.com/smallbiznis/ocpilink/internal/versions/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	clock           clock.Clock
	peerSvc         peerdomain.Service
	catalogSvc      catalogdomain.Service
	credentialsSvc  credentialsdomain.Service
	registrationSvc registrationdomain.Service
	priority        versionsdomain.PriorityProvider
	metrics         *obsmetrics.PeeringMetrics
	auditSvc        auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	PeerSvc         peerdomain.Service
	CatalogSvc      catalogdomain.Service
	CredentialsSvc  credentialsdomain.Service
	RegistrationSvc registrationdomain.Service
	Priority        versionsdomain.PriorityProvider
	Metrics         *obsmetrics.PeeringMetrics `optional:"true"`
	AuditSvc        auditdomain.Service        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		clock:           clk,
		peerSvc:         p.PeerSvc,
		catalogSvc:      p.CatalogSvc,
		credentialsSvc:  p.CredentialsSvc,
		registrationSvc: p.RegistrationSvc,
		priority:        p.Priority,
		metrics:         p.Metrics,
		auditSvc:        p.AuditSvc,
	}

	svc.registerOCPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerOCPIRoutes() {
	api := s.engine.Group("/ocpi")

	api.GET("/versions", s.PeerTokenRequired(true), s.ListVersions)
	api.GET("/:version", s.PeerTokenRequired(true), s.GetVersionDetails)

	api.GET("/:version/credentials", s.PeerTokenRequired(false), s.GetCredentials)
	api.DELETE("/:version/credentials", s.PeerTokenRequired(false), s.DeleteCredentials)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminKeyRequired())

	// -------- Peers --------
	admin.POST("/peers", s.UpsertPeer)
	admin.GET("/peers", s.ListPeers)
	admin.GET("/peers/:id", s.GetPeer)
	admin.DELETE("/peers/:id", s.DeletePeer)
	admin.GET("/peers/:id/endpoints", s.GetPeerEndpoints)

	// -------- Lifecycle --------
	admin.POST("/peers/:id/register", s.RegisterPeer)
	admin.POST("/peers/:id/renegotiate", s.RenegotiatePeer)
	admin.POST("/peers/:id/rotate", s.RotatePeer)
	admin.POST("/peers/:id/revoke", s.RevokePeer)

	// -------- Audit --------
	admin.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
