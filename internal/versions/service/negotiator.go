package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/smallbiznis/ocpilink/internal/observability/logger"
	"github.com/smallbiznis/ocpilink/internal/observability/metrics"
	"github.com/smallbiznis/ocpilink/internal/observability/tracing"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"github.com/smallbiznis/ocpilink/internal/ocpi/transport"
	versionsdomain "github.com/smallbiznis/ocpilink/internal/versions/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const opNegotiate = "negotiate"

type Params struct {
	fx.In

	Client   *transport.Client
	Priority versionsdomain.PriorityProvider
	Log      *zap.Logger
	Metrics  *metrics.PeeringMetrics `optional:"true"`
}

type Service struct {
	client   *transport.Client
	priority versionsdomain.PriorityProvider
	log      *zap.Logger
	metrics  *metrics.PeeringMetrics
}

func New(p Params) versionsdomain.Service {
	return &Service{
		client:   p.Client,
		priority: p.Priority,
		log:      p.Log.Named("versions.negotiator"),
		metrics:  p.Metrics,
	}
}

// wire shapes; identifiers and roles are kept raw so unknown values can be dropped
type manifestEndpoint struct {
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
	Role       string `json:"role"`
}

type manifest struct {
	Version   string             `json:"version"`
	Endpoints []manifestEndpoint `json:"endpoints"`
}

func (s *Service) Negotiate(ctx context.Context, target versionsdomain.Target) (result versionsdomain.Result, err error) {
	if !isAbsoluteURL(target.VersionsURL) || strings.TrimSpace(target.Token) == "" {
		return versionsdomain.Result{}, fmt.Errorf("%w: %w", versionsdomain.ErrInvalidTarget, ocpi.ErrInvalidParameters)
	}

	ctx, span := tracing.Tracer("versions").Start(ctx, "versions.negotiate")
	start := time.Now()
	defer func() {
		kind := ""
		if err != nil {
			kind = ocpi.KindName(err)
			span.SetStatus(codes.Error, kind)
		} else {
			span.SetAttributes(attribute.String("ocpi.version", string(result.Version)))
		}
		span.End()
		s.metrics.ObserveNegotiation(kind, time.Since(start))
	}()

	log := logger.WithContext(ctx, s.log).With(zap.String("versions_url", target.VersionsURL))

	var offered []ocpi.VersionRef
	if err := s.client.Do(ctx, transport.Request{
		Op:     "get_versions",
		Method: http.MethodGet,
		URL:    target.VersionsURL,
		Token:  target.Token,
	}, &offered); err != nil {
		log.Warn("versions fetch failed", zap.String("kind", ocpi.KindName(err)), zap.Bool("retryable", ocpi.IsRetryable(err)))
		return versionsdomain.Result{}, err
	}

	chosen, ok := choose(s.priority.Priority(), offered)
	if !ok {
		log.Warn("no mutually supported version", zap.Int("offered", len(offered)))
		return versionsdomain.Result{}, &ocpi.Error{Op: opNegotiate, Kind: ocpi.ErrUnsupportedVersion}
	}
	if !isAbsoluteURL(chosen.URL) {
		return versionsdomain.Result{}, &ocpi.Error{Op: opNegotiate, Kind: ocpi.ErrNoMatchingEndpoints, Err: fmt.Errorf("version %s has no usable detail url", chosen.Version)}
	}

	var detail manifest
	if err := s.client.Do(ctx, transport.Request{
		Op:     "get_version_details",
		Method: http.MethodGet,
		URL:    chosen.URL,
		Token:  target.Token,
	}, &detail); err != nil {
		log.Warn("version details fetch failed", zap.String("kind", ocpi.KindName(err)), zap.Bool("retryable", ocpi.IsRetryable(err)))
		return versionsdomain.Result{}, err
	}

	endpoints := usableEndpoints(detail.Endpoints)
	if len(endpoints) == 0 {
		return versionsdomain.Result{}, &ocpi.Error{Op: opNegotiate, Kind: ocpi.ErrNoMatchingEndpoints, Err: fmt.Errorf("version %s manifest has no usable endpoints", chosen.Version)}
	}
	if detail.Version != "" && ocpi.Version(detail.Version) != chosen.Version {
		log.Warn("version detail reports a different version",
			zap.String("chosen", string(chosen.Version)),
			zap.String("reported", detail.Version),
		)
	}

	log.Info("version negotiated",
		zap.String("version", string(chosen.Version)),
		zap.Int("endpoints", len(endpoints)),
	)
	return versionsdomain.Result{
		Version:   chosen.Version,
		DetailURL: chosen.URL,
		Endpoints: endpoints,
	}, nil
}

// choose walks the priority table in order; the first offered entry wins.
func choose(priority []ocpi.Version, offered []ocpi.VersionRef) (ocpi.VersionRef, bool) {
	for _, want := range priority {
		i := slices.IndexFunc(offered, func(ref ocpi.VersionRef) bool {
			return ocpi.Version(strings.TrimSpace(string(ref.Version))) == want
		})
		if i >= 0 {
			return ocpi.VersionRef{Version: want, URL: strings.TrimSpace(offered[i].URL)}, true
		}
	}
	return ocpi.VersionRef{}, false
}

// usableEndpoints keeps known modules with absolute URLs. A module listed
// twice (2.2.1 SENDER and RECEIVER interfaces) keeps its first entry.
func usableEndpoints(raw []manifestEndpoint) []ocpi.Endpoint {
	out := make([]ocpi.Endpoint, 0, len(raw))
	seen := make(map[ocpi.ModuleID]struct{}, len(raw))
	for _, ep := range raw {
		id := ocpi.ModuleID(strings.ToLower(strings.TrimSpace(ep.Identifier)))
		u := strings.TrimSpace(ep.URL)
		if !id.Valid() || !isAbsoluteURL(u) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		role, _ := ocpi.ParseEndpointRole(ep.Role)
		out = append(out, ocpi.Endpoint{Identifier: id, URL: u, Role: role})
	}
	return out
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
