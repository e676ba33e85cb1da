package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	"github.com/smallbiznis/ocpilink/internal/config"
	credentialsdomain "github.com/smallbiznis/ocpilink/internal/credentials/domain"
	"github.com/smallbiznis/ocpilink/internal/observability/logger"
	"github.com/smallbiznis/ocpilink/internal/observability/metrics"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"github.com/smallbiznis/ocpilink/internal/ocpi/transport"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	"github.com/smallbiznis/ocpilink/internal/secret"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	opInitiate = "credentials_initiate"
	opUpdate   = "credentials_update"
	opDelete   = "credentials_delete"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Client  *transport.Client
	Peers   peerdomain.Service
	Catalog catalogdomain.Service
	Metrics *metrics.PeeringMetrics `optional:"true"`
}

type Service struct {
	party   config.PartyConfig
	log     *zap.Logger
	client  *transport.Client
	peers   peerdomain.Service
	catalog catalogdomain.Service
	metrics *metrics.PeeringMetrics
}

func New(p Params) credentialsdomain.Service {
	return &Service{
		party:   p.Cfg.Party,
		log:     p.Log.Named("credentials.service"),
		client:  p.Client,
		peers:   p.Peers,
		catalog: p.Catalog,
		metrics: p.Metrics,
	}
}

func (s *Service) Describe(token string) ocpi.Credentials {
	creds := ocpi.Credentials{
		Token: token,
		URL:   s.party.PublicURL + "/versions",
		Roles: make([]ocpi.CredentialsRole, 0, len(s.party.Roles)),
	}
	for _, raw := range s.party.Roles {
		role, ok := ocpi.ParseRole(raw)
		if !ok {
			continue
		}
		creds.Roles = append(creds.Roles, ocpi.CredentialsRole{
			Role:            role,
			CountryCode:     s.party.CountryCode,
			PartyID:         s.party.PartyID,
			BusinessDetails: ocpi.BusinessDetails{Name: s.party.BusinessName},
		})
	}
	return creds
}

func (s *Service) Initiate(ctx context.Context, req credentialsdomain.InitiateRequest) (exchange *credentialsdomain.Exchange, err error) {
	defer func() { s.metrics.IncCredentialsExchange(metrics.OperationInitiate, err) }()

	if req.PeerID == 0 || !isAbsoluteURL(req.CredentialsURL) || strings.TrimSpace(req.PresentedToken) == "" {
		return nil, fmt.Errorf("%w: %w", credentialsdomain.ErrInvalidRequest, ocpi.ErrInvalidParameters)
	}

	peer, err := s.peers.Get(ctx, req.PeerID)
	if err != nil {
		return nil, err
	}
	if peer.Status == peerdomain.StatusRevoked {
		return nil, peerdomain.ErrPeerRevoked
	}

	return s.exchange(ctx, peer, opInitiate, http.MethodPost, req.CredentialsURL, req.PresentedToken)
}

func (s *Service) Update(ctx context.Context, peerID snowflake.ID) (exchange *credentialsdomain.Exchange, err error) {
	defer func() { s.metrics.IncCredentialsExchange(metrics.OperationUpdate, err) }()

	peer, err := s.peers.Get(ctx, peerID)
	if err != nil {
		return nil, err
	}
	switch peer.Status {
	case peerdomain.StatusRevoked:
		return nil, peerdomain.ErrPeerRevoked
	case peerdomain.StatusRegistered:
	default:
		return nil, credentialsdomain.ErrNotRegistered
	}

	credentialsURL, err := s.credentialsURL(ctx, peerID)
	if err != nil {
		return nil, err
	}
	return s.exchange(ctx, peer, opUpdate, http.MethodPut, credentialsURL, peer.CurrentToken())
}

func (s *Service) Delete(ctx context.Context, peerID snowflake.ID) (err error) {
	defer func() { s.metrics.IncCredentialsExchange(metrics.OperationDelete, err) }()

	peer, err := s.peers.Get(ctx, peerID)
	if err != nil {
		return err
	}
	token := peer.CurrentToken()
	if token == "" {
		return fmt.Errorf("%w: no token for peer", credentialsdomain.ErrInvalidRequest)
	}

	credentialsURL, err := s.credentialsURL(ctx, peerID)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, transport.Request{
		Op:     opDelete,
		Method: http.MethodDelete,
		URL:    credentialsURL,
		Token:  token,
	}, nil); err != nil {
		return err
	}

	logger.WithContext(ctx, s.log).Info("credentials deleted at peer", zap.String("peer_id", peerID.String()))
	return nil
}

// exchange sends a fresh token and stores it with the one the peer answers
// with. Nothing is written unless the peer accepted ours.
func (s *Service) exchange(ctx context.Context, peer *peerdomain.Record, op, method, endpoint, presented string) (*credentialsdomain.Exchange, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("peer_id", peer.PeerID.String()),
		zap.String("op", op),
		zap.String("presented_token", secret.Mask(presented)),
	)

	ours, err := secret.GenerateToken()
	if err != nil {
		return nil, err
	}

	var theirs ocpi.Credentials
	if err := s.client.Do(ctx, transport.Request{
		Op:     op,
		Method: method,
		URL:    endpoint,
		Token:  presented,
		Body:   s.Describe(ours),
	}, &theirs); err != nil {
		log.Warn("credentials exchange failed", zap.String("kind", ocpi.KindName(err)), zap.Bool("retryable", ocpi.IsRetryable(err)))
		return nil, err
	}

	if strings.TrimSpace(theirs.Token) == "" {
		log.Warn("peer answered without a token")
		return nil, &ocpi.Error{Op: op, Kind: ocpi.ErrNoMatchingEndpoints, Err: errors.New("credentials response carries no token")}
	}

	if err := s.peers.RecordTokens(ctx, peer.PeerID, ours, theirs.Token); err != nil {
		log.Error("failed to record exchanged tokens", zap.Error(err))
		return nil, err
	}

	if theirs.URL != "" && theirs.URL != peer.BaseVersionsURL {
		log.Info("peer reports a different versions url",
			zap.String("configured", peer.BaseVersionsURL),
			zap.String("reported", theirs.URL),
		)
	}
	log.Info("credentials exchanged",
		zap.String("our_token", secret.Mask(ours)),
		zap.String("peer_token", secret.Mask(theirs.Token)),
	)

	return &credentialsdomain.Exchange{
		PeerID:      peer.ID,
		VersionsURL: theirs.URL,
		Roles:       theirs.Roles,
	}, nil
}

func (s *Service) credentialsURL(ctx context.Context, peerID snowflake.ID) (string, error) {
	endpoint, err := s.catalog.LookupModule(ctx, peerID, ocpi.ModuleCredentials)
	if err != nil {
		if errors.Is(err, catalogdomain.ErrEndpointNotFound) {
			return "", fmt.Errorf("%w: %w", credentialsdomain.ErrNoCredentialsURL, err)
		}
		return "", err
	}
	return endpoint, nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
