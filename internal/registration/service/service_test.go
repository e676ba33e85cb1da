package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	auditrepository "github.com/smallbiznis/ocpilink/internal/audit/repository"
	auditservice "github.com/smallbiznis/ocpilink/internal/audit/service"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/ocpilink/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/ocpilink/internal/catalog/service"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/config"
	credentialsservice "github.com/smallbiznis/ocpilink/internal/credentials/service"
	"github.com/smallbiznis/ocpilink/internal/lease"
	"github.com/smallbiznis/ocpilink/internal/migration"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"github.com/smallbiznis/ocpilink/internal/ocpi/transport"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	peerrepository "github.com/smallbiznis/ocpilink/internal/peer/repository"
	peerservice "github.com/smallbiznis/ocpilink/internal/peer/service"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	"github.com/smallbiznis/ocpilink/internal/secret"
	"github.com/smallbiznis/ocpilink/internal/versions/priority"
	versionsservice "github.com/smallbiznis/ocpilink/internal/versions/service"
	"github.com/smallbiznis/ocpilink/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const bootstrapToken = "token-a"

// remotePeer is a minimal OCPI party: versions, version details and credentials.
type remotePeer struct {
	srv *httptest.Server

	mu       sync.Mutex
	accepted map[string]bool
	offered  []string
	status   int
	deleted  bool
}

func newRemotePeer(t *testing.T) *remotePeer {
	t.Helper()
	p := &remotePeer{
		accepted: map[string]bool{bootstrapToken: true},
		offered:  []string{"2.2.1", "2.3.0"},
	}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *remotePeer) versionsURL() string { return p.srv.URL + "/ocpi/versions" }

func (p *remotePeer) set(fn func(p *remotePeer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *remotePeer) wasDeleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleted
}

func (p *remotePeer) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != 0 {
		w.WriteHeader(p.status)
		return
	}
	token := ""
	for _, candidate := range ocpi.TokenCandidates(r.Header.Get("Authorization")) {
		if p.accepted[candidate] {
			token = candidate
		}
	}
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var data any
	path := strings.TrimPrefix(r.URL.Path, "/ocpi/")
	switch {
	case path == "versions":
		refs := make([]ocpi.VersionRef, 0, len(p.offered))
		for _, v := range p.offered {
			refs = append(refs, ocpi.VersionRef{Version: ocpi.Version(v), URL: p.srv.URL + "/ocpi/" + v})
		}
		data = refs
	case strings.HasSuffix(path, "/credentials"):
		switch r.Method {
		case http.MethodDelete:
			p.deleted = true
		default:
			var in ocpi.Credentials
			_ = json.NewDecoder(r.Body).Decode(&in)
			p.accepted = map[string]bool{in.Token: true}
			data = ocpi.Credentials{Token: "token-c-" + r.Method, URL: p.versionsURL()}
		}
	default:
		data = ocpi.VersionDetail{
			Version: ocpi.Version(path),
			Endpoints: []ocpi.Endpoint{
				{Identifier: ocpi.ModuleCredentials, URL: p.srv.URL + "/ocpi/" + path + "/credentials"},
				{Identifier: ocpi.ModuleLocations, URL: p.srv.URL + "/ocpi/" + path + "/locations"},
			},
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ocpi.Success(data, time.Now()))
}

type fixture struct {
	svc     registrationdomain.Service
	peers   peerdomain.Service
	catalog catalogdomain.Service
	locker  lease.Locker
	clock   *clock.FakeClock
	audit   auditdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	cipher, err := secret.NewCipher("registration-service-test")
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{
		Party: config.PartyConfig{
			CountryCode: "NL", PartyID: "SBZ", BusinessName: "ocpilink",
			Roles: []string{"CPO"}, PublicURL: "https://ocpi.example.com/ocpi",
		},
		LeaseTTL: time.Minute,
		RegistrationWorker: config.WorkerConfig{
			MaxAttempts:    3,
			InitialBackoff: 30 * time.Second,
			MaxBackoff:     10 * time.Minute,
		},
	}

	client := transport.NewClient(nil, 2*time.Second, log)
	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: log, GenID: node, Repo: auditrepository.Provide(), Clock: clk,
	})
	peers := peerservice.New(peerservice.Params{
		DB: conn, Log: log, GenID: node, Repo: peerrepository.Provide(), Cipher: cipher, Clock: clk, Audit: audit,
	})
	catalog := catalogservice.New(catalogservice.Params{
		DB: conn, Log: log, GenID: node, Repo: catalogrepository.Provide(), Peers: peers, Clock: clk,
	})
	creds := credentialsservice.New(credentialsservice.Params{
		Cfg: cfg, Log: log, Client: client, Peers: peers, Catalog: catalog,
	})
	order, err := priority.NewStatic(priority.Default()...)
	require.NoError(t, err)
	negotiator := versionsservice.New(versionsservice.Params{Client: client, Priority: order, Log: log})
	locker := lease.NewLocalLocker(clk)

	svc := New(Params{
		DB:          conn,
		Log:         log,
		Cfg:         cfg,
		Clock:       clk,
		Locker:      locker,
		Peers:       peers,
		Catalog:     catalog,
		Credentials: creds,
		Negotiator:  negotiator,
		Audit:       audit,
	})
	svc.(*Service).jitter = func(int64) int64 { return 0 }

	return &fixture{svc: svc, peers: peers, catalog: catalog, locker: locker, clock: clk, audit: audit}
}

func (f *fixture) auditEntry(t *testing.T, id snowflake.ID, action string) *auditdomain.AuditLog {
	t.Helper()
	logs, err := f.audit.List(context.Background(), auditdomain.ListAuditLogRequest{TargetID: id.String(), Action: action})
	require.NoError(t, err)
	if len(logs) == 0 {
		return nil
	}
	return &logs[0]
}

func (f *fixture) createPeer(t *testing.T, remote *remotePeer) snowflake.ID {
	t.Helper()
	summary, err := f.peers.Upsert(context.Background(), peerdomain.UpsertRequest{
		CountryCode:     "BE",
		PartyID:         "EMS",
		Roles:           []ocpi.Role{ocpi.RoleEMSP},
		BaseVersionsURL: remote.versionsURL(),
		BootstrapToken:  bootstrapToken,
	})
	require.NoError(t, err)
	id, err := snowflake.ParseString(summary.ID)
	require.NoError(t, err)
	return id
}

func (f *fixture) register(t *testing.T, remote *remotePeer) snowflake.ID {
	t.Helper()
	id := f.createPeer(t, remote)
	_, err := f.svc.Register(context.Background(), id)
	require.NoError(t, err)
	return id
}

func TestRegisterCompletesHandshake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.createPeer(t, remote)

	outcome, err := f.svc.Register(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ocpi.Version230, outcome.Version)
	assert.Equal(t, peerdomain.StatusRegistered, outcome.Peer.Status)

	record, err := f.peers.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, peerdomain.StatusRegistered, record.Status)
	assert.Equal(t, ocpi.Version230, record.ChosenVersion)
	assert.Empty(t, record.BootstrapToken)
	assert.NotEmpty(t, record.OurTokenForPeer)
	assert.Equal(t, "token-c-POST", record.PeerTokenForUs)
	assert.Zero(t, record.Attempts)

	url, err := f.catalog.Lookup(ctx, id, ocpi.ModuleLocations, ocpi.EndpointRoleEMSP)
	require.NoError(t, err)
	assert.Equal(t, remote.srv.URL+"/ocpi/2.3.0/locations", url)
}

func TestRegisterUnsupportedVersionStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	remote.set(func(p *remotePeer) { p.offered = []string{"2.1.1"} })
	id := f.createPeer(t, remote)

	_, err := f.svc.Register(ctx, id)
	require.ErrorIs(t, err, ocpi.ErrUnsupportedVersion)

	record, err := f.peers.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, peerdomain.StatusPending, record.Status)
	assert.Equal(t, "unsupported_version", record.LastErrorKind)
	assert.Equal(t, 1, record.Attempts)
	assert.Nil(t, record.NextAttemptAt)
	assert.Equal(t, bootstrapToken, record.BootstrapToken)

	_, err = f.catalog.Get(ctx, id)
	assert.ErrorIs(t, err, catalogdomain.ErrCatalogNotFound)
}

func TestRegisterRetryableFailureSchedulesBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	remote.set(func(p *remotePeer) { p.status = http.StatusServiceUnavailable })
	id := f.createPeer(t, remote)

	_, err := f.svc.Register(ctx, id)
	require.ErrorIs(t, err, ocpi.ErrUnableToUseClient)

	record, err := f.peers.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, record.NextAttemptAt)
	assert.True(t, record.NextAttemptAt.Equal(f.clock.Now().Add(30*time.Second)))

	_, err = f.svc.Register(ctx, id)
	require.Error(t, err)
	record, err = f.peers.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, record.NextAttemptAt)
	assert.True(t, record.NextAttemptAt.Equal(f.clock.Now().Add(time.Minute)))

	_, err = f.svc.Register(ctx, id)
	require.Error(t, err)
	record, err = f.peers.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, record.Attempts)
	assert.Nil(t, record.NextAttemptAt, "max attempts reached")
}

func TestRegisterAfterRecoveryClearsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	remote.set(func(p *remotePeer) { p.status = http.StatusBadGateway })
	id := f.createPeer(t, remote)

	_, err := f.svc.Register(ctx, id)
	require.Error(t, err)

	remote.set(func(p *remotePeer) { p.status = 0 })
	_, err = f.svc.Register(ctx, id)
	require.NoError(t, err)

	record, err := f.peers.Get(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, record.Attempts)
	assert.Empty(t, record.LastErrorKind)
	assert.Nil(t, record.NextAttemptAt)
}

func TestRegisterRejectsRegisteredAndRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.register(t, remote)

	_, err := f.svc.Register(ctx, id)
	assert.ErrorIs(t, err, registrationdomain.ErrAlreadyRegistered)

	require.NoError(t, f.peers.Transition(ctx, id, peerdomain.StatusRevoked))
	_, err = f.svc.Register(ctx, id)
	assert.ErrorIs(t, err, peerdomain.ErrPeerRevoked)
}

func TestRegisterBusyWhileLeaseHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.createPeer(t, remote)

	token, ok, err := f.locker.TryLock(ctx, lease.PeerKey(id.String()), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Register(ctx, id)
	require.ErrorIs(t, err, registrationdomain.ErrBusy)

	require.NoError(t, f.locker.Release(ctx, lease.PeerKey(id.String()), token))
	_, err = f.svc.Register(ctx, id)
	require.NoError(t, err)
}

func TestRenegotiateFailureKeepsCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.register(t, remote)

	remote.set(func(p *remotePeer) { p.offered = []string{"3.0"} })
	_, err := f.svc.Renegotiate(ctx, id)
	require.ErrorIs(t, err, ocpi.ErrUnsupportedVersion)

	record, err := f.peers.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, peerdomain.StatusPending, record.Status)
	assert.Equal(t, ocpi.Version230, record.ChosenVersion)

	manifest, err := f.catalog.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ocpi.Version230, manifest.Version)
	assert.Len(t, manifest.Endpoints, 2)
}

func TestRenegotiateSwitchesVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.register(t, remote)

	remote.set(func(p *remotePeer) { p.offered = []string{"2.2.1"} })
	outcome, err := f.svc.Renegotiate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ocpi.Version221, outcome.Version)

	url, err := f.catalog.LookupModule(ctx, id, ocpi.ModuleLocations)
	require.NoError(t, err)
	assert.Equal(t, remote.srv.URL+"/ocpi/2.2.1/locations", url)
}

func TestRenegotiateRequiresRegisteredPeer(t *testing.T) {
	f := newFixture(t)
	remote := newRemotePeer(t)
	id := f.createPeer(t, remote)

	_, err := f.svc.Renegotiate(context.Background(), id)
	assert.ErrorIs(t, err, registrationdomain.ErrNotRegistered)
}

func TestRotateReplacesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.register(t, remote)

	before, err := f.peers.Get(ctx, id)
	require.NoError(t, err)

	outcome, err := f.svc.Rotate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, peerdomain.StatusRegistered, outcome.Peer.Status)

	after, err := f.peers.Get(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, before.OurTokenForPeer, after.OurTokenForPeer)
	assert.Equal(t, "token-c-PUT", after.PeerTokenForUs)
	assert.Equal(t, ocpi.Version230, after.ChosenVersion)

	assert.NotNil(t, f.auditEntry(t, id, auditdomain.ActionPeerRotated))
	recorded := f.auditEntry(t, id, auditdomain.ActionPeerTokensRecorded)
	require.NotNil(t, recorded)
	assert.NotEqual(t, after.OurTokenForPeer, recorded.Metadata["our_token"])
	assert.NotEqual(t, "token-c-PUT", recorded.Metadata["peer_token"])
}

func TestRotateRequiresRegisteredPeer(t *testing.T) {
	f := newFixture(t)
	remote := newRemotePeer(t)
	id := f.createPeer(t, remote)

	_, err := f.svc.Rotate(context.Background(), id)
	assert.ErrorIs(t, err, registrationdomain.ErrNotRegistered)
	assert.Nil(t, f.auditEntry(t, id, auditdomain.ActionPeerRotated))
}

func TestRevokeNotifiesPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.register(t, remote)

	outcome, err := f.svc.Revoke(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, peerdomain.StatusRevoked, outcome.Peer.Status)
	assert.True(t, remote.wasDeleted())

	_, err = f.peers.FindByToken(ctx, "token-c-POST")
	assert.ErrorIs(t, err, ocpi.ErrUnknownToken)

	entry := f.auditEntry(t, id, auditdomain.ActionPeerRevoked)
	require.NotNil(t, entry)
	assert.Equal(t, true, entry.Metadata["peer_notified"])
}

func TestRevokeSucceedsWhenPeerUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := newRemotePeer(t)
	id := f.register(t, remote)

	remote.set(func(p *remotePeer) { p.status = http.StatusInternalServerError })
	outcome, err := f.svc.Revoke(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, peerdomain.StatusRevoked, outcome.Peer.Status)

	entry := f.auditEntry(t, id, auditdomain.ActionPeerRevoked)
	require.NotNil(t, entry)
	assert.Equal(t, false, entry.Metadata["peer_notified"])
}

func TestBackoff(t *testing.T) {
	none := func(int64) int64 { return 0 }
	assert.Equal(t, 30*time.Second, backoff(1, 30*time.Second, time.Hour, none))
	assert.Equal(t, 2*time.Minute, backoff(3, 30*time.Second, time.Hour, none))
	assert.Equal(t, time.Hour, backoff(20, 30*time.Second, time.Hour, none))

	full := func(n int64) int64 { return n - 1 }
	got := backoff(1, 30*time.Second, time.Hour, full)
	assert.True(t, got >= 30*time.Second && got < 36*time.Second)
}
