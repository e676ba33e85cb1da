package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"github.com/smallbiznis/ocpilink/internal/ocpi/transport"
	versionsdomain "github.com/smallbiznis/ocpilink/internal/versions/domain"
	"github.com/smallbiznis/ocpilink/internal/versions/priority"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const peerToken = "peer-token-b"

type fakePeer struct {
	srv      *httptest.Server
	versions []string
	details  map[string][]map[string]string
	status   int
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	p := &fakePeer{details: map[string][]map[string]string{}}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePeer) versionsURL() string { return p.srv.URL + "/versions" }

func (p *fakePeer) serve(w http.ResponseWriter, r *http.Request) {
	if p.status != 0 {
		w.WriteHeader(p.status)
		return
	}
	if r.Header.Get("Authorization") != ocpi.AuthorizationHeader(peerToken) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var data any
	switch r.URL.Path {
	case "/versions":
		refs := make([]map[string]string, 0, len(p.versions))
		for _, v := range p.versions {
			refs = append(refs, map[string]string{"version": v, "url": p.srv.URL + "/versions/" + v})
		}
		data = refs
	default:
		version := r.URL.Path[len("/versions/"):]
		data = map[string]any{"version": version, "endpoints": p.details[version]}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":        data,
		"status_code": ocpi.StatusSuccess,
		"timestamp":   time.Now().UTC(),
	})
}

func newNegotiator(t *testing.T, order ...ocpi.Version) versionsdomain.Service {
	t.Helper()
	if len(order) == 0 {
		order = priority.Default()
	}
	holder, err := priority.NewStatic(order...)
	require.NoError(t, err)
	return New(Params{
		Client:   transport.NewClient(nil, 2*time.Second, zap.NewNop()),
		Priority: holder,
		Log:      zap.NewNop(),
	})
}

func TestNegotiatePrefersHighestPriority(t *testing.T) {
	peer := newFakePeer(t)
	peer.versions = []string{"2.1.1", "2.2.1", "2.3.0"}
	peer.details["2.3.0"] = []map[string]string{
		{"identifier": "credentials", "url": peer.srv.URL + "/230/credentials", "role": "RECEIVER"},
		{"identifier": "locations", "url": peer.srv.URL + "/230/cpo/locations", "role": "cpo"},
	}

	res, err := newNegotiator(t).Negotiate(context.Background(), versionsdomain.Target{VersionsURL: peer.versionsURL(), Token: peerToken})
	require.NoError(t, err)

	assert.Equal(t, ocpi.Version230, res.Version)
	assert.Equal(t, peer.srv.URL+"/versions/2.3.0", res.DetailURL)
	require.Len(t, res.Endpoints, 2)

	creds, ok := res.Endpoint(ocpi.ModuleCredentials)
	require.True(t, ok)
	assert.Equal(t, peer.srv.URL+"/230/credentials", creds.URL)
	assert.Empty(t, creds.Role)

	locations, ok := res.Endpoint(ocpi.ModuleLocations)
	require.True(t, ok)
	assert.Equal(t, ocpi.EndpointRoleCPO, locations.Role)
}

func TestNegotiateFollowsConfiguredPriority(t *testing.T) {
	peer := newFakePeer(t)
	peer.versions = []string{"2.2.1", "2.3.0"}
	peer.details["2.2.1"] = []map[string]string{
		{"identifier": "credentials", "url": peer.srv.URL + "/221/credentials"},
	}

	res, err := newNegotiator(t, ocpi.Version221, ocpi.Version230).
		Negotiate(context.Background(), versionsdomain.Target{VersionsURL: peer.versionsURL(), Token: peerToken})
	require.NoError(t, err)
	assert.Equal(t, ocpi.Version221, res.Version)
}

func TestNegotiateFallsBackToOlderVersion(t *testing.T) {
	peer := newFakePeer(t)
	peer.versions = []string{"2.2.1"}
	peer.details["2.2.1"] = []map[string]string{
		{"identifier": "credentials", "url": peer.srv.URL + "/221/credentials"},
	}

	res, err := newNegotiator(t).Negotiate(context.Background(), versionsdomain.Target{VersionsURL: peer.versionsURL(), Token: peerToken})
	require.NoError(t, err)
	assert.Equal(t, ocpi.Version221, res.Version)
}

func TestNegotiateUnsupportedVersion(t *testing.T) {
	peer := newFakePeer(t)
	peer.versions = []string{"2.1.1", "2.0"}

	_, err := newNegotiator(t).Negotiate(context.Background(), versionsdomain.Target{VersionsURL: peer.versionsURL(), Token: peerToken})
	require.ErrorIs(t, err, ocpi.ErrUnsupportedVersion)
	assert.False(t, ocpi.IsRetryable(err))
}

func TestNegotiateUnknownToken(t *testing.T) {
	peer := newFakePeer(t)
	peer.versions = []string{"2.3.0"}

	_, err := newNegotiator(t).Negotiate(context.Background(), versionsdomain.Target{VersionsURL: peer.versionsURL(), Token: "wrong"})
	require.ErrorIs(t, err, ocpi.ErrUnknownToken)
}

func TestNegotiatePeerUnavailableIsRetryable(t *testing.T) {
	peer := newFakePeer(t)
	peer.status = http.StatusServiceUnavailable

	_, err := newNegotiator(t).Negotiate(context.Background(), versionsdomain.Target{VersionsURL: peer.versionsURL(), Token: peerToken})
	require.ErrorIs(t, err, ocpi.ErrUnableToUseClient)
	assert.True(t, ocpi.IsRetryable(err))
}

func TestNegotiateDropsUnusableEndpoints(t *testing.T) {
	peer := newFakePeer(t)
	peer.versions = []string{"2.3.0"}
	peer.details["2.3.0"] = []map[string]string{
		{"identifier": "chargingprofiles", "url": peer.srv.URL + "/230/chargingprofiles"},
		{"identifier": "tariffs", "url": "/relative/tariffs"},
	}

	_, err := newNegotiator(t).Negotiate(context.Background(), versionsdomain.Target{VersionsURL: peer.versionsURL(), Token: peerToken})
	require.ErrorIs(t, err, ocpi.ErrNoMatchingEndpoints)
	assert.False(t, ocpi.IsRetryable(err))
}

func TestNegotiateRejectsInvalidTarget(t *testing.T) {
	svc := newNegotiator(t)

	_, err := svc.Negotiate(context.Background(), versionsdomain.Target{VersionsURL: "not-a-url", Token: peerToken})
	require.ErrorIs(t, err, versionsdomain.ErrInvalidTarget)
	require.ErrorIs(t, err, ocpi.ErrInvalidParameters)

	_, err = svc.Negotiate(context.Background(), versionsdomain.Target{VersionsURL: "https://peer.example.com/versions", Token: " "})
	require.ErrorIs(t, err, versionsdomain.ErrInvalidTarget)
}

func TestChooseWalksPriorityInOrder(t *testing.T) {
	offered := []ocpi.VersionRef{
		{Version: ocpi.Version221, URL: "https://peer/221"},
		{Version: ocpi.Version230, URL: "https://peer/230"},
	}

	got, ok := choose([]ocpi.Version{ocpi.Version230, ocpi.Version221}, offered)
	require.True(t, ok)
	assert.Equal(t, "https://peer/230", got.URL)

	_, ok = choose([]ocpi.Version{ocpi.Version230}, offered[:1])
	assert.False(t, ok)
}

func TestUsableEndpointsKeepsFirstOfDuplicateModule(t *testing.T) {
	got := usableEndpoints([]manifestEndpoint{
		{Identifier: "credentials", URL: "https://peer/credentials/sender", Role: "SENDER"},
		{Identifier: "Credentials", URL: "https://peer/credentials/receiver", Role: "RECEIVER"},
		{Identifier: "tokens", URL: "https://peer/tokens", Role: "emsp"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "https://peer/credentials/sender", got[0].URL)
	assert.Equal(t, ocpi.EndpointRoleEMSP, got[1].Role)
}
