package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/config"
	"github.com/smallbiznis/ocpilink/internal/observability/metrics"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type duePeers struct {
	peerdomain.Service

	due    []peerdomain.Summary
	asked  time.Time
	limit  int
	listFn func() error
}

func (p *duePeers) ListDue(_ context.Context, now time.Time, limit int) ([]peerdomain.Summary, error) {
	p.asked = now
	p.limit = limit
	if p.listFn != nil {
		if err := p.listFn(); err != nil {
			return nil, err
		}
	}
	return p.due, nil
}

type recordingRegistration struct {
	registrationdomain.Service

	mu      sync.Mutex
	results map[snowflake.ID]error
	calls   []snowflake.ID
}

func (r *recordingRegistration) Register(_ context.Context, id snowflake.ID) (*registrationdomain.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	if err := r.results[id]; err != nil {
		return nil, err
	}
	return &registrationdomain.Outcome{}, nil
}

func newTestWorker(peers peerdomain.Service, reg registrationdomain.Service, clk clock.Clock) *Worker {
	return NewWorker(WorkerParams{
		Cfg: config.Config{RegistrationWorker: config.WorkerConfig{
			BatchSize:   5,
			MaxAttempts: 3,
		}},
		Log:          zap.NewNop(),
		Clock:        clk,
		Peers:        peers,
		Registration: reg,
		Metrics:      metrics.NewPeeringMetrics(prometheus.NewRegistry(), metrics.Config{}),
	})
}

func TestWorkerRetriesDuePeers(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	peers := &duePeers{due: []peerdomain.Summary{
		{ID: "101", Attempts: 1},
		{ID: "102", Attempts: 3},
		{ID: "103", Attempts: 2},
		{ID: "104", Attempts: 1},
	}}
	reg := &recordingRegistration{results: map[snowflake.ID]error{
		103: &ocpi.Error{Op: "get_versions", Kind: ocpi.ErrUnableToUseClient, Retryable: true},
		104: registrationdomain.ErrBusy,
	}}

	registered, err := newTestWorker(peers, reg, clk).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, registered)
	assert.Equal(t, []snowflake.ID{101, 103, 104}, reg.calls, "exhausted peer is skipped")
	assert.Equal(t, clk.Now(), peers.asked)
	assert.Equal(t, 5, peers.limit)
}

func TestWorkerSurfacesListErrors(t *testing.T) {
	peers := &duePeers{listFn: func() error { return errors.New("db down") }}
	reg := &recordingRegistration{}

	_, err := newTestWorker(peers, reg, clock.SystemClock{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, reg.calls)
}

func TestWorkerStopsOnCancelledContext(t *testing.T) {
	peers := &duePeers{due: []peerdomain.Summary{{ID: "101"}}}
	reg := &recordingRegistration{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestWorker(peers, reg, clock.SystemClock{}).RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reg.calls)
}
