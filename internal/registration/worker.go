package registration

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/config"
	"github.com/smallbiznis/ocpilink/internal/observability/metrics"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type WorkerParams struct {
	fx.In

	Cfg          config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	Peers        peerdomain.Service
	Registration registrationdomain.Service
	Metrics      *metrics.PeeringMetrics `optional:"true"`
}

// Worker retries registration of PENDING peers whose last failure was
// retryable once their backoff has elapsed.
type Worker struct {
	cfg          config.WorkerConfig
	log          *zap.Logger
	clock        clock.Clock
	limiter      *rate.Limiter
	peers        peerdomain.Service
	registration registrationdomain.Service
	metrics      *metrics.PeeringMetrics
}

func NewWorker(p WorkerParams) *Worker {
	cfg := p.Cfg.RegistrationWorker
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Worker{
		cfg:          cfg,
		log:          p.Log.Named("registration.worker").With(zap.String("component", "registration_worker")),
		clock:        clk,
		limiter:      rate.NewLimiter(limit, 1),
		peers:        p.Peers,
		registration: p.Registration,
		metrics:      p.Metrics,
	}
}

// RunOnce retries every due peer in one batch and returns how many registered.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	w.metrics.IncWorkerRun()

	due, err := w.peers.ListDue(ctx, w.clock.Now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, peer := range due {
		if peer.Attempts >= w.cfg.MaxAttempts {
			w.metrics.IncWorkerDeferred(metrics.WorkerDeferredExhausted)
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			w.metrics.IncWorkerDeferred(metrics.WorkerDeferredRateLimited)
			return registered, err
		}

		id, err := snowflake.ParseString(peer.ID)
		if err != nil {
			w.log.Error("invalid peer id", zap.String("peer_id", peer.ID), zap.Error(err))
			continue
		}

		w.metrics.IncWorkerProcessed()
		_, err = w.registration.Register(ctx, id)
		switch {
		case err == nil:
			registered++
		case errors.Is(err, registrationdomain.ErrBusy):
			w.metrics.IncWorkerDeferred(metrics.WorkerDeferredBusy)
		case errors.Is(err, registrationdomain.ErrAlreadyRegistered):
		default:
			w.log.Info("registration retry failed",
				zap.String("peer_id", peer.ID),
				zap.String("kind", ocpi.KindName(err)),
				zap.Int("attempts", peer.Attempts+1),
			)
		}
	}
	return registered, nil
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("registration worker run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartWorker runs the worker for the lifetime of the fx app.
func StartWorker(lc fx.Lifecycle, cfg config.Config, w *Worker) {
	if !cfg.RegistrationWorker.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go w.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
