package lease

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lease",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Clock     clock.Clock
	Log       *zap.Logger
}

// NewFromConfig shares leases through Redis when REDIS_ADDR is set and keeps
// them in memory otherwise.
func NewFromConfig(p Params) Locker {
	log := p.Log.Named("lease")

	addr := strings.TrimSpace(p.Cfg.RedisAddr)
	if addr == "" {
		log.Info("using in-process peer leases")
		return NewLocalLocker(p.Clock)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
		DB:       p.Cfg.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable at startup", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis peer leases", zap.String("addr", addr))
	return NewRedisLocker(client)
}
