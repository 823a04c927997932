package server

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/obverse/obverse/internal/config"
	"github.com/obverse/obverse/internal/infra"
)

// Backends holds the optional storage connections. A nil field means the
// matching in-memory implementation is used.
type Backends struct {
	Mongo    *mongo.Client
	Redis    *redis.Client
	Postgres *pgxpool.Pool
}

// Connect opens every backend with a configured URL. The returned func closes
// them in reverse order and is safe to call when Connect fails.
func Connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (Backends, func(), error) {
	var b Backends
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.MongoURI != "" {
		client, err := infra.NewMongoClient(ctx, cfg.MongoURI, cfg.AppName)
		if err != nil {
			return Backends{}, closeAll, err
		}
		b.Mongo = client
		closers = append(closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("close mongo", "error", err)
			}
		})
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return Backends{}, closeAll, err
		}
		b.Redis = cache
		closers = append(closers, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		})
	}

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, 10)
		if err != nil {
			return Backends{}, closeAll, err
		}
		b.Postgres = pool
		closers = append(closers, pool.Close)
	}

	return b, closeAll, nil
}
