package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/cdp-risk/internal/config"
)

// Open builds the sources described by cfg. Fixtures serve both positions
// and market data unless UseFixtures is off; then positions come from
// PostgreSQL (when DatabaseURL is set) and market data from Hyperliquid,
// optionally behind a Redis cache. The returned cleanup releases every
// connection that was opened.
func Open(ctx context.Context, cfg *config.Config) (PositionSource, MarketSource, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.UseFixtures {
		slog.Warn("using fixture positions and market data")
		fx := NewFixtureSource()
		return fx, fx, closeAll, nil
	}

	// --- Positions ---
	var positions PositionSource
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := NewPostgresSource(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		positions = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using fixture positions")
		positions = NewFixtureSource()
	}

	// --- Market ---
	var market MarketSource = NewHyperliquidSource(cfg.HyperliquidURL, cfg.FetchTimeout, cfg.HyperliquidRPS)
	slog.Info("using Hyperliquid market data", "url", cfg.HyperliquidURL)

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		market = NewCachedMarketSource(market, rdb, cfg.RedisTTL)
		slog.Info("Redis market cache enabled", "ttl", cfg.RedisTTL.String())
	}

	return positions, market, closeAll, nil
}
