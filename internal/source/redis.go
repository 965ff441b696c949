package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/cdp-risk/internal/model"
)

// CachedMarketSource wraps a primary MarketSource with a Redis read-through
// cache. Reads check Redis first and fetch only the missing symbols from the
// primary. A Redis failure never fails a read: the primary is used instead.
type CachedMarketSource struct {
	primary MarketSource
	rdb     *redis.Client
	ttl     time.Duration
}

var _ MarketSource = (*CachedMarketSource)(nil)

// NewCachedMarketSource creates a cached wrapper around a primary source.
func NewCachedMarketSource(primary MarketSource, rdb *redis.Client, ttl time.Duration) *CachedMarketSource {
	return &CachedMarketSource{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedMarketSource) Market(ctx context.Context, symbols []string) (map[string]model.MarketMetrics, error) {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return map[string]model.MarketMetrics{}, nil
	}

	out, missing := s.lookup(ctx, symbols)
	if len(missing) == 0 {
		return out, nil
	}

	// Cache miss: read from primary.
	fetched, err := s.primary.Market(ctx, missing)
	if err != nil {
		return nil, err
	}
	for sym, m := range fetched {
		out[sym] = m
	}
	s.store(ctx, fetched)
	return out, nil
}

// lookup returns cached metrics and the symbols not found in Redis. On a
// Redis error every symbol is reported missing.
func (s *CachedMarketSource) lookup(ctx context.Context, symbols []string) (map[string]model.MarketMetrics, []string) {
	out := make(map[string]model.MarketMetrics, len(symbols))

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = marketKey(sym)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("market cache read failed", "error", err)
		return out, symbols
	}

	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, symbols[i])
			continue
		}
		var m model.MarketMetrics
		if json.Unmarshal([]byte(raw), &m) != nil {
			missing = append(missing, symbols[i])
			continue
		}
		out[symbols[i]] = m
	}
	return out, missing
}

func (s *CachedMarketSource) store(ctx context.Context, market map[string]model.MarketMetrics) {
	if len(market) == 0 {
		return
	}
	pipe := s.rdb.Pipeline()
	for sym, m := range market {
		if data, err := json.Marshal(m); err == nil {
			pipe.Set(ctx, marketKey(sym), data, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("market cache write failed", "error", err)
	}
}

func marketKey(sym string) string { return fmt.Sprintf("risk:market:%s", sym) }
