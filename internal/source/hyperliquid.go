package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/cdp-risk/internal/model"
)

// DefaultHyperliquidURL is the public Hyperliquid API.
const DefaultHyperliquidURL = "https://api.hyperliquid.xyz"

// HyperliquidSource implements MarketSource over the Hyperliquid info API.
//
// Open interest, funding and mark price come from one metaAndAssetCtxs call;
// book depth comes from one l2Book call per symbol. Realized volatility is
// not published by the API and is left absent.
type HyperliquidSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ MarketSource = (*HyperliquidSource)(nil)

// NewHyperliquidSource creates a client. rps bounds the request rate; a
// non-positive rps disables limiting.
func NewHyperliquidSource(baseURL string, timeout time.Duration, rps float64) *HyperliquidSource {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultHyperliquidURL
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HyperliquidSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type hlUniverse struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type hlAssetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	MarkPx       string `json:"markPx"`
}

type hlLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type hlBook struct {
	Coin   string       `json:"coin"`
	Levels [2][]hlLevel `json:"levels"`
}

func (s *HyperliquidSource) Market(ctx context.Context, symbols []string) (map[string]model.MarketMetrics, error) {
	symbols = normalizeSymbols(symbols)
	out := make(map[string]model.MarketMetrics, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	ctxs, err := s.assetContexts(ctx)
	if err != nil {
		return nil, err
	}

	for _, sym := range symbols {
		ac, ok := ctxs[sym]
		if !ok {
			continue
		}
		m := model.MarketMetrics{
			FundingRate: parseOptional(ac.Funding),
			MarkPrice:   parseOptional(ac.MarkPx),
		}
		// openInterest is quoted in coins; report USD notional.
		if oi, ok := parseOptional(ac.OpenInterest).Get(); ok {
			if mark, ok := m.MarkPrice.Get(); ok {
				m.OpenInterest = model.Some(oi * mark)
			}
		}

		book, err := s.book(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("hyperliquid book unavailable", "symbol", sym, "error", err)
			out[sym] = m
			continue
		}
		m.BestBidDepth = topDepth(book.Levels[0])
		m.BestAskDepth = topDepth(book.Levels[1])
		m.Skew = depthSkew(m.BestBidDepth, m.BestAskDepth)
		out[sym] = m
	}
	return out, nil
}

// assetContexts returns the per-asset context keyed by upper-cased coin name.
func (s *HyperliquidSource) assetContexts(ctx context.Context) (map[string]hlAssetCtx, error) {
	var raw [2]json.RawMessage
	if err := s.post(ctx, map[string]string{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, fmt.Errorf("meta and asset ctxs: %w", err)
	}

	var meta hlUniverse
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	var assets []hlAssetCtx
	if err := json.Unmarshal(raw[1], &assets); err != nil {
		return nil, fmt.Errorf("decode asset ctxs: %w", err)
	}

	// Contexts are positional against the universe.
	out := make(map[string]hlAssetCtx, len(meta.Universe))
	for i, u := range meta.Universe {
		if i >= len(assets) {
			break
		}
		out[strings.ToUpper(u.Name)] = assets[i]
	}
	return out, nil
}

func (s *HyperliquidSource) book(ctx context.Context, coin string) (*hlBook, error) {
	var b hlBook
	if err := s.post(ctx, map[string]string{"type": "l2Book", "coin": coin}, &b); err != nil {
		return nil, fmt.Errorf("l2 book %s: %w", coin, err)
	}
	return &b, nil
}

func (s *HyperliquidSource) post(ctx context.Context, body any, dst any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// topDepth is the USD notional resting at the best level.
func topDepth(levels []hlLevel) model.Optional {
	if len(levels) == 0 {
		return model.None()
	}
	px, ok1 := parseOptional(levels[0].Px).Get()
	sz, ok2 := parseOptional(levels[0].Sz).Get()
	if !ok1 || !ok2 {
		return model.None()
	}
	return model.Some(px * sz)
}

// depthSkew is the top-of-book imbalance in [-1, 1]; positive means more
// resting bids than asks.
func depthSkew(bid, ask model.Optional) model.Optional {
	b, ok1 := bid.Get()
	a, ok2 := ask.Get()
	if !ok1 || !ok2 || b+a == 0 {
		return model.None()
	}
	return model.Some((b - a) / (b + a))
}

func parseOptional(s string) model.Optional {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return model.None()
	}
	return model.Some(d.InexactFloat64())
}
