package staleness

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

const defaultMaxAge = time.Hour

// PriceReader is the slice of the ledger the monitor needs.
type PriceReader interface {
	CurrentPrice(ctx context.Context, token string) (domain.PriceQuote, error)
}

// Config lists the watched tokens and the freshness window.
type Config struct {
	Tokens      []string
	NativeToken string // always watched when set
	MaxAge      time.Duration
	CallTimeout time.Duration
}

// Report is the result of one staleness sweep.
type Report struct {
	Quotes []domain.PriceQuote
	Stale  []domain.PriceQuote
	Failed []string
}

// StaleTokens returns the tokens of the stale quotes in sweep order.
func (r Report) StaleTokens() []string {
	out := make([]string, 0, len(r.Stale))
	for _, q := range r.Stale {
		out = append(out, q.Token)
	}
	return out
}

// Monitor flags oracle prices older than MaxAge.
type Monitor struct {
	prices PriceReader
	cfg    Config
	now    func() time.Time
}

func New(prices PriceReader, cfg Config) *Monitor {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	return &Monitor{prices: prices, cfg: cfg, now: time.Now}
}

// Tokens returns the watched set: configured tokens plus the native asset, deduplicated.
func (m *Monitor) Tokens() []string {
	seen := make(map[string]bool, len(m.cfg.Tokens)+1)
	out := make([]string, 0, len(m.cfg.Tokens)+1)
	for _, t := range append(append([]string{}, m.cfg.Tokens...), m.cfg.NativeToken) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Check reads every watched price. A failed read is logged and reported, never fatal.
func (m *Monitor) Check(ctx context.Context) Report {
	now := m.now()
	var rep Report

	for _, token := range m.Tokens() {
		if ctx.Err() != nil {
			break
		}
		q, err := m.read(ctx, token)
		if err != nil {
			slog.Warn("staleness: price read failed", "token", token, "err", err)
			rep.Failed = append(rep.Failed, token)
			continue
		}
		q.Stale = IsStale(q, now, m.cfg.MaxAge)
		rep.Quotes = append(rep.Quotes, q)
		if q.Stale {
			rep.Stale = append(rep.Stale, q)
			slog.Info("staleness: stale price",
				"token", token,
				"age", q.Age(now).Round(time.Second),
				"max_age", m.cfg.MaxAge,
			)
		}
	}
	return rep
}

func (m *Monitor) read(ctx context.Context, token string) (domain.PriceQuote, error) {
	if m.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
	}
	return m.prices.CurrentPrice(ctx, token)
}

// IsStale reports whether q is older than maxAge at now. A price that was never
// written is stale.
func IsStale(q domain.PriceQuote, now time.Time, maxAge time.Duration) bool {
	if q.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(q.UpdatedAt) > maxAge
}
