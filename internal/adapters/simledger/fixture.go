package simledger

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

// Fixture is the YAML shape used to seed a dry-run ledger.
type Fixture struct {
	Paused    bool              `yaml:"paused"`
	MaxBatch  int               `yaml:"max_batch"`
	Orders    []FixtureOrder    `yaml:"orders"`
	Positions []FixturePosition `yaml:"positions"`
	Prices    []FixturePrice    `yaml:"prices"`
	Pools     []FixturePool     `yaml:"pools"`
}

type FixtureOrder struct {
	Owner       string `yaml:"owner"`
	TokenIn     string `yaml:"token_in"`
	TokenOut    string `yaml:"token_out"`
	AmountIn    string `yaml:"amount_in"`
	TargetPrice string `yaml:"target_price"`
	StopLoss    bool   `yaml:"stop_loss"`
	Direction   string `yaml:"direction"`
	Executed    bool   `yaml:"executed"`
	Ready       bool   `yaml:"ready"`
}

type FixturePosition struct {
	Owner      string `yaml:"owner"`
	Token      string `yaml:"token"`
	Collateral string `yaml:"collateral"`
	Leverage   uint8  `yaml:"leverage"`
	Direction  string `yaml:"direction"`
	EntryPrice string `yaml:"entry_price"`
	Size       string `yaml:"size"`
	Closed     bool   `yaml:"closed"`
}

type FixturePrice struct {
	Token string `yaml:"token"`
	Price string `yaml:"price"`
	// AgeSeconds backdates the quote relative to load time.
	AgeSeconds int64 `yaml:"age_seconds"`
}

type FixturePool struct {
	TokenIn    string `yaml:"token_in"`
	TokenOut   string `yaml:"token_out"`
	ReserveIn  string `yaml:"reserve_in"`
	ReserveOut string `yaml:"reserve_out"`
}

// LoadFixture reads a YAML fixture from path and builds a ledger from it.
func LoadFixture(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simledger.LoadFixture: read %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("simledger.LoadFixture: parse %s: %w", path, err)
	}
	l, err := FromFixture(f, time.Now())
	if err != nil {
		return nil, fmt.Errorf("simledger.LoadFixture: %s: %w", path, err)
	}
	return l, nil
}

// FromFixture builds a ledger from f, dating price quotes relative to now.
func FromFixture(f Fixture, now time.Time) (*Ledger, error) {
	l := New()
	l.paused = f.Paused
	if f.MaxBatch > 0 {
		l.maxBatch = f.MaxBatch
	}

	for i, fo := range f.Orders {
		amount, err := parseDec(fo.AmountIn)
		if err != nil {
			return nil, fmt.Errorf("orders[%d].amount_in: %w", i, err)
		}
		target, err := parseDec(fo.TargetPrice)
		if err != nil {
			return nil, fmt.Errorf("orders[%d].target_price: %w", i, err)
		}
		dir, err := parseDirection(fo.Direction)
		if err != nil {
			return nil, fmt.Errorf("orders[%d].direction: %w", i, err)
		}
		kind := domain.OrderLimit
		if fo.StopLoss {
			kind = domain.OrderStopLoss
		}
		l.AddOrder(domain.Order{
			Owner:       fo.Owner,
			TokenIn:     fo.TokenIn,
			TokenOut:    fo.TokenOut,
			AmountIn:    amount,
			TargetPrice: target,
			Kind:        kind,
			Direction:   dir,
			Executed:    fo.Executed,
			CreatedAt:   now,
		}, fo.Ready)
	}

	for i, fp := range f.Positions {
		collateral, err := parseDec(fp.Collateral)
		if err != nil {
			return nil, fmt.Errorf("positions[%d].collateral: %w", i, err)
		}
		entry, err := parseDec(fp.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("positions[%d].entry_price: %w", i, err)
		}
		size, err := parseDec(fp.Size)
		if err != nil {
			return nil, fmt.Errorf("positions[%d].size: %w", i, err)
		}
		dir, err := parseDirection(fp.Direction)
		if err != nil {
			return nil, fmt.Errorf("positions[%d].direction: %w", i, err)
		}
		l.AddPosition(domain.Position{
			Owner:      fp.Owner,
			Token:      fp.Token,
			Collateral: collateral,
			Leverage:   fp.Leverage,
			Kind:       dir,
			EntryPrice: entry,
			Size:       size,
			Open:       !fp.Closed,
		})
	}

	for i, pr := range f.Prices {
		price, err := parseDec(pr.Price)
		if err != nil {
			return nil, fmt.Errorf("prices[%d].price: %w", i, err)
		}
		l.SetPrice(pr.Token, price, now.Add(-time.Duration(pr.AgeSeconds)*time.Second))
	}

	for i, pool := range f.Pools {
		rin, err := parseDec(pool.ReserveIn)
		if err != nil {
			return nil, fmt.Errorf("pools[%d].reserve_in: %w", i, err)
		}
		rout, err := parseDec(pool.ReserveOut)
		if err != nil {
			return nil, fmt.Errorf("pools[%d].reserve_out: %w", i, err)
		}
		l.SetReserves(pool.TokenIn, pool.TokenOut, rin, rout)
	}
	return l, nil
}

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// parseDirection defaults an empty direction to long.
func parseDirection(s string) (domain.Direction, error) {
	if s == "" {
		return domain.Long, nil
	}
	d, ok := domain.ParseDirection(s)
	if !ok {
		return d, fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}
