package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ammkeeper/internal/adapters/metrics"
	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

func TestPrometheus_Observe(t *testing.T) {
	p := metrics.NewPrometheus()

	p.ObserveOutcome(domain.Outcome{Kind: domain.OutcomeSuccess, Opportunity: domain.Opportunity{Kind: domain.KindOrderExecution}})
	p.ObserveOutcome(domain.Outcome{Kind: domain.OutcomeSuccess, Opportunity: domain.Opportunity{Kind: domain.KindOrderExecution}})
	p.ObserveOutcome(domain.Outcome{Kind: domain.OutcomeAlreadyDone, Opportunity: domain.Opportunity{Kind: domain.KindPositionLiquidation}})
	p.ObserveOutcome(domain.Outcome{Kind: domain.OutcomeSuccess, Tokens: []string{"WETH"}})
	p.ObservePricesUpdated(3)
	p.ObservePricesUpdated(0)
	p.ObserveError()
	p.ObserveCycle(domain.CycleSummary{StartedAt: time.Now(), Duration: time.Second, OrdersFound: 4, PositionsFound: 1})
	p.ObserveCycle(domain.CycleSummary{StartedAt: time.Now(), Paused: true})

	families, err := p.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "ammkeeper_engine_outcomes_total" {
			assert.Len(t, mf.GetMetric(), 3) // three label sets
		}
	}

	body := scrape(t, p)
	assert.Contains(t, body, `ammkeeper_engine_outcomes_total{kind="order_execution",outcome="success"} 2`)
	assert.Contains(t, body, `ammkeeper_engine_outcomes_total{kind="price_batch",outcome="success"} 1`)
	assert.Contains(t, body, "ammkeeper_engine_prices_updated_total 3")
	assert.Contains(t, body, "ammkeeper_errors_total 1")
	assert.Contains(t, body, `ammkeeper_cycle_runs_total{paused="true"} 1`)
	assert.Contains(t, body, `ammkeeper_cycle_opportunities_found{kind="order_execution"} 4`)
	assert.Contains(t, body, "ammkeeper_cycle_duration_seconds_count 2")
}

func TestPrometheus_SeparateRegistries(t *testing.T) {
	a := metrics.NewPrometheus()
	b := metrics.NewPrometheus()
	a.ObserveError()

	assert.Contains(t, scrape(t, a), "ammkeeper_errors_total 1")
	assert.Contains(t, scrape(t, b), "ammkeeper_errors_total 0")
}

func TestRouter_Healthz(t *testing.T) {
	p := metrics.NewPrometheus()

	tests := []struct {
		name     string
		lastRun  time.Time
		wantCode int
		wantBody string
	}{
		{"no tick yet", time.Time{}, http.StatusServiceUnavailable, `"status":"starting"`},
		{"recent tick", time.Now().Add(-10 * time.Second), http.StatusOK, `"status":"ok"`},
		{"stale tick", time.Now().Add(-10 * time.Minute), http.StatusServiceUnavailable, `"status":"stale"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(metrics.Router(p, func() time.Time { return tt.lastRun }, time.Minute))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}

func scrape(t *testing.T, p *metrics.Prometheus) string {
	t.Helper()
	srv := httptest.NewServer(metrics.Router(p, time.Now, 0))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
