// Package metrics mirrors keeper counters to Prometheus and serves them over HTTP
// together with a liveness probe.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

const namespace = "ammkeeper"

// Prometheus implements ports.MetricsSink on its own registry, so several instances
// can coexist in one process (tests).
type Prometheus struct {
	reg *prometheus.Registry

	outcomes       *prometheus.CounterVec
	pricesUpdated  prometheus.Counter
	errors         prometheus.Counter
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	found          *prometheus.GaugeVec
	lookupFailures prometheus.Gauge
	lastRun        prometheus.Gauge
}

// NewPrometheus creates the sink and registers every collector.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Prometheus{
		reg: reg,
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "outcomes_total",
			Help:      "Execution outcomes by opportunity kind and classification",
		}, []string{"kind", "outcome"}),
		pricesUpdated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "prices_updated_total",
			Help:      "Token prices pushed to the oracle",
		}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Unknown failures and failed pause checks",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Keeper ticks by whether the system was paused",
		}, []string{"paused"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of one keeper tick",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		found: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "opportunities_found",
			Help:      "Opportunities discovered by the last tick",
		}, []string{"kind"}),
		lookupFailures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "lookup_failures",
			Help:      "Entity reads that failed during the last tick",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last tick finished",
		}),
	}
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

// ObserveOutcome counts one execution outcome. Price batches are labelled "price_batch".
func (p *Prometheus) ObserveOutcome(o domain.Outcome) {
	kind := o.Opportunity.Kind.String()
	if len(o.Tokens) > 0 {
		kind = "price_batch"
	}
	p.outcomes.WithLabelValues(kind, o.Kind.String()).Inc()
}

func (p *Prometheus) ObservePricesUpdated(n int) {
	if n > 0 {
		p.pricesUpdated.Add(float64(n))
	}
}

func (p *Prometheus) ObserveError() {
	p.errors.Inc()
}

// ObserveCycle records the tick timing and what it found.
func (p *Prometheus) ObserveCycle(s domain.CycleSummary) {
	p.cycles.WithLabelValues(fmt.Sprintf("%t", s.Paused)).Inc()
	p.cycleDuration.Observe(s.Duration.Seconds())
	p.lastRun.Set(float64(s.StartedAt.Add(s.Duration).Unix()))
	if s.Paused {
		return
	}
	p.found.WithLabelValues(domain.KindOrderExecution.String()).Set(float64(s.OrdersFound))
	p.found.WithLabelValues(domain.KindPositionLiquidation.String()).Set(float64(s.PositionsFound))
	p.lookupFailures.Set(float64(s.LookupFailures))
}

// LastRunFunc reports when the keeper last completed a tick.
type LastRunFunc func() time.Time

type health struct {
	Status  string `json:"status"`
	LastRun string `json:"last_run,omitempty"`
	Age     string `json:"age,omitempty"`
}

// Router serves /metrics from the sink's registry and /healthz. The probe fails when no
// tick has completed yet or the last one is older than maxAge.
func Router(p *Prometheus, lastRun LastRunFunc, maxAge time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, lastRun(), maxAge, time.Now())
	})
	return r
}

func writeHealth(w http.ResponseWriter, last time.Time, maxAge time.Duration, now time.Time) {
	h := health{Status: "ok"}
	code := http.StatusOK

	switch {
	case last.IsZero():
		h.Status = "starting"
		code = http.StatusServiceUnavailable
	default:
		age := now.Sub(last)
		h.LastRun = last.UTC().Format(time.RFC3339)
		h.Age = age.Round(time.Second).String()
		if maxAge > 0 && age > maxAge {
			h.Status = "stale"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		slog.Warn("healthz: encode failed", "err", err)
	}
}

// Serve runs the HTTP server on addr until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics.Serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics.Serve: shutdown: %w", err)
	}
	return nil
}
