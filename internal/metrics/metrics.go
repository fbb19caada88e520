// Package metrics provides Prometheus metrics for pipeline runs.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trendpost"

// Metrics 持有一次进程生命周期内的所有指标，注册在自己的 Registry 上
type Metrics struct {
	registry *prometheus.Registry

	// RunsTotal counts runs by outcome (ok / fatal).
	RunsTotal *prometheus.CounterVec
	// ReposTotal counts repositories by stage outcome.
	ReposTotal *prometheus.CounterVec
	// FailuresTotal counts item and run failures by kind.
	FailuresTotal *prometheus.CounterVec
	// RunDuration measures run duration.
	RunDuration prometheus.Histogram
	// LastSuccess is the unix time of the last run that finished without a fatal error.
	LastSuccess prometheus.Gauge
}

// New 创建一组新的指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs",
			},
			[]string{"status"},
		),
		ReposTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repos_total",
				Help:      "Repositories seen by the pipeline, by outcome",
			},
			[]string{"outcome"},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Total number of failures by kind",
			},
			[]string{"kind"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		LastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last run without a fatal error",
			},
		),
	}
}

// ObserveRun records a finished run report.
func (m *Metrics) ObserveRun(report *domain.RunReport) {
	if m == nil || report == nil {
		return
	}

	status := "ok"
	if report.RunFatal() {
		status = "fatal"
		m.FailuresTotal.WithLabelValues(string(report.Fatal.Kind)).Inc()
	}
	m.RunsTotal.WithLabelValues(status).Inc()

	m.ReposTotal.WithLabelValues("fetched").Add(float64(report.Fetched))
	m.ReposTotal.WithLabelValues("skipped").Add(float64(report.SkippedCount()))
	m.ReposTotal.WithLabelValues("denied").Add(float64(len(report.Denied)))
	m.ReposTotal.WithLabelValues("published").Add(float64(report.PublishedCount()))
	m.ReposTotal.WithLabelValues("failed").Add(float64(report.FailedCount()))
	for _, f := range report.Failures {
		m.FailuresTotal.WithLabelValues(string(f.Kind)).Inc()
	}

	m.RunDuration.Observe(report.Duration().Seconds())
	if !report.RunFatal() {
		m.LastSuccess.Set(float64(report.FinishedAt.Unix()))
	}
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上暴露 /metrics，ctx 结束时优雅关闭
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server")
	}
}
