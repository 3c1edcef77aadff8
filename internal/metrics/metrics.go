// Package metrics exports ingestion run summaries to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"cardprices/internal/ingest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "cardprices_ingest"

type Registry struct {
	reg *prometheus.Registry

	Runs            *prometheus.CounterVec
	Products        *prometheus.CounterVec
	SetsProcessed   prometheus.Counter
	SetsFailed      prometheus.Counter
	PagesFailed     prometheus.Counter
	QuotaUsed       prometheus.Gauge
	QuotaCeiling    prometheus.Gauge
	RunDurationSec  prometheus.Histogram
	LastRunUnixTime prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "runs_total", Help: "Finished runs by terminal state.",
	}, []string{"state"})
	products := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "products_total", Help: "Products by outcome.",
	}, []string{"outcome"})
	setsProcessed := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sets_processed_total"})
	setsFailed := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sets_failed_total"})
	pagesFailed := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pages_failed_total"})
	quotaUsed := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "quota_used", Help: "API calls issued by the last run.",
	})
	quotaCeiling := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "quota_ceiling"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "last_run_timestamp_seconds"})

	r.MustRegister(runs, products, setsProcessed, setsFailed, pagesFailed, quotaUsed, quotaCeiling, runDuration, lastRun)
	return &Registry{
		reg:             r,
		Runs:            runs,
		Products:        products,
		SetsProcessed:   setsProcessed,
		SetsFailed:      setsFailed,
		PagesFailed:     pagesFailed,
		QuotaUsed:       quotaUsed,
		QuotaCeiling:    quotaCeiling,
		RunDurationSec:  runDuration,
		LastRunUnixTime: lastRun,
	}
}

// ObserveRun implements ingest.Observer.
func (r *Registry) ObserveRun(sum ingest.Summary) {
	r.Runs.WithLabelValues(string(sum.State)).Inc()

	r.Products.WithLabelValues("listed").Add(float64(sum.ProductsListed))
	r.Products.WithLabelValues("fetched").Add(float64(sum.ProductsFetched))
	r.Products.WithLabelValues("upserted").Add(float64(sum.ProductsUpserted))
	r.Products.WithLabelValues("skipped").Add(float64(sum.ProductsSkipped))
	r.Products.WithLabelValues("failed").Add(float64(sum.ProductsFailed))
	r.Products.WithLabelValues("malformed").Add(float64(sum.ProductsMalformed))

	r.SetsProcessed.Add(float64(sum.SetsProcessed))
	r.SetsFailed.Add(float64(sum.SetsFailed))
	r.PagesFailed.Add(float64(sum.PagesFailed))
	r.QuotaUsed.Set(float64(sum.QuotaUsed))
	r.QuotaCeiling.Set(float64(sum.QuotaCeiling))
	r.RunDurationSec.Observe(sum.Duration().Seconds())
	if !sum.FinishedAt.IsZero() {
		r.LastRunUnixTime.Set(float64(sum.FinishedAt.Unix()))
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Push sends the registry to a Pushgateway, replacing the job's metrics.
func (r *Registry) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

var _ ingest.Observer = (*Registry)(nil)
