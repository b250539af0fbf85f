package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/stia/crm-erp-bff/internal/domain"
)

// Metrics holds all Prometheus metrics for the BFF.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	erpRequests     *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	logins          *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	degraded        *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bff_request_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		erpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_erp_requests_total",
				Help: "Outbound ERP requests by tenant and collection.",
			},
			[]string{"tenant", "collection"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_erp_logins_total",
				Help: "ERP login exchanges by tenant and reason.",
			},
			[]string{"tenant", "reason"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_cache_lookups_total",
				Help: "Reference cache lookups by cache and result (hit, miss, stale).",
			},
			[]string{"cache", "result"},
		),
		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_degraded_sections_total",
				Help: "Aggregate view sections served empty after a failed fetch.",
			},
			[]string{"view", "section"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrERPRequest counts one outbound ERP request.
func (m *Metrics) IncrERPRequest(tenant, collection string) {
	m.erpRequests.WithLabelValues(tenant, collection).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrLogin counts an ERP login exchange.
func (m *Metrics) IncrLogin(tenant, reason string) {
	m.logins.WithLabelValues(tenant, reason).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheLookups.WithLabelValues(cache, "hit").Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheLookups.WithLabelValues(cache, "miss").Inc()
}

// IncrCacheStale counts a lookup answered from an expired entry.
func (m *Metrics) IncrCacheStale(cache string) {
	m.cacheLookups.WithLabelValues(cache, "stale").Inc()
}

// IncrDegraded counts a section of an aggregate view served empty.
func (m *Metrics) IncrDegraded(view, section string) {
	m.degraded.WithLabelValues(view, section).Inc()
}

// GetIntegrationSnapshot summarises ERP traffic for GET /v1/metrics/integration.
func (m *Metrics) GetIntegrationSnapshot() *domain.IntegrationMetrics {
	requests := sumCounterVec(m.erpRequests)
	errs := sumCounterVec(m.externalErrors)
	logins := sumCounterVec(m.logins)
	hits := sumCounterVecWhere(m.cacheLookups, "result", "hit")
	misses := sumCounterVecWhere(m.cacheLookups, "result", "miss")
	stale := sumCounterVecWhere(m.cacheLookups, "result", "stale")

	errorRate := float64(0)
	if requests > 0 {
		errorRate = errs / requests
	}
	cacheHitRate := float64(0)
	if total := hits + misses + stale; total > 0 {
		cacheHitRate = (hits + stale) / total
	}

	return &domain.IntegrationMetrics{
		ERPRequests:    int64(requests),
		ERPErrors:      int64(errs),
		ErrorRate:      errorRate,
		Logins:         int64(logins),
		CacheHitRate:   cacheHitRate,
		StaleCacheHits: int64(stale),
		Period:         "all_time",
	}
}

func sumCounterVec(cv *prometheus.CounterVec) float64 {
	return sumCounterVecWhere(cv, "", "")
}

// sumCounterVecWhere adds every series of cv, optionally only those whose
// label has the given value.
func sumCounterVecWhere(cv *prometheus.CounterVec, label, value string) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		pb := &dto.Metric{}
		if err := metric.Write(pb); err != nil || pb.Counter == nil {
			continue
		}
		if label != "" && !hasLabel(pb, label, value) {
			continue
		}
		total += pb.Counter.GetValue()
	}
	return total
}

func hasLabel(pb *dto.Metric, name, value string) bool {
	for _, lp := range pb.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue() == value
		}
	}
	return false
}
