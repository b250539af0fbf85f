package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual service.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LastChecked string `json:"lastChecked"`
}

// IntegrationMetrics is returned by GET /v1/metrics/integration.
type IntegrationMetrics struct {
	ERPRequests    int64   `json:"erpRequests"`
	ERPErrors      int64   `json:"erpErrors"`
	ErrorRate      float64 `json:"errorRate"`
	Logins         int64   `json:"logins"`
	CacheHitRate   float64 `json:"cacheHitRate"`
	StaleCacheHits int64   `json:"staleCacheHits"`
	Period         string  `json:"period"`
}
