package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimiter is a per-tenant token bucket for outbound calls.
// Buckets are created on first use and live for the process lifetime;
// the tenant set is small and static.
type TenantLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewTenantLimiter creates a limiter allowing rps requests per second per
// tenant with the given burst. rps <= 0 disables throttling.
func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &TenantLimiter{
		rps:     limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the tenant's bucket has a token or ctx is done.
func (l *TenantLimiter) Wait(ctx context.Context, tenant string) error {
	return l.bucket(tenant).Wait(ctx)
}

func (l *TenantLimiter) bucket(tenant string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[tenant]; ok {
		return b
	}
	b := rate.NewLimiter(l.rps, l.burst)
	l.buckets[tenant] = b
	return b
}
