// Package refcache keeps the per-tenant salesperson directory used to
// resolve owner codes on every mapped record.
package refcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/cache"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
)

const (
	cacheName = "salespersons"

	// DefaultTTL is how long a loaded directory is served without reloading.
	DefaultTTL = 30 * time.Minute

	maxSalesPersons = 500
)

// Directory maps salesperson codes to names.
type Directory = map[int]string

// Loader fetches the full directory of a tenant from the ERP.
type Loader func(ctx context.Context, tenant domain.Tenant) (Directory, error)

// SharedTier is a cache shared between instances (Redis in production).
type SharedTier interface {
	Get(ctx context.Context, key string) (cache.Entry[Directory], bool, error)
	Set(ctx context.Context, key string, e cache.Entry[Directory]) error
}

// ERPLoader loads the directory from the SalesPersons collection.
func ERPLoader(client *erp.Client) Loader {
	return func(ctx context.Context, tenant domain.Tenant) (Directory, error) {
		rows, err := erp.FetchAll[erp.SalesPerson](ctx, client, tenant, erp.Query{
			Collection: erp.SalesPersons,
			Select:     []string{"SalesEmployeeCode", "SalesEmployeeName"},
			Top:        maxSalesPersons,
		}, maxSalesPersons)
		if err != nil {
			return nil, err
		}
		dir := make(Directory, len(rows))
		for _, sp := range rows {
			if !sp.SalesEmployeeCode.Valid() {
				continue
			}
			dir[sp.SalesEmployeeCode.Int()] = strings.TrimSpace(sp.SalesEmployeeName)
		}
		return dir, nil
	}
}

// SalesPersons is the salesperson reference cache. It implements
// port.OwnerDirectory.
//
// A fresh directory is served from memory. A stale one triggers a reload
// that is shared by concurrent callers; callers arriving while a reload is
// running are served the previous directory. When a reload fails the last
// known directory keeps being served; a tenant that never loaded gets an
// empty one.
type SalesPersons struct {
	load    Loader
	local   *cache.InMemory[Directory]
	shared  SharedTier
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	group      singleflight.Group
	mu         sync.Mutex
	refreshing map[string]bool
}

// New creates the cache. shared may be nil.
func New(load Loader, ttl time.Duration, shared SharedTier, metrics *observability.Metrics, logger *zap.Logger) *SalesPersons {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SalesPersons{
		load:       load,
		local:      cache.New[Directory](ttl),
		shared:     shared,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		refreshing: make(map[string]bool),
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *SalesPersons) WithClock(now func() time.Time) *SalesPersons {
	s.now = now
	s.local.WithClock(now)
	return s
}

// ResolveOwnerName returns the salesperson's name, or "" when unknown.
func (s *SalesPersons) ResolveOwnerName(ctx context.Context, tenant domain.Tenant, code int) string {
	return s.Directory(ctx, tenant)[code]
}

// Directory returns the tenant's code → name map. The map is shared and
// must not be modified.
func (s *SalesPersons) Directory(ctx context.Context, tenant domain.Tenant) Directory {
	key := tenant.Code
	e, fresh, ok := s.local.Peek(key)
	if fresh {
		s.metrics.IncrCacheHit(cacheName)
		return e.Value
	}
	if ok && s.isRefreshing(key) {
		s.metrics.IncrCacheStale(cacheName)
		return e.Value
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		s.setRefreshing(key, true)
		defer s.setRefreshing(key, false)
		return s.refresh(ctx, tenant)
	})
	if err == nil {
		s.metrics.IncrCacheMiss(cacheName)
		return v.(Directory)
	}

	if ok {
		s.metrics.IncrCacheStale(cacheName)
		s.logger.Warn("refcache: reload failed, serving last known directory",
			zap.String("tenant", key),
			zap.Time("loaded_at", e.LoadedAt),
			zap.Error(err),
		)
		return e.Value
	}
	s.metrics.IncrCacheMiss(cacheName)
	s.logger.Warn("refcache: reload failed, no directory loaded yet",
		zap.String("tenant", key),
		zap.Error(err),
	)
	return Directory{}
}

func (s *SalesPersons) refresh(ctx context.Context, tenant domain.Tenant) (Directory, error) {
	key := tenant.Code

	if s.shared != nil {
		e, ok, err := s.shared.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("refcache: shared tier read failed", zap.String("tenant", key), zap.Error(err))
		case ok && s.now().Sub(e.LoadedAt) < s.local.TTL():
			s.local.SetEntry(key, e)
			return e.Value, nil
		}
	}

	dir, err := s.load(ctx, tenant)
	if err != nil {
		return nil, err
	}

	entry := cache.Entry[Directory]{Value: dir, LoadedAt: s.now()}
	s.local.SetEntry(key, entry)
	if s.shared != nil {
		if err := s.shared.Set(ctx, key, entry); err != nil {
			s.logger.Warn("refcache: shared tier write failed", zap.String("tenant", key), zap.Error(err))
		}
	}
	s.logger.Debug("refcache: directory loaded", zap.String("tenant", key), zap.Int("entries", len(dir)))
	return dir, nil
}

func (s *SalesPersons) isRefreshing(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing[key]
}

func (s *SalesPersons) setRefreshing(key string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.refreshing[key] = true
		return
	}
	delete(s.refreshing, key)
}
