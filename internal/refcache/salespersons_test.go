package refcache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/cache"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/infra/resilience"
)

var tenantCR = domain.Tenant{Code: "CR", DBName: "SBO_STIACR_PROD", Currency: "CRC"}

type fakeLoader struct {
	calls atomic.Int32
	fail  atomic.Bool
	dir   Directory
}

func (f *fakeLoader) load(ctx context.Context, tenant domain.Tenant) (Directory, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("erp unavailable")
	}
	return f.dir, nil
}

type memoryTier struct {
	mu      sync.Mutex
	entries map[string]cache.Entry[Directory]
}

func (m *memoryTier) Get(ctx context.Context, key string) (cache.Entry[Directory], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *memoryTier) Set(ctx context.Context, key string, e cache.Entry[Directory]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T, loader *fakeLoader, shared SharedTier) (*SalesPersons, *clock, *observability.Metrics) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	metrics := observability.NewMetrics()
	sp := New(loader.load, DefaultTTL, shared, metrics, zap.NewNop()).WithClock(clk.Now)
	return sp, clk, metrics
}

func TestSalesPersons_ServesFreshDirectoryFromMemory(t *testing.T) {
	loader := &fakeLoader{dir: Directory{7: "Ana Mora"}}
	sp, clk, _ := newCache(t, loader, nil)
	ctx := context.Background()

	assert.Equal(t, "Ana Mora", sp.ResolveOwnerName(ctx, tenantCR, 7))
	clk.Advance(29 * time.Minute)
	assert.Equal(t, "Ana Mora", sp.ResolveOwnerName(ctx, tenantCR, 7))
	assert.Empty(t, sp.ResolveOwnerName(ctx, tenantCR, 8))

	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestSalesPersons_ReloadsAfterTTL(t *testing.T) {
	loader := &fakeLoader{dir: Directory{7: "Ana Mora"}}
	sp, clk, _ := newCache(t, loader, nil)
	ctx := context.Background()

	sp.Directory(ctx, tenantCR)
	clk.Advance(DefaultTTL)
	loader.dir = Directory{7: "Ana Mora Solano"}

	assert.Equal(t, "Ana Mora Solano", sp.ResolveOwnerName(ctx, tenantCR, 7))
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestSalesPersons_FailedReloadKeepsLastKnownDirectory(t *testing.T) {
	loader := &fakeLoader{dir: Directory{7: "Ana Mora", 9: "Luis Vega"}}
	sp, clk, metrics := newCache(t, loader, nil)
	ctx := context.Background()

	first := sp.Directory(ctx, tenantCR)
	require.Len(t, first, 2)

	clk.Advance(DefaultTTL + time.Minute)
	loader.fail.Store(true)

	got := sp.Directory(ctx, tenantCR)
	assert.Equal(t, first, got)
	assert.Equal(t, "Luis Vega", sp.ResolveOwnerName(ctx, tenantCR, 9))
	assert.EqualValues(t, 2, metrics.GetIntegrationSnapshot().StaleCacheHits)
}

func TestSalesPersons_NeverLoadedFailureIsEmpty(t *testing.T) {
	loader := &fakeLoader{}
	loader.fail.Store(true)
	sp, _, _ := newCache(t, loader, nil)

	dir := sp.Directory(context.Background(), tenantCR)
	assert.NotNil(t, dir)
	assert.Empty(t, dir)
}

func TestSalesPersons_TenantsAreIsolated(t *testing.T) {
	loader := &fakeLoader{dir: Directory{1: "Uno"}}
	sp, _, _ := newCache(t, loader, nil)
	ctx := context.Background()

	sp.Directory(ctx, tenantCR)
	sp.Directory(ctx, domain.Tenant{Code: "GT"})
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestSalesPersons_ConcurrentMissesShareOneLoad(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	load := func(ctx context.Context, tenant domain.Tenant) (Directory, error) {
		calls.Add(1)
		<-release
		return Directory{7: "Ana Mora"}, nil
	}
	sp := New(load, DefaultTTL, nil, observability.NewMetrics(), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sp.ResolveOwnerName(context.Background(), tenantCR, 7)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, "Ana Mora", r)
	}
}

func TestSalesPersons_StaleReadersDoNotWaitForReload(t *testing.T) {
	release := make(chan struct{})
	var blocking atomic.Bool
	load := func(ctx context.Context, tenant domain.Tenant) (Directory, error) {
		if blocking.Load() {
			<-release
			return Directory{7: "New Name"}, nil
		}
		return Directory{7: "Old Name"}, nil
	}
	clk := &clock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	sp := New(load, DefaultTTL, nil, observability.NewMetrics(), zap.NewNop()).WithClock(clk.Now)
	ctx := context.Background()

	sp.Directory(ctx, tenantCR)
	clk.Advance(DefaultTTL)
	blocking.Store(true)

	done := make(chan string)
	go func() { done <- sp.ResolveOwnerName(ctx, tenantCR, 7) }()
	require.Eventually(t, func() bool { return sp.isRefreshing(tenantCR.Code) }, time.Second, time.Millisecond)

	assert.Equal(t, "Old Name", sp.ResolveOwnerName(ctx, tenantCR, 7))

	close(release)
	assert.Equal(t, "New Name", <-done)
}

func TestSalesPersons_SharedTier(t *testing.T) {
	shared := &memoryTier{entries: map[string]cache.Entry[Directory]{}}
	loader := &fakeLoader{dir: Directory{7: "Ana Mora"}}
	first, clk, _ := newCache(t, loader, shared)
	ctx := context.Background()

	first.Directory(ctx, tenantCR)
	require.Contains(t, shared.entries, "CR")

	// a second instance picks the directory up without touching the ERP
	second := New(loader.load, DefaultTTL, shared, observability.NewMetrics(), zap.NewNop()).WithClock(clk.Now)
	assert.Equal(t, "Ana Mora", second.ResolveOwnerName(ctx, tenantCR, 7))
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestERPLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Login" {
			_ = json.NewEncoder(w).Encode(map[string]any{"SessionId": "s1"})
			return
		}
		assert.Equal(t, "/SalesPersons", r.URL.Path)
		assert.Equal(t, "SalesEmployeeCode,SalesEmployeeName", r.URL.Query().Get("$select"))
		_, _ = w.Write([]byte(`{"value":[{"SalesEmployeeCode":-1,"SalesEmployeeName":"-Ningún empleado del departamento de ventas-"},{"SalesEmployeeCode":7,"SalesEmployeeName":" Ana Mora "},{"SalesEmployeeName":"sin código"}]}`))
	}))
	defer srv.Close()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	sessions := erp.NewSessionManager(srv.Client(), srv.URL, erp.Credentials{User: "manager"}, 0, time.Second, resilience.Config{}, metrics, logger)
	client := erp.NewClient(srv.Client(), erp.Config{BaseURL: srv.URL}, sessions,
		resilience.NewTenantBreakers("refcache-test", erp.IgnoredByBreaker, logger),
		resilience.NewTenantLimiter(0, 1), resilience.NewBulkhead(2), metrics, logger)

	dir, err := ERPLoader(client)(context.Background(), tenantCR)
	require.NoError(t, err)
	assert.Len(t, dir, 2)
	assert.Equal(t, "Ana Mora", dir[7])
}
