package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/infra/resilience"
)

var testTenant = domain.Tenant{Code: "CR", Name: "Costa Rica", DBName: "SBO_STIACR_PROD", Currency: "CRC"}

// fakeERP is a minimal Service Layer: POST /b1s/v1/Login hands out
// numbered tokens, every other path is served by data.
type fakeERP struct {
	logins atomic.Int32
	data   http.HandlerFunc
	dbs    sync.Map // token → CompanyDB
}

func (f *fakeERP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/b1s/v1/Login" {
		var body loginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.UserName != "manager" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":-304,"message":{"lang":"en-us","value":"Fail to get DB Credentials"}}}`))
			return
		}
		n := f.logins.Add(1)
		token := fmt.Sprintf("token-%d", n)
		f.dbs.Store(token, body.CompanyDB)
		_ = json.NewEncoder(w).Encode(map[string]any{"SessionId": token, "SessionTimeout": 30})
		return
	}
	f.data(w, r)
}

// companyDB returns the database the request's session was opened for.
func (f *fakeERP) companyDB(r *http.Request) string {
	db, _ := f.dbs.Load(sessionToken(r))
	s, _ := db.(string)
	return s
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func newTestClient(t *testing.T, f *fakeERP) (*Client, *SessionManager) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	base := srv.URL + "/b1s/v1"
	sessions := NewSessionManager(srv.Client(), base, Credentials{User: "manager", Password: "secret"},
		DefaultSessionTTL, time.Second, resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}, metrics, logger)
	cb := resilience.NewTenantBreakers("erp-test", IgnoredByBreaker, logger)
	client := NewClient(srv.Client(), Config{BaseURL: base, Timeout: 2 * time.Second, MaxPageSize: 2},
		sessions, cb, resilience.NewTenantLimiter(0, 1), resilience.NewBulkhead(4), metrics, logger)
	return client, sessions
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Sessions
// ============================================================

func TestSessionManager_ReusesTokenWithinWindow(t *testing.T) {
	f := &fakeERP{}
	_, sessions := newTestClient(t, f)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sessions.WithClock(func() time.Time { return now })

	first, err := sessions.Get(context.Background(), testTenant)
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	second, err := sessions.Get(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestSessionManager_StaleSessionLogsInOnce(t *testing.T) {
	f := &fakeERP{}
	_, sessions := newTestClient(t, f)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sessions.WithClock(func() time.Time { return now })

	first, err := sessions.Get(context.Background(), testTenant)
	require.NoError(t, err)

	now = now.Add(DefaultSessionTTL + time.Second)
	second, err := sessions.Get(context.Background(), testTenant)
	require.NoError(t, err)
	third, err := sessions.Get(context.Background(), testTenant)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, second, third)
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestSessionManager_ConcurrentGetsShareOneLogin(t *testing.T) {
	f := &fakeERP{}
	_, sessions := newTestClient(t, f)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], _ = sessions.Get(context.Background(), testTenant)
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.NotEmpty(t, tok)
	}
	// singleflight collapses overlapping logins; sequential stragglers reuse the stored token
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestSessionManager_RefreshSkipsLoginWhenAlreadyReplaced(t *testing.T) {
	f := &fakeERP{}
	_, sessions := newTestClient(t, f)
	ctx := context.Background()

	stale, err := sessions.Get(ctx, testTenant)
	require.NoError(t, err)
	fresh, err := sessions.Refresh(ctx, testTenant, stale)
	require.NoError(t, err)
	again, err := sessions.Refresh(ctx, testTenant, stale)
	require.NoError(t, err)

	assert.NotEqual(t, stale, fresh)
	assert.Equal(t, fresh, again)
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestSessionManager_BadCredentialsAreNotRetried(t *testing.T) {
	f := &fakeERP{}
	srv := httptest.NewServer(f)
	defer srv.Close()

	sessions := NewSessionManager(srv.Client(), srv.URL+"/b1s/v1", Credentials{User: "intruder", Password: "x"},
		DefaultSessionTTL, time.Second, resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, observability.NewMetrics(), zap.NewNop())

	_, err := sessions.Get(context.Background(), testTenant)
	require.Error(t, err)

	var remote *domain.ErrRemote
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusUnauthorized, remote.Status)
	assert.Equal(t, "Fail to get DB Credentials", remote.Message)
}

// hangingLogin is a Service Layer whose login never answers.
func hangingLogin(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

func TestSessionManager_LoginAttemptsAreBounded(t *testing.T) {
	srv := hangingLogin(t)
	sessions := NewSessionManager(srv.Client(), srv.URL+"/b1s/v1", Credentials{User: "manager", Password: "secret"},
		DefaultSessionTTL, 100*time.Millisecond, resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		observability.NewMetrics(), zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := sessions.Get(context.Background(), testTenant)
		done <- err
	}()

	select {
	case err := <-done:
		var timeout *domain.ErrTimeout
		require.True(t, errors.As(err, &timeout), "expected a timeout, got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("login still blocked after 3s")
	}
}

func TestClient_HangingLoginFailsTheRead(t *testing.T) {
	srv := hangingLogin(t)
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	base := srv.URL + "/b1s/v1"
	sessions := NewSessionManager(srv.Client(), base, Credentials{User: "manager"}, 0, 200*time.Millisecond,
		resilience.Config{}, metrics, logger)
	client := NewClient(srv.Client(), Config{BaseURL: base, Timeout: 200 * time.Millisecond}, sessions,
		resilience.NewTenantBreakers("erp-hang", IgnoredByBreaker, logger),
		resilience.NewTenantLimiter(0, 1), resilience.NewBulkhead(1), metrics, logger)

	done := make(chan error, 1)
	go func() {
		_, err := FetchPage[Document](context.Background(), client, testTenant, Query{Collection: Orders})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("FetchPage still blocked after 3s")
	}
}

func TestSessionManager_CancelledCallerDoesNotFailSharedLogin(t *testing.T) {
	release := make(chan struct{})
	f := &fakeERP{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		f.ServeHTTP(w, r)
	}))
	defer srv.Close()

	sessions := NewSessionManager(srv.Client(), srv.URL+"/b1s/v1", Credentials{User: "manager", Password: "secret"},
		DefaultSessionTTL, 2*time.Second, resilience.Config{}, observability.NewMetrics(), zap.NewNop())

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := sessions.Get(leaderCtx, testTenant)
		leader <- err
	}()
	// let the leader start the shared login before the follower joins
	time.Sleep(50 * time.Millisecond)

	follower := make(chan string, 1)
	go func() {
		token, _ := sessions.Get(context.Background(), testTenant)
		follower <- token
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leader, context.Canceled)

	close(release)
	select {
	case token := <-follower:
		assert.Equal(t, "token-1", token)
	case <-time.After(3 * time.Second):
		t.Fatal("follower never got a session")
	}
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestClient_BreakerIsPerTenant(t *testing.T) {
	f := &fakeERP{}
	f.data = func(w http.ResponseWriter, r *http.Request) {
		if f.companyDB(r) == "SBO_STIAGT_PROD" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"value": []any{}})
	}
	client, _ := newTestClient(t, f)
	ctx := context.Background()
	gt := domain.Tenant{Code: "GT", Name: "Guatemala", DBName: "SBO_STIAGT_PROD", Currency: "GTQ"}

	for i := 0; i < 5; i++ {
		_, _ = FetchPage[Document](ctx, client, gt, Query{Collection: Orders})
	}
	_, err := FetchPage[Document](ctx, client, gt, Query{Collection: Orders})
	var open *domain.ErrCircuitOpen
	require.True(t, errors.As(err, &open), "expected GT circuit to be open, got %v", err)

	_, err = FetchPage[Document](ctx, client, testTenant, Query{Collection: Orders})
	assert.NoError(t, err)
}

func TestClient_SendsSessionCookieAndHeaders(t *testing.T) {
	var gotCookie, gotPrefer, gotRequestID string
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		gotCookie = sessionToken(r)
		gotPrefer = r.Header.Get("Prefer")
		gotRequestID = r.Header.Get("X-Request-ID")
		writeJSON(w, map[string]any{"value": []any{}})
	}}
	client, _ := newTestClient(t, f)

	_, err := FetchPage[SalesPerson](context.Background(), client, testTenant, Query{Collection: SalesPersons})
	require.NoError(t, err)

	assert.Equal(t, "token-1", gotCookie)
	assert.Equal(t, "odata.maxpagesize=2", gotPrefer)
	assert.Len(t, gotRequestID, 36)
}

func TestClient_ExpiredSessionIsReplayedOnce(t *testing.T) {
	var calls atomic.Int32
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if sessionToken(r) == "token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"value": []map[string]any{{"SalesEmployeeCode": 4, "SalesEmployeeName": "Ana Mora"}}})
	}}
	client, _ := newTestClient(t, f)

	page, err := FetchPage[SalesPerson](context.Background(), client, testTenant, Query{Collection: SalesPersons})
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	assert.Equal(t, 4, page.Items[0].SalesEmployeeCode.Int())
	assert.EqualValues(t, 2, f.logins.Load())
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_SecondRejectionSurfacesAuthExpired(t *testing.T) {
	var calls atomic.Int32
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}}
	client, _ := newTestClient(t, f)

	_, err := FetchPage[SalesPerson](context.Background(), client, testTenant, Query{Collection: SalesPersons})
	require.Error(t, err)

	var ext *domain.ErrExternalService
	var expired *domain.ErrAuthExpired
	assert.True(t, errors.As(err, &ext))
	assert.True(t, errors.As(err, &expired))
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var nf *domain.ErrNotFound
				assert.True(t, errors.As(err, &nf))
			},
		},
		{
			name:   "remote error message",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":-1,"message":{"lang":"en-us","value":"Invalid filter"}}}`,
			check: func(t *testing.T, err error) {
				var remote *domain.ErrRemote
				require.True(t, errors.As(err, &remote))
				assert.Equal(t, "Invalid filter", remote.Message)
				var ext *domain.ErrExternalService
				assert.True(t, errors.As(err, &ext))
			},
		},
		{
			name:   "unparseable error body",
			status: http.StatusInternalServerError,
			body:   `<html>oops</html>`,
			check: func(t *testing.T, err error) {
				var remote *domain.ErrRemote
				require.True(t, errors.As(err, &remote))
				assert.Equal(t, "unexpected response", remote.Message)
				assert.NotContains(t, err.Error(), "oops")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}}
			client, _ := newTestClient(t, f)
			_, err := Get[Document](context.Background(), client, testTenant, Query{Collection: Orders, Key: IntKey(12)})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	base := srv.URL + "/b1s/v1"
	sessions := NewSessionManager(srv.Client(), base, Credentials{User: "manager"}, 0, time.Second, resilience.Config{}, metrics, logger)
	client := NewClient(srv.Client(), Config{BaseURL: base, Timeout: 50 * time.Millisecond}, sessions,
		resilience.NewTenantBreakers("erp-timeout", IgnoredByBreaker, logger),
		resilience.NewTenantLimiter(0, 1), resilience.NewBulkhead(1), metrics, logger)

	_, err := FetchPage[Document](context.Background(), client, testTenant, Query{Collection: Orders})
	var timeout *domain.ErrTimeout
	assert.True(t, errors.As(err, &timeout))
}

// ============================================================
// Paging
// ============================================================

func TestFetchAll_FollowsNextLinks(t *testing.T) {
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("$skip") {
		case "":
			writeJSON(w, map[string]any{
				"odata.count":    5,
				"value":          []map[string]any{{"CardCode": "C1"}, {"CardCode": "C2"}},
				"odata.nextLink": "BusinessPartners?$skip=2",
			})
		case "2":
			writeJSON(w, map[string]any{
				"value":          []map[string]any{{"CardCode": "C3"}, {"CardCode": "C4"}},
				"odata.nextLink": "/b1s/v1/BusinessPartners?$skip=4",
			})
		default:
			writeJSON(w, map[string]any{"value": []map[string]any{{"CardCode": "C5"}}})
		}
	}}
	client, _ := newTestClient(t, f)

	all, err := FetchAll[BusinessPartner](context.Background(), client, testTenant, Query{Collection: BusinessPartners}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "C5", all[4].CardCode)
}

func TestFetchAll_StopsAtCap(t *testing.T) {
	var pages atomic.Int32
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		n := pages.Add(1)
		writeJSON(w, map[string]any{
			"value":          []map[string]any{{"CardCode": fmt.Sprintf("A%d", n)}, {"CardCode": fmt.Sprintf("B%d", n)}},
			"odata.nextLink": fmt.Sprintf("BusinessPartners?$skip=%d", n*2),
		})
	}}
	client, _ := newTestClient(t, f)

	all, err := FetchAll[BusinessPartner](context.Background(), client, testTenant, Query{Collection: BusinessPartners}, 3)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.EqualValues(t, 2, pages.Load())
}

func TestFetchAll_PageErrorAbortsWholeFetch(t *testing.T) {
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skip") == "2" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{
			"value":          []map[string]any{{"CardCode": "C1"}, {"CardCode": "C2"}},
			"odata.nextLink": "BusinessPartners?$skip=2",
		})
	}}
	client, _ := newTestClient(t, f)

	all, err := FetchAll[BusinessPartner](context.Background(), client, testTenant, Query{Collection: BusinessPartners}, 0)
	assert.Error(t, err)
	assert.Nil(t, all)
}

func TestFetchPage_KeepsRecordsWithMismatchedFields(t *testing.T) {
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"odata.count":3,"value":[
			{"CardCode":"C1","CardName":12345,"CardType":"C"},
			{"CardCode":"C2","CardName":"Beta","Country":{"code":"CR"},"Phone1":true},
			{"CardCode":"C3","CardName":"Gamma","ContactEmployees":[{"Name":7}]}
		]}`))
	}}
	client, _ := newTestClient(t, f)

	page, err := FetchPage[BusinessPartner](context.Background(), client, testTenant, Query{Collection: BusinessPartners})
	require.NoError(t, err)

	require.Len(t, page.Items, 3)
	assert.Equal(t, page.Total, len(page.Items))
	assert.Equal(t, "12345", page.Items[0].CardName)
	assert.Equal(t, "C", page.Items[0].CardType)
	assert.Equal(t, "Beta", page.Items[1].CardName)
	assert.Empty(t, page.Items[1].Country)
	assert.Equal(t, "true", page.Items[1].Phone1)
	assert.Equal(t, "Gamma", page.Items[2].CardName)
}

func TestGet_CoercesNumericText(t *testing.T) {
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ItemCode":1001,"ItemName":"Cable"}`))
	}}
	client, _ := newTestClient(t, f)

	item, err := Get[Item](context.Background(), client, testTenant, Query{Collection: Items, Key: StringKey("1001")})
	require.NoError(t, err)
	assert.Equal(t, "1001", item.ItemCode)
	assert.Equal(t, "Cable", item.ItemName)
}

func TestFetchPage_TotalFallsBackToItemCount(t *testing.T) {
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[{"DocEntry":"7","DocTotal":"abc"},{"DocEntry":8,"DocTotal":null},{"DocEntry":9,"CardCode":42}]}`))
	}}
	client, _ := newTestClient(t, f)

	page, err := FetchPage[Document](context.Background(), client, testTenant, Query{Collection: Orders})
	require.NoError(t, err)

	// the record with a numeric CardCode is malformed and skipped
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 7, page.Items[0].DocEntry.Int())
	assert.True(t, page.Items[0].DocTotal.Decimal().IsZero())
	assert.False(t, page.Items[1].DocTotal.Valid())
}

func TestFetchPage_SendsEncodedQuery(t *testing.T) {
	var gotFilter, gotPath string
	f := &fakeERP{data: func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFilter = r.URL.Query().Get("$filter")
		writeJSON(w, map[string]any{"odata.count": "12", "value": []any{}})
	}}
	client, _ := newTestClient(t, f)

	page, err := FetchPage[BusinessPartner](context.Background(), client, testTenant, Query{
		Collection:  BusinessPartners,
		Filter:      And(Eq("CardType", "C"), Contains("CardName", "O'Brien & Co")),
		InlineCount: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/b1s/v1/BusinessPartners", gotPath)
	assert.Equal(t, "(CardType eq 'C') and (contains(CardName,'O''Brien & Co'))", gotFilter)
	assert.Equal(t, 12, page.Total)
}

func TestCollectionOf(t *testing.T) {
	cases := map[string]string{
		"Orders":                                  "Orders",
		"Orders(12)?$select=DocEntry":             "Orders",
		"BusinessPartners('C001')":                "BusinessPartners",
		"/b1s/v1/Invoices?$skip=20":               "Invoices",
		"https://erp.local/b1s/v1/Items?$top=500": "Items",
	}
	for in, want := range cases {
		assert.Equal(t, want, collectionOf(in), in)
	}
}

func TestRemoteMessage_PlainString(t *testing.T) {
	assert.Equal(t, "boom", remoteMessage([]byte(`{"error":{"code":"x","message":"boom"}}`)))
	assert.True(t, strings.HasPrefix(remoteMessage(nil), "unexpected"))
}
