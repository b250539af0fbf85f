package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/infra/resilience"
)

// SessionCookie is the cookie the Service Layer expects the token in.
const SessionCookie = "B1SESSION"

// DefaultSessionTTL keeps a margin under the ERP's own 30 minute idle expiry.
const DefaultSessionTTL = 25 * time.Minute

// DefaultLoginTimeout bounds one POST /Login attempt.
const DefaultLoginTimeout = 30 * time.Second

// Credentials are the shared ERP login used for every tenant.
type Credentials struct {
	User     string
	Password string
}

type session struct {
	token    string
	lastUsed time.Time
}

// SessionManager keeps one live Service Layer session per tenant.
// It implements port.SessionStore.
type SessionManager struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
	ttl        time.Duration
	timeout    time.Duration
	retry      resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	logins   singleflight.Group
}

// NewSessionManager creates a session manager for the Service Layer at baseURL.
// timeout bounds each login attempt.
func NewSessionManager(httpClient *http.Client, baseURL string, creds Credentials, ttl, timeout time.Duration, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}
	return &SessionManager{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		ttl:        ttl,
		timeout:    timeout,
		retry:      retry,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Get returns the tenant's token, logging in first when there is none or
// it has not been used within the staleness window.
func (m *SessionManager) Get(ctx context.Context, tenant domain.Tenant) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[tenant.Code]
	now := m.now()
	if ok && now.Sub(s.lastUsed) < m.ttl {
		s.lastUsed = now
		token := s.token
		m.mu.Unlock()
		return token, nil
	}
	stale := ""
	reason := "initial"
	if ok {
		stale, reason = s.token, "stale"
	}
	m.mu.Unlock()

	return m.login(ctx, tenant, reason, stale)
}

// Refresh logs in again after the ERP rejected stale. Concurrent callers
// holding the same stale token share one login.
func (m *SessionManager) Refresh(ctx context.Context, tenant domain.Tenant, stale string) (string, error) {
	if token, ok := m.replaced(tenant, stale); ok {
		return token, nil
	}
	return m.login(ctx, tenant, "expired", stale)
}

// replaced returns the held token when it is fresh and differs from stale.
func (m *SessionManager) replaced(tenant domain.Tenant, stale string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tenant.Code]
	if !ok || s.token == stale {
		return "", false
	}
	now := m.now()
	if now.Sub(s.lastUsed) >= m.ttl {
		return "", false
	}
	s.lastUsed = now
	return s.token, true
}

// login establishes a new session unless one newer than stale appeared
// while the caller was waiting. Logins per tenant are deduplicated.
//
// The shared login runs detached from the caller that started it, so one
// disconnecting client does not fail everyone waiting on the same tenant.
// Each caller still stops waiting when its own ctx is done.
func (m *SessionManager) login(ctx context.Context, tenant domain.Tenant, reason, stale string) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.logins.DoChan(tenant.Code, func() (any, error) {
		if token, ok := m.replaced(tenant, stale); ok {
			return token, nil
		}

		var token string
		err := resilience.RetryWithBackoff(detached, m.retry, func() error {
			attemptCtx, cancel := context.WithTimeout(detached, m.timeout)
			defer cancel()
			var err error
			token, err = m.doLogin(attemptCtx, tenant)
			return err
		})
		if err != nil {
			m.metrics.IncrExternalError("erp/login")
			m.logger.Error("erp: login failed",
				zap.String("tenant", tenant.Code),
				zap.String("reason", reason),
				zap.Error(err),
			)
			return "", &domain.ErrExternalService{Service: "erp/login", Err: err}
		}

		m.mu.Lock()
		m.sessions[tenant.Code] = &session{token: token, lastUsed: m.now()}
		m.mu.Unlock()

		m.metrics.IncrLogin(tenant.Code, reason)
		m.logger.Info("erp: session established",
			zap.String("tenant", tenant.Code),
			zap.String("reason", reason),
		)
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type loginRequest struct {
	CompanyDB string `json:"CompanyDB"`
	UserName  string `json:"UserName"`
	Password  string `json:"Password"`
}

type loginResponse struct {
	SessionID      string `json:"SessionId"`
	Version        string `json:"Version"`
	SessionTimeout Number `json:"SessionTimeout"`
}

// doLogin performs one POST /Login exchange. Credential rejections are
// permanent; transport failures and 5xx answers are retried by the caller.
func (m *SessionManager) doLogin(ctx context.Context, tenant domain.Tenant) (string, error) {
	payload, err := json.Marshal(loginRequest{
		CompanyDB: tenant.DBName,
		UserName:  m.creds.User,
		Password:  m.creds.Password,
	})
	if err != nil {
		return "", resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/Login", bytes.NewReader(payload))
	if err != nil {
		return "", resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &domain.ErrTimeout{Operation: "erp login"}
		}
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		remote := &domain.ErrRemote{Status: resp.StatusCode, Message: remoteMessage(body)}
		m.logger.Warn("erp: login rejected",
			zap.String("tenant", tenant.Code),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		if resp.StatusCode < 500 {
			return "", resilience.Permanent(remote)
		}
		return "", remote
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", resilience.Permanent(fmt.Errorf("failed to decode login response: %w", err))
	}
	if lr.SessionID == "" {
		return "", resilience.Permanent(fmt.Errorf("login response carried no session id"))
	}
	return lr.SessionID, nil
}
