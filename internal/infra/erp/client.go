// Package erp is the client for the ERP's session-based OData REST API
// (SAP Business One Service Layer). It owns sessions, query encoding,
// paging and the raw record shapes; mapping to CRM entities lives elsewhere.
package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/infra/resilience"
	"github.com/stia/crm-erp-bff/internal/port"
)

var tracer = otel.Tracer("erp")

const maxResponseSize = 10 << 20 // 10 MB

// Config holds the HTTP-level settings of the client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxPageSize int
}

// Client performs authenticated reads against the Service Layer.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	origin      string
	timeout     time.Duration
	maxPageSize int
	sessions    port.SessionStore
	breakers    *resilience.TenantBreakers
	limiter     *resilience.TenantLimiter
	bulkhead    *resilience.Bulkhead
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewClient creates an ERP client.
func NewClient(httpClient *http.Client, cfg Config, sessions port.SessionStore, breakers *resilience.TenantBreakers, limiter *resilience.TenantLimiter, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	origin := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		origin:      origin,
		timeout:     cfg.Timeout,
		maxPageSize: cfg.MaxPageSize,
		sessions:    sessions,
		breakers:    breakers,
		limiter:     limiter,
		bulkhead:    bulkhead,
		metrics:     metrics,
		logger:      logger,
	}
}

// IgnoredByBreaker reports errors that say nothing about the ERP's health:
// missing entities and expired sessions.
func IgnoredByBreaker(err error) bool {
	var nf *domain.ErrNotFound
	var expired *domain.ErrAuthExpired
	return errors.As(err, &nf) || errors.As(err, &expired)
}

// get reads path (relative to the base URL, or a server-provided next link)
// on behalf of tenant.
func (c *Client) get(ctx context.Context, tenant domain.Tenant, path string) ([]byte, error) {
	collection := collectionOf(path)

	ctx, span := tracer.Start(ctx, "ERP.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", tenant.Code),
		attribute.String("erp.collection", collection),
	)

	var body []byte
	err := c.withSession(ctx, tenant, func(token string) error {
		c.metrics.IncrERPRequest(tenant.Code, collection)
		_, err := c.breakers.For(tenant.Code).Execute(func() (any, error) {
			b, err := c.doRequest(ctx, tenant, token, path)
			body = b
			return nil, err
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &domain.ErrCircuitOpen{Service: "erp"}
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, err
		}
		var ext *domain.ErrExternalService
		if errors.As(err, &ext) {
			return nil, err
		}
		c.metrics.IncrExternalError("erp/" + collection)
		return nil, &domain.ErrExternalService{Service: "erp/" + collection, Err: err}
	}
	return body, nil
}

// withSession runs fn with the tenant's token. When the ERP rejects the
// token, the session is refreshed once and fn replayed once.
func (c *Client) withSession(ctx context.Context, tenant domain.Tenant, fn func(token string) error) error {
	token, err := c.sessions.Get(ctx, tenant)
	if err != nil {
		return err
	}

	err = fn(token)
	var expired *domain.ErrAuthExpired
	if !errors.As(err, &expired) {
		return err
	}

	c.logger.Info("erp: session rejected, logging in again", zap.String("tenant", tenant.Code))
	token, err = c.sessions.Refresh(ctx, tenant, token)
	if err != nil {
		return err
	}
	return fn(token)
}

// doRequest executes one GET against the Service Layer.
func (c *Client) doRequest(ctx context.Context, tenant domain.Tenant, token, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, tenant.Code); err != nil {
		return nil, err
	}
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		c.logger.Error("erp: failed to create request",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf("odata.maxpagesize=%d", c.maxPageSize))
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("erp: request failed",
			zap.String("tenant", tenant.Code),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.ErrTimeout{Operation: "erp GET " + collectionOf(path)}
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read erp response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &domain.ErrAuthExpired{Tenant: tenant.Code}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.ErrNotFound{Resource: collectionOf(path), ID: path}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Warn("erp: non-2xx response",
			zap.String("tenant", tenant.Code),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &domain.ErrRemote{Status: resp.StatusCode, Message: remoteMessage(body)}
	}

	c.logger.Debug("erp: request OK",
		zap.String("tenant", tenant.Code),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return body, nil
}

// resolve turns a query path or a server next link into an absolute URL.
func (c *Client) resolve(path string) string {
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case strings.HasPrefix(path, "/"):
		return c.origin + path
	default:
		return c.baseURL + "/" + path
	}
}

// collectionOf extracts the collection name from a query path or link.
func collectionOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.IndexByte(path, '('); i >= 0 {
		path = path[:i]
	}
	return path
}

// remoteMessage extracts error.message.value (or a plain error.message)
// from a Service Layer error body.
func remoteMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Code    json.RawMessage `json:"code"`
			Message json.RawMessage `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error.Message) == 0 {
		return "unexpected response"
	}

	var nested struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(envelope.Error.Message, &nested); err == nil && nested.Value != "" {
		return nested.Value
	}
	var plain string
	if err := json.Unmarshal(envelope.Error.Message, &plain); err == nil && plain != "" {
		return plain
	}
	return "unexpected response"
}
