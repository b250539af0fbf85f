package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/config"
	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
)

type contextKey string

const (
	tenantKey contextKey = "tenant"
	ownerKey  contextKey = "owner"
)

// TenantHeader selects the company database for a request.
const TenantHeader = observability.TenantHeader

// ScopeAll marks users who may see every salesperson's records.
const ScopeAll = "ALL"

// Claims are the CRM access-token claims this service relies on.
type Claims struct {
	SalesPersonCode *int   `json:"sapSalesPersonCode,omitempty"`
	ScopeLevel      string `json:"scopeLevel"`
	jwt.RegisteredClaims
}

// TenantMiddleware resolves the X-Company-Id header into a tenant. A missing
// header selects the default tenant; an unknown code is rejected.
func TenantMiddleware(defaultTenant domain.Tenant, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := defaultTenant
			if code := strings.TrimSpace(r.Header.Get(TenantHeader)); code != "" {
				t, ok := config.LookupTenant(code)
				if !ok {
					logger.Debug("tenant: unknown company", zap.String("company", code))
					writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown company %q", code))
					return
				}
				tenant = t
			}

			ctx := context.WithValue(r.Context(), tenantKey, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// JWTAuthMiddleware validates Bearer tokens issued by the CRM and derives
// the owner filter: scope ALL sees everything, any other scope only the
// records of the token's salesperson.
func JWTAuthMiddleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			claims, err := ValidateToken(parts[1], secret)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := r.Context()
			if claims.ScopeLevel != ScopeAll {
				if claims.SalesPersonCode == nil {
					logger.Warn("auth: token without salesperson scope", zap.String("subject", claims.Subject))
					writeError(w, http.StatusForbidden, "token carries no salesperson scope")
					return
				}
				code := *claims.SalesPersonCode
				ctx = context.WithValue(ctx, ownerKey, &code)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ValidateToken parses an HS256 access token signed with secret.
func ValidateToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	return claims, nil
}

// TenantFromContext returns the tenant selected for the request.
func TenantFromContext(ctx context.Context) domain.Tenant {
	t, _ := ctx.Value(tenantKey).(domain.Tenant)
	return t
}

// OwnerFromContext returns the salesperson filter of the request, nil for
// unrestricted callers.
func OwnerFromContext(ctx context.Context) *int {
	v, _ := ctx.Value(ownerKey).(*int)
	return v
}
