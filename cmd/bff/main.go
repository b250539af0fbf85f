package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stia/crm-erp-bff/internal/config"
	"github.com/stia/crm-erp-bff/internal/handler"
	"github.com/stia/crm-erp-bff/internal/infra/cache"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/infra/resilience"
	"github.com/stia/crm-erp-bff/internal/lineage"
	"github.com/stia/crm-erp-bff/internal/refcache"
	"github.com/stia/crm-erp-bff/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("erp_base_url", cfg.ERPBaseURL),
		zap.Bool("erp_tls_verify", cfg.ERPTLSVerify),
		zap.Duration("erp_timeout", cfg.ERPTimeout),
		zap.Duration("erp_session_ttl", cfg.ERPSessionTTL),
		zap.Float64("erp_rate_limit", cfg.ERPRateLimit),
		zap.String("default_tenant", cfg.DefaultTenant),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("salesperson_cache_ttl", cfg.SalesPersonCacheTTL),
		zap.Bool("redis_enabled", cfg.RedisAddr != ""),
	)
	if !cfg.ERPTLSVerify {
		logger.Warn("ERP certificate verification disabled")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "crm-erp-bff")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	breakers := resilience.NewTenantBreakers("erp", erp.IgnoredByBreaker, logger)
	limiter := resilience.NewTenantLimiter(cfg.ERPRateLimit, cfg.ERPRateBurst)
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- ERP client ---
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.ERPTLSVerify}, //nolint:gosec // self-signed Service Layer certificates
			MaxIdleConnsPerHost: cfg.MaxConcurrency,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	sessions := erp.NewSessionManager(
		httpClient,
		cfg.ERPBaseURL,
		erp.Credentials{User: cfg.ERPUser, Password: cfg.ERPPassword},
		cfg.ERPSessionTTL,
		cfg.ERPTimeout,
		resilienceCfg,
		metrics,
		logger,
	)
	erpClient := erp.NewClient(httpClient, erp.Config{
		BaseURL:     cfg.ERPBaseURL,
		Timeout:     cfg.ERPTimeout,
		MaxPageSize: cfg.ERPMaxPageSize,
	}, sessions, breakers, limiter, bulkhead, metrics, logger)

	// --- Cache ---
	var shared refcache.SharedTier
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(context.Background(), cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("redis unavailable, salesperson cache stays in memory", zap.Error(err))
		} else {
			defer rdb.Close()
			shared = cache.NewRedis[refcache.Directory](rdb, "crm-erp-bff:salespersons:", 0)
			logger.Info("salesperson cache shared through redis", zap.String("addr", cfg.RedisAddr))
		}
	}
	owners := refcache.New(refcache.ERPLoader(erpClient), cfg.SalesPersonCacheTTL, shared, metrics, logger)

	// --- Services ---
	resolver := lineage.NewResolver(erpClient, owners, logger)
	crm := service.NewCRM(erpClient, owners, resolver, metrics, logger)

	// --- Router ---
	defaultTenant, _ := config.LookupTenant(cfg.DefaultTenant)
	router := handler.NewRouter(crm, handler.Options{
		DefaultTenant: defaultTenant,
		JWTSecret:     []byte(cfg.JWTSecret),
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
