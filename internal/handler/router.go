package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/config"
	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/service"
)

var tracer = otel.Tracer("handler")

// Options carries the request-scoping settings of the router.
type Options struct {
	DefaultTenant domain.Tenant
	JWTSecret     []byte
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(crm *service.CRM, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	if opts.DefaultTenant.Code == "" {
		opts.DefaultTenant, _ = config.LookupTenant(config.DefaultTenantCode)
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(crm, opts.DefaultTenant))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/integration", integrationMetricsHandler(metrics))
		r.Get("/tenants", listTenantsHandler())

		r.Group(func(r chi.Router) {
			r.Use(TenantMiddleware(opts.DefaultTenant, logger))
			r.Use(JWTAuthMiddleware(opts.JWTSecret, logger))

			// Accounts & contacts
			r.Get("/accounts", listHandler("accounts", crm.ListAccounts, logger))
			r.Get("/accounts/{id}", getAccountHandler(crm, logger))
			r.Get("/accounts/{id}/360", client360Handler(crm, logger))
			r.Get("/contacts", listHandler("contacts", crm.ListContacts, logger))

			// Products
			r.Get("/products", listHandler("products", crm.ListProducts, logger))
			r.Get("/products/{id}", getProductHandler(crm, logger))

			// Sales documents
			r.Get("/quotes", listHandler("quotes", crm.ListQuotes, logger))
			r.Get("/quotes/{id}", documentHandler("quote", crm.GetQuote, logger))
			r.Get("/orders", listHandler("orders", crm.ListOrders, logger))
			r.Get("/orders/{id}", documentHandler("order", crm.GetOrder, logger))
			r.Get("/invoices", listHandler("invoices", crm.ListInvoices, logger))
			r.Get("/invoices/stats", invoiceStatsHandler(crm, logger))
			r.Get("/invoices/{id}", documentHandler("invoice", crm.GetInvoice, logger))

			// Activities
			r.Get("/activities", listHandler("activities", crm.ListActivities, logger))
			r.Get("/activities/{id}", documentHandler("activity", crm.GetActivity, logger))

			// Aggregates
			r.Get("/my-day", myDayHandler(crm, logger))
			r.Get("/dashboard", dashboardHandler(crm, logger))
			r.Get("/aging", agingHandler(crm, logger))
			r.Get("/search", searchHandler(crm, logger))

			// Traceability & reference data
			r.Get("/traceability/search", traceabilityHandler(crm, logger))
			r.Get("/salespersons/{code}", salesPersonHandler(crm, logger))
		})
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

func healthzHandler(crm *service.CRM, tenant domain.Tenant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "crm-erp-bff", Status: "healthy", LastChecked: now},
		}

		if crm != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			status := "healthy"
			if err := crm.Ping(ctx, tenant); err != nil {
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{Name: "erp", Status: status, LastChecked: now})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = s.Status
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func integrationMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetIntegrationSnapshot())
	}
}

func listTenantsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": config.Tenants()})
	}
}
