package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/service"
)

// ============================================================
// Lists
// ============================================================

type listFunc[T any] func(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[T], error)

func listHandler[T any](kind string, list listFunc[T], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/"+kind)
		defer span.End()

		params, err := parseListParams(r)
		if err != nil {
			handleServiceError(w, err, kind, logger)
			return
		}
		res, err := list(ctx, TenantFromContext(ctx), params, OwnerFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, kind, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Details
// ============================================================

func getAccountHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{id}")
		defer span.End()

		acc, err := crm.GetAccount(ctx, TenantFromContext(ctx), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, "account", logger)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

func getProductHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/products/{id}")
		defer span.End()

		product, err := crm.GetProduct(ctx, TenantFromContext(ctx), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, "product", logger)
			return
		}
		writeJSON(w, http.StatusOK, product)
	}
}

// documentHandler serves a record addressed by a numeric key.
func documentHandler[T any](kind string, get func(ctx context.Context, tenant domain.Tenant, id int) (*T, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/"+kind+"/{id}")
		defer span.End()

		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "id must be a positive integer")
			return
		}
		doc, err := get(ctx, TenantFromContext(ctx), id)
		if err != nil {
			handleServiceError(w, err, kind, logger)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// ============================================================
// Aggregates
// ============================================================

func client360Handler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{id}/360")
		defer span.End()

		view, err := crm.Client360(ctx, TenantFromContext(ctx), chi.URLParam(r, "id"), OwnerFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, "account", logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func invoiceStatsHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/invoices/stats")
		defer span.End()

		stats, err := crm.InvoiceStats(ctx, TenantFromContext(ctx), OwnerFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, "invoices", logger)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func myDayHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/my-day")
		defer span.End()

		day, err := crm.MyDay(ctx, TenantFromContext(ctx), OwnerFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, "agenda", logger)
			return
		}
		writeJSON(w, http.StatusOK, day)
	}
}

func dashboardHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		d, err := crm.Dashboard(ctx, TenantFromContext(ctx), OwnerFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, "dashboard", logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func agingHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/aging")
		defer span.End()

		aging, err := crm.Aging(ctx, TenantFromContext(ctx), OwnerFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, "aging", logger)
			return
		}
		writeJSON(w, http.StatusOK, aging)
	}
}

func searchHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/search")
		defer span.End()

		q := r.URL.Query()
		limit := 0
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		res, err := crm.Search(ctx, TenantFromContext(ctx), q.Get("q"), limit, OwnerFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, "search", logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Traceability & reference data
// ============================================================

func traceabilityHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/traceability/search")
		defer span.End()

		q := r.URL.Query()
		docNum, err := strconv.Atoi(strings.TrimSpace(q.Get("docNum")))
		if err != nil {
			writeError(w, http.StatusBadRequest, "docNum must be a positive integer")
			return
		}
		hint := domain.DocumentKind(strings.ToLower(strings.TrimSpace(q.Get("type"))))

		lineage, err := crm.ResolveLineage(ctx, TenantFromContext(ctx), docNum, hint)
		if err != nil {
			handleServiceError(w, err, "document", logger)
			return
		}
		writeJSON(w, http.StatusOK, lineage)
	}
}

func salesPersonHandler(crm *service.CRM, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/salespersons/{code}")
		defer span.End()

		code, err := strconv.Atoi(chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "code must be an integer")
			return
		}
		name := crm.ResolveOwnerName(ctx, TenantFromContext(ctx), code)
		if name == "" {
			logger.Debug("salesperson not found", zap.Int("code", code))
			writeError(w, http.StatusNotFound, "salesperson not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": code, "name": name})
	}
}
