package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// filterParams are the query parameters passed through as list filters.
var filterParams = []string{"status", "accountId", "from", "to", "country", "category", "active"}

// parseListParams reads top, skip, search, orderBy and the known filters.
func parseListParams(r *http.Request) (domain.ListParams, error) {
	q := r.URL.Query()
	p := domain.ListParams{
		Search:  q.Get("search"),
		OrderBy: q.Get("orderBy"),
	}

	var err error
	if p.Top, err = intParam(q.Get("top"), "top"); err != nil {
		return p, err
	}
	if p.Skip, err = intParam(q.Get("skip"), "skip"); err != nil {
		return p, err
	}

	for _, key := range filterParams {
		if v := q.Get(key); v != "" {
			if p.Filters == nil {
				p.Filters = make(map[string]string)
			}
			p.Filters[key] = v
		}
	}
	return p, nil
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ErrValidation{Field: field, Message: "must be an integer"}
	}
	return n, nil
}

// handleServiceError maps domain errors to HTTP responses. kind names the
// resource in not-found and upstream failure messages; ERP payloads are
// logged but never returned.
func handleServiceError(w http.ResponseWriter, err error, kind string, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var external *domain.ErrExternalService
	var remote *domain.ErrRemote
	var expired *domain.ErrAuthExpired

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, kind+" not found")
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "erp temporarily unavailable")
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "erp request timed out")
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &external), errors.As(err, &remote), errors.As(err, &expired):
		logger.Error("erp failure", zap.String("kind", kind), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not fetch "+kind)
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
