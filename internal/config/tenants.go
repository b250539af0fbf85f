package config

import (
	"sort"
	"strings"

	"github.com/stia/crm-erp-bff/internal/domain"
)

// DefaultTenantCode is used when a request names no company.
const DefaultTenantCode = "CR"

var tenants = map[string]domain.Tenant{
	"GT": {Code: "GT", Name: "Guatemala", DBName: "SBO_GT_STIA_PROD", Currency: "GTQ"},
	"SV": {Code: "SV", Name: "El Salvador", DBName: "SBO_SV_STIA_FINAL", Currency: "USD"},
	"HN": {Code: "HN", Name: "Honduras", DBName: "SBO_HO_STIA_PROD", Currency: "HNL"},
	"CR": {Code: "CR", Name: "Costa Rica", DBName: "SBO_STIACR_PROD", Currency: "CRC"},
	"PA": {Code: "PA", Name: "Panamá", DBName: "SBO_PA_STIA_PROD", Currency: "USD"},
}

// LookupTenant returns the tenant for a company code (case-insensitive).
func LookupTenant(code string) (domain.Tenant, bool) {
	t, ok := tenants[strings.ToUpper(strings.TrimSpace(code))]
	return t, ok
}

// Tenants returns every configured tenant ordered by code.
func Tenants() []domain.Tenant {
	out := make([]domain.Tenant, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
