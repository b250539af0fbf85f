// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/stia/crm-erp-bff/internal/domain"
)

// SessionStore hands out ERP session tokens per tenant.
type SessionStore interface {
	// Get returns a usable token, logging in when none is held or the held
	// one went stale.
	Get(ctx context.Context, tenant domain.Tenant) (string, error)
	// Refresh replaces a token the ERP rejected. When another caller has
	// already replaced stale, the newer token is returned without a login.
	Refresh(ctx context.Context, tenant domain.Tenant, stale string) (string, error)
}

// OwnerDirectory resolves ERP salesperson codes to display names.
type OwnerDirectory interface {
	ResolveOwnerName(ctx context.Context, tenant domain.Tenant, code int) string
	Directory(ctx context.Context, tenant domain.Tenant) map[int]string
}

// LineageResolver reconstructs the quote → order → invoice chain of a document.
type LineageResolver interface {
	Resolve(ctx context.Context, tenant domain.Tenant, docNum int, hint domain.DocumentKind) (*domain.Lineage, error)
}
