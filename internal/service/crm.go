package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/mapper"
	"github.com/stia/crm-erp-bff/internal/port"
)

var tracer = otel.Tracer("service/crm")

const (
	defaultTop = 50
	maxTop     = 500

	// maxContactPartners bounds the partners scanned when listing contacts.
	maxContactPartners = 500
	// maxPartnerLookups bounds the partners resolved per activity page.
	maxPartnerLookups = 50
	// maxLinked bounds forward lookups on document detail views.
	maxLinked = 10
)

// CRM exposes ERP data as CRM-shaped entities. Every operation takes the
// tenant explicitly; owner, when set, restricts results to one salesperson.
type CRM struct {
	client  *erp.Client
	owners  port.OwnerDirectory
	lineage port.LineageResolver
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewCRM creates the CRM facade with all dependencies injected.
func NewCRM(
	client *erp.Client,
	owners port.OwnerDirectory,
	lineage port.LineageResolver,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *CRM {
	return &CRM{
		client:  client,
		owners:  owners,
		lineage: lineage,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *CRM) WithClock(now func() time.Time) *CRM {
	c.now = now
	return c
}

// ResolveOwnerName returns the name of salesperson code, "" when unknown.
func (c *CRM) ResolveOwnerName(ctx context.Context, tenant domain.Tenant, code int) string {
	return c.owners.ResolveOwnerName(ctx, tenant, code)
}

// ResolveLineage returns the quote → order → invoice chain around docNum.
func (c *CRM) ResolveLineage(ctx context.Context, tenant domain.Tenant, docNum int, hint domain.DocumentKind) (*domain.Lineage, error) {
	ctx, span := tracer.Start(ctx, "CRM.ResolveLineage")
	defer span.End()
	defer c.observe("resolve_lineage", time.Now())

	return c.lineage.Resolve(ctx, tenant, docNum, hint)
}

func (c *CRM) ownerMap(ctx context.Context, tenant domain.Tenant) mapper.Owners {
	return mapper.Owners(c.owners.Directory(ctx, tenant))
}

func (c *CRM) observe(operation string, start time.Time) {
	c.metrics.RecordRequestDuration(operation, time.Since(start))
}

// ============================================================
// List query construction
// ============================================================

// filterFunc turns a client filter value into an OData expression.
type filterFunc func(value string) (string, error)

// listSpec describes how a CRM list maps onto one ERP collection.
type listSpec struct {
	collection   string
	fields       []string
	base         string
	searchField  string
	ownerField   string
	defaultOrder string
	filters      map[string]filterFunc
}

// query validates p and builds the ERP query for it.
func (s listSpec) query(p domain.ListParams, owner *int) (erp.Query, error) {
	if p.Top < 0 {
		return erp.Query{}, &domain.ErrValidation{Field: "top", Message: "must not be negative"}
	}
	if p.Skip < 0 {
		return erp.Query{}, &domain.ErrValidation{Field: "skip", Message: "must not be negative"}
	}
	top := p.Top
	if top == 0 {
		top = defaultTop
	}
	if top > maxTop {
		top = maxTop
	}

	filter, err := s.filter(p, owner)
	if err != nil {
		return erp.Query{}, err
	}

	orderBy := s.defaultOrder
	if p.OrderBy != "" {
		if orderBy, err = erp.OrderBy(s.collection, p.OrderBy); err != nil {
			return erp.Query{}, err
		}
	}

	return erp.Query{
		Collection:  s.collection,
		Select:      s.fields,
		Filter:      filter,
		OrderBy:     orderBy,
		Top:         top,
		Skip:        p.Skip,
		InlineCount: true,
	}, nil
}

// filter combines the fixed, search, client and owner conditions.
func (s listSpec) filter(p domain.ListParams, owner *int) (string, error) {
	parts := []string{s.base}

	search, err := erp.ValidateSearch(p.Search)
	if err != nil {
		return "", err
	}
	if search != "" && s.searchField != "" {
		parts = append(parts, erp.Contains(s.searchField, search))
	}

	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn, ok := s.filters[k]
		if !ok {
			return "", &domain.ErrValidation{Field: k, Message: "unsupported filter"}
		}
		expr, err := fn(strings.TrimSpace(p.Filters[k]))
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}

	if owner != nil && s.ownerField != "" {
		parts = append(parts, erp.Eq(s.ownerField, *owner))
	}
	return erp.And(parts...), nil
}

func equals(field, name string) filterFunc {
	return func(v string) (string, error) {
		if err := checkText(name, v); err != nil {
			return "", err
		}
		return erp.Eq(field, v), nil
	}
}

func dateBound(field, name string, op func(field, value string) string) filterFunc {
	return func(v string) (string, error) {
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return "", &domain.ErrValidation{Field: name, Message: "must be a date (YYYY-MM-DD)"}
		}
		return op(field, v), nil
	}
}

func documentStatus(v string) (string, error) {
	switch strings.ToLower(v) {
	case "open":
		return erp.Eq("DocumentStatus", "bost_Open"), nil
	case "closed":
		return erp.Eq("DocumentStatus", "bost_Close"), nil
	}
	return "", &domain.ErrValidation{Field: "status", Message: "must be open or closed"}
}

func integer(field, name string) filterFunc {
	return func(v string) (string, error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", &domain.ErrValidation{Field: name, Message: "must be an integer"}
		}
		return erp.Eq(field, n), nil
	}
}

func yesNo(field, name string, invert bool) filterFunc {
	return func(v string) (string, error) {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", &domain.ErrValidation{Field: name, Message: "must be true or false"}
		}
		if invert {
			b = !b
		}
		if b {
			return erp.Eq(field, "tYES"), nil
		}
		return erp.Eq(field, "tNO"), nil
	}
}

// checkText rejects empty keys and control characters in identifiers.
func checkText(field, v string) error {
	if v == "" {
		return &domain.ErrValidation{Field: field, Message: "must not be empty"}
	}
	if len(v) > erp.MaxSearchLength {
		return &domain.ErrValidation{Field: field, Message: "too long"}
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return &domain.ErrValidation{Field: field, Message: "contains control characters"}
		}
	}
	return nil
}

// notFound rewrites an ERP not-found into one naming the CRM resource.
func notFound(err error, resource, id string) error {
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return fmt.Errorf("get %s %s: %w", resource, id, err)
}

// listRecords runs one paged query and maps every record with fn.
func listRecords[R, T any](ctx context.Context, c *CRM, tenant domain.Tenant, spec listSpec, p domain.ListParams, owner *int, fn func(R) T) (domain.ListResult[T], error) {
	q, err := spec.query(p, owner)
	if err != nil {
		return domain.ListResult[T]{}, err
	}

	page, err := erp.FetchPage[R](ctx, c.client, tenant, q)
	if err != nil {
		return domain.ListResult[T]{}, fmt.Errorf("list %s: %w", spec.collection, err)
	}

	out := domain.ListResult[T]{Data: make([]T, 0, len(page.Items)), Total: page.Total}
	for _, rec := range page.Items {
		out.Data = append(out.Data, fn(rec))
	}
	return out, nil
}

// pageOf slices an in-memory result the way $skip and $top would.
func pageOf[T any](all []T, skip, top int) []T {
	if skip >= len(all) {
		return []T{}
	}
	end := skip + top
	if end > len(all) {
		end = len(all)
	}
	return all[skip:end]
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func dateOnly(t time.Time) string {
	return t.Format("2006-01-02")
}

// Ping checks that the ERP answers for tenant.
func (c *CRM) Ping(ctx context.Context, tenant domain.Tenant) error {
	_, _, err := erp.First[erp.SalesPerson](ctx, c.client, tenant, erp.Query{
		Collection: erp.SalesPersons,
		Select:     []string{"SalesEmployeeCode"},
	})
	return err
}
