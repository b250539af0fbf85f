// Package lineage reconstructs the quote → order → invoice chain around a
// sales document by following the base references on document lines.
//
// Base references only ever point to an earlier document, so the walk is
// bounded: at most one step backward per level and one forward lookup per
// document. Only the first line's base reference is followed backward; a
// document whose lines were copied from several predecessors reports the
// first one.
package lineage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/mapper"
	"github.com/stia/crm-erp-bff/internal/port"
)

var tracer = otel.Tracer("lineage")

// maxForwardLinks caps each forward lookup; derived documents are few.
const maxForwardLinks = 10

var headerFields = []string{
	"DocEntry", "DocNum", "CardCode", "CardName", "DocTotal", "DocDate",
	"DocDueDate", "DocumentStatus", "SalesPersonCode",
}

// fields returns the projection for kind. Lines are needed wherever the
// document's own base reference is inspected.
func fields(kind domain.DocumentKind, withLines bool) []string {
	out := append([]string(nil), headerFields...)
	if kind == domain.KindInvoice {
		out = append(out, "PaidToDate")
	}
	if withLines {
		out = append(out, "DocumentLines")
	}
	return out
}

var lookupOrder = []domain.DocumentKind{domain.KindQuote, domain.KindOrder, domain.KindInvoice}

// Resolver implements port.LineageResolver against the ERP.
type Resolver struct {
	client *erp.Client
	owners port.OwnerDirectory
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a chain resolver.
func NewResolver(client *erp.Client, owners port.OwnerDirectory, logger *zap.Logger) *Resolver {
	return &Resolver{client: client, owners: owners, logger: logger, now: time.Now}
}

// Resolve locates document docNum (in the hinted collection, or probing
// quotes, orders and invoices in that order) and returns its chain.
// Links that can no longer be read are skipped; an unknown root is
// domain.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, tenant domain.Tenant, docNum int, hint domain.DocumentKind) (*domain.Lineage, error) {
	ctx, span := tracer.Start(ctx, "Lineage.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", tenant.Code),
		attribute.Int("doc.num", docNum),
		attribute.String("doc.hint", string(hint)),
	)

	if docNum <= 0 {
		return nil, &domain.ErrValidation{Field: "docNum", Message: "must be a positive integer"}
	}
	if hint != "" && !hint.Valid() {
		return nil, &domain.ErrValidation{Field: "type", Message: "must be quote, order or invoice"}
	}

	kind, root, err := r.locate(ctx, tenant, docNum, hint)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	w := &walk{
		r:      r,
		tenant: tenant,
		owners: mapper.Owners(r.owners.Directory(ctx, tenant)),
		now:    r.now(),
	}

	switch kind {
	case domain.KindQuote:
		w.add(domain.KindQuote, root)
		for _, order := range w.derived(ctx, domain.KindOrder, root, erp.BaseTypeQuotation) {
			w.add(domain.KindOrder, order)
			w.addInvoicesOf(ctx, order)
		}

	case domain.KindOrder:
		if quote, ok := w.predecessor(ctx, root, erp.BaseTypeQuotation, domain.KindQuote, false); ok {
			w.add(domain.KindQuote, quote)
		}
		w.add(domain.KindOrder, root)
		w.addInvoicesOf(ctx, root)

	case domain.KindInvoice:
		if order, ok := w.predecessor(ctx, root, erp.BaseTypeOrder, domain.KindOrder, true); ok {
			if quote, ok := w.predecessor(ctx, order, erp.BaseTypeQuotation, domain.KindQuote, false); ok {
				w.add(domain.KindQuote, quote)
			}
			w.add(domain.KindOrder, order)
		}
		w.add(domain.KindInvoice, root)
	}

	r.logger.Debug("lineage: chain resolved",
		zap.String("tenant", tenant.Code),
		zap.Int("doc_num", docNum),
		zap.String("kind", string(kind)),
		zap.Int("nodes", w.count()),
	)

	return &domain.Lineage{
		SearchedDocNum: docNum,
		SearchedKind:   kind,
		Client:         root.CardName,
		Chain:          w.chain(),
	}, nil
}

// locate finds the root document. DocNum series are independent per
// collection, so a failed lookup ends the search: trying the next collection
// could answer with an unrelated document carrying the same number.
func (r *Resolver) locate(ctx context.Context, tenant domain.Tenant, docNum int, hint domain.DocumentKind) (domain.DocumentKind, erp.Document, error) {
	kinds := lookupOrder
	if hint != "" {
		kinds = []domain.DocumentKind{hint}
	}

	for _, kind := range kinds {
		doc, found, err := erp.First[erp.Document](ctx, r.client, tenant, erp.Query{
			Collection: erp.CollectionFor(kind),
			Select:     fields(kind, true),
			Filter:     erp.Eq("DocNum", docNum),
		})
		if err != nil {
			r.logger.Warn("lineage: lookup failed",
				zap.String("tenant", tenant.Code),
				zap.String("kind", string(kind)),
				zap.Int("doc_num", docNum),
				zap.Error(err),
			)
			return "", erp.Document{}, fmt.Errorf("locate %s %d: %w", kind, docNum, err)
		}
		if found {
			return kind, doc, nil
		}
	}
	return "", erp.Document{}, &domain.ErrNotFound{Resource: "document", ID: strconv.Itoa(docNum)}
}

// walk accumulates chain nodes grouped by kind.
type walk struct {
	r      *Resolver
	tenant domain.Tenant
	owners mapper.Owners
	now    time.Time
	nodes  [3][]domain.ChainNode
}

func (w *walk) add(kind domain.DocumentKind, doc erp.Document) {
	w.nodes[kind.Rank()] = append(w.nodes[kind.Rank()], mapper.ChainNode(kind, doc, w.owners, w.now))
}

func (w *walk) count() int {
	return len(w.nodes[0]) + len(w.nodes[1]) + len(w.nodes[2])
}

// chain flattens the nodes in document-flow order, each group in the order
// it was discovered.
func (w *walk) chain() []domain.ChainNode {
	out := make([]domain.ChainNode, 0, w.count())
	for _, group := range w.nodes {
		out = append(out, group...)
	}
	return out
}

func (w *walk) addInvoicesOf(ctx context.Context, order erp.Document) {
	for _, inv := range w.derived(ctx, domain.KindInvoice, order, erp.BaseTypeOrder) {
		w.add(domain.KindInvoice, inv)
	}
}

// derived returns documents of kind whose lines were copied from base.
func (w *walk) derived(ctx context.Context, kind domain.DocumentKind, base erp.Document, baseType int) []erp.Document {
	page, err := erp.FetchPage[erp.Document](ctx, w.r.client, w.tenant, erp.Query{
		Collection: erp.CollectionFor(kind),
		Select:     fields(kind, false),
		Filter:     erp.AnyLine(base.DocEntry.Int(), baseType),
		Top:        maxForwardLinks,
	})
	if err != nil {
		w.r.logger.Debug("lineage: forward link skipped",
			zap.String("tenant", w.tenant.Code),
			zap.String("kind", string(kind)),
			zap.Int("base_entry", base.DocEntry.Int()),
			zap.Error(err),
		)
		return nil
	}
	return page.Items
}

// predecessor follows doc's first-line base reference when it has the
// expected base type.
func (w *walk) predecessor(ctx context.Context, doc erp.Document, baseType int, kind domain.DocumentKind, withLines bool) (erp.Document, bool) {
	entry, gotType, ok := doc.BaseReference()
	if !ok || gotType != baseType {
		return erp.Document{}, false
	}
	pred, err := erp.Get[erp.Document](ctx, w.r.client, w.tenant, erp.Query{
		Collection: erp.CollectionFor(kind),
		Key:        erp.IntKey(entry),
		Select:     fields(kind, withLines),
	})
	if err != nil {
		w.r.logger.Debug("lineage: backward link skipped",
			zap.String("tenant", w.tenant.Code),
			zap.String("kind", string(kind)),
			zap.Int("doc_entry", entry),
			zap.Error(err),
		)
		return erp.Document{}, false
	}
	return pred, true
}
