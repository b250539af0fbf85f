package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/mapper"
)

// maxStatsInvoices bounds the invoices aggregated by InvoiceStats and the
// dashboard revenue. It is sent as $top; page size drives the paging.
const maxStatsInvoices = 1000

var documentHeader = []string{
	"DocEntry", "DocNum", "CardCode", "CardName", "DocTotal", "DocDate",
	"DocDueDate", "DocumentStatus", "SalesPersonCode",
}

func documentFields(kind domain.DocumentKind, withLines bool) []string {
	out := append([]string(nil), documentHeader...)
	if kind == domain.KindInvoice {
		out = append(out, "PaidToDate")
	}
	if withLines {
		out = append(out, "DocumentLines")
	}
	return out
}

func documentList(kind domain.DocumentKind) listSpec {
	return listSpec{
		collection:   erp.CollectionFor(kind),
		fields:       documentFields(kind, false),
		searchField:  "CardName",
		ownerField:   "SalesPersonCode",
		defaultOrder: "DocDate desc",
		filters: map[string]filterFunc{
			"status":    documentStatus,
			"accountId": equals("CardCode", "accountId"),
			"from":      dateBound("DocDate", "from", erp.Ge),
			"to":        dateBound("DocDate", "to", erp.Le),
		},
	}
}

var (
	quoteList   = documentList(domain.KindQuote)
	orderList   = documentList(domain.KindOrder)
	invoiceList = documentList(domain.KindInvoice)
)

// ListQuotes returns one page of quotations.
func (c *CRM) ListQuotes(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[domain.Quote], error) {
	ctx, span := tracer.Start(ctx, "CRM.ListQuotes")
	defer span.End()
	defer c.observe("list_quotes", time.Now())

	owners := c.ownerMap(ctx, tenant)
	return listRecords(ctx, c, tenant, quoteList, p, owner, func(doc erp.Document) domain.Quote {
		return mapper.Quote(doc, owners, tenant.Currency)
	})
}

// ListOrders returns one page of sales orders.
func (c *CRM) ListOrders(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[domain.Order], error) {
	ctx, span := tracer.Start(ctx, "CRM.ListOrders")
	defer span.End()
	defer c.observe("list_orders", time.Now())

	owners := c.ownerMap(ctx, tenant)
	return listRecords(ctx, c, tenant, orderList, p, owner, func(doc erp.Document) domain.Order {
		return mapper.Order(doc, owners, tenant.Currency)
	})
}

// ListInvoices returns one page of A/R invoices.
func (c *CRM) ListInvoices(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[domain.Invoice], error) {
	ctx, span := tracer.Start(ctx, "CRM.ListInvoices")
	defer span.End()
	defer c.observe("list_invoices", time.Now())

	owners := c.ownerMap(ctx, tenant)
	now := c.now()
	return listRecords(ctx, c, tenant, invoiceList, p, owner, func(doc erp.Document) domain.Invoice {
		return mapper.Invoice(doc, owners, tenant.Currency, now)
	})
}

// GetQuote returns a quotation with its lines and the orders copied from it.
func (c *CRM) GetQuote(ctx context.Context, tenant domain.Tenant, docEntry int) (*domain.Quote, error) {
	ctx, span := tracer.Start(ctx, "CRM.GetQuote")
	defer span.End()
	defer c.observe("get_quote", time.Now())

	doc, err := c.getDocument(ctx, tenant, domain.KindQuote, docEntry)
	if err != nil {
		return nil, err
	}

	quote := mapper.Quote(doc, c.ownerMap(ctx, tenant), tenant.Currency)
	for _, order := range c.derived(ctx, tenant, domain.KindOrder, docEntry, erp.BaseTypeQuotation) {
		quote.LinkedOrders = append(quote.LinkedOrders, mapper.LinkedOrder(order))
	}
	return &quote, nil
}

// GetOrder returns a sales order with its lines, the key of the quote it
// was copied from and the invoices copied from it.
func (c *CRM) GetOrder(ctx context.Context, tenant domain.Tenant, docEntry int) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "CRM.GetOrder")
	defer span.End()
	defer c.observe("get_order", time.Now())

	doc, err := c.getDocument(ctx, tenant, domain.KindOrder, docEntry)
	if err != nil {
		return nil, err
	}

	order := mapper.Order(doc, c.ownerMap(ctx, tenant), tenant.Currency)
	if entry, baseType, ok := doc.BaseReference(); ok && baseType == erp.BaseTypeQuotation {
		order.LinkedQuote = &domain.LinkedDocument{DocEntry: entry}
	}
	now := c.now()
	for _, inv := range c.derived(ctx, tenant, domain.KindInvoice, docEntry, erp.BaseTypeOrder) {
		order.LinkedInvoices = append(order.LinkedInvoices, mapper.LinkedInvoice(inv, now))
	}
	return &order, nil
}

// GetInvoice returns an A/R invoice with its lines.
func (c *CRM) GetInvoice(ctx context.Context, tenant domain.Tenant, docEntry int) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "CRM.GetInvoice")
	defer span.End()
	defer c.observe("get_invoice", time.Now())

	doc, err := c.getDocument(ctx, tenant, domain.KindInvoice, docEntry)
	if err != nil {
		return nil, err
	}

	invoice := mapper.Invoice(doc, c.ownerMap(ctx, tenant), tenant.Currency, c.now())
	return &invoice, nil
}

func (c *CRM) getDocument(ctx context.Context, tenant domain.Tenant, kind domain.DocumentKind, docEntry int) (erp.Document, error) {
	if docEntry <= 0 {
		return erp.Document{}, &domain.ErrValidation{Field: "id", Message: "must be a positive integer"}
	}
	doc, err := erp.Get[erp.Document](ctx, c.client, tenant, erp.Query{
		Collection: erp.CollectionFor(kind),
		Key:        erp.IntKey(docEntry),
		Select:     documentFields(kind, true),
	})
	if err != nil {
		return erp.Document{}, notFound(err, string(kind), strconv.Itoa(docEntry))
	}
	return doc, nil
}

// derived lists documents of kind whose lines were copied from baseEntry.
// A failing lookup leaves the detail view without links.
func (c *CRM) derived(ctx context.Context, tenant domain.Tenant, kind domain.DocumentKind, baseEntry, baseType int) []erp.Document {
	page, err := erp.FetchPage[erp.Document](ctx, c.client, tenant, erp.Query{
		Collection: erp.CollectionFor(kind),
		Select:     documentFields(kind, false),
		Filter:     erp.AnyLine(baseEntry, baseType),
		Top:        maxLinked,
	})
	if err != nil {
		c.logger.Warn("crm: linked document lookup failed",
			zap.String("tenant", tenant.Code),
			zap.String("kind", string(kind)),
			zap.Int("base_entry", baseEntry),
			zap.Error(err),
		)
		return nil
	}
	return page.Items
}

// InvoiceStats sums this month's invoices by payment state. An invoice
// counts as paid when fully paid, overdue when past due, pending otherwise.
func (c *CRM) InvoiceStats(ctx context.Context, tenant domain.Tenant, owner *int) (*domain.InvoiceStats, error) {
	ctx, span := tracer.Start(ctx, "CRM.InvoiceStats")
	defer span.End()
	defer c.observe("invoice_stats", time.Now())

	now := c.now()
	filter := erp.Ge("DocDate", dateOnly(startOfMonth(now)))
	if owner != nil {
		filter = erp.And(filter, erp.Eq("SalesPersonCode", *owner))
	}

	invoices, err := erp.FetchAll[erp.Document](ctx, c.client, tenant, erp.Query{
		Collection: erp.Invoices,
		Select:     []string{"DocEntry", "DocTotal", "PaidToDate", "DocDueDate"},
		Filter:     filter,
		Top:        maxStatsInvoices,
	}, maxStatsInvoices)
	if err != nil {
		return nil, fmt.Errorf("invoice stats: %w", err)
	}

	stats := &domain.InvoiceStats{Count: len(invoices)}
	for _, inv := range invoices {
		total, paid := inv.DocTotal.Decimal(), inv.PaidToDate.Decimal()
		due := mapper.ParseDate(inv.DocDueDate)
		switch {
		case total.IsPositive() && paid.GreaterThanOrEqual(total):
			stats.Paid = stats.Paid.Add(total)
		case due != nil && due.Before(now):
			stats.Overdue = stats.Overdue.Add(total)
		default:
			stats.Pending = stats.Pending.Add(total)
		}
	}
	return stats, nil
}
