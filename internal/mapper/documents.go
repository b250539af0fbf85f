package mapper

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
)

const (
	docClosed = "bost_Close"
	docOpen   = "bost_Open"
)

// QuoteStatus derives a quote status from the ERP document status.
func QuoteStatus(documentStatus string) string {
	switch documentStatus {
	case docClosed:
		return domain.QuoteAccepted
	case docOpen:
		return domain.QuoteSent
	}
	return domain.QuoteDraft
}

// OrderStatus derives an order status from the ERP document status.
func OrderStatus(documentStatus string) string {
	if documentStatus == docClosed {
		return domain.OrderDelivered
	}
	return domain.OrderProcessing
}

// InvoiceStatus classifies an invoice. Exactly one status applies:
// PAID when fully paid and non-zero, PARTIAL when something was paid,
// OVERDUE when the due date has passed, UNPAID otherwise. A missing due
// date never counts as overdue.
func InvoiceStatus(total, paid decimal.Decimal, due *time.Time, now time.Time) string {
	switch {
	case total.IsPositive() && paid.GreaterThanOrEqual(total):
		return domain.InvoicePaid
	case paid.IsPositive():
		return domain.InvoicePartial
	case due != nil && due.Before(now):
		return domain.InvoiceOverdue
	}
	return domain.InvoiceUnpaid
}

// Quote maps a quotation header. Lines are mapped only when present.
func Quote(doc erp.Document, owners Owners, currency string) domain.Quote {
	number := "QT-" + strconv.Itoa(doc.DocNum.Int())
	return domain.Quote{
		ID:             strconv.Itoa(doc.DocEntry.Int()),
		DocEntry:       doc.DocEntry.Int(),
		DocNum:         doc.DocNum.Int(),
		QuoteNumber:    number,
		Name:           orCode(doc.CardName, doc.CardCode) + " - " + number,
		TotalAmount:    doc.DocTotal.Decimal(),
		Currency:       currency,
		Status:         QuoteStatus(doc.DocumentStatus),
		IssueDate:      ParseDate(doc.DocDate),
		ExpirationDate: ParseDate(doc.DocDueDate),
		Account:        accountRef(doc),
		Owner:          owners.Owner(doc.SalesPersonCode),
		Items:          LineItems(doc.DocumentLines),
	}
}

// Order maps a sales order header and lines.
func Order(doc erp.Document, owners Owners, currency string) domain.Order {
	return domain.Order{
		ID:          strconv.Itoa(doc.DocEntry.Int()),
		DocEntry:    doc.DocEntry.Int(),
		DocNum:      doc.DocNum.Int(),
		OrderNumber: "ORD-" + strconv.Itoa(doc.DocNum.Int()),
		TotalAmount: doc.DocTotal.Decimal(),
		Currency:    currency,
		Status:      OrderStatus(doc.DocumentStatus),
		IssueDate:   ParseDate(doc.DocDate),
		DueDate:     ParseDate(doc.DocDueDate),
		Account:     accountRef(doc),
		Owner:       owners.Owner(doc.SalesPersonCode),
		Items:       LineItems(doc.DocumentLines),
	}
}

// Invoice maps an A/R invoice header and lines; now decides overdueness.
func Invoice(doc erp.Document, owners Owners, currency string, now time.Time) domain.Invoice {
	due := ParseDate(doc.DocDueDate)
	return domain.Invoice{
		ID:            strconv.Itoa(doc.DocEntry.Int()),
		DocEntry:      doc.DocEntry.Int(),
		DocNum:        doc.DocNum.Int(),
		InvoiceNumber: "INV-" + strconv.Itoa(doc.DocNum.Int()),
		Amount:        doc.DocTotal.Decimal(),
		PaidAmount:    doc.PaidToDate.Decimal(),
		Currency:      currency,
		Status:        InvoiceStatus(doc.DocTotal.Decimal(), doc.PaidToDate.Decimal(), due, now),
		IssueDate:     ParseDate(doc.DocDate),
		DueDate:       due,
		Account:       accountRef(doc),
		Owner:         owners.Owner(doc.SalesPersonCode),
		Items:         LineItems(doc.DocumentLines),
	}
}

// LineItems maps document lines. Quantity defaults to 1 and the unit
// price falls back to the line price.
func LineItems(lines []erp.DocumentLine) []domain.LineItem {
	if len(lines) == 0 {
		return nil
	}
	out := make([]domain.LineItem, 0, len(lines))
	for _, l := range lines {
		qty := l.Quantity.Decimal()
		if !qty.IsPositive() {
			qty = decimal.NewFromInt(1)
		}
		unit := l.UnitPrice.Decimal()
		if unit.IsZero() {
			unit = l.Price.Decimal()
		}
		out = append(out, domain.LineItem{
			ID:          strconv.Itoa(l.LineNum.Int()),
			ProductID:   l.ItemCode,
			ProductName: orCode(l.ItemDescription, l.ItemCode),
			Quantity:    qty,
			UnitPrice:   unit,
			TotalPrice:  l.LineTotal.Decimal(),
			Discount:    l.DiscountPercent.Decimal(),
		})
	}
	return out
}

// LinkedOrder summarises an order derived from a quote.
func LinkedOrder(doc erp.Document) domain.LinkedDocument {
	return domain.LinkedDocument{
		DocEntry: doc.DocEntry.Int(),
		DocNum:   doc.DocNum.Int(),
		Total:    doc.DocTotal.Decimal(),
		Date:     ParseDate(doc.DocDate),
		Status:   OrderStatus(doc.DocumentStatus),
	}
}

// LinkedInvoice summarises an invoice derived from an order.
func LinkedInvoice(doc erp.Document, now time.Time) domain.LinkedDocument {
	paid := doc.PaidToDate.Decimal()
	return domain.LinkedDocument{
		DocEntry: doc.DocEntry.Int(),
		DocNum:   doc.DocNum.Int(),
		Total:    doc.DocTotal.Decimal(),
		Paid:     &paid,
		Date:     ParseDate(doc.DocDate),
		Status:   InvoiceStatus(doc.DocTotal.Decimal(), paid, ParseDate(doc.DocDueDate), now),
	}
}

// ChainNode maps a document of the given kind into a lineage node.
func ChainNode(kind domain.DocumentKind, doc erp.Document, owners Owners, now time.Time) domain.ChainNode {
	node := domain.ChainNode{
		Kind:        kind,
		DocEntry:    doc.DocEntry.Int(),
		DocNum:      doc.DocNum.Int(),
		CardCode:    doc.CardCode,
		CardName:    orCode(doc.CardName, doc.CardCode),
		Total:       doc.DocTotal.Decimal(),
		Date:        ParseDate(doc.DocDate),
		DueDate:     ParseDate(doc.DocDueDate),
		SalesPerson: owners.Name(doc.SalesPersonCode),
	}
	switch kind {
	case domain.KindQuote:
		node.Status = QuoteStatus(doc.DocumentStatus)
	case domain.KindOrder:
		node.Status = OrderStatus(doc.DocumentStatus)
	case domain.KindInvoice:
		paid := doc.PaidToDate.Decimal()
		node.PaidAmount = &paid
		node.Status = InvoiceStatus(node.Total, paid, node.DueDate, now)
	}
	return node
}

func accountRef(doc erp.Document) domain.AccountRef {
	return domain.AccountRef{ID: doc.CardCode, Name: orCode(doc.CardName, doc.CardCode)}
}
