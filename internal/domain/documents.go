package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Sales documents (quotes, orders, invoices)
// ============================================================

// DocumentKind tags the collection a sales document belongs to.
type DocumentKind string

const (
	KindQuote   DocumentKind = "quote"
	KindOrder   DocumentKind = "order"
	KindInvoice DocumentKind = "invoice"
)

// Valid reports whether k is one of the three document kinds.
func (k DocumentKind) Valid() bool {
	switch k {
	case KindQuote, KindOrder, KindInvoice:
		return true
	}
	return false
}

// Rank orders kinds in document-flow order.
func (k DocumentKind) Rank() int {
	switch k {
	case KindQuote:
		return 0
	case KindOrder:
		return 1
	case KindInvoice:
		return 2
	}
	return 3
}

// Quote statuses.
const (
	QuoteAccepted = "ACCEPTED"
	QuoteSent     = "SENT"
	QuoteDraft    = "DRAFT"
)

// Order statuses.
const (
	OrderDelivered  = "DELIVERED"
	OrderProcessing = "PROCESSING"
)

// Invoice statuses.
const (
	InvoicePaid    = "PAID"
	InvoicePartial = "PARTIAL"
	InvoiceOverdue = "OVERDUE"
	InvoiceUnpaid  = "UNPAID"
)

// LineItem is one line of a sales document.
type LineItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Discount    decimal.Decimal `json:"discount"`
}

// LinkedDocument is a lightweight reference to a related document.
type LinkedDocument struct {
	DocEntry int              `json:"docEntry"`
	DocNum   int              `json:"docNum,omitempty"`
	Total    decimal.Decimal  `json:"total"`
	Paid     *decimal.Decimal `json:"paid,omitempty"`
	Date     *time.Time       `json:"date,omitempty"`
	Status   string           `json:"status,omitempty"`
}

// Quote is a sales quotation.
type Quote struct {
	ID             string           `json:"id"`
	DocEntry       int              `json:"sapDocEntry"`
	DocNum         int              `json:"sapDocNum"`
	QuoteNumber    string           `json:"quoteNumber"`
	Name           string           `json:"name"`
	TotalAmount    decimal.Decimal  `json:"totalAmount"`
	Currency       string           `json:"currency"`
	Status         string           `json:"status"`
	IssueDate      *time.Time       `json:"issueDate"`
	ExpirationDate *time.Time       `json:"expirationDate"`
	Account        AccountRef       `json:"account"`
	Owner          Owner            `json:"owner"`
	Items          []LineItem       `json:"items,omitempty"`
	LinkedOrders   []LinkedDocument `json:"linkedOrders,omitempty"`
}

// Order is a sales order.
type Order struct {
	ID             string           `json:"id"`
	DocEntry       int              `json:"sapDocEntry"`
	DocNum         int              `json:"sapDocNum"`
	OrderNumber    string           `json:"orderNumber"`
	TotalAmount    decimal.Decimal  `json:"totalAmount"`
	Currency       string           `json:"currency"`
	Status         string           `json:"status"`
	IssueDate      *time.Time       `json:"issueDate"`
	DueDate        *time.Time       `json:"dueDate"`
	Account        AccountRef       `json:"account"`
	Owner          Owner            `json:"owner"`
	Items          []LineItem       `json:"items,omitempty"`
	LinkedQuote    *LinkedDocument  `json:"linkedQuote,omitempty"`
	LinkedInvoices []LinkedDocument `json:"linkedInvoices,omitempty"`
}

// Invoice is an A/R invoice.
type Invoice struct {
	ID            string          `json:"id"`
	DocEntry      int             `json:"sapDocEntry"`
	DocNum        int             `json:"sapDocNum"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	IssueDate     *time.Time      `json:"issueDate"`
	DueDate       *time.Time      `json:"dueDate"`
	Account       AccountRef      `json:"account"`
	Owner         Owner           `json:"owner"`
	Items         []LineItem      `json:"items,omitempty"`
}

// InvoiceStats aggregates invoice amounts by payment state.
type InvoiceStats struct {
	Paid    decimal.Decimal `json:"paid"`
	Pending decimal.Decimal `json:"pending"`
	Overdue decimal.Decimal `json:"overdue"`
	Count   int             `json:"count"`
}

// ============================================================
// Lineage (traceability)
// ============================================================

// ChainNode is one document in a lineage chain.
type ChainNode struct {
	Kind        DocumentKind     `json:"type"`
	DocEntry    int              `json:"docEntry"`
	DocNum      int              `json:"docNum"`
	CardCode    string           `json:"cardCode"`
	CardName    string           `json:"cardName"`
	Total       decimal.Decimal  `json:"total"`
	PaidAmount  *decimal.Decimal `json:"paidAmount,omitempty"`
	Date        *time.Time       `json:"date"`
	DueDate     *time.Time       `json:"dueDate"`
	Status      string           `json:"status"`
	SalesPerson string           `json:"salesPerson"`
}

// Lineage is the quote -> order -> invoice chain around a searched document.
type Lineage struct {
	SearchedDocNum int          `json:"searchedDocNum"`
	SearchedKind   DocumentKind `json:"searchedType"`
	Client         string       `json:"client"`
	Chain          []ChainNode  `json:"chain"`
}
