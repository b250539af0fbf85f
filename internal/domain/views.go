package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client360 aggregates everything known about one account.
// Degraded lists the sections that could not be fetched and were left empty.
type Client360 struct {
	Account    *Account   `json:"account"`
	Quotes     []Quote    `json:"quotes"`
	Orders     []Order    `json:"orders"`
	Invoices   []Invoice  `json:"invoices"`
	Activities []Activity `json:"activities"`
	Degraded   []string   `json:"degraded,omitempty"`
}

// DueDocument is a document surfaced on the daily agenda.
type DueDocument struct {
	Kind     DocumentKind    `json:"type"`
	DocEntry int             `json:"docEntry"`
	DocNum   int             `json:"docNum"`
	Client   string          `json:"client"`
	Amount   decimal.Decimal `json:"amount"`
	DueDate  *time.Time      `json:"dueDate"`
	Days     int             `json:"days"` // overdue days for invoices, days left for quotes
}

// MyDay is the daily agenda for a salesperson.
type MyDay struct {
	OverdueInvoices []DueDocument `json:"overdueInvoices"`
	ExpiringQuotes  []DueDocument `json:"expiringQuotes"`
	TodayActivities []Activity    `json:"todayActivities"`
	Degraded        []string      `json:"degraded,omitempty"`
}

// DocumentTotals counts documents and sums their totals.
type DocumentTotals struct {
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

// SellerStat is one salesperson's invoiced revenue for the month.
type SellerStat struct {
	Code    int             `json:"code"`
	Name    string          `json:"name"`
	Deals   int             `json:"deals"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Dashboard summarises the current month for a salesperson or the whole tenant.
type Dashboard struct {
	Currency       string          `json:"currency"`
	RevenueMTD     decimal.Decimal `json:"revenueMtd"`
	InvoicesMTD    int             `json:"invoicesMtd"`
	OpenQuotes     DocumentTotals  `json:"openQuotes"`
	OpenOrders     DocumentTotals  `json:"openOrders"`
	OpenActivities int             `json:"openActivities"`
	TopSellers     []SellerStat    `json:"topSellers"`
	Degraded       []string        `json:"degraded,omitempty"`
}

// AgingBucket counts the open invoices of one overdue range and sums
// their balances.
type AgingBucket struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// AgingSummary totals the open receivables by days overdue.
type AgingSummary struct {
	TotalOpen decimal.Decimal `json:"totalOpen"`
	Current   AgingBucket     `json:"current"`
	Days30    AgingBucket     `json:"days30"`
	Days60    AgingBucket     `json:"days60"`
	Days90    AgingBucket     `json:"days90"`
	Over90    AgingBucket     `json:"over90"`
}

// AgingEntry is one open invoice with an outstanding balance.
type AgingEntry struct {
	DocEntry    int             `json:"docEntry"`
	DocNum      int             `json:"docNum"`
	Client      string          `json:"client"`
	CardCode    string          `json:"cardCode"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Balance     decimal.Decimal `json:"balance"`
	DueDate     *time.Time      `json:"dueDate"`
	DaysOverdue int             `json:"daysOverdue"`
	Bucket      string          `json:"bucket"`
	Seller      string          `json:"seller"`
}

// Aging is the receivables aging report. Details are ordered from the
// oldest bucket to current.
type Aging struct {
	Currency string       `json:"currency"`
	Summary  AgingSummary `json:"summary"`
	Details  []AgingEntry `json:"details"`
}

// SearchResults groups the matches of a cross-entity search.
type SearchResults struct {
	Query    string    `json:"query"`
	Accounts []Account `json:"accounts"`
	Contacts []Contact `json:"contacts"`
	Quotes   []Quote   `json:"quotes"`
	Orders   []Order   `json:"orders"`
	Invoices []Invoice `json:"invoices"`
	Degraded []string  `json:"degraded,omitempty"`
}
