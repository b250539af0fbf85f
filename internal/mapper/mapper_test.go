package mapper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
)

var owners = Owners{7: "Ana María Mora", 9: "Luis"}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func date(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func TestInvoiceStatus(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	d := decimal.NewFromInt

	tests := []struct {
		name        string
		total, paid decimal.Decimal
		due         *time.Time
		want        string
	}{
		{"fully paid", d(100), d(100), date("2026-01-01"), domain.InvoicePaid},
		{"overpaid", d(100), d(120), nil, domain.InvoicePaid},
		{"partial beats overdue", d(100), d(40), date("2026-01-01"), domain.InvoicePartial},
		{"overdue", d(100), d(0), date("2026-03-14"), domain.InvoiceOverdue},
		{"due today later", d(100), d(0), date("2026-03-16"), domain.InvoiceUnpaid},
		{"no due date", d(100), d(0), nil, domain.InvoiceUnpaid},
		{"zero total never paid", d(0), d(0), nil, domain.InvoiceUnpaid},
		{"zero total with payment", d(0), d(5), nil, domain.InvoicePartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InvoiceStatus(tt.total, tt.paid, tt.due, now))
		})
	}
}

func TestDocumentStatuses(t *testing.T) {
	assert.Equal(t, domain.QuoteAccepted, QuoteStatus("bost_Close"))
	assert.Equal(t, domain.QuoteSent, QuoteStatus("bost_Open"))
	assert.Equal(t, domain.QuoteDraft, QuoteStatus(""))
	assert.Equal(t, domain.OrderDelivered, OrderStatus("bost_Close"))
	assert.Equal(t, domain.OrderProcessing, OrderStatus("bost_Open"))
}

func TestOwners(t *testing.T) {
	o := owners.Owner(erp.NewNumber(7))
	assert.Equal(t, domain.Owner{ID: "7", FirstName: "Ana", LastName: "María Mora"}, o)

	o = owners.Owner(erp.NewNumber(9))
	assert.Equal(t, "Luis", o.FirstName)
	assert.Empty(t, o.LastName)

	assert.True(t, owners.Owner(erp.NewNumber(404)).Unassigned())
	assert.Equal(t, domain.UnassignedOwnerID, owners.Owner(erp.Number{}).ID)
}

func TestQuote(t *testing.T) {
	doc := decode[erp.Document](t, `{
		"DocEntry": 880, "DocNum": "1880", "CardCode": "C001", "CardName": "Acme SA",
		"DocTotal": 1500.5, "DocDate": "2026-02-01", "DocDueDate": "2026-03-01T00:00:00Z",
		"DocumentStatus": "bost_Open", "SalesPersonCode": 7,
		"DocumentLines": [{"LineNum": 0, "ItemCode": "A1", "Quantity": 0, "UnitPrice": 0, "Price": 12.5, "LineTotal": 12.5}]
	}`)

	q := Quote(doc, owners, "CRC")
	assert.Equal(t, "880", q.ID)
	assert.Equal(t, 1880, q.DocNum)
	assert.Equal(t, "QT-1880", q.QuoteNumber)
	assert.Equal(t, "Acme SA - QT-1880", q.Name)
	assert.Equal(t, "CRC", q.Currency)
	assert.Equal(t, domain.QuoteSent, q.Status)
	assert.True(t, decimal.RequireFromString("1500.5").Equal(q.TotalAmount))
	require.NotNil(t, q.ExpirationDate)
	assert.Equal(t, time.March, q.ExpirationDate.Month())
	assert.Equal(t, "Ana", q.Owner.FirstName)

	require.Len(t, q.Items, 1)
	assert.True(t, q.Items[0].Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, q.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "A1", q.Items[0].ProductName)
}

func TestInvoice_GarbageNumbersDefaultToZero(t *testing.T) {
	doc := decode[erp.Document](t, `{"DocEntry": 5, "DocNum": 9, "CardCode": "C9", "DocTotal": "n/a", "PaidToDate": null, "DocDueDate": "2020-01-01"}`)

	inv := Invoice(doc, owners, "USD", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, inv.Amount.IsZero())
	assert.True(t, inv.PaidAmount.IsZero())
	assert.Equal(t, domain.InvoiceOverdue, inv.Status)
	assert.Equal(t, "C9", inv.Account.Name)
	assert.True(t, inv.Owner.Unassigned())
}

func TestChainNode(t *testing.T) {
	doc := decode[erp.Document](t, `{"DocEntry": 31, "DocNum": 2001, "CardCode": "C1", "CardName": "Acme", "DocTotal": 100, "PaidToDate": 100, "SalesPersonCode": 9}`)

	node := ChainNode(domain.KindInvoice, doc, owners, time.Now())
	assert.Equal(t, domain.KindInvoice, node.Kind)
	assert.Equal(t, domain.InvoicePaid, node.Status)
	require.NotNil(t, node.PaidAmount)
	assert.Equal(t, "Luis", node.SalesPerson)

	node = ChainNode(domain.KindOrder, doc, owners, time.Now())
	assert.Nil(t, node.PaidAmount)
	assert.Equal(t, domain.OrderProcessing, node.Status)
}

func TestAccountWithContacts(t *testing.T) {
	bp := decode[erp.BusinessPartner](t, `{
		"CardCode": "C001", "CardName": "Acme SA", "Phone1": "2222-0000", "Phone2": "",
		"Industry": 4, "Valid": "tYES", "SalesPersonCode": 7,
		"ContactEmployees": [
			{"InternalCode": 12, "Name": "Marta Solís Rojas", "E_Mail": "marta@acme.cr", "Active": "tYES"},
			{"Name": "Sin Código", "FirstName": "Pedro", "LastName": "Vega", "Active": "tNO"}
		]
	}`)

	acc := Account(bp, owners)
	assert.Equal(t, "C001", acc.ID)
	assert.True(t, acc.IsActive)
	require.NotNil(t, acc.Industry)
	assert.Equal(t, "4", *acc.Industry)
	assert.Nil(t, acc.Phone2)
	require.Len(t, acc.Contacts, 2)

	first := acc.Contacts[0]
	assert.Equal(t, "C001-12", first.ID)
	assert.Equal(t, "Marta", first.FirstName)
	assert.Equal(t, "Solís Rojas", first.LastName)
	assert.Equal(t, "Acme SA", first.AccountName)

	second := acc.Contacts[1]
	assert.Equal(t, "C001-Sin Código", second.ID)
	assert.Equal(t, "Pedro", second.FirstName)
	assert.False(t, second.IsActive)
}

func TestProductPrice(t *testing.T) {
	prices := func(raw string) []erp.ItemPrice { return decode[[]erp.ItemPrice](t, raw) }

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"price list 1 wins", `[{"PriceList": 2, "Price": 5}, {"PriceList": 1, "Price": 9}]`, "9"},
		{"first non-zero", `[{"PriceList": 1, "Price": 0}, {"PriceList": 3, "Price": 7}]`, "7"},
		{"first listed", `[{"PriceList": 4, "Price": 0}]`, "0"},
		{"none", `[]`, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, decimal.RequireFromString(tt.want).Equal(ProductPrice(prices(tt.raw))))
		})
	}
}

func TestProduct(t *testing.T) {
	item := decode[erp.Item](t, `{"ItemCode": "A1", "ItemName": "", "QuantityOnStock": "12", "Frozen": "tYES"}`)
	p := Product(item, "GTQ")
	assert.Equal(t, "A1", p.Name)
	assert.Equal(t, "General", p.Category)
	assert.Equal(t, "GTQ", p.Currency)
	assert.False(t, p.IsActive)
	assert.True(t, p.StockLevel.Equal(decimal.NewFromInt(12)))
}

func TestActivity(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		names      ActivityNames
		wantType   string
		wantStatus string
		check      func(t *testing.T, a domain.Activity)
	}{
		{
			name:       "numeric codes",
			raw:        `{"ActivityCode": 55, "ActivityType": 0, "Status": -3, "CloseDate": "2026-03-02", "CardCode": "C001", "ContactPersonCode": 12, "HandledBy": 7}`,
			names:      ActivityNames{CardName: "Acme SA", ContactName: "Marta Solís"},
			wantType:   "Call",
			wantStatus: domain.ActivityCompleted,
			check: func(t *testing.T, a domain.Activity) {
				assert.Equal(t, "Call #55", a.Subject)
				assert.True(t, a.IsCompleted)
				require.NotNil(t, a.CompletedAt)
				assert.Equal(t, "Acme SA", a.Account.Name)
				assert.Equal(t, "Marta Solís", a.Contact.Name)
				assert.Equal(t, "7", a.Owner.ID)
			},
		},
		{
			name:       "enum codes and long notes",
			raw:        `{"ActivityCode": 56, "ActivityType": "cn_Meeting", "Status": "cn_Cancel", "Notes": "` + longNotes + `", "ContactPersonCode": -1}`,
			wantType:   "Meeting",
			wantStatus: domain.ActivityCancelled,
			check: func(t *testing.T, a domain.Activity) {
				assert.Len(t, []rune(a.Subject), maxSubjectRunes+3)
				assert.Nil(t, a.Account)
				assert.Nil(t, a.Contact)
				assert.False(t, a.IsCompleted)
				assert.True(t, a.Owner.Unassigned())
			},
		},
		{
			name:       "unknown values",
			raw:        `{"ActivityCode": 57, "ActivityType": 99, "Status": "weird", "StartDate": "2026-03-03", "CardCode": "C002", "ContactPersonCode": 3}`,
			wantType:   "Activity",
			wantStatus: domain.ActivityPlanned,
			check: func(t *testing.T, a domain.Activity) {
				assert.Equal(t, "C002", a.Account.Name)
				assert.Equal(t, "Contact #3", a.Contact.Name)
				require.NotNil(t, a.DueDate)
				assert.Equal(t, 3, a.DueDate.Day())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Activity(decode[erp.Activity](t, tt.raw), tt.names, owners)
			assert.Equal(t, tt.wantType, a.ActivityType)
			assert.Equal(t, tt.wantStatus, a.Status)
			tt.check(t, a)
		})
	}
}

const longNotes = "Llamar al cliente para revisar la propuesta de renovación del contrato anual de soporte, " +
	"incluyendo los nuevos niveles de servicio y el calendario de visitas."

func TestParseDate(t *testing.T) {
	assert.NotNil(t, ParseDate("2026-03-01"))
	assert.NotNil(t, ParseDate("2026-03-01T00:00:00"))
	assert.NotNil(t, ParseDate("2026-03-01T00:00:00Z"))
	assert.Nil(t, ParseDate(""))
	assert.Nil(t, ParseDate("01/03/2026"))
}
