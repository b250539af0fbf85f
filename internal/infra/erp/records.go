package erp

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Number is a tolerant numeric field. It accepts JSON numbers, numeric
// strings and null; anything else decodes as an absent zero instead of
// failing the whole record.
type Number struct {
	value decimal.Decimal
	valid bool
}

// NewNumber builds a present Number.
func NewNumber(v float64) Number {
	return Number{value: decimal.NewFromFloat(v), valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	raw := bytes.TrimSpace(b)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	s := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = strings.TrimSpace(unquoted)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	n.value, n.valid = d, true
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return []byte("null"), nil
	}
	return []byte(n.value.String()), nil
}

// Valid reports whether the field was present and numeric.
func (n Number) Valid() bool { return n.valid }

// Decimal returns the value, zero when absent.
func (n Number) Decimal() decimal.Decimal { return n.value }

// Int returns the integer part, zero when absent.
func (n Number) Int() int { return int(n.value.IntPart()) }

// IntOr returns the integer part or def when absent.
func (n Number) IntOr(def int) int {
	if !n.valid {
		return def
	}
	return n.Int()
}

// Text is a field the ERP sends either as a string or as a number
// (e.g. activity status: "cn_Open" or -2). It keeps the textual form.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		*t = ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			*t = ""
			return nil
		}
		*t = Text(s)
	default:
		*t = Text(raw)
	}
	return nil
}

// decodeRecord decodes one row into T. A number or boolean sent where a
// string field is expected (a numeric CardName) keeps its literal text; any
// other mismatch on a top-level field leaves that field zero. mismatched
// lists the fields that were coerced or zeroed. Only rows that are not
// JSON objects fail.
func decodeRecord[T any](raw []byte) (item T, mismatched []string, err error) {
	err = json.Unmarshal(raw, &item)
	if err == nil {
		return item, nil, nil
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return item, nil, err
	}
	for attempts := 0; err != nil && attempts <= len(fields); attempts++ {
		var te *json.UnmarshalTypeError
		if !errors.As(err, &te) {
			return item, mismatched, err
		}
		v, ok := fields[te.Field]
		if !ok {
			// nested mismatch: the rest of the row is already decoded
			return item, append(mismatched, te.Field), nil
		}
		if te.Type != nil && te.Type.Kind() == reflect.String && isScalar(v) {
			fields[te.Field], _ = json.Marshal(string(bytes.TrimSpace(v)))
		} else {
			fields[te.Field] = json.RawMessage("null")
		}
		mismatched = append(mismatched, te.Field)

		patched, merr := json.Marshal(fields)
		if merr != nil {
			return item, mismatched, merr
		}
		var next T
		err = json.Unmarshal(patched, &next)
		item = next
	}
	return item, mismatched, err
}

func isScalar(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return false
	}
	switch v[0] {
	case '{', '[', '"':
		return false
	}
	return true
}

// ============================================================
// Raw Service Layer records
// ============================================================

// BusinessPartner is a row of the BusinessPartners collection.
type BusinessPartner struct {
	CardCode         string            `json:"CardCode"`
	CardName         string            `json:"CardName"`
	CardType         string            `json:"CardType"`
	Phone1           string            `json:"Phone1"`
	Phone2           string            `json:"Phone2"`
	Website          string            `json:"Website"`
	Country          string            `json:"Country"`
	Industry         Text              `json:"Industry"`
	Valid            string            `json:"Valid"`
	SalesPersonCode  Number            `json:"SalesPersonCode"`
	ContactEmployees []ContactEmployee `json:"ContactEmployees"`
}

// ContactEmployee is a contact person nested in a business partner.
type ContactEmployee struct {
	InternalCode Number `json:"InternalCode"`
	Name         string `json:"Name"`
	FirstName    string `json:"FirstName"`
	LastName     string `json:"LastName"`
	Email        string `json:"E_Mail"`
	Phone1       string `json:"Phone1"`
	MobilePhone  string `json:"MobilePhone"`
	Position     string `json:"Position"`
	Active       string `json:"Active"`
}

// Item is a row of the Items collection.
type Item struct {
	ItemCode        string      `json:"ItemCode"`
	ItemName        string      `json:"ItemName"`
	ItemsGroupCode  Number      `json:"ItemsGroupCode"`
	QuantityOnStock Number      `json:"QuantityOnStock"`
	Frozen          string      `json:"Frozen"`
	ItemPrices      []ItemPrice `json:"ItemPrices"`
}

// ItemPrice is one price-list entry of an item.
type ItemPrice struct {
	PriceList Number `json:"PriceList"`
	Price     Number `json:"Price"`
	Currency  string `json:"Currency"`
}

// Document is a row of Quotations, Orders or Invoices.
type Document struct {
	DocEntry        Number         `json:"DocEntry"`
	DocNum          Number         `json:"DocNum"`
	CardCode        string         `json:"CardCode"`
	CardName        string         `json:"CardName"`
	DocTotal        Number         `json:"DocTotal"`
	PaidToDate      Number         `json:"PaidToDate"`
	DocDate         string         `json:"DocDate"`
	DocDueDate      string         `json:"DocDueDate"`
	DocumentStatus  string         `json:"DocumentStatus"`
	DocCurrency     string         `json:"DocCurrency"`
	SalesPersonCode Number         `json:"SalesPersonCode"`
	DocumentLines   []DocumentLine `json:"DocumentLines"`
}

// BaseReference returns the document the first line was copied from.
// Only the first line is consulted.
func (d Document) BaseReference() (entry, baseType int, ok bool) {
	if len(d.DocumentLines) == 0 {
		return 0, 0, false
	}
	line := d.DocumentLines[0]
	entry, baseType = line.BaseEntry.Int(), line.BaseType.Int()
	if entry <= 0 || baseType <= 0 {
		return 0, 0, false
	}
	return entry, baseType, true
}

// DocumentLine is one line of a sales document.
type DocumentLine struct {
	LineNum         Number `json:"LineNum"`
	ItemCode        string `json:"ItemCode"`
	ItemDescription string `json:"ItemDescription"`
	Quantity        Number `json:"Quantity"`
	UnitPrice       Number `json:"UnitPrice"`
	Price           Number `json:"Price"`
	LineTotal       Number `json:"LineTotal"`
	DiscountPercent Number `json:"DiscountPercent"`
	BaseType        Number `json:"BaseType"`
	BaseEntry       Number `json:"BaseEntry"`
}

// Activity is a row of the Activities collection.
type Activity struct {
	ActivityCode      Number `json:"ActivityCode"`
	ActivityType      Text   `json:"ActivityType"`
	Subject           Text   `json:"Subject"`
	Notes             string `json:"Notes"`
	ActivityDate      string `json:"ActivityDate"`
	StartDate         string `json:"StartDate"`
	EndDate           string `json:"EndDate"`
	CloseDate         string `json:"CloseDate"`
	StartTime         string `json:"StartTime"`
	Status            Text   `json:"Status"`
	CardCode          string `json:"CardCode"`
	ContactPersonCode Number `json:"ContactPersonCode"`
	HandledBy         Number `json:"HandledBy"`
}

// SalesPerson is a row of the SalesPersons collection.
type SalesPerson struct {
	SalesEmployeeCode Number `json:"SalesEmployeeCode"`
	SalesEmployeeName string `json:"SalesEmployeeName"`
}
