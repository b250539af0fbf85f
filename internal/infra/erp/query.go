package erp

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stia/crm-erp-bff/internal/domain"
)

// Service Layer collections.
const (
	Quotations       = "Quotations"
	Orders           = "Orders"
	Invoices         = "Invoices"
	BusinessPartners = "BusinessPartners"
	Items            = "Items"
	Activities       = "Activities"
	SalesPersons     = "SalesPersons"
)

// Base document types carried by document lines.
const (
	BaseTypeQuotation = 23
	BaseTypeOrder     = 17
	BaseTypeInvoice   = 13
)

// MaxSearchLength bounds free-text search input, in runes.
const MaxSearchLength = 100

// CollectionFor returns the collection holding documents of kind.
func CollectionFor(kind domain.DocumentKind) string {
	switch kind {
	case domain.KindQuote:
		return Quotations
	case domain.KindOrder:
		return Orders
	case domain.KindInvoice:
		return Invoices
	}
	return ""
}

// Query describes one OData read against a collection.
type Query struct {
	Collection  string
	Key         string // preformatted key literal, e.g. 12 or 'C001'
	Select      []string
	Filter      string
	OrderBy     string
	Top         int
	Skip        int
	InlineCount bool
}

// IntKey formats a numeric entity key.
func IntKey(v int) string { return strconv.Itoa(v) }

// StringKey formats a string entity key.
func StringKey(v string) string { return Quote(v) }

// String renders the query path unescaped, for logs and tests.
func (q Query) String() string {
	return q.render(func(s string) string { return s })
}

// Encode renders the query path with parameter values percent-encoded.
func (q Query) Encode() string {
	return q.render(escapeValue)
}

func (q Query) render(esc func(string) string) string {
	path := q.Collection
	if q.Key != "" {
		path += "(" + esc(q.Key) + ")"
	}

	var params []string
	if len(q.Select) > 0 {
		params = append(params, "$select="+esc(strings.Join(q.Select, ",")))
	}
	if q.InlineCount {
		params = append(params, "$inlinecount=allpages")
	}
	if q.Top > 0 {
		params = append(params, "$top="+strconv.Itoa(q.Top))
	}
	if q.Skip > 0 {
		params = append(params, "$skip="+strconv.Itoa(q.Skip))
	}
	if q.Filter != "" {
		params = append(params, "$filter="+esc(q.Filter))
	}
	if q.OrderBy != "" {
		params = append(params, "$orderby="+esc(q.OrderBy))
	}
	if len(params) == 0 {
		return path
	}
	return path + "?" + strings.Join(params, "&")
}

func escapeValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ============================================================
// Filter expressions
// ============================================================

var literalStripper = strings.NewReplacer("%", "", "_", "", "[", "", "]", "")

// EscapeLiteral makes s safe inside a single-quoted OData literal:
// quotes are doubled and the wildcard characters % _ [ ] are dropped.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(literalStripper.Replace(s), "'", "''")
}

// Quote returns s as an escaped OData string literal.
func Quote(s string) string {
	return "'" + EscapeLiteral(s) + "'"
}

// ValidateSearch checks free-text search input and returns it trimmed.
func ValidateSearch(s string) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxSearchLength {
		return "", &domain.ErrValidation{Field: "search", Message: fmt.Sprintf("must be at most %d characters", MaxSearchLength)}
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", &domain.ErrValidation{Field: "search", Message: "contains control characters"}
		}
	}
	return s, nil
}

// Eq builds "field eq value". Strings are quoted and escaped.
func Eq(field string, value any) string {
	switch v := value.(type) {
	case string:
		return field + " eq " + Quote(v)
	case int:
		return field + " eq " + strconv.Itoa(v)
	default:
		return fmt.Sprintf("%s eq %v", field, v)
	}
}

// Ge builds "field ge 'value'".
func Ge(field, value string) string { return field + " ge " + Quote(value) }

// Le builds "field le 'value'".
func Le(field, value string) string { return field + " le " + Quote(value) }

// Lt builds "field lt 'value'".
func Lt(field, value string) string { return field + " lt " + Quote(value) }

// Contains builds a substring match on field.
func Contains(field, text string) string {
	return "contains(" + field + "," + Quote(text) + ")"
}

// And joins the non-empty parts as a conjunction. With more than one part
// each is parenthesised so no operand can change the others' grouping.
func And(parts ...string) string { return join(" and ", parts) }

// Or joins the non-empty parts as a disjunction.
func Or(parts ...string) string { return join(" or ", parts) }

func join(op string, parts []string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return ""
	case 1:
		return kept[0]
	}
	for i, p := range kept {
		kept[i] = "(" + p + ")"
	}
	return strings.Join(kept, op)
}

// AnyLine matches documents with at least one line copied from the given
// base document.
func AnyLine(baseEntry, baseType int) string {
	return fmt.Sprintf("DocumentLines/any(d: d/BaseEntry eq %d and d/BaseType eq %d)", baseEntry, baseType)
}

// ============================================================
// Ordering
// ============================================================

var documentOrderFields = []string{"DocEntry", "DocNum", "DocDate", "DocDueDate", "DocTotal", "CardName"}

var orderableFields = map[string][]string{
	Quotations:       documentOrderFields,
	Orders:           documentOrderFields,
	Invoices:         documentOrderFields,
	BusinessPartners: {"CardCode", "CardName"},
	Items:            {"ItemCode", "ItemName"},
	Activities:       {"ActivityCode", "ActivityDate", "StartDate"},
	SalesPersons:     {"SalesEmployeeCode", "SalesEmployeeName"},
}

// OrderBy validates a client ordering such as "DocDate desc,DocNum" against
// the fields allowed for collection and returns it normalised.
func OrderBy(collection, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	allowed := orderableFields[collection]

	var terms []string
	for _, term := range strings.Split(raw, ",") {
		fields := strings.Fields(term)
		if len(fields) == 0 || len(fields) > 2 {
			return "", &domain.ErrValidation{Field: "orderBy", Message: fmt.Sprintf("malformed term %q", strings.TrimSpace(term))}
		}
		if !slices.Contains(allowed, fields[0]) {
			return "", &domain.ErrValidation{Field: "orderBy", Message: fmt.Sprintf("cannot order by %q", fields[0])}
		}
		dir := "asc"
		if len(fields) == 2 {
			dir = strings.ToLower(fields[1])
			if dir != "asc" && dir != "desc" {
				return "", &domain.ErrValidation{Field: "orderBy", Message: fmt.Sprintf("invalid direction %q", fields[1])}
			}
		}
		terms = append(terms, fields[0]+" "+dir)
	}
	return strings.Join(terms, ","), nil
}
