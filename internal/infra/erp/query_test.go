package erp

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stia/crm-erp-bff/internal/domain"
)

func TestQuery_String(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{
			name:  "bare collection",
			query: Query{Collection: Orders},
			want:  "Orders",
		},
		{
			name: "list with every option",
			query: Query{
				Collection:  Quotations,
				Select:      []string{"DocEntry", "DocNum"},
				InlineCount: true,
				Top:         20,
				Skip:        40,
				Filter:      Eq("SalesPersonCode", 7),
				OrderBy:     "DocDate desc",
			},
			want: "Quotations?$select=DocEntry,DocNum&$inlinecount=allpages&$top=20&$skip=40&$filter=SalesPersonCode eq 7&$orderby=DocDate desc",
		},
		{
			name:  "numeric key",
			query: Query{Collection: Orders, Key: IntKey(12)},
			want:  "Orders(12)",
		},
		{
			name:  "string key",
			query: Query{Collection: BusinessPartners, Key: StringKey("C'001"), Select: []string{"CardCode"}},
			want:  "BusinessPartners('C''001')?$select=CardCode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.String())
		})
	}
}

func TestQuery_EncodeEscapesValues(t *testing.T) {
	q := Query{Collection: Orders, Filter: "DocNum eq 5 and CardName eq 'A&B'"}
	got := q.Encode()

	assert.Equal(t, "Orders?$filter=DocNum%20eq%205%20and%20CardName%20eq%20%27A%26B%27", got)
	assert.NotContains(t, got, "+")
}

func TestEscapeLiteral(t *testing.T) {
	cases := map[string]string{
		"plain":         "plain",
		"O'Brien":       "O''Brien",
		"100%_[x]":      "100x",
		"'') or (1 eq 1": "'''') or (1 eq 1",
	}
	for in, want := range cases {
		assert.Equal(t, want, EscapeLiteral(in), in)
	}
}

// Whatever the user types, the literal stays a single operand: every quote
// inside it is doubled, so the literal closes exactly where Quote closes it.
func TestQuote_CannotBreakFilterStructure(t *testing.T) {
	inputs := []string{
		"x' or 'a' eq 'a",
		"') or (CardType eq 'S",
		"'''",
		"a' and contains(CardName,'",
	}
	for _, in := range inputs {
		filter := And(Eq("CardType", "C"), Contains("CardName", in))
		literal := strings.TrimSuffix(strings.TrimPrefix(filter, "(CardType eq 'C') and (contains(CardName,'"), "'))")

		require.NotEqual(t, filter, literal, in)
		// inside the literal, quotes only ever appear doubled
		assert.NotContains(t, strings.ReplaceAll(literal, "''", ""), "'", in)
	}
}

func TestValidateSearch(t *testing.T) {
	got, err := ValidateSearch("  Acme  ")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got)

	_, err = ValidateSearch(strings.Repeat("á", MaxSearchLength))
	assert.NoError(t, err)

	for _, bad := range []string{strings.Repeat("a", MaxSearchLength+1), "acme\x00", "line\nbreak"} {
		_, err := ValidateSearch(bad)
		var ve *domain.ErrValidation
		assert.True(t, errors.As(err, &ve), "%q", bad)
	}
}

func TestAndOr(t *testing.T) {
	assert.Equal(t, "", And())
	assert.Equal(t, "a eq 1", And("", "a eq 1", ""))
	assert.Equal(t, "(a eq 1) and (b eq 2)", And("a eq 1", "b eq 2"))
	assert.Equal(t, "(a eq 1) or (b eq 2)", Or("a eq 1", "b eq 2"))
}

func TestAnyLine(t *testing.T) {
	assert.Equal(t, "DocumentLines/any(d: d/BaseEntry eq 880 and d/BaseType eq 23)", AnyLine(880, BaseTypeQuotation))
}

func TestOrderBy(t *testing.T) {
	got, err := OrderBy(Orders, "DocDate DESC, DocNum")
	require.NoError(t, err)
	assert.Equal(t, "DocDate desc,DocNum asc", got)

	got, err = OrderBy(Items, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, bad := range []string{"Password", "DocDate sideways", "DocDate desc extra", "CardName; drop"} {
		_, err := OrderBy(Orders, bad)
		var ve *domain.ErrValidation
		assert.True(t, errors.As(err, &ve), bad)
	}
}

func TestCollectionFor(t *testing.T) {
	assert.Equal(t, Quotations, CollectionFor(domain.KindQuote))
	assert.Equal(t, Orders, CollectionFor(domain.KindOrder))
	assert.Equal(t, Invoices, CollectionFor(domain.KindInvoice))
	assert.Empty(t, CollectionFor("receipt"))
}
