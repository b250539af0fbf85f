package mapper

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
)

// Account maps a customer business partner, including any contact
// employees embedded in the record.
func Account(bp erp.BusinessPartner, owners Owners) domain.Account {
	acc := domain.Account{
		ID:          bp.CardCode,
		Name:        orCode(bp.CardName, bp.CardCode),
		ERPID:       bp.CardCode,
		Phone:       optional(bp.Phone1),
		Phone2:      optional(bp.Phone2),
		Website:     optional(bp.Website),
		Country:     optional(bp.Country),
		Industry:    optional(string(bp.Industry)),
		IsActive:    isYes(bp.Valid),
		AccountType: "Customer",
		Owner:       owners.Owner(bp.SalesPersonCode),
	}
	for _, cp := range bp.ContactEmployees {
		acc.Contacts = append(acc.Contacts, Contact(cp, bp, owners))
	}
	return acc
}

// Contact maps a contact employee of bp. Its ID is "<CardCode>-<InternalCode>"
// so it stays unique across partners.
func Contact(cp erp.ContactEmployee, bp erp.BusinessPartner, owners Owners) domain.Contact {
	suffix := cp.Name
	if cp.InternalCode.Valid() && cp.InternalCode.Int() != 0 {
		suffix = strconv.Itoa(cp.InternalCode.Int())
	}

	first, last := strings.TrimSpace(cp.FirstName), strings.TrimSpace(cp.LastName)
	if first == "" && last == "" {
		first, last = splitName(cp.Name)
	}

	return domain.Contact{
		ID:          bp.CardCode + "-" + suffix,
		FirstName:   first,
		LastName:    last,
		Email:       optional(cp.Email),
		Phone:       optional(cp.Phone1),
		Mobile:      optional(cp.MobilePhone),
		JobTitle:    optional(cp.Position),
		IsActive:    isYes(cp.Active),
		AccountID:   bp.CardCode,
		AccountName: orCode(bp.CardName, bp.CardCode),
		Owner:       owners.Owner(bp.SalesPersonCode),
	}
}

// ContactName is the display name of a contact employee.
func ContactName(cp erp.ContactEmployee) string {
	name := strings.TrimSpace(strings.Join([]string{strings.TrimSpace(cp.FirstName), strings.TrimSpace(cp.LastName)}, " "))
	if name != "" {
		return name
	}
	return strings.TrimSpace(cp.Name)
}

// Product maps an item. The price prefers price list 1, then the first
// non-zero price, then the first listed price.
func Product(item erp.Item, currency string) domain.Product {
	category := "General"
	if item.ItemsGroupCode.Valid() {
		category = strconv.Itoa(item.ItemsGroupCode.Int())
	}
	return domain.Product{
		ID:         item.ItemCode,
		Code:       item.ItemCode,
		Name:       orCode(item.ItemName, item.ItemCode),
		Category:   category,
		Price:      ProductPrice(item.ItemPrices),
		Currency:   currency,
		StockLevel: item.QuantityOnStock.Decimal(),
		IsActive:   !isYes(item.Frozen),
	}
}

// ProductPrice picks the default price out of an item's price lists.
func ProductPrice(prices []erp.ItemPrice) decimal.Decimal {
	for _, p := range prices {
		if p.PriceList.Int() == 1 && p.Price.Decimal().IsPositive() {
			return p.Price.Decimal()
		}
	}
	for _, p := range prices {
		if p.Price.Decimal().IsPositive() {
			return p.Price.Decimal()
		}
	}
	if len(prices) > 0 {
		return prices[0].Price.Decimal()
	}
	return decimal.Zero
}
