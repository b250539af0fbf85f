package domain

import "github.com/shopspring/decimal"

// ============================================================
// Shared CRM shapes
// ============================================================

// UnassignedOwnerID marks an owner whose salesperson code is absent or unknown.
const UnassignedOwnerID = "-1"

// Owner is the salesperson responsible for a record.
type Owner struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Unassigned reports whether the owner is the "unassigned" sentinel.
func (o Owner) Unassigned() bool {
	return o.ID == UnassignedOwnerID || (o.FirstName == "" && o.LastName == "")
}

// AccountRef is the partner a document or activity belongs to.
type AccountRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ListParams carries paging, search, filtering and ordering for list operations.
// Filters maps CRM field names (status, accountId, from, to) to plain values;
// values are escaped when the remote query is built.
type ListParams struct {
	Top     int               `json:"top"`
	Skip    int               `json:"skip"`
	Search  string            `json:"search,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	OrderBy string            `json:"orderBy,omitempty"`
}

// ListResult wraps one page of mapped entities plus the total available.
type ListResult[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// ============================================================
// Accounts & Contacts (business partners)
// ============================================================

// Account is a customer business partner.
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ERPID       string    `json:"sapId"`
	Phone       *string   `json:"phone"`
	Phone2      *string   `json:"phone2,omitempty"`
	Website     *string   `json:"website"`
	Country     *string   `json:"country"`
	Industry    *string   `json:"industry"`
	IsActive    bool      `json:"isActive"`
	AccountType string    `json:"accountType"`
	Owner       Owner     `json:"owner"`
	Contacts    []Contact `json:"contacts,omitempty"`
}

// Contact is a contact employee of a business partner.
type Contact struct {
	ID          string  `json:"id"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Mobile      *string `json:"mobile"`
	JobTitle    *string `json:"jobTitle"`
	IsActive    bool    `json:"isActive"`
	AccountID   string  `json:"accountId"`
	AccountName string  `json:"accountName"`
	Owner       Owner   `json:"owner"`
}

// ============================================================
// Products (items)
// ============================================================

// Product is a sellable item with its default price.
type Product struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	StockLevel decimal.Decimal `json:"stockLevel"`
	IsActive   bool            `json:"isActive"`
}
