package domain

// Tenant is one independently credentialed ERP company database.
type Tenant struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	DBName   string `json:"-"`
	Currency string `json:"currency"`
}
