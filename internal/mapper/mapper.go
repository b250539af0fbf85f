// Package mapper reshapes raw ERP records into CRM entities.
// Every function is pure: owner names come from a directory loaded by the
// caller, and missing or malformed fields fall back to neutral defaults.
package mapper

import (
	"strconv"
	"strings"
	"time"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
)

// Owners maps salesperson codes to display names.
type Owners map[int]string

// Owner resolves code to an owner. Absent or unknown codes yield the
// unassigned sentinel.
func (o Owners) Owner(code erp.Number) domain.Owner {
	if !code.Valid() {
		return domain.Owner{ID: domain.UnassignedOwnerID}
	}
	name := strings.TrimSpace(o[code.Int()])
	if name == "" {
		return domain.Owner{ID: domain.UnassignedOwnerID}
	}
	first, last := splitName(name)
	return domain.Owner{ID: strconv.Itoa(code.Int()), FirstName: first, LastName: last}
}

// Name returns the display name for code, or "" when unknown.
func (o Owners) Name(code erp.Number) string {
	if !code.Valid() {
		return ""
	}
	return strings.TrimSpace(o[code.Int()])
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// ParseDate accepts the ERP's date forms (2006-01-02, with or without a
// time part). Empty or unparseable input yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func isYes(flag string) bool {
	return flag == "tYES" || flag == "Y"
}

func orCode(name, code string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return code
}
