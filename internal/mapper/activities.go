package mapper

import (
	"strconv"
	"strings"
	"time"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
)

const maxSubjectRunes = 120

var activityTypes = map[string]string{
	"-1": "Task",
	"0":  "Call",
	"1":  "Meeting",
	"2":  "Task",
	"3":  "Note",
	"4":  "Email",

	"cn_Conversation": "Call",
	"cn_PhoneCall":    "Call",
	"cn_Meeting":      "Meeting",
	"cn_Task":         "Task",
	"cn_Note":         "Note",
	"cn_Other":        "Task",
}

var activityStatuses = map[string]string{
	"cn_Open":   domain.ActivityPlanned,
	"-2":        domain.ActivityPlanned,
	"cn_Closed": domain.ActivityCompleted,
	"-3":        domain.ActivityCompleted,
	"cn_Cancel": domain.ActivityCancelled,
}

// ActivityType maps the ERP activity type code to a label.
func ActivityType(raw erp.Text) string {
	if label, ok := activityTypes[strings.TrimSpace(string(raw))]; ok {
		return label
	}
	return "Activity"
}

// ActivityStatus maps the ERP activity status, numeric or enum form.
// Unknown values are treated as planned.
func ActivityStatus(raw erp.Text) string {
	if status, ok := activityStatuses[strings.TrimSpace(string(raw))]; ok {
		return status
	}
	return domain.ActivityPlanned
}

// ActivityNames carries the names resolved outside the activity record.
type ActivityNames struct {
	CardName    string
	ContactName string
}

// Activity maps an activity. The ERP subject is a numeric code, so the
// notes (truncated) serve as subject when present.
func Activity(act erp.Activity, names ActivityNames, owners Owners) domain.Activity {
	typeLabel := ActivityType(act.ActivityType)
	code := strconv.Itoa(act.ActivityCode.Int())

	subject := typeLabel + " #" + code
	if notes := strings.TrimSpace(act.Notes); notes != "" {
		subject = notes
		if r := []rune(notes); len(r) > maxSubjectRunes {
			subject = string(r[:maxSubjectRunes]) + "..."
		}
	}

	status := ActivityStatus(act.Status)
	out := domain.Activity{
		ID:           code,
		ActivityType: typeLabel,
		Subject:      subject,
		Description:  optional(act.Notes),
		DueDate:      firstDate(act.EndDate, act.CloseDate, act.StartDate, act.ActivityDate),
		Status:       status,
		IsCompleted:  status == domain.ActivityCompleted,
		Owner:        owners.Owner(act.HandledBy),
	}
	if out.IsCompleted {
		out.CompletedAt = firstDate(act.CloseDate, act.StartDate)
	}
	if act.CardCode != "" {
		out.Account = &domain.AccountRef{ID: act.CardCode, Name: orCode(names.CardName, act.CardCode)}
	}
	if act.ContactPersonCode.Valid() && act.ContactPersonCode.Int() >= 0 {
		id := strconv.Itoa(act.ContactPersonCode.Int())
		name := names.ContactName
		if name == "" {
			name = "Contact #" + id
		}
		out.Contact = &domain.ContactRef{ID: id, Name: name}
	}
	return out
}

func firstDate(candidates ...string) *time.Time {
	for _, c := range candidates {
		if t := ParseDate(c); t != nil {
			return t
		}
	}
	return nil
}
