package domain

import "time"

// Activity statuses.
const (
	ActivityPlanned   = "Planned"
	ActivityCompleted = "Completed"
	ActivityCancelled = "Cancelled"
)

// ContactRef points at the contact an activity was logged against.
type ContactRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Activity is a call, meeting, task, note or email logged in the ERP.
type Activity struct {
	ID           string      `json:"id"`
	ActivityType string      `json:"activityType"`
	Subject      string      `json:"subject"`
	Description  *string     `json:"description"`
	DueDate      *time.Time  `json:"dueDate"`
	Status       string      `json:"status"`
	IsCompleted  bool        `json:"isCompleted"`
	CompletedAt  *time.Time  `json:"completedAt"`
	Account      *AccountRef `json:"account"`
	Contact      *ContactRef `json:"contact"`
	Owner        Owner       `json:"owner"`
}
