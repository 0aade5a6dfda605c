package model

import (
	"fmt"
	"time"
)

// JobStatus is the closed set of states a job moves through. The zero value
// is not a valid status.
type JobStatus int

const (
	JobPending JobStatus = iota + 1
	JobInProgress
	JobCompleted
	JobApproved
)

var jobStatusNames = map[JobStatus]string{
	JobPending:    "pending",
	JobInProgress: "in_progress",
	JobCompleted:  "completed",
	JobApproved:   "approved",
}

var jobStatusFromName = map[string]JobStatus{
	"pending":     JobPending,
	"in_progress": JobInProgress,
	"completed":   JobCompleted,
	"approved":    JobApproved,
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

func (s JobStatus) Valid() bool {
	_, ok := jobStatusNames[s]
	return ok
}

// Next returns the only status s may transition to. Approved is terminal.
func (s JobStatus) Next() (JobStatus, bool) {
	switch s {
	case JobPending:
		return JobInProgress, true
	case JobInProgress:
		return JobCompleted, true
	case JobCompleted:
		return JobApproved, true
	}
	return 0, false
}

// ParseJobStatus maps the wire/storage name back to a JobStatus.
func ParseJobStatus(name string) (JobStatus, error) {
	s, ok := jobStatusFromName[name]
	if !ok {
		return 0, fmt.Errorf("unknown job status %q", name)
	}
	return s, nil
}

func (s JobStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid job status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *JobStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseJobStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type RecurrencePattern string

const (
	RecurNone    RecurrencePattern = ""
	RecurDaily   RecurrencePattern = "daily"
	RecurWeekly  RecurrencePattern = "weekly"
	RecurMonthly RecurrencePattern = "monthly"
)

func (p RecurrencePattern) Valid() bool {
	switch p {
	case RecurDaily, RecurWeekly, RecurMonthly:
		return true
	}
	return false
}

type Job struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Points      int    `json:"points"`
	CreatedBy   int64  `json:"created_by"`

	AssignedTo *int64     `json:"assigned_to"`
	AssignedAt *time.Time `json:"assigned_at"`

	DueDate     *time.Time `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ApprovedAt  *time.Time `json:"approved_at"`

	ActualPoints *int `json:"actual_points"`
	Discount     *int `json:"discount"`

	IsRecurring      bool              `json:"is_recurring"`
	RecurringPattern RecurrencePattern `json:"recurring_pattern,omitempty"`
	RecurringDays    []time.Weekday    `json:"recurring_days,omitempty"`
	RecurringEndDate *time.Time        `json:"recurring_end_date,omitempty"`
	ParentJobID      *int64            `json:"parent_job_id,omitempty"`

	SendCalendarInvite bool `json:"send_calendar_invite"`

	Status JobStatus `json:"status"`
}

// IsTemplate reports whether j is a recurring definition rather than a
// concrete dated instance.
func (j Job) IsTemplate() bool {
	return j.IsRecurring && j.ParentJobID == nil
}

// HasRecurringDay reports whether d is one of the template's weekly days.
func (j Job) HasRecurringDay(d time.Weekday) bool {
	for _, rd := range j.RecurringDays {
		if rd == d {
			return true
		}
	}
	return false
}
