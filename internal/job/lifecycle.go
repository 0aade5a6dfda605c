package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/settlement"
	"github.com/dukerupert/homebank/internal/store"
)

type CreateInput struct {
	Title              string
	Description        string
	Points             int
	AssignedTo         *int64
	DueDate            *time.Time
	IsRecurring        bool
	RecurringPattern   model.RecurrencePattern
	RecurringDays      []time.Weekday
	RecurringEndDate   *time.Time
	SendCalendarInvite bool
}

// Create stores a new job authored by actor. A job created for a child
// starts in progress; otherwise it waits in pending for a claim.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*model.Job, error) {
	if !actor.canManage() {
		return nil, fmt.Errorf("%w: only parents create jobs", ErrForbidden)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.Points <= 0 {
		return nil, fmt.Errorf("%w: points must be positive", ErrValidation)
	}

	now := s.clock.Now().UTC()
	j := &model.Job{
		Title:              title,
		Description:        strings.TrimSpace(in.Description),
		Points:             in.Points,
		CreatedBy:          actor.UserID,
		DueDate:            utcPtr(in.DueDate),
		CreatedAt:          now,
		SendCalendarInvite: in.SendCalendarInvite,
		Status:             model.JobPending,
	}

	if in.IsRecurring {
		if !in.RecurringPattern.Valid() {
			return nil, fmt.Errorf("%w: unknown recurring pattern %q", ErrValidation, in.RecurringPattern)
		}
		if in.DueDate == nil {
			return nil, fmt.Errorf("%w: recurring jobs need a due date for their time of day", ErrValidation)
		}
		j.IsRecurring = true
		j.RecurringPattern = in.RecurringPattern
		j.RecurringEndDate = utcPtr(in.RecurringEndDate)
		if in.RecurringPattern == model.RecurWeekly {
			for _, d := range in.RecurringDays {
				if d < time.Sunday || d > time.Saturday {
					return nil, fmt.Errorf("%w: weekday %d out of range", ErrValidation, d)
				}
			}
			j.RecurringDays = in.RecurringDays
		}
	}

	var assignee *model.User
	if in.AssignedTo != nil {
		u, err := s.users.GetByID(*in.AssignedTo)
		if err != nil {
			return nil, err
		}
		if u == nil || u.Role != model.RoleChild {
			return nil, fmt.Errorf("%w: assignee %d is not a child", ErrValidation, *in.AssignedTo)
		}
		assignee = u
		j.AssignedTo = &u.ID
		j.AssignedAt = &now
		j.Status = model.JobInProgress
	}

	created, err := s.jobs.Create(j)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", created.ID, "title", created.Title, "status", created.Status, "recurring", created.IsRecurring)

	if created.SendCalendarInvite && assignee != nil && created.DueDate != nil && s.notifier != nil {
		if err := s.notifier.NotifyJobAssigned(ctx, created, assignee); err != nil {
			s.logger.Warn("job invite failed", "job_id", created.ID, "assignee", assignee.ID, "error", err)
		}
	}
	return created, nil
}

func (s *Service) Get(id int64) (*model.Job, error) {
	j, err := s.jobs.GetByID(id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	return j, nil
}

func (s *Service) List(f store.JobFilter) ([]model.Job, error) {
	return s.jobs.List(f)
}

// Delete removes a job outright. It is an administrative action and bypasses
// the state machine.
func (s *Service) Delete(actor Actor, id int64) error {
	if !actor.canManage() {
		return fmt.Errorf("%w: only parents delete jobs", ErrForbidden)
	}
	if _, err := s.Get(id); err != nil {
		return err
	}
	if err := s.jobs.Delete(id); err != nil {
		return err
	}
	s.logger.Info("job deleted", "job_id", id, "by", actor.UserID)
	return nil
}

// Claim assigns a pending job to the child making the request. Concurrent
// claims are decided by the store; every loser gets ErrConflict.
func (s *Service) Claim(actor Actor, id int64) (*model.Job, error) {
	if actor.Role != model.RoleChild {
		return nil, fmt.Errorf("%w: only children claim jobs", ErrForbidden)
	}
	j, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if j.Status != model.JobPending {
		return nil, fmt.Errorf("%w: job %d is %s", ErrConflict, id, j.Status)
	}

	ok, err := s.jobs.Claim(id, actor.UserID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.lostRace(id)
	}
	s.logger.Info("job claimed", "job_id", id, "user_id", actor.UserID)
	return s.Get(id)
}

// Submit marks the caller's in-progress job as done.
func (s *Service) Submit(actor Actor, id int64) (*model.Job, error) {
	j, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if j.AssignedTo != nil && *j.AssignedTo != actor.UserID {
		return nil, fmt.Errorf("%w: job %d is assigned to someone else", ErrForbidden, id)
	}
	if j.Status != model.JobInProgress || j.AssignedTo == nil {
		return nil, fmt.Errorf("%w: job %d is %s", ErrConflict, id, j.Status)
	}

	ok, err := s.jobs.Submit(id, actor.UserID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.lostRace(id)
	}
	s.logger.Info("job submitted", "job_id", id, "user_id", actor.UserID)
	return s.Get(id)
}

type ApproveResult struct {
	Job             *model.Job `json:"job"`
	PointsAwarded   int        `json:"points_awarded"`
	DiscountPercent int        `json:"discount_percent"`
	Message         string     `json:"message"`
	NewBalance      int        `json:"new_balance"`
}

// Approve settles a completed job: the discount is computed from how late it
// was submitted and the assignee is credited in the same transaction.
func (s *Service) Approve(actor Actor, id int64) (*ApproveResult, error) {
	if !actor.canManage() {
		return nil, fmt.Errorf("%w: only parents approve jobs", ErrForbidden)
	}
	j, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if j.Status != model.JobCompleted {
		return nil, fmt.Errorf("%w: job %d is %s", ErrConflict, id, j.Status)
	}
	if j.AssignedTo == nil || j.CompletedAt == nil {
		return nil, fmt.Errorf("%w: job %d has no assignee", ErrConflict, id)
	}

	var due *time.Time
	if j.DueDate != nil {
		d := j.DueDate.In(s.loc)
		due = &d
	}
	res := settlement.Calculate(due, j.CompletedAt.In(s.loc), j.Points)

	settled, err := s.jobs.Settle(store.Settlement{
		JobID:        id,
		From:         model.JobCompleted,
		At:           s.clock.Now(),
		ActualPoints: res.ActualPoints,
		Discount:     res.DiscountPercent,
		UserID:       j.AssignedTo,
		Description:  approvalDescription(j.Title, res),
	})
	if err != nil {
		return nil, err
	}
	if settled == nil {
		return nil, s.lostRace(id)
	}
	s.logger.Info("job approved",
		"job_id", id,
		"user_id", *j.AssignedTo,
		"discount", res.DiscountPercent,
		"points", res.ActualPoints,
		"balance", settled.NewBalance,
	)

	approved, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return &ApproveResult{
		Job:             approved,
		PointsAwarded:   res.ActualPoints,
		DiscountPercent: res.DiscountPercent,
		Message:         res.Message,
		NewBalance:      settled.NewBalance,
	}, nil
}

// lostRace turns a guarded write that did not apply into the right domain
// error by looking at the row again.
func (s *Service) lostRace(id int64) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %d is %s", ErrConflict, id, j.Status)
}

func approvalDescription(title string, res settlement.Result) string {
	if res.DiscountPercent == settlement.OnTime {
		return "Job completed: " + title
	}
	return fmt.Sprintf("Job completed: %s (%d%%, %s)", title, res.DiscountPercent, res.Message)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
