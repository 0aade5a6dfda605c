package job

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/homebank/internal/model"
)

// MaxGenerateDays caps how many calendar days one template expansion walks.
// It bounds the loop even for a far-off recurrence end date.
const MaxGenerateDays = 365

type GenerateResult struct {
	GeneratedCount int         `json:"generated_count"`
	NewJobs        []model.Job `json:"new_jobs"`
	Failed         int         `json:"failed"`
}

// GenerateInstances expands a recurring template into the dated instances
// that are missing from existing. Days are walked in loc from the first
// slot at the template's time of day that is after now, up to the
// template's end date or now plus horizonDays. Existing instances (or the
// template itself) on the same due time suppress a new one.
func GenerateInstances(tmpl model.Job, existing []model.Job, now time.Time, loc *time.Location, horizonDays int) []model.Job {
	if !tmpl.IsTemplate() || tmpl.DueDate == nil || !tmpl.RecurringPattern.Valid() {
		return nil
	}

	due := tmpl.DueDate.In(loc)
	hour, minute := due.Hour(), due.Minute()
	now = now.In(loc)

	taken := make(map[int64]bool)
	for _, e := range existing {
		if e.DueDate == nil {
			continue
		}
		if e.ID == tmpl.ID || (e.ParentJobID != nil && *e.ParentJobID == tmpl.ID) {
			taken[e.DueDate.Unix()] = true
		}
	}

	var end time.Time
	if tmpl.RecurringEndDate != nil {
		end = tmpl.RecurringEndDate.In(loc)
	} else {
		end = now.AddDate(0, 0, horizonDays)
	}

	y, m, d := now.Date()
	day := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if !day.After(now) {
		day = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}

	var out []model.Job
	for i := 0; i < MaxGenerateDays && !day.After(end); i++ {
		if qualifies(tmpl, due, day) && !taken[day.Unix()] {
			out = append(out, instanceOf(tmpl, day, now))
		}
		y, m, d := day.Date()
		day = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}
	return out
}

func qualifies(tmpl model.Job, due, day time.Time) bool {
	switch tmpl.RecurringPattern {
	case model.RecurDaily:
		return true
	case model.RecurWeekly:
		return tmpl.HasRecurringDay(day.Weekday())
	case model.RecurMonthly:
		// A template on the 31st lands on the last day of shorter months.
		last := time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, day.Location()).Day()
		return day.Day() == min(due.Day(), last)
	}
	return false
}

func instanceOf(tmpl model.Job, day, now time.Time) model.Job {
	dueUTC := day.UTC()
	parentID := tmpl.ID
	inst := model.Job{
		Title:              fmt.Sprintf("%s (%d/%d)", tmpl.Title, int(day.Month()), day.Day()),
		Description:        tmpl.Description,
		Points:             tmpl.Points,
		CreatedBy:          tmpl.CreatedBy,
		DueDate:            &dueUTC,
		CreatedAt:          now.UTC(),
		ParentJobID:        &parentID,
		SendCalendarInvite: tmpl.SendCalendarInvite,
		Status:             model.JobPending,
	}
	if tmpl.AssignedTo != nil {
		assignee := *tmpl.AssignedTo
		assignedAt := now.UTC()
		inst.AssignedTo = &assignee
		inst.AssignedAt = &assignedAt
		inst.Status = model.JobInProgress
	}
	return inst
}

// GenerateRecurring expands every template up to the configured horizon.
// The store rejects a second instance for the same template and due time,
// so concurrent or repeated runs never duplicate work.
func (s *Service) GenerateRecurring(ctx context.Context) (*GenerateResult, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	templates, err := s.jobs.ListTemplates()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	res := &GenerateResult{}
	for _, tmpl := range templates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		existing, err := s.jobs.ListInstances(tmpl.ID)
		if err != nil {
			res.Failed++
			s.logger.Warn("list instances failed", "template_id", tmpl.ID, "error", err)
			continue
		}
		existing = append(existing, tmpl)

		created := 0
		for _, inst := range GenerateInstances(tmpl, existing, now, s.loc, s.horizon) {
			stored, err := s.jobs.CreateInstance(&inst)
			if err != nil {
				res.Failed++
				s.logger.Warn("create instance failed", "template_id", tmpl.ID, "due", inst.DueDate, "error", err)
				continue
			}
			if stored == nil {
				s.logger.Debug("instance already exists", "template_id", tmpl.ID, "due", inst.DueDate)
				continue
			}
			res.NewJobs = append(res.NewJobs, *stored)
			created++
		}
		if created > 0 {
			s.logger.Info("recurring instances generated", "template_id", tmpl.ID, "title", tmpl.Title, "count", created)
		}
	}
	res.GeneratedCount = len(res.NewJobs)
	return res, nil
}
