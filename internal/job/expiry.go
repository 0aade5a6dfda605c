package job

import (
	"context"
	"time"

	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/settlement"
	"github.com/dukerupert/homebank/internal/store"
)

type SweepResult struct {
	SettledCount int                      `json:"settled_count"`
	SettledJobs  []model.Job              `json:"settled_jobs"`
	Transactions []model.PointTransaction `json:"transactions"`
	Failed       int                      `json:"failed"`
}

// Expired reports whether an in-progress job's due day is over: today, in
// loc, is a later calendar date than the due date.
func Expired(j model.Job, now time.Time, loc *time.Location) bool {
	if j.Status != model.JobInProgress || j.DueDate == nil {
		return false
	}
	today := settlement.DateOf(now.In(loc))
	return today.After(settlement.DateOf(j.DueDate.In(loc)))
}

// Sweep force-settles every in-progress job whose due day has passed with
// the cross-day penalty. Jobs already settled are never candidates, so the
// sweep can run at any frequency. A failure on one job is logged and
// counted; the rest of the batch still runs.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	candidates, err := s.jobs.List(store.JobFilter{Status: model.JobInProgress, HasDueDate: true})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	res := &SweepResult{}
	for _, j := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !Expired(j, now, s.loc) {
			continue
		}

		actual := settlement.Points(j.Points, settlement.Penalty)
		settled, err := s.jobs.Settle(store.Settlement{
			JobID:        j.ID,
			From:         model.JobInProgress,
			At:           now,
			ActualPoints: actual,
			Discount:     settlement.Penalty,
			UserID:       j.AssignedTo,
			Description:  "Job expired: " + j.Title,
		})
		if err != nil {
			res.Failed++
			s.logger.Warn("expire job failed", "job_id", j.ID, "error", err)
			continue
		}
		if settled == nil {
			s.logger.Debug("expire job skipped, status changed", "job_id", j.ID)
			continue
		}

		approvedAt := now.UTC()
		discount := settlement.Penalty
		j.Status = model.JobApproved
		j.ApprovedAt = &approvedAt
		j.ActualPoints = &actual
		j.Discount = &discount
		res.SettledJobs = append(res.SettledJobs, j)
		if settled.Transaction != nil {
			res.Transactions = append(res.Transactions, *settled.Transaction)
		}
		res.SettledCount++

		s.logger.Info("job expired", "job_id", j.ID, "title", j.Title, "points", actual, "balance", settled.NewBalance)
	}
	return res, nil
}
