package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/homebank/internal/backup"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/job"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/push"
	"github.com/dukerupert/homebank/internal/websocket"
)

const (
	TaskSweep    = "sweep"
	TaskGenerate = "generate"
	TaskCleanup  = "cleanup"
	TaskBackup   = "backup"
)

type jobRunner interface {
	Sweep(ctx context.Context) (*job.SweepResult, error)
	GenerateRecurring(ctx context.Context) (*job.GenerateResult, error)
}

type expirer interface {
	DeleteExpired(now time.Time) (int64, error)
}

type jobNotifier interface {
	NotifyJob(ctx context.Context, j *model.Job, event push.JobEvent)
}

type limiterCleaner interface {
	Cleanup() int
}

// Deps are the collaborators the built-in tasks drive. Hub, Push, Limiter
// and Backup are optional.
type Deps struct {
	Jobs        jobRunner
	Sessions    expirer
	ResetTokens expirer
	Limiter     limiterCleaner
	Backup      *backup.Manager
	Hub         *websocket.Hub
	Push        jobNotifier
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Schedules holds one cron spec per built-in task; empty disables the
// timer but keeps the task available to RunNow.
type Schedules struct {
	Sweep    string
	Generate string
	Cleanup  string
	Backup   string
}

// Register adds the sweep, generate, cleanup and (when configured) backup
// tasks to s.
func Register(s *Scheduler, d Deps, sch Schedules) error {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	err := errors.Join(
		s.Add(TaskSweep, sch.Sweep, sweepTask(d)),
		s.Add(TaskGenerate, sch.Generate, generateTask(d)),
		s.Add(TaskCleanup, sch.Cleanup, cleanupTask(d)),
	)
	if err != nil {
		return err
	}
	if d.Backup != nil && d.Backup.Enabled() {
		return s.Add(TaskBackup, sch.Backup, backupTask(d))
	}
	return nil
}

func sweepTask(d Deps) TaskFunc {
	return func(ctx context.Context) error {
		res, err := d.Jobs.Sweep(ctx)
		if err != nil {
			return err
		}
		if res.SettledCount > 0 || res.Failed > 0 {
			d.Logger.Info("expired jobs settled", "count", res.SettledCount, "failed", res.Failed)
		}
		for i := range res.SettledJobs {
			j := &res.SettledJobs[i]
			if d.Hub != nil {
				d.Hub.Broadcast(websocket.NewMessage(websocket.EntityJob, websocket.ActionExpired, j.ID, nil))
			}
			if d.Push != nil {
				d.Push.NotifyJob(ctx, j, push.JobExpired)
			}
		}
		return nil
	}
}

func generateTask(d Deps) TaskFunc {
	return func(ctx context.Context) error {
		res, err := d.Jobs.GenerateRecurring(ctx)
		if err != nil {
			return err
		}
		if res.GeneratedCount > 0 && d.Hub != nil {
			d.Hub.Broadcast(websocket.NewMessage(websocket.EntityJob, websocket.ActionGenerated, 0,
				map[string]any{"count": res.GeneratedCount}))
		}
		return nil
	}
}

func cleanupTask(d Deps) TaskFunc {
	return func(ctx context.Context) error {
		now := d.Clock.Now()
		var errs []error

		if d.Sessions != nil {
			n, err := d.Sessions.DeleteExpired(now)
			if err != nil {
				errs = append(errs, err)
			} else if n > 0 {
				d.Logger.Info("expired sessions removed", "count", n)
			}
		}
		if d.ResetTokens != nil {
			n, err := d.ResetTokens.DeleteExpired(now)
			if err != nil {
				errs = append(errs, err)
			} else if n > 0 {
				d.Logger.Info("expired reset tokens removed", "count", n)
			}
		}
		if d.Limiter != nil {
			if n := d.Limiter.Cleanup(); n > 0 {
				d.Logger.Debug("rate limiter entries pruned", "count", n)
			}
		}
		return errors.Join(errs...)
	}
}

func backupTask(d Deps) TaskFunc {
	return func(ctx context.Context) error {
		if _, err := d.Backup.Run(ctx); err != nil {
			return err
		}
		_, err := d.Backup.Cleanup(ctx)
		return err
	}
}
