// Package scheduler drives the periodic engine operations (expiry sweep,
// recurring generation, cleanup and backup) from cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is one unit of scheduled work. Errors are logged, never fatal.
type TaskFunc func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]TaskFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler evaluating specs in loc. A task that is still
// running when its next slot comes up is skipped, not queued.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		tasks:  make(map[string]TaskFunc),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name on a standard cron spec or a descriptor such
// as "@every 5m". An empty spec leaves the task registered for RunNow only.
func (s *Scheduler) Add(name, spec string, fn TaskFunc) error {
	s.mu.Lock()
	if _, dup := s.tasks[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("task %q already registered", name)
	}
	s.tasks[name] = fn
	s.mu.Unlock()

	if spec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		s.mu.Lock()
		delete(s.tasks, name)
		s.mu.Unlock()
		return fmt.Errorf("schedule %q (%s): %w", name, spec, err)
	}
	s.logger.Info("task scheduled", "task", name, "spec", spec)
	return nil
}

// RunNow runs a registered task synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	fn, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return s.run(name, fn)
}

func (s *Scheduler) run(name string, fn TaskFunc) error {
	start := time.Now()
	err := fn(s.ctx)
	if err != nil {
		s.logger.Error("task failed", "task", name, "duration", time.Since(start), "error", err)
		return err
	}
	s.logger.Debug("task done", "task", name, "duration", time.Since(start))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the context handed to running tasks and waits for them to
// return, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
