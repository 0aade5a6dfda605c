// Package job owns the job state machine and the two batch operations that
// drive it without a user: the expiry sweep and recurring generation.
package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/store"
)

// DefaultHorizonDays is how far ahead templates are expanded when no
// recurrence end date is set.
const DefaultHorizonDays = 30

// JobStore is the persistence the engine needs. *store.JobStore satisfies it.
type JobStore interface {
	Create(j *model.Job) (*model.Job, error)
	CreateInstance(j *model.Job) (*model.Job, error)
	GetByID(id int64) (*model.Job, error)
	List(f store.JobFilter) ([]model.Job, error)
	ListTemplates() ([]model.Job, error)
	ListInstances(templateID int64) ([]model.Job, error)
	Claim(id, userID int64, at time.Time) (bool, error)
	Submit(id, userID int64, at time.Time) (bool, error)
	Settle(st store.Settlement) (*store.SettleResult, error)
	Delete(id int64) error
}

type UserStore interface {
	GetByID(id int64) (*model.User, error)
}

// Notifier is told when a job is created for a specific child with a
// deadline and an invite was requested.
type Notifier interface {
	NotifyJobAssigned(ctx context.Context, j *model.Job, assignee *model.User) error
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID int64
	Role   model.Role
}

func (a Actor) canManage() bool {
	return a.Role == model.RoleParent || a.Role == model.RoleAdmin
}

type Config struct {
	Clock       clock.Clock
	Location    *time.Location
	HorizonDays int
	Notifier    Notifier
	Logger      *slog.Logger
}

type Service struct {
	jobs     JobStore
	users    UserStore
	clock    clock.Clock
	loc      *time.Location
	horizon  int
	notifier Notifier
	logger   *slog.Logger

	// genMu serializes recurring generation within this process; the
	// unique (parent_job_id, due_date) index covers everything else.
	genMu sync.Mutex
}

func NewService(jobs JobStore, users UserStore, cfg Config) *Service {
	s := &Service{
		jobs:     jobs,
		users:    users,
		clock:    cfg.Clock,
		loc:      cfg.Location,
		horizon:  cfg.HorizonDays,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.horizon <= 0 {
		s.horizon = DefaultHorizonDays
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Location is the timezone calendar days are evaluated in.
func (s *Service) Location() *time.Location {
	return s.loc
}
