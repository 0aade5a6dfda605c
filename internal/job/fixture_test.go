package job

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/database"
	"github.com/dukerupert/homebank/internal/logging"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/store"
)

type fixture struct {
	db     *sql.DB
	svc    *Service
	jobs   *store.JobStore
	users  *store.UserStore
	txns   *store.TransactionStore
	clk    *clock.Manual
	parent *model.User
	kid    *model.User
	notify *fakeNotifier
}

func newFixture(t *testing.T, now time.Time, loc *time.Location) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:     db,
		jobs:   store.NewJobStore(db),
		users:  store.NewUserStore(db),
		txns:   store.NewTransactionStore(db),
		clk:    clock.NewManual(now),
		notify: &fakeNotifier{},
	}
	f.svc = NewService(f.jobs, f.users, Config{
		Clock:       f.clk,
		Location:    loc,
		HorizonDays: DefaultHorizonDays,
		Notifier:    f.notify,
		Logger:      logging.Discard(),
	})

	f.parent, err = f.users.Create("mom@example.com", "Mom", "hash", model.RoleParent, nil)
	require.NoError(t, err)
	f.kid = f.addChild(t, "kid@example.com")
	return f
}

func (f *fixture) addChild(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := f.users.Create(email, email, "hash", model.RoleChild, &f.parent.ID)
	require.NoError(t, err)
	return u
}

func (f *fixture) parentActor() Actor {
	return Actor{UserID: f.parent.ID, Role: model.RoleParent}
}

func (f *fixture) kidActor() Actor {
	return Actor{UserID: f.kid.ID, Role: model.RoleChild}
}

func (f *fixture) setPoints(t *testing.T, userID int64, points int) {
	t.Helper()
	_, err := f.db.Exec(`UPDATE users SET points = ? WHERE id = ?`, points, userID)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) int {
	t.Helper()
	u, err := f.users.GetByID(userID)
	require.NoError(t, err)
	return u.Points
}

// createJob creates a job worth points due at due, optionally pre-assigned.
func (f *fixture) createJob(t *testing.T, points int, due *time.Time, assignee *int64) *model.Job {
	t.Helper()
	j, err := f.svc.Create(context.Background(), f.parentActor(), CreateInput{
		Title:      "Wash dishes",
		Points:     points,
		DueDate:    due,
		AssignedTo: assignee,
	})
	require.NoError(t, err)
	return j
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (n *fakeNotifier) NotifyJobAssigned(_ context.Context, j *model.Job, _ *model.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, j.ID)
	return n.err
}

func ptr[T any](v T) *T {
	return &v
}
