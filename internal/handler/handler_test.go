package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/database"
	"github.com/dukerupert/homebank/internal/job"
	"github.com/dukerupert/homebank/internal/logging"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/store"
	"github.com/dukerupert/homebank/internal/websocket"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db       *sql.DB
	clk      *clock.Manual
	hub      *websocket.Hub
	users    *store.UserStore
	sessions *store.SessionStore
	resets   *store.ResetTokenStore
	rewards  *store.RewardStore
	txns     *store.TransactionStore
	svc      *job.Service
	mailer   *fakeMailer

	admin  *model.User
	parent *model.User
	kid    *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := &testEnv{
		db:       db,
		clk:      clock.NewManual(testNow),
		hub:      websocket.NewHub(logging.Discard()),
		users:    store.NewUserStore(db),
		sessions: store.NewSessionStore(db),
		resets:   store.NewResetTokenStore(db),
		rewards:  store.NewRewardStore(db),
		txns:     store.NewTransactionStore(db),
		mailer:   &fakeMailer{},
	}
	e.svc = job.NewService(store.NewJobStore(db), e.users, job.Config{
		Clock:    e.clk,
		Location: time.UTC,
		Logger:   logging.Discard(),
	})

	e.admin = e.createUser(t, "admin@example.com", "password1", model.RoleAdmin, nil)
	e.parent = e.createUser(t, "mom@example.com", "password1", model.RoleParent, nil)
	e.kid = e.createUser(t, "kid@example.com", "password1", model.RoleChild, &e.parent.ID)
	return e
}

func (e *testEnv) createUser(t *testing.T, email, password string, role model.Role, parentID *int64) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u, err := e.users.Create(email, email, hash, role, parentID)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) setPoints(t *testing.T, userID int64, points int) {
	t.Helper()
	if _, err := e.db.Exec(`UPDATE users SET points = ? WHERE id = ?`, points, userID); err != nil {
		t.Fatalf("set points: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, userID int64) int {
	t.Helper()
	u, err := e.users.GetByID(userID)
	if err != nil || u == nil {
		t.Fatalf("get user %d: %v", userID, err)
	}
	return u.Points
}

func as(u *model.User) *auth.AuthContext {
	return &auth.AuthContext{UserID: u.ID, Role: u.Role}
}

// serve routes a single request through a mux registered with pattern so
// path values resolve the way they do in the server.
func serve(t *testing.T, pattern string, h http.HandlerFunc, method, target string, body any, ac *auth.AuthContext) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	if ac != nil {
		req = req.WithContext(auth.WithAuth(req.Context(), *ac))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

type fakeMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]string)
	}
	m.tokens[to] = token
	return nil
}

func (m *fakeMailer) tokenFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
