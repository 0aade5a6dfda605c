package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/homebank/internal/job"
	"github.com/dukerupert/homebank/internal/logging"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/push"
)

func newTestJobHandler(e *testEnv) *JobHandler {
	return NewJobHandler(e.svc, e.users, e.hub, nil, e.clk, "https://bank.example.com", logging.Discard())
}

type pushed struct {
	jobID int64
	event push.JobEvent
}

type chanPusher chan pushed

func (c chanPusher) NotifyJob(_ context.Context, j *model.Job, event push.JobEvent) {
	c <- pushed{j.ID, event}
}

func (c chanPusher) next(t *testing.T) pushed {
	t.Helper()
	select {
	case p := <-c:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push notification")
		return pushed{}
	}
}

func TestJobPushNotifications(t *testing.T) {
	e := newTestEnv(t)
	pusher := make(chanPusher, 4)
	h := NewJobHandler(e.svc, e.users, e.hub, pusher, e.clk, "https://bank.example.com", logging.Discard())

	rec := serve(t, "POST /api/jobs", h.Create, "POST", "/api/jobs", map[string]any{
		"title":       "Dishes",
		"points":      10,
		"due_date":    testNow.Add(24 * time.Hour),
		"assigned_to": e.kid.ID,
	}, as(e.parent))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	j := decode[model.Job](t, rec)
	if got := pusher.next(t); got != (pushed{j.ID, push.JobAssigned}) {
		t.Errorf("push = %+v, want assigned", got)
	}

	rec = serve(t, "POST /api/jobs/{id}/submit", h.Submit, "POST", jobPath(&j, "submit"), nil, as(e.kid))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status %d: %s", rec.Code, rec.Body.String())
	}
	if got := pusher.next(t); got != (pushed{j.ID, push.JobSubmitted}) {
		t.Errorf("push = %+v, want submitted", got)
	}

	rec = serve(t, "POST /api/jobs/{id}/approve", h.Approve, "POST", jobPath(&j, "approve"), nil, as(e.parent))
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d: %s", rec.Code, rec.Body.String())
	}
	if got := pusher.next(t); got != (pushed{j.ID, push.JobApproved}) {
		t.Errorf("push = %+v, want approved", got)
	}
}

func (e *testEnv) createJob(t *testing.T, body map[string]any) *model.Job {
	t.Helper()
	h := newTestJobHandler(e)
	rec := serve(t, "POST /api/jobs", h.Create, "POST", "/api/jobs", body, as(e.parent))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job: status %d: %s", rec.Code, rec.Body.String())
	}
	j := decode[model.Job](t, rec)
	return &j
}

func TestJobCreate(t *testing.T) {
	e := newTestEnv(t)
	due := testNow.Add(24 * time.Hour)

	j := e.createJob(t, map[string]any{
		"title":       "Mow lawn",
		"points":      50,
		"due_date":    due,
		"assigned_to": e.kid.ID,
	})

	if j.Status != model.JobInProgress {
		t.Errorf("status = %v, want in_progress", j.Status)
	}
	if j.AssignedTo == nil || *j.AssignedTo != e.kid.ID {
		t.Errorf("assigned_to = %v, want %d", j.AssignedTo, e.kid.ID)
	}
	if j.DueDate == nil || !j.DueDate.Equal(due) {
		t.Errorf("due_date = %v, want %v", j.DueDate, due)
	}
}

func TestJobCreateErrors(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)

	tests := []struct {
		name string
		body any
		user *model.User
		want int
	}{
		{"invalid json", "{", e.parent, http.StatusBadRequest},
		{"missing title", map[string]any{"points": 10}, e.parent, http.StatusBadRequest},
		{"zero points", map[string]any{"title": "x", "points": 0}, e.parent, http.StatusBadRequest},
		{"bad pattern", map[string]any{"title": "x", "points": 5, "is_recurring": true, "recurring_pattern": "hourly", "due_date": testNow}, e.parent, http.StatusBadRequest},
		{"child creates", map[string]any{"title": "x", "points": 5}, e.kid, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, "POST /api/jobs", h.Create, "POST", "/api/jobs", tt.body, as(tt.user))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestJobListFilters(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)

	e.createJob(t, map[string]any{"title": "Open", "points": 10})
	e.createJob(t, map[string]any{"title": "Mine", "points": 10, "assigned_to": e.kid.ID})

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Open", "Mine"}},
		{"?status=pending", []string{"Open"}},
		{"?status=in_progress", []string{"Mine"}},
		{"?unassigned=true", []string{"Open"}},
	}
	for _, tt := range tests {
		rec := serve(t, "GET /api/jobs", h.List, "GET", "/api/jobs"+tt.query, nil, as(e.kid))
		if rec.Code != http.StatusOK {
			t.Fatalf("list %q: status %d", tt.query, rec.Code)
		}
		jobs := decode[[]model.Job](t, rec)
		if len(jobs) != len(tt.want) {
			t.Errorf("list %q: got %d jobs, want %d", tt.query, len(jobs), len(tt.want))
		}
	}

	rec := serve(t, "GET /api/jobs", h.List, "GET", "/api/jobs?status=bogus", nil, as(e.kid))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status: got %d, want 400", rec.Code)
	}
}

func TestJobGetNotFound(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)

	rec := serve(t, "GET /api/jobs/{id}", h.Get, "GET", "/api/jobs/999", nil, as(e.kid))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	rec = serve(t, "GET /api/jobs/{id}", h.Get, "GET", "/api/jobs/abc", nil, as(e.kid))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestJobClaimSubmitApprove(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)
	due := testNow.Add(2 * time.Hour)
	j := e.createJob(t, map[string]any{"title": "Dishes", "points": 40, "due_date": due})

	rec := serve(t, "POST /api/jobs/{id}/claim", h.Claim, "POST", jobPath(j, "claim"), nil, as(e.kid))
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, "POST /api/jobs/{id}/claim", h.Claim, "POST", jobPath(j, "claim"), nil, as(e.kid))
	if rec.Code != http.StatusConflict {
		t.Errorf("second claim: status %d, want 409", rec.Code)
	}

	e.clk.Advance(time.Hour)
	rec = serve(t, "POST /api/jobs/{id}/submit", h.Submit, "POST", jobPath(j, "submit"), nil, as(e.kid))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, "POST /api/jobs/{id}/approve", h.Approve, "POST", jobPath(j, "approve"), nil, as(e.kid))
	if rec.Code != http.StatusForbidden {
		t.Errorf("child approve: status %d, want 403", rec.Code)
	}

	rec = serve(t, "POST /api/jobs/{id}/approve", h.Approve, "POST", jobPath(j, "approve"), nil, as(e.parent))
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[job.ApproveResult](t, rec)
	if res.PointsAwarded != 40 || res.DiscountPercent != 100 {
		t.Errorf("awarded %d at %d%%, want 40 at 100%%", res.PointsAwarded, res.DiscountPercent)
	}
	if got := e.balance(t, e.kid.ID); got != 40 {
		t.Errorf("balance = %d, want 40", got)
	}

	rec = serve(t, "POST /api/jobs/{id}/approve", h.Approve, "POST", jobPath(j, "approve"), nil, as(e.parent))
	if rec.Code != http.StatusConflict {
		t.Errorf("second approve: status %d, want 409", rec.Code)
	}
	if got := e.balance(t, e.kid.ID); got != 40 {
		t.Errorf("balance after second approve = %d, want 40", got)
	}
}

func TestJobSubmitByOtherChild(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)
	other := e.createUser(t, "sis@example.com", "password1", model.RoleChild, &e.parent.ID)
	j := e.createJob(t, map[string]any{"title": "Dishes", "points": 10, "assigned_to": e.kid.ID})

	rec := serve(t, "POST /api/jobs/{id}/submit", h.Submit, "POST", jobPath(j, "submit"), nil, as(other))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestJobDelete(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)
	j := e.createJob(t, map[string]any{"title": "Dishes", "points": 10})

	rec := serve(t, "DELETE /api/jobs/{id}", h.Delete, "DELETE", jobPath(j, ""), nil, as(e.kid))
	if rec.Code != http.StatusForbidden {
		t.Errorf("child delete: status %d, want 403", rec.Code)
	}
	rec = serve(t, "DELETE /api/jobs/{id}", h.Delete, "DELETE", jobPath(j, ""), nil, as(e.parent))
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d, want 204", rec.Code)
	}
	rec = serve(t, "DELETE /api/jobs/{id}", h.Delete, "DELETE", jobPath(j, ""), nil, as(e.parent))
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete again: status %d, want 404", rec.Code)
	}
}

func TestJobSweep(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)
	e.createJob(t, map[string]any{
		"title": "Homework", "points": 60, "assigned_to": e.kid.ID, "due_date": testNow.Add(time.Hour),
	})
	e.setPoints(t, e.kid.ID, 100)

	e.clk.Advance(48 * time.Hour)
	rec := serve(t, "POST /api/jobs/sweep", h.Sweep, "POST", "/api/jobs/sweep", nil, as(e.parent))
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: status %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[job.SweepResult](t, rec)
	if res.SettledCount != 1 {
		t.Errorf("settled = %d, want 1", res.SettledCount)
	}
	if got := e.balance(t, e.kid.ID); got != 40 {
		t.Errorf("balance = %d, want 40", got)
	}

	rec = serve(t, "POST /api/jobs/sweep", h.Sweep, "POST", "/api/jobs/sweep", nil, as(e.parent))
	if res := decode[job.SweepResult](t, rec); res.SettledCount != 0 {
		t.Errorf("second sweep settled %d, want 0", res.SettledCount)
	}
}

func TestJobGenerate(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)
	e.createJob(t, map[string]any{
		"title":              "Feed cat",
		"points":             5,
		"due_date":           testNow.Add(6 * time.Hour),
		"is_recurring":       true,
		"recurring_pattern":  "daily",
		"recurring_end_date": testNow.Add(72 * time.Hour),
	})

	rec := serve(t, "POST /api/jobs/generate", h.Generate, "POST", "/api/jobs/generate", nil, as(e.parent))
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: status %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[job.GenerateResult](t, rec)
	if res.GeneratedCount == 0 {
		t.Fatal("expected instances to be generated")
	}

	rec = serve(t, "POST /api/jobs/generate", h.Generate, "POST", "/api/jobs/generate", nil, as(e.parent))
	if res := decode[job.GenerateResult](t, rec); res.GeneratedCount != 0 {
		t.Errorf("second run generated %d, want 0", res.GeneratedCount)
	}
}

func TestJobCalendar(t *testing.T) {
	e := newTestEnv(t)
	h := newTestJobHandler(e)
	j := e.createJob(t, map[string]any{
		"title": "Clean room", "points": 20, "assigned_to": e.kid.ID, "due_date": testNow.Add(24 * time.Hour),
	})

	rec := serve(t, "GET /api/jobs/{id}/calendar.ics", h.Calendar, "GET", jobPath(j, "calendar.ics"), nil, as(e.kid))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, ".ics") {
		t.Errorf("content disposition = %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "BEGIN:VCALENDAR") {
		t.Error("body is not a calendar")
	}
}

func jobPath(j *model.Job, action string) string {
	p := "/api/jobs/" + itoa(j.ID)
	if action != "" {
		p += "/" + action
	}
	return p
}
