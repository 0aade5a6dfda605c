package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/homebank/internal/calendar"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/job"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/push"
	"github.com/dukerupert/homebank/internal/store"
	"github.com/dukerupert/homebank/internal/websocket"
)

type userGetter interface {
	GetByID(id int64) (*model.User, error)
}

type jobPusher interface {
	NotifyJob(ctx context.Context, j *model.Job, event push.JobEvent)
}

type JobHandler struct {
	jobs    *job.Service
	users   userGetter
	hub     *websocket.Hub
	push    jobPusher
	clock   clock.Clock
	baseURL string
	logger  *slog.Logger
}

func NewJobHandler(svc *job.Service, users userGetter, hub *websocket.Hub, pusher jobPusher, clk clock.Clock, baseURL string, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobs: svc, users: users, hub: hub, push: pusher, clock: clk, baseURL: baseURL, logger: logger}
}

// notify sends the push notification off the request path.
func (h *JobHandler) notify(r *http.Request, j *model.Job, event push.JobEvent) {
	if h.push == nil {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	jc := *j
	go h.push.NotifyJob(ctx, &jc, event)
}

func (h *JobHandler) broadcast(j *model.Job, action websocket.Action) {
	if h.hub == nil {
		return
	}
	extra := map[string]any{"status": j.Status.String()}
	if j.AssignedTo != nil {
		extra["assigned_to"] = *j.AssignedTo
	}
	h.hub.Broadcast(websocket.NewMessage(websocket.EntityJob, action, j.ID, extra))
}

func (h *JobHandler) notifyBalance(userID int64, balance int) {
	if h.hub == nil {
		return
	}
	h.hub.SendToUsers(websocket.NewMessage(websocket.EntityPoints, websocket.ActionUpdated, userID,
		map[string]any{"balance": balance}), userID)
}

type jobRequest struct {
	Title              string                  `json:"title"`
	Description        string                  `json:"description"`
	Points             int                     `json:"points"`
	AssignedTo         *int64                  `json:"assigned_to"`
	DueDate            *time.Time              `json:"due_date"`
	IsRecurring        bool                    `json:"is_recurring"`
	RecurringPattern   model.RecurrencePattern `json:"recurring_pattern"`
	RecurringDays      []time.Weekday          `json:"recurring_days"`
	RecurringEndDate   *time.Time              `json:"recurring_end_date"`
	SendCalendarInvite bool                    `json:"send_calendar_invite"`
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	j, err := h.jobs.Create(r.Context(), actorFrom(r), job.CreateInput{
		Title:              req.Title,
		Description:        req.Description,
		Points:             req.Points,
		AssignedTo:         req.AssignedTo,
		DueDate:            req.DueDate,
		IsRecurring:        req.IsRecurring,
		RecurringPattern:   req.RecurringPattern,
		RecurringDays:      req.RecurringDays,
		RecurringEndDate:   req.RecurringEndDate,
		SendCalendarInvite: req.SendCalendarInvite,
	})
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to create job")
		return
	}

	h.broadcast(j, websocket.ActionCreated)
	if j.AssignedTo != nil && !j.IsTemplate() {
		h.notify(r, j, push.JobAssigned)
	}
	writeJSON(w, http.StatusCreated, j)
}

// List supports ?status=, ?assigned_to= and ?unassigned=true.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	var f store.JobFilter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		status, err := model.ParseJobStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		f.Status = status
	}
	if s := q.Get("assigned_to"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid assigned_to")
			return
		}
		f.AssignedTo = &id
	}
	f.Unassigned = q.Get("unassigned") == "true"

	jobs, err := h.jobs.List(f)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.jobs.Delete(actorFrom(r), id); err != nil {
		writeDomainError(w, h.logger, err, "failed to delete job")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage(websocket.EntityJob, websocket.ActionDeleted, id, nil))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobs.Claim(actorFrom(r), id)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to claim job")
		return
	}

	h.broadcast(j, websocket.ActionClaimed)
	writeJSON(w, http.StatusOK, j)
}

func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobs.Submit(actorFrom(r), id)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to submit job")
		return
	}

	h.broadcast(j, websocket.ActionSubmitted)
	h.notify(r, j, push.JobSubmitted)
	writeJSON(w, http.StatusOK, j)
}

func (h *JobHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	res, err := h.jobs.Approve(actorFrom(r), id)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to approve job")
		return
	}

	h.broadcast(res.Job, websocket.ActionApproved)
	h.notify(r, res.Job, push.JobApproved)
	if res.Job.AssignedTo != nil {
		h.notifyBalance(*res.Job.AssignedTo, res.NewBalance)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *JobHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.jobs.Sweep(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to sweep expired jobs")
		return
	}

	for i := range res.SettledJobs {
		h.broadcast(&res.SettledJobs[i], websocket.ActionExpired)
		h.notify(r, &res.SettledJobs[i], push.JobExpired)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *JobHandler) Generate(w http.ResponseWriter, r *http.Request) {
	res, err := h.jobs.GenerateRecurring(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to generate recurring jobs")
		return
	}

	if res.GeneratedCount > 0 && h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage(websocket.EntityJob, websocket.ActionGenerated, 0,
			map[string]any{"count": res.GeneratedCount}))
	}
	writeJSON(w, http.StatusOK, res)
}

// Calendar serves the job as a downloadable .ics invite.
func (h *JobHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to get job")
		return
	}

	inv := calendar.Invite{Job: j, BaseURL: h.baseURL, Now: h.clock.Now()}
	if parent, err := h.users.GetByID(j.CreatedBy); err == nil && parent != nil {
		inv.ParentName = parent.Name
		inv.ParentEmail = parent.Email
	}
	if j.AssignedTo != nil {
		if child, err := h.users.GetByID(*j.AssignedTo); err == nil && child != nil {
			inv.ChildName = child.Name
			inv.ChildEmail = child.Email
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calendar.Filename(j)))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(calendar.Render(inv)))
}
