package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/homebank/internal/model"
)

// JobEvent names the job transition a notification is about.
type JobEvent string

const (
	JobAssigned  JobEvent = "assigned"
	JobSubmitted JobEvent = "submitted"
	JobApproved  JobEvent = "approved"
	JobExpired   JobEvent = "expired"
)

type subscriptionStore interface {
	ListByUser(userID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// Dispatcher fans a notification out to every device a user has
// subscribed and prunes subscriptions the push service has dropped.
type Dispatcher struct {
	service *Service
	subs    subscriptionStore
	logger  *slog.Logger
}

// NewDispatcher accepts a nil service; every notification is then a no-op.
func NewDispatcher(svc *Service, subs subscriptionStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{service: svc, subs: subs, logger: logger}
}

func (d *Dispatcher) Enabled() bool {
	return d != nil && d.service != nil
}

func (d *Dispatcher) PublicKey() string {
	if !d.Enabled() {
		return ""
	}
	return d.service.VAPIDPublicKey()
}

// NotifyUser delivers payload to each of the user's devices and returns
// how many accepted it.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID int64, payload Payload) (int, error) {
	if !d.Enabled() {
		return 0, nil
	}

	subs, err := d.subs.ListByUser(userID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	sent := 0
	for i := range subs {
		sub := &subs[i]
		err := d.service.Send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrExpired):
			d.logger.Info("removing expired push subscription", "user_id", userID, "subscription_id", sub.ID)
			if err := d.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				d.logger.Error("delete expired subscription", "error", err)
			}
		default:
			d.logger.Warn("push delivery failed", "user_id", userID, "subscription_id", sub.ID, "error", err)
		}
	}
	return sent, nil
}

// NotifyJob tells the user a job transition concerns: the assignee for
// assignment, approval and expiry, the author for a submission.
func (d *Dispatcher) NotifyJob(ctx context.Context, j *model.Job, event JobEvent) {
	if !d.Enabled() {
		return
	}

	recipient, payload, ok := jobPayload(j, event)
	if !ok {
		return
	}
	if _, err := d.NotifyUser(ctx, recipient, payload); err != nil {
		d.logger.Error("notify job", "job_id", j.ID, "event", event, "error", err)
	}
}

func jobPayload(j *model.Job, event JobEvent) (int64, Payload, bool) {
	p := Payload{
		URL: fmt.Sprintf("/jobs/%d", j.ID),
		Tag: fmt.Sprintf("job-%d", j.ID),
	}

	switch event {
	case JobAssigned:
		if j.AssignedTo == nil {
			return 0, p, false
		}
		p.Title = "New job"
		p.Body = fmt.Sprintf("%s is yours, worth %d points", j.Title, j.Points)
		return *j.AssignedTo, p, true
	case JobSubmitted:
		p.Title = "Job ready for review"
		p.Body = fmt.Sprintf("%s was marked done", j.Title)
		return j.CreatedBy, p, true
	case JobApproved:
		if j.AssignedTo == nil {
			return 0, p, false
		}
		p.Title = "Job approved"
		earned := 0
		if j.ActualPoints != nil {
			earned = *j.ActualPoints
		}
		p.Body = fmt.Sprintf("%s earned you %d points", j.Title, earned)
		return *j.AssignedTo, p, true
	case JobExpired:
		if j.AssignedTo == nil {
			return 0, p, false
		}
		p.Title = "Job expired"
		p.Body = fmt.Sprintf("%s was not finished in time", j.Title)
		return *j.AssignedTo, p, true
	}
	return 0, p, false
}
