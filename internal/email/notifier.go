package email

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/homebank/internal/calendar"
	"github.com/dukerupert/homebank/internal/model"
)

type userLookup interface {
	GetByID(id int64) (*model.User, error)
}

// JobNotifier mails calendar invites for newly assigned jobs.
type JobNotifier struct {
	client  *Client
	users   userLookup
	baseURL string
}

func NewJobNotifier(client *Client, users userLookup, baseURL string) *JobNotifier {
	return &JobNotifier{client: client, users: users, baseURL: baseURL}
}

func (n *JobNotifier) NotifyJobAssigned(ctx context.Context, j *model.Job, assignee *model.User) error {
	if !n.client.Configured() {
		return nil
	}

	parent, err := n.users.GetByID(j.CreatedBy)
	if err != nil {
		return fmt.Errorf("load job author: %w", err)
	}
	inv := calendar.Invite{
		Job:        j,
		ChildName:  assignee.Name,
		ChildEmail: assignee.Email,
		BaseURL:    n.baseURL,
		Now:        time.Now(),
	}
	if parent != nil {
		inv.ParentName = parent.Name
		inv.ParentEmail = parent.Email
	}

	return n.client.SendJobInvite(ctx,
		assignee.Email,
		assignee.Name,
		j.Title,
		calendar.Description(j, inv.ParentName, n.baseURL),
		calendar.Filename(j),
		calendar.Render(inv),
	)
}
