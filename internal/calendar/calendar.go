// Package calendar renders a job as an iCalendar invite.
package calendar

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/settlement"
)

const productID = "-//HomeBank//Job Notification//EN"

// Reminders before the due time, most distant first.
var reminders = []struct {
	trigger string
	label   string
}{
	{"-PT1H", "due in 1 hour"},
	{"-PT30M", "due in 30 minutes"},
	{"-PT10M", "due in 10 minutes"},
}

type Invite struct {
	Job         *model.Job
	ChildName   string
	ChildEmail  string
	ParentName  string
	ParentEmail string
	// BaseURL is where the child can open their job list.
	BaseURL string
	Now     time.Time
}

// Render returns the serialized VCALENDAR for inv. Jobs without a due date
// become a zero-length event at Now and carry no reminders.
func Render(inv Invite) string {
	j := inv.Job

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodRequest)
	cal.SetProductId(productID)
	cal.SetXWRCalName("HomeBank jobs")

	event := cal.AddEvent(fmt.Sprintf("homebank-job-%d@homebank.app", j.ID))
	event.SetDtStampTime(inv.Now.UTC())
	event.SetCreatedTime(j.CreatedAt.UTC())
	start := inv.Now.UTC()
	if j.DueDate != nil {
		start = j.DueDate.UTC()
		event.SetEndAt(start)
	}
	event.SetStartAt(start)
	event.SetSummary(j.Title)
	event.SetDescription(Description(j, inv.ParentName, inv.BaseURL))
	event.SetLocation("HomeBank")
	event.SetStatus(ics.ObjectStatusConfirmed)
	if inv.BaseURL != "" {
		event.SetURL(inv.BaseURL + "/my-jobs")
	}
	if inv.ParentEmail != "" {
		event.SetOrganizer(inv.ParentEmail, ics.WithCN(inv.ParentName))
	}
	if inv.ChildEmail != "" {
		event.AddAttendee(inv.ChildEmail,
			ics.CalendarUserTypeIndividual,
			ics.ParticipationStatusNeedsAction,
			ics.ParticipationRoleReqParticipant,
			ics.WithCN(inv.ChildName),
			ics.WithRSVP(true),
		)
	}

	if j.DueDate != nil {
		for _, r := range reminders {
			alarm := event.AddAlarm()
			alarm.SetAction(ics.ActionDisplay)
			alarm.SetTrigger(r.trigger)
			alarm.SetProperty(ics.ComponentPropertyDescription, fmt.Sprintf("%s: %s", j.Title, r.label))
		}
	}

	return cal.Serialize()
}

// Description is the plain-text event body: points, author and, for jobs
// with a deadline, what each level of lateness is worth.
func Description(j *model.Job, parentName, baseURL string) string {
	var b strings.Builder
	if j.Description != "" {
		b.WriteString(j.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Reward: %d points\n", j.Points)
	if parentName != "" {
		fmt.Fprintf(&b, "Assigned by: %s\n", parentName)
	}

	if j.DueDate != nil {
		b.WriteString("\nLateness rules:\n")
		fmt.Fprintf(&b, "- On time: %d points\n", settlement.Points(j.Points, settlement.OnTime))
		fmt.Fprintf(&b, "- Up to 1 hour late: %d points\n", settlement.Points(j.Points, settlement.Late1h))
		fmt.Fprintf(&b, "- Up to 1.5 hours late: %d points\n", settlement.Points(j.Points, settlement.Late90m))
		fmt.Fprintf(&b, "- Up to 2 hours late: %d points\n", settlement.Points(j.Points, settlement.Late2h))
		b.WriteString("- More than 2 hours late: 0 points\n")
		fmt.Fprintf(&b, "- After the due day: %d points deducted\n", j.Points)
	}

	if baseURL != "" {
		fmt.Fprintf(&b, "\nView your jobs: %s/my-jobs", baseURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

var unsafeFilename = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Filename is the attachment name for a job's invite.
func Filename(j *model.Job) string {
	name := strings.Trim(unsafeFilename.ReplaceAllString(j.Title, "-"), "-")
	if name == "" {
		name = fmt.Sprintf("job-%d", j.ID)
	}
	return "HomeBank-" + name + ".ics"
}
