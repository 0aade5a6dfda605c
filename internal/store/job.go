package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/homebank/internal/model"
)

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func scanJob(scanner rowScanner) (*model.Job, error) {
	var j model.Job
	var assignedTo, parentID, actualPoints, discount sql.NullInt64
	var assignedAt, dueDate, completedAt, approvedAt, endDate sql.NullTime
	var isRecurring, sendInvite int
	var pattern, days, status string

	err := scanner.Scan(
		&j.ID, &j.Title, &j.Description, &j.Points, &j.CreatedBy,
		&assignedTo, &assignedAt, &dueDate, &j.CreatedAt, &completedAt, &approvedAt,
		&actualPoints, &discount, &isRecurring, &pattern, &days, &endDate,
		&parentID, &sendInvite, &status,
	)
	if err != nil {
		return nil, err
	}

	j.AssignedTo = int64Ptr(assignedTo)
	j.AssignedAt = timePtr(assignedAt)
	j.DueDate = timePtr(dueDate)
	j.CreatedAt = j.CreatedAt.UTC()
	j.CompletedAt = timePtr(completedAt)
	j.ApprovedAt = timePtr(approvedAt)
	j.ActualPoints = intPtr(actualPoints)
	j.Discount = intPtr(discount)
	j.IsRecurring = isRecurring != 0
	j.RecurringPattern = model.RecurrencePattern(pattern)
	j.RecurringEndDate = timePtr(endDate)
	j.ParentJobID = int64Ptr(parentID)
	j.SendCalendarInvite = sendInvite != 0

	if j.RecurringDays, err = decodeWeekdays(days); err != nil {
		return nil, err
	}
	if j.Status, err = model.ParseJobStatus(status); err != nil {
		return nil, err
	}
	return &j, nil
}

const jobCols = `id, title, description, points, created_by,
	assigned_to, assigned_at, due_date, created_at, completed_at, approved_at,
	actual_points, discount, is_recurring, recurring_pattern, recurring_days, recurring_end_date,
	parent_job_id, send_calendar_invite, status`

const jobInsert = `INSERT INTO jobs (title, description, points, created_by,
	assigned_to, assigned_at, due_date, created_at,
	is_recurring, recurring_pattern, recurring_days, recurring_end_date,
	parent_job_id, send_calendar_invite, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func jobInsertArgs(j *model.Job) []any {
	return []any{
		j.Title, j.Description, j.Points, j.CreatedBy,
		nullInt64(j.AssignedTo), nullTime(j.AssignedAt), nullTime(j.DueDate), j.CreatedAt.UTC(),
		boolInt(j.IsRecurring), string(j.RecurringPattern), encodeWeekdays(j.RecurringDays), nullTime(j.RecurringEndDate),
		nullInt64(j.ParentJobID), boolInt(j.SendCalendarInvite), j.Status.String(),
	}
}

// Create inserts j as given and returns the stored row. Settlement fields
// are never written here.
func (s *JobStore) Create(j *model.Job) (*model.Job, error) {
	result, err := s.db.Exec(jobInsert, jobInsertArgs(j)...)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// CreateInstance inserts a generated instance unless one already exists for
// the same template and due date. It returns nil, nil when the row was
// skipped.
func (s *JobStore) CreateInstance(j *model.Job) (*model.Job, error) {
	if j.ParentJobID == nil || j.DueDate == nil {
		return nil, fmt.Errorf("insert instance: parent and due date required")
	}
	result, err := s.db.Exec(jobInsert+` ON CONFLICT DO NOTHING`, jobInsertArgs(j)...)
	if err != nil {
		return nil, fmt.Errorf("insert instance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *JobStore) GetByID(id int64) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobCols+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// JobFilter narrows List. Zero fields match everything.
type JobFilter struct {
	Status     model.JobStatus
	AssignedTo *int64
	CreatedBy  *int64
	Unassigned bool
	HasDueDate bool
}

// List returns jobs matching f, ordered by due date (undated last), then id.
func (s *JobStore) List(f JobFilter) ([]model.Job, error) {
	var where []string
	var args []any
	if f.Status != 0 {
		where = append(where, "status = ?")
		args = append(args, f.Status.String())
	}
	if f.AssignedTo != nil {
		where = append(where, "assigned_to = ?")
		args = append(args, *f.AssignedTo)
	}
	if f.CreatedBy != nil {
		where = append(where, "created_by = ?")
		args = append(args, *f.CreatedBy)
	}
	if f.Unassigned {
		where = append(where, "assigned_to IS NULL")
	}
	if f.HasDueDate {
		where = append(where, "due_date IS NOT NULL")
	}

	q := `SELECT ` + jobCols + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY due_date IS NULL, due_date ASC, id ASC`

	return s.query(q, args...)
}

// ListTemplates returns every recurring definition.
func (s *JobStore) ListTemplates() ([]model.Job, error) {
	return s.query(`SELECT ` + jobCols + ` FROM jobs WHERE is_recurring = 1 AND parent_job_id IS NULL ORDER BY id ASC`)
}

// ListInstances returns the jobs generated from templateID.
func (s *JobStore) ListInstances(templateID int64) ([]model.Job, error) {
	return s.query(`SELECT `+jobCols+` FROM jobs WHERE parent_job_id = ? ORDER BY due_date ASC`, templateID)
}

func (s *JobStore) query(q string, args ...any) ([]model.Job, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// Claim moves a pending job to in_progress for userID. It reports false when
// the job was no longer pending, so at most one concurrent claim wins.
func (s *JobStore) Claim(id, userID int64, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE jobs SET status = ?, assigned_to = ?, assigned_at = ? WHERE id = ? AND status = ?`,
		model.JobInProgress.String(), userID, at.UTC(), id, model.JobPending.String(),
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return applied(result)
}

// Submit moves an in_progress job held by userID to completed.
func (s *JobStore) Submit(id, userID int64, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status = ? AND assigned_to = ?`,
		model.JobCompleted.String(), at.UTC(), id, model.JobInProgress.String(), userID,
	)
	if err != nil {
		return false, fmt.Errorf("submit job: %w", err)
	}
	return applied(result)
}

// Settlement describes the terminal write for a job: its recorded outcome
// and the ledger entry for the assignee, if any.
type Settlement struct {
	JobID        int64
	From         model.JobStatus
	At           time.Time
	ActualPoints int
	Discount     int
	UserID       *int64
	Description  string
}

// SettleResult is returned when a settlement was applied.
type SettleResult struct {
	Transaction *model.PointTransaction
	NewBalance  int
}

// Settle approves the job and credits or debits the assignee in one
// transaction. The balance never drops below zero; the ledger entry keeps
// the full signed amount. It returns nil, nil when the job was not in
// st.From anymore.
func (s *JobStore) Settle(st Settlement) (*SettleResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback()

	at := st.At.UTC()
	result, err := tx.Exec(
		`UPDATE jobs SET status = ?, approved_at = ?, actual_points = ?, discount = ? WHERE id = ? AND status = ?`,
		model.JobApproved.String(), at, st.ActualPoints, st.Discount, st.JobID, st.From.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("approve job: %w", err)
	}
	ok, err := applied(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	res := &SettleResult{}
	if st.UserID != nil {
		balance, err := adjustPoints(tx, *st.UserID, st.ActualPoints, at)
		if err != nil {
			return nil, err
		}
		jobID := st.JobID
		txn, err := insertTransaction(tx, model.PointTransaction{
			UserID:      *st.UserID,
			Amount:      st.ActualPoints,
			Type:        model.TransactionEarn,
			Description: st.Description,
			RelatedID:   &jobID,
			CreatedAt:   at,
		})
		if err != nil {
			return nil, err
		}
		res.Transaction = txn
		res.NewBalance = balance
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settle: %w", err)
	}
	return res, nil
}

func (s *JobStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func applied(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
