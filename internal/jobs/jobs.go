// Package jobs stores scheduled booking jobs: one row per "grab this
// venue/field/period when the window opens" goal.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/db"
)

const (
	StatusActive = "active"
	StatusBooked = "booked"
	StatusFailed = "failed"
)

type Job struct {
	ID     int64
	UserID int64
	Name   string

	VenueNo        string
	FieldTypeNo    string
	TimePeriod     booking.TimePeriod
	DateOffset     int
	PreferredTimes []string

	// Attempt window (inclusive start, inclusive end) and pacing.
	WindowStartAt time.Time
	WindowEndAt   time.Time
	IntervalSec   int
	MaxAttempts   int

	Status        string
	AttemptCount  int
	LastAttemptAt *time.Time
	BookedAt      *time.Time
	BookedField   *string
	BookedBegin   *string
	BookedEnd     *string
	LastError     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (j Job) Query() booking.Query {
	return booking.Query{
		DateOffset:  j.DateOffset,
		TimePeriod:  j.TimePeriod,
		VenueNo:     j.VenueNo,
		FieldTypeNo: j.FieldTypeNo,
	}
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("name required")
	}
	if err := j.Query().Validate(); err != nil {
		return err
	}
	if j.WindowEndAt.Before(j.WindowStartAt) || j.WindowEndAt.Equal(j.WindowStartAt) {
		return fmt.Errorf("window end must be after window start")
	}
	if j.IntervalSec < 1 {
		return fmt.Errorf("interval seconds must be >= 1")
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1")
	}
	return nil
}

// NextAttemptAt is when the scheduler may try this job again.
func (j Job) NextAttemptAt() time.Time {
	if j.LastAttemptAt == nil {
		return j.WindowStartAt
	}
	return j.LastAttemptAt.Add(time.Duration(j.IntervalSec) * time.Second)
}

// Exhausted reports whether the job has burned its attempt budget.
func (j Job) Exhausted() bool {
	return j.AttemptCount >= j.MaxAttempts
}

// Attempt is one recorded booking cycle.
type Attempt struct {
	ID          int64
	JobID       int64
	Success     bool
	FieldName   string
	BeginTime   string
	Detail      string
	AttemptedAt time.Time
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

const jobColumns = `id,user_id,name,venue_no,field_type_no,time_period,date_offset,preferred_times,
window_start_at,window_end_at,interval_seconds,max_attempts,status,attempt_count,
last_attempt_at,booked_at,booked_field,booked_begin,booked_end,last_error,created_at,updated_at`

func (r *Repo) Create(ctx context.Context, j Job) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO booking_jobs(user_id,name,venue_no,field_type_no,time_period,date_offset,preferred_times,
window_start_at,window_end_at,interval_seconds,max_attempts,status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'active')
RETURNING id`,
		j.UserID, j.Name, j.VenueNo, j.FieldTypeNo, int(j.TimePeriod), j.DateOffset,
		strings.Join(j.PreferredTimes, ","), j.WindowStartAt, j.WindowEndAt, j.IntervalSec, j.MaxAttempts,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) ListByUser(ctx context.Context, userID int64) ([]Job, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+jobColumns+`
FROM booking_jobs
WHERE user_id=$1
ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *Repo) GetByIDForUser(ctx context.Context, id, userID int64) (Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `
SELECT `+jobColumns+`
FROM booking_jobs
WHERE id=$1 AND user_id=$2`, id, userID))
	if err != nil {
		return Job{}, db.WrapNotFound(err)
	}
	return j, nil
}

// DueJobs returns active jobs inside their window that still have attempts
// left.
func (r *Repo) DueJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+jobColumns+`
FROM booking_jobs
WHERE status='active'
  AND now() >= window_start_at
  AND now() <= window_end_at
  AND attempt_count < max_attempts
ORDER BY window_start_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// FailExpired retires active jobs whose window closed before another
// attempt could run, so they don't linger as active on the dashboard.
func (r *Repo) FailExpired(ctx context.Context) error {
	return r.db.Exec(ctx, `
UPDATE booking_jobs
SET status='failed', last_error='attempt window ended without success', updated_at=now()
WHERE status='active' AND window_end_at < now()`)
}

func (r *Repo) SetStatus(ctx context.Context, jobID int64, status string, lastErr *string) error {
	return r.db.Exec(ctx,
		`UPDATE booking_jobs SET status=$2, last_error=$3, updated_at=now() WHERE id=$1`,
		jobID, status, lastErr)
}

// MarkAttempt records one cycle in booking_attempts and rolls the job
// forward: a success books the job, a failure bumps the attempt counter.
func (r *Repo) MarkAttempt(ctx context.Context, jobID int64, slot booking.Slot, success bool, detail string) error {
	if err := r.db.Exec(ctx, `
INSERT INTO booking_attempts(job_id, success, field_name, begin_time, detail)
VALUES ($1,$2,$3,$4,$5)`,
		jobID, success, slot.FieldName, slot.BeginTime, detail); err != nil {
		return err
	}
	if success {
		return r.db.Exec(ctx, `
UPDATE booking_jobs
SET status='booked', attempt_count=attempt_count+1, last_attempt_at=now(), booked_at=now(),
    booked_field=$2, booked_begin=$3, booked_end=$4, last_error=NULL, updated_at=now()
WHERE id=$1`, jobID, slot.FieldName, slot.BeginTime, slot.EndTime)
	}
	return r.db.Exec(ctx, `
UPDATE booking_jobs
SET attempt_count=attempt_count+1, last_attempt_at=now(), last_error=$2, updated_at=now()
WHERE id=$1`, jobID, detail)
}

func (r *Repo) ListAttempts(ctx context.Context, jobID int64, limit int) ([]Attempt, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, job_id, success, field_name, begin_time, detail, attempted_at
FROM booking_attempts
WHERE job_id=$1
ORDER BY attempted_at DESC
LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.Success, &a.FieldName, &a.BeginTime, &a.Detail, &a.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func collectJobs(rows db.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row db.Row) (Job, error) {
	var j Job
	var timePeriod int
	var preferredTimes string
	if err := row.Scan(
		&j.ID, &j.UserID, &j.Name, &j.VenueNo, &j.FieldTypeNo, &timePeriod, &j.DateOffset, &preferredTimes,
		&j.WindowStartAt, &j.WindowEndAt, &j.IntervalSec, &j.MaxAttempts, &j.Status, &j.AttemptCount,
		&j.LastAttemptAt, &j.BookedAt, &j.BookedField, &j.BookedBegin, &j.BookedEnd, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	j.TimePeriod = booking.TimePeriod(timePeriod)
	j.PreferredTimes = booking.NormalizeTimes(preferredTimes)
	return j, nil
}
