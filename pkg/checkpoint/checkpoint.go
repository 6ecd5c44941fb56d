// Package checkpoint persists per-workday dispatch progress so that a run cut
// short by its time budget can resume where it stopped.
//
// A workday has no record until the first invocation creates one
// (not_started). From there it moves to in_progress and ends in either
// completed or failed; both are terminal and later invocations for the same
// workday leave them untouched. Deleting the record resets the workday.
//
// Stores also provide a lease so that two overlapping invocations for the
// same workday never process batches at the same time.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the workday has no record.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidCheckpoint is returned when a record cannot be stored or decoded.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

// Status is the lifecycle state of a workday's run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further processing happens for the workday.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DateLayout is the workday key format.
const DateLayout = "2006-01-02"

// Workday returns the calendar date of now in loc as a key.
func Workday(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(DateLayout)
}

// ParseWorkday parses a workday key into midnight UTC of that date.
func ParseWorkday(workday string) (time.Time, error) {
	return time.Parse(DateLayout, workday)
}

// Checkpoint is the persisted progress of one workday.
type Checkpoint struct {
	Workday          string `json:"workday"`
	Status           Status `json:"status"`
	TotalRecipients  int    `json:"total_recipients"`
	Processed        int    `json:"processed"`
	BatchesCompleted int    `json:"batches_completed"`
	// Cursor is the email of the last processed recipient; empty means start.
	Cursor    string    `json:"cursor"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates the initial in-progress checkpoint for a workday.
func New(workday string, total int, now time.Time) *Checkpoint {
	return &Checkpoint{
		Workday:         workday,
		Status:          StatusInProgress,
		TotalRecipients: total,
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// Percent returns progress in [0, 100]. An empty run counts as complete.
func (c *Checkpoint) Percent() float64 {
	if c.TotalRecipients <= 0 {
		if c.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	p := float64(c.Processed) / float64(c.TotalRecipients) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Validate checks the fields a store relies on.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return ErrInvalidCheckpoint
	}
	if _, err := ParseWorkday(c.Workday); err != nil {
		return errors.Join(ErrInvalidCheckpoint, err)
	}
	if !c.Status.IsValid() || c.Status == StatusNotStarted {
		return errors.Join(ErrInvalidCheckpoint, errors.New("status "+string(c.Status)+" cannot be stored"))
	}
	if c.Processed < 0 || c.TotalRecipients < 0 {
		return errors.Join(ErrInvalidCheckpoint, errors.New("negative counters"))
	}
	return nil
}

// Store persists checkpoints and leases.
type Store interface {
	// Get returns ErrNotFound when the workday has no record.
	Get(ctx context.Context, workday string) (*Checkpoint, error)
	Put(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, workday string) error

	// AcquireLease claims the workday for owner until ttl passes. It succeeds
	// when the lease is free, expired, or already held by owner.
	AcquireLease(ctx context.Context, workday, owner string, ttl time.Duration) (bool, error)
	// ReleaseLease frees the lease if owner still holds it.
	ReleaseLease(ctx context.Context, workday, owner string) error

	Ping(ctx context.Context) error
}
