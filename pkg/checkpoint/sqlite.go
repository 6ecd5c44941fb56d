package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/rewind-dispatch/internal/storage"
)

// SQLiteStore keeps checkpoints in the shared SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps a database opened with storage.Open.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// SetClock replaces the clock used for lease expiry (for testing).
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, workday string) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		status    string
		lastError sql.NullString
		started   string
		updated   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT workday, status, total_recipients, processed, batches_completed, cursor,
		        sent, failed, skipped, last_error, started_at, updated_at
		 FROM checkpoints WHERE workday = ?`, workday,
	).Scan(&cp.Workday, &status, &cp.TotalRecipients, &cp.Processed, &cp.BatchesCompleted, &cp.Cursor,
		&cp.Sent, &cp.Failed, &cp.Skipped, &lastError, &started, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		StoreErrors.WithLabelValues("sqlite", "get").Inc()
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}

	cp.Status = Status(status)
	cp.LastError = lastError.String
	if cp.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("%w: started_at: %v", ErrInvalidCheckpoint, err)
	}
	if cp.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrInvalidCheckpoint, err)
	}
	return &cp, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints(workday, status, total_recipients, processed, batches_completed, cursor,
		                         sent, failed, skipped, last_error, started_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(workday) DO UPDATE SET
		   status=excluded.status,
		   total_recipients=excluded.total_recipients,
		   processed=excluded.processed,
		   batches_completed=excluded.batches_completed,
		   cursor=excluded.cursor,
		   sent=excluded.sent,
		   failed=excluded.failed,
		   skipped=excluded.skipped,
		   last_error=excluded.last_error,
		   started_at=excluded.started_at,
		   updated_at=excluded.updated_at`,
		cp.Workday, string(cp.Status), cp.TotalRecipients, cp.Processed, cp.BatchesCompleted, cp.Cursor,
		cp.Sent, cp.Failed, cp.Skipped, storage.NullString(cp.LastError),
		cp.StartedAt.UTC().Format(time.RFC3339Nano), cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		StoreErrors.WithLabelValues("sqlite", "put").Inc()
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, workday string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE workday = ?`, workday); err != nil {
		StoreErrors.WithLabelValues("sqlite", "delete").Inc()
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// AcquireLease implements Store. The upsert only overwrites a lease that has
// expired or already belongs to owner.
func (s *SQLiteStore) AcquireLease(ctx context.Context, workday, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases(workday, owner, until) VALUES(?,?,?)
		 ON CONFLICT(workday) DO UPDATE SET owner=excluded.owner, until=excluded.until
		 WHERE leases.until < ? OR leases.owner = excluded.owner`,
		workday, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		StoreErrors.WithLabelValues("sqlite", "lease").Inc()
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n > 0, nil
}

// ReleaseLease implements Store.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, workday, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE workday = ? AND owner = ?`, workday, owner); err != nil {
		StoreErrors.WithLabelValues("sqlite", "lease").Inc()
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
