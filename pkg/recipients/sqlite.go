package recipients

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore keeps subscribers in the shared SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps a database opened with storage.Open.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

const selectColumns = `id, email, name, subscribed, offsets, categories, timezone, created_at, updated_at`

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, r Recipient) (Recipient, error) {
	email, err := NormalizeEmail(r.Email)
	if err != nil {
		return Recipient{}, err
	}
	offsets, err := json.Marshal(nonNilInts(r.Offsets))
	if err != nil {
		return Recipient{}, fmt.Errorf("encode offsets: %w", err)
	}
	categories, err := json.Marshal(nonNilStrings(r.Categories))
	if err != nil {
		return Recipient{}, fmt.Errorf("encode categories: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, email, name, subscribed, offsets, categories, timezone, created_at, updated_at)
		 VALUES(?,?,?,1,?,?,?,?,?)
		 ON CONFLICT(email) DO UPDATE SET
		   name=excluded.name,
		   subscribed=1,
		   offsets=excluded.offsets,
		   categories=excluded.categories,
		   timezone=excluded.timezone,
		   updated_at=excluded.updated_at`,
		uuid.NewString(), email, r.Name, string(offsets), string(categories), r.Timezone, now, now,
	)
	if err != nil {
		return Recipient{}, fmt.Errorf("upsert recipient: %w", err)
	}
	return s.Get(ctx, email)
}

// Unsubscribe implements Store.
func (s *SQLiteStore) Unsubscribe(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET subscribed=0, updated_at=? WHERE email=?`,
		s.now().UTC().Format(time.RFC3339Nano), email,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, email string) (Recipient, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Recipient{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM recipients WHERE email = ?`, email)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, ErrNotFound
	}
	return r, err
}

// CountActive implements Store.
func (s *SQLiteStore) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients WHERE subscribed = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return n, nil
}

// ListActiveAfter implements Store.
func (s *SQLiteStore) ListActiveAfter(ctx context.Context, cursor string, limit int) ([]Recipient, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM recipients
		 WHERE subscribed = 1 AND email > ?
		 ORDER BY email ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecipient(sc scanner) (Recipient, error) {
	var (
		r                   Recipient
		subscribed          int
		offsets, categories string
		created, updated    string
	)
	if err := sc.Scan(&r.ID, &r.Email, &r.Name, &subscribed, &offsets, &categories, &r.Timezone, &created, &updated); err != nil {
		return Recipient{}, err
	}
	r.Subscribed = subscribed == 1
	if err := json.Unmarshal([]byte(offsets), &r.Offsets); err != nil {
		return Recipient{}, fmt.Errorf("decode offsets for %s: %w", r.Email, err)
	}
	if err := json.Unmarshal([]byte(categories), &r.Categories); err != nil {
		return Recipient{}, fmt.Errorf("decode categories for %s: %w", r.Email, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return r, nil
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
