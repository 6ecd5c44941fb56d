package recipients

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/Sternrassler/rewind-dispatch/internal/storage"
)

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("upsert normalizes and updates", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Upsert(ctx, Recipient{Email: "  Ada@Example.COM ", Name: "Ada", Offsets: []int{1, 5}, Categories: []string{"17"}})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if r.Email != "ada@example.com" || !r.Subscribed || r.ID == "" {
			t.Errorf("Upsert() = %+v", r)
		}
		if !reflect.DeepEqual(r.Offsets, []int{1, 5}) {
			t.Errorf("Offsets = %v", r.Offsets)
		}

		r2, err := s.Upsert(ctx, Recipient{Email: "ada@example.com", Name: "Ada L.", Offsets: []int{10}})
		if err != nil {
			t.Fatalf("Upsert() update error = %v", err)
		}
		if r2.ID != r.ID || r2.Name != "Ada L." || !reflect.DeepEqual(r2.Offsets, []int{10}) {
			t.Errorf("update = %+v", r2)
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Upsert(ctx, Recipient{Email: "nope"}); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Upsert() error = %v, want ErrInvalidEmail", err)
		}
	})

	t.Run("unsubscribe", func(t *testing.T) {
		s := newStore(t)
		s.Upsert(ctx, Recipient{Email: "a@example.com"})
		s.Upsert(ctx, Recipient{Email: "b@example.com"})

		if err := s.Unsubscribe(ctx, "A@example.com"); err != nil {
			t.Fatalf("Unsubscribe() error = %v", err)
		}
		if n, _ := s.CountActive(ctx); n != 1 {
			t.Errorf("CountActive() = %d, want 1", n)
		}
		r, err := s.Get(ctx, "a@example.com")
		if err != nil || r.Subscribed {
			t.Errorf("Get() = %+v, %v", r, err)
		}
		if err := s.Unsubscribe(ctx, "ghost@example.com"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Unsubscribe(unknown) error = %v", err)
		}

		// re-signup resubscribes
		s.Upsert(ctx, Recipient{Email: "a@example.com"})
		if n, _ := s.CountActive(ctx); n != 2 {
			t.Errorf("CountActive() after resubscribe = %d, want 2", n)
		}
	})

	t.Run("list after cursor", func(t *testing.T) {
		s := newStore(t)
		for i := 9; i >= 0; i-- {
			s.Upsert(ctx, Recipient{Email: fmt.Sprintf("user%02d@example.com", i)})
		}
		s.Unsubscribe(ctx, "user03@example.com")

		page, err := s.ListActiveAfter(ctx, "", 4)
		if err != nil {
			t.Fatalf("ListActiveAfter() error = %v", err)
		}
		got := emails(page)
		want := []string{"user00@example.com", "user01@example.com", "user02@example.com", "user04@example.com"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("page 1 = %v, want %v", got, want)
		}

		page, _ = s.ListActiveAfter(ctx, want[3], 100)
		if len(page) != 5 || page[0].Email != "user05@example.com" {
			t.Errorf("page 2 = %v", emails(page))
		}

		page, _ = s.ListActiveAfter(ctx, "user09@example.com", 10)
		if len(page) != 0 {
			t.Errorf("past the end = %v", emails(page))
		}
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "x@example.com"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v", err)
		}
	})
}

func emails(rs []Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Email
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		db, err := storage.OpenMemory(context.Background())
		if err != nil {
			t.Fatalf("OpenMemory() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return NewSQLiteStore(db)
	})
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Bob@Example.org", "bob@example.org", false},
		{"", "", true},
		{"Bob <bob@example.org>", "", true},
		{"no-at-sign", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeEmail(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
