package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dispatch.db")

	db, err := Open(context.Background(), Config{Path: path, BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for _, table := range []string{"checkpoints", "leases", "recipients"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.db")
	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), Config{Path: path})
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i, err)
		}
		db.Close()
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{Path: "  "}); err == nil {
		t.Error("expected error for blank path")
	}
}

func TestNullString(t *testing.T) {
	if NullString(" ") != nil {
		t.Error("blank should map to nil")
	}
	if NullString("x") != "x" {
		t.Error("value should pass through")
	}
}
