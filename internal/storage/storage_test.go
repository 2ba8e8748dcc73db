package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen_MigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "faultline.db")

	db, err := Open(context.Background(), Options{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for _, table := range []string{"error_log", "offline_queue"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	version, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("SchemaVersion() = %d, want 2", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faultline.db")

	db, err := Open(context.Background(), Options{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := db.Exec(`INSERT INTO error_log (id, code, kind, severity, logged_at, payload) VALUES ('a','C','task','error',1,'{}')`); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	db.Close()

	db, err = Open(context.Background(), Options{Path: path})
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM error_log`).Scan(&n); err != nil || n != 1 {
		t.Errorf("rows after reopen = %d, %v", n, err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Error("Open() with empty path should fail")
	}
}
