package directory

import (
	"path/filepath"
	"testing"
	"time"

	"accounts/internal/config"
	"accounts/internal/db"
)

func newSQLiteProvisioner(t *testing.T, cols Columns) *SQLProvisioner {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "dir.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if _, err := sqdb.Exec(`CREATE TABLE accounts (email TEXT PRIMARY KEY, display_name TEXT, password_hash TEXT, active INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	p, err := NewSQLProvisioner(sqdb, "sqlite", cols)
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	return p
}

var defaultCols = Columns{Table: "accounts", Email: "email", Name: "display_name", Pass: "password_hash", Active: "active"}

func TestSQLProvisionerLifecycle(t *testing.T) {
	p := newSQLiteProvisioner(t, defaultCols)
	ctx := testContext(t)

	if err := p.UpsertActiveUser(ctx, "a@example.com", "Ada", "h1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := p.UpsertActiveUser(ctx, "a@example.com", "Ada L", "h2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	var name, hash string
	var active int
	row := p.db.QueryRow(`SELECT display_name,password_hash,active FROM accounts WHERE email=?`, "a@example.com")
	if err := row.Scan(&name, &hash, &active); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if name != "Ada L" || hash != "h2" || active != 1 {
		t.Fatalf("unexpected row name=%q hash=%q active=%d", name, hash, active)
	}

	if err := p.RenameUser(ctx, "a@example.com", "ada@example.com"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := p.DisableUser(ctx, "ada@example.com"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := p.db.QueryRow(`SELECT active FROM accounts WHERE email=?`, "ada@example.com").Scan(&active); err != nil {
		t.Fatalf("scan renamed: %v", err)
	}
	if active != 0 {
		t.Fatalf("expected disabled entry")
	}
}

func TestSQLProvisionerDeletesWithoutActiveColumn(t *testing.T) {
	cols := defaultCols
	cols.Active = ""
	p := newSQLiteProvisioner(t, cols)
	ctx := testContext(t)
	if err := p.UpsertActiveUser(ctx, "a@example.com", "Ada", "h1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := p.DisableUser(ctx, "a@example.com"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	var n int
	if err := p.db.QueryRow(`SELECT COUNT(1) FROM accounts`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected entry to be removed, got %d", n)
	}
}

func TestColumnsRejectUnsafeIdentifiers(t *testing.T) {
	cols := defaultCols
	cols.Table = "accounts; DROP TABLE users"
	if _, err := NewSQLProvisioner(nil, "mysql", cols); err == nil {
		t.Fatalf("expected invalid identifier error")
	}
}

func TestPlaceholdersFollowDriver(t *testing.T) {
	pg := &SQLProvisioner{driver: "pgx"}
	my := &SQLProvisioner{driver: "mysql"}
	if pg.ph(2) != "$2" || my.ph(2) != "?" {
		t.Fatalf("unexpected placeholders pg=%q mysql=%q", pg.ph(2), my.ph(2))
	}
}

func TestNewProvisionerWithoutDSNIsNoop(t *testing.T) {
	p, err := NewProvisioner(config.Config{DirectoryDBDriver: "pgx"})
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	if _, ok := p.(NoopProvisioner); !ok {
		t.Fatalf("expected noop provisioner, got %T", p)
	}
}
