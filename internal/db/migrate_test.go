package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"accounts/internal/store"
)

func TestApplyMigrationsAddsCompatibilityColumnsForLegacySchema(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "legacy.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	legacySchema := `
CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'user',
  is_active INTEGER NOT NULL DEFAULT 0,
  registration_method TEXT NOT NULL DEFAULT '',
  moderator_id TEXT,
  moderator_decision TEXT,
  decision_at DATETIME,
  auth_token_hash TEXT UNIQUE,
  created_at DATETIME NOT NULL,
  activated_at DATETIME,
  last_login_at DATETIME
);
`
	if _, err := sqdb.Exec(legacySchema); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}

	if err := ApplyMigrations(sqdb, filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	for _, col := range []string{"bio", "closed_at"} {
		if !hasColumn(t, sqdb, "users", col) {
			t.Fatalf("expected users.%s to exist after migration", col)
		}
	}

	if _, err := sqdb.Exec(
		`INSERT INTO users(id,email,role,is_active,created_at) VALUES(?,?,?,?,?)`,
		"u1", "legacy@example.com", "moderator", 1, time.Now().UTC(),
	); err != nil {
		t.Fatalf("insert legacy user: %v", err)
	}

	st := store.New(sqdb)
	u, err := st.GetUserByEmail(testContext(t), "legacy@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail should work after compatibility migration, got: %v", err)
	}
	if !u.IsModerator() || !u.IsActive || u.Bio != "" || u.ClosedAt != nil {
		t.Fatalf("unexpected legacy user after migration: %+v", u)
	}
}

func TestInitMigrationCreatesCurrentUsersTable(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	if err := ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("apply init migration: %v", err)
	}
	for _, col := range []string{"bio", "closed_at"} {
		if !hasColumn(t, sqdb, "users", col) {
			t.Fatalf("expected users.%s in the init schema", col)
		}
	}
}

func TestApplyMigrationsIsRerunnable(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	dir := filepath.Join("..", "..", "migrations")
	for i := 0; i < 2; i++ {
		if err := ApplyMigrations(sqdb, dir); err != nil {
			t.Fatalf("apply migrations pass %d: %v", i, err)
		}
	}

	var brands int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM link_brands`).Scan(&brands); err != nil {
		t.Fatalf("count brands: %v", err)
	}
	if brands != 4 {
		t.Fatalf("expected 4 seeded brands after rerun, got %d", brands)
	}
}

func TestApplyMigrationsRequiresFiles(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := ApplyMigrations(sqdb, t.TempDir()); err == nil {
		t.Fatalf("expected error for empty migrations dir")
	}
}

func hasColumn(t *testing.T, db *sql.DB, table, column string) bool {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		t.Fatalf("table_info(%s): %v", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name       string
			typ        string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			t.Fatalf("scan table_info(%s): %v", table, err)
		}
		if name == column {
			return true
		}
	}
	return false
}
