package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// compatColumns are users columns added after the first deployments. Fresh
// databases get them from the CREATE TABLE statement; older ones get them here.
var compatColumns = []string{
	`ALTER TABLE users ADD COLUMN bio TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE users ADD COLUMN closed_at DATETIME`,
}

// ApplyMigrations applies every *.sql file in dir in lexical order, then
// upgrades legacy users tables. Files are written to be re-runnable, so the
// whole set is applied on every boot.
func ApplyMigrations(db *sql.DB, dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no migrations found in %s", dir)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := ApplyMigrationFile(db, p); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return applyCompatColumns(db)
}

func ApplyMigrationFile(db *sql.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(b)); err != nil && !isDuplicateColumnErr(err) {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func applyCompatColumns(db *sql.DB) error {
	for _, stmt := range compatColumns {
		if _, err := db.Exec(stmt); err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("apply compatibility migration %q: %w", stmt, err)
		}
	}
	return nil
}

func isDuplicateColumnErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
