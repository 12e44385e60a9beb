// Package directory mirrors active accounts into an external SQL table that
// other services authenticate against.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"accounts/internal/config"
)

type Provisioner interface {
	UpsertActiveUser(ctx context.Context, email, displayName, passwordHash string) error
	RenameUser(ctx context.Context, oldEmail, newEmail string) error
	DisableUser(ctx context.Context, email string) error
}

type NoopProvisioner struct{}

func (NoopProvisioner) UpsertActiveUser(ctx context.Context, email, displayName, passwordHash string) error {
	return nil
}
func (NoopProvisioner) RenameUser(ctx context.Context, oldEmail, newEmail string) error { return nil }
func (NoopProvisioner) DisableUser(ctx context.Context, email string) error           { return nil }

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Columns struct {
	Table  string
	Email  string
	Name   string
	Pass   string
	Active string
}

func (c Columns) validate() error {
	if c.Table == "" || c.Email == "" || c.Pass == "" {
		return fmt.Errorf("directory table, email and password columns are required")
	}
	for _, ident := range []string{c.Table, c.Email, c.Name, c.Pass, c.Active} {
		if ident != "" && !identRx.MatchString(ident) {
			return fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	return nil
}

type SQLProvisioner struct {
	db     *sql.DB
	driver string
	cols   Columns
}

// NewProvisioner returns a NoopProvisioner unless a directory driver and DSN
// are configured.
func NewProvisioner(cfg config.Config) (Provisioner, error) {
	if strings.TrimSpace(cfg.DirectoryDBDriver) == "" || strings.TrimSpace(cfg.DirectoryDBDSN) == "" {
		return NoopProvisioner{}, nil
	}
	cols := Columns{
		Table:  cfg.DirectoryTable,
		Email:  cfg.DirectoryEmailCol,
		Name:   cfg.DirectoryNameCol,
		Pass:   cfg.DirectoryPassCol,
		Active: cfg.DirectoryActiveCol,
	}
	if err := cols.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.DirectoryDBDriver, cfg.DirectoryDBDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.DirectoryMaxConns)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	if cfg.DirectoryPingOnBoot {
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping directory db: %w", err)
		}
	}
	return NewSQLProvisioner(db, cfg.DirectoryDBDriver, cols)
}

func NewSQLProvisioner(db *sql.DB, driver string, cols Columns) (*SQLProvisioner, error) {
	if err := cols.validate(); err != nil {
		return nil, err
	}
	return &SQLProvisioner{db: db, driver: driver, cols: cols}, nil
}

func (p *SQLProvisioner) UpsertActiveUser(ctx context.Context, email, displayName, passwordHash string) error {
	setCols := []string{fmt.Sprintf("%s=%s", p.cols.Pass, p.ph(1))}
	args := []any{passwordHash}
	idx := 2
	if p.cols.Name != "" {
		setCols = append(setCols, fmt.Sprintf("%s=%s", p.cols.Name, p.ph(idx)))
		args = append(args, displayName)
		idx++
	}
	if p.cols.Active != "" {
		setCols = append(setCols, fmt.Sprintf("%s=%s", p.cols.Active, p.ph(idx)))
		args = append(args, 1)
		idx++
	}
	args = append(args, email)
	updateQ := fmt.Sprintf("UPDATE %s SET %s WHERE %s=%s", p.cols.Table, strings.Join(setCols, ","), p.cols.Email, p.ph(idx))
	res, err := p.db.ExecContext(ctx, updateQ, args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	cols := []string{p.cols.Email, p.cols.Pass}
	vals := []any{email, passwordHash}
	if p.cols.Name != "" {
		cols = append(cols, p.cols.Name)
		vals = append(vals, displayName)
	}
	if p.cols.Active != "" {
		cols = append(cols, p.cols.Active)
		vals = append(vals, 1)
	}
	phs := make([]string, len(vals))
	for i := range vals {
		phs[i] = p.ph(i + 1)
	}
	insertQ := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", p.cols.Table, strings.Join(cols, ","), strings.Join(phs, ","))
	if _, err := p.db.ExecContext(ctx, insertQ, vals...); err != nil {
		// Lost a race with a concurrent insert.
		if strings.Contains(strings.ToLower(err.Error()), "duplicate") || strings.Contains(strings.ToLower(err.Error()), "unique") {
			_, err = p.db.ExecContext(ctx, updateQ, args...)
		}
		return err
	}
	return nil
}

func (p *SQLProvisioner) RenameUser(ctx context.Context, oldEmail, newEmail string) error {
	if oldEmail == newEmail {
		return nil
	}
	q := fmt.Sprintf("UPDATE %s SET %s=%s WHERE %s=%s", p.cols.Table, p.cols.Email, p.ph(1), p.cols.Email, p.ph(2))
	_, err := p.db.ExecContext(ctx, q, newEmail, oldEmail)
	return err
}

func (p *SQLProvisioner) DisableUser(ctx context.Context, email string) error {
	if p.cols.Active == "" {
		q := fmt.Sprintf("DELETE FROM %s WHERE %s=%s", p.cols.Table, p.cols.Email, p.ph(1))
		_, err := p.db.ExecContext(ctx, q, email)
		return err
	}
	q := fmt.Sprintf("UPDATE %s SET %s=%s WHERE %s=%s", p.cols.Table, p.cols.Active, p.ph(1), p.cols.Email, p.ph(2))
	_, err := p.db.ExecContext(ctx, q, 0, email)
	return err
}

func (p *SQLProvisioner) Close() error { return p.db.Close() }

func (p *SQLProvisioner) ph(i int) string {
	if strings.Contains(strings.ToLower(p.driver), "pgx") || strings.Contains(strings.ToLower(p.driver), "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
