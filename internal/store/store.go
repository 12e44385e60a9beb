package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"accounts/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

// ErrDuplicate marks a unique constraint violation. It always wraps
// ErrConflict as well.
var ErrDuplicate = errors.New("duplicate")

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db   *sql.DB
	conn dbtx
}

func New(db *sql.DB) *Store { return &Store{db: db, conn: db} }

// WithTx runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if _, inTx := s.conn.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Store{db: s.db, conn: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id,email,first_name,last_name,password_hash,role,is_active,registration_method,moderator_id,moderator_decision,decision_at,auth_token_hash,bio,created_at,activated_at,closed_at,last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var active int
	var moderatorID, decision, tokenHash sql.NullString
	var decisionAt, activatedAt, closedAt, lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.Role, &active,
		&u.RegistrationMethod, &moderatorID, &decision, &decisionAt, &tokenHash, &u.Bio,
		&u.CreatedAt, &activatedAt, &closedAt, &lastLogin)
	if err != nil {
		return models.User{}, err
	}
	u.IsActive = active == 1
	u.ModeratorID = nullString(moderatorID)
	if decision.Valid {
		u.ModeratorDecision = models.ModeratorDecision(decision.String)
	}
	u.DecisionAt = nullTime(decisionAt)
	u.AuthTokenHash = nullString(tokenHash)
	u.ActivatedAt = nullTime(activatedAt)
	u.ClosedAt = nullTime(closedAt)
	u.LastLoginAt = nullTime(lastLogin)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users(`+userColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.Role, boolToInt(u.IsActive),
		u.RegistrationMethod, u.ModeratorID, decisionValue(u.ModeratorDecision), u.DecisionAt, u.AuthTokenHash, u.Bio,
		u.CreatedAt, u.ActivatedAt, u.ClosedAt, u.LastLoginAt,
	)
	return mapConstraintErr(err)
}

// EnsureModerator creates or promotes the bootstrap moderator account.
func (s *Store) EnsureModerator(ctx context.Context, email, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return nil
	}
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		now := time.Now().UTC()
		return s.CreateUser(ctx, models.User{
			Email:        email,
			PasswordHash: passwordHash,
			Role:         models.RoleModerator,
			IsActive:     true,
			CreatedAt:    now,
			ActivatedAt:  &now,
		})
	}
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx,
		`UPDATE users SET role='moderator', is_active=1, closed_at=NULL, password_hash=?, activated_at=COALESCE(activated_at, ?) WHERE id=?`,
		passwordHash, time.Now().UTC(), u.ID,
	)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.getUser(ctx, `email=?`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	return s.getUser(ctx, `id=?`, id)
}

func (s *Store) GetUserByAuthTokenHash(ctx context.Context, tokenHash string) (models.User, error) {
	return s.getUser(ctx, `auth_token_hash=?`, tokenHash)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (models.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (s *Store) ListModerators(ctx context.Context) ([]models.User, error) {
	return s.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE role='moderator' AND is_active=1 AND closed_at IS NULL ORDER BY email ASC`)
}

func (s *Store) ListUsers(ctx context.Context, q models.UserQuery) ([]models.User, int, error) {
	where, args := []string{"1=1"}, []any{}
	switch q.Status {
	case "active":
		where = append(where, "is_active=1")
	case "inactive":
		where = append(where, "is_active=0 AND closed_at IS NULL")
	case "closed":
		where = append(where, "closed_at IS NOT NULL")
	}
	if q.Role != "" {
		where = append(where, "role=?")
		args = append(args, q.Role)
	}
	return s.pageUsers(ctx, strings.Join(where, " AND "), args, "created_at DESC", q.Limit, q.Offset)
}

// ListRequests lists self-requested accounts filtered by decision.
func (s *Store) ListRequests(ctx context.Context, q models.RequestQuery) ([]models.User, int, error) {
	where, args := []string{"registration_method='requested'"}, []any{}
	switch q.Decision {
	case "", "pending":
		where = append(where, "moderator_decision IS NULL")
	case "all":
	default:
		where = append(where, "moderator_decision=?")
		args = append(args, q.Decision)
	}
	return s.pageUsers(ctx, strings.Join(where, " AND "), args, "created_at ASC", q.Limit, q.Offset)
}

func (s *Store) pageUsers(ctx context.Context, where string, args []any, order string, limit, offset int) ([]models.User, int, error) {
	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 25
	}
	pageArgs := append(append([]any{}, args...), limit, offset)
	items, err := s.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveReinvite persists a reinvite. Only invited accounts that were never
// activated can be reinvited.
func (s *Store) SaveReinvite(ctx context.Context, u models.User) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET email=?, decision_at=?, auth_token_hash=? WHERE id=? AND registration_method='invited' AND is_active=0 AND closed_at IS NULL`,
		u.Email, u.DecisionAt, u.AuthTokenHash, u.ID,
	)
	if err != nil {
		return mapConstraintErr(err)
	}
	return expectOneRow(res)
}

// SaveDecision persists an approve/reject decision. It fails with ErrConflict
// when the account was decided in the meantime.
func (s *Store) SaveDecision(ctx context.Context, u models.User) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET moderator_id=?, moderator_decision=?, decision_at=?, auth_token_hash=? WHERE id=? AND moderator_decision IS NULL`,
		u.ModeratorID, decisionValue(u.ModeratorDecision), u.DecisionAt, u.AuthTokenHash, u.ID,
	)
	if err != nil {
		return mapConstraintErr(err)
	}
	return expectOneRow(res)
}

// ActivateUser sets the password and clears the one-time auth token.
func (s *Store) ActivateUser(ctx context.Context, userID, passwordHash string, at time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET password_hash=?, is_active=1, activated_at=?, auth_token_hash=NULL WHERE id=? AND is_active=0 AND closed_at IS NULL`,
		passwordHash, at, userID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) UpdateUserProfileFields(ctx context.Context, userID, firstName, lastName, bio string) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE users SET first_name=?, last_name=?, bio=? WHERE id=?`, firstName, lastName, bio, userID)
	return err
}

func (s *Store) UpdateUserEmail(ctx context.Context, userID, email string) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE users SET email=? WHERE id=?`, email, userID)
	return mapConstraintErr(err)
}

func (s *Store) UpdateUserPasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, passwordHash, userID)
	return err
}

func (s *Store) CloseUser(ctx context.Context, userID string, at time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET is_active=0, closed_at=?, auth_token_hash=NULL WHERE id=? AND closed_at IS NULL`, at, userID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ReopenUser clears closed_at on a closed account and stores the fresh
// decision and activation token. It fails with ErrConflict when the account
// is not closed.
func (s *Store) ReopenUser(ctx context.Context, u models.User) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET closed_at=NULL, is_active=0, moderator_id=?, moderator_decision=?, decision_at=?, auth_token_hash=? WHERE id=? AND closed_at IS NOT NULL`,
		u.ModeratorID, decisionValue(u.ModeratorDecision), u.DecisionAt, u.AuthTokenHash, u.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) TouchUserLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE users SET last_login_at=? WHERE id=?`, at, userID)
	return err
}

func (s *Store) InsertAudit(ctx context.Context, actorID, action, target, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO audit_log(id,actor_user_id,action,target,metadata_json,created_at) VALUES(?,?,?,?,?,?)`,
		uuid.NewString(), actorID, action, target, metadata, time.Now().UTC(),
	)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, int, error) {
	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM audit_log`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id,actor_user_id,action,target,metadata_json,created_at FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorUserID, &e.Action, &e.Target, &e.MetadataJSON, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func expectOneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
		return fmt.Errorf("%w: %w: %v", ErrDuplicate, ErrConflict, err)
	}
	return err
}

func decisionValue(d models.ModeratorDecision) any {
	if d == models.DecisionNone {
		return nil
	}
	return string(d)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
