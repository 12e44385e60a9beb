package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"accounts/internal/models"
)

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sessions(id,user_id,token_hash,ip_hint,user_agent_hash,expires_at,idle_expires_at,created_at,last_seen_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.IPHint, sess.UserAgentHash, sess.ExpiresAt, sess.IdleExpiresAt, sess.CreatedAt, sess.LastSeenAt,
	)
	return err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (models.Session, error) {
	var sess models.Session
	var ipHint, uaHash sql.NullString
	var revoked sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`SELECT id,user_id,token_hash,ip_hint,user_agent_hash,expires_at,idle_expires_at,created_at,last_seen_at,revoked_at FROM sessions WHERE token_hash=?`,
		tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &ipHint, &uaHash, &sess.ExpiresAt, &sess.IdleExpiresAt, &sess.CreatedAt, &sess.LastSeenAt, &revoked)
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, err
	}
	sess.IPHint = ipHint.String
	sess.UserAgentHash = uaHash.String
	sess.RevokedAt = nullTime(revoked)
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, seenAt, idleExpiry time.Time) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE sessions SET last_seen_at=?, idle_expires_at=? WHERE id=?`, seenAt, idleExpiry, id)
	return err
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE id=?`, time.Now().UTC(), id)
	return err
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL`, time.Now().UTC(), userID)
	return err
}

func (s *Store) CreatePasswordResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (models.PasswordResetToken, error) {
	t := models.PasswordResetToken{ID: uuid.NewString(), UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt, CreatedAt: time.Now().UTC()}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO password_reset_tokens(id,user_id,token_hash,expires_at,created_at) VALUES(?,?,?,?,?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt,
	)
	return t, err
}

// ConsumePasswordResetToken marks the token used. Used and expired tokens
// report ErrNotFound.
func (s *Store) ConsumePasswordResetToken(ctx context.Context, tokenHash string, now time.Time) (models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	var used sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`SELECT id,user_id,token_hash,expires_at,used_at,created_at FROM password_reset_tokens WHERE token_hash=?`, tokenHash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &used, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return models.PasswordResetToken{}, ErrNotFound
	}
	if err != nil {
		return models.PasswordResetToken{}, err
	}
	t.UsedAt = nullTime(used)
	if t.UsedAt != nil || now.After(t.ExpiresAt) {
		return models.PasswordResetToken{}, ErrNotFound
	}
	res, err := s.conn.ExecContext(ctx, `UPDATE password_reset_tokens SET used_at=? WHERE id=? AND used_at IS NULL`, now, t.ID)
	if err != nil {
		return models.PasswordResetToken{}, err
	}
	if err := expectOneRow(res); err != nil {
		return models.PasswordResetToken{}, ErrNotFound
	}
	return t, nil
}

func (s *Store) IncrementRateEvent(ctx context.Context, key, route string, windowStart time.Time) (int, error) {
	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO rate_limit_events(id,key,route,window_start,count,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(key, route, window_start)
		 DO UPDATE SET count = rate_limit_events.count + 1, updated_at = excluded.updated_at`,
		uuid.NewString(), key, route, windowStart, 1, now, now,
	)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT count FROM rate_limit_events WHERE key=? AND route=? AND window_start=?`, key, route, windowStart).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) DeleteRateEvents(ctx context.Context, key, route string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE key=? AND route=?`, key, route)
	return err
}

func (s *Store) CleanupRateEventsBefore(ctx context.Context, before time.Time) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE window_start < ?`, before)
	return err
}
