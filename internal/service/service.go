package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"accounts/internal/auth"
	"accounts/internal/config"
	"accounts/internal/directory"
	"accounts/internal/metrics"
	"accounts/internal/models"
	"accounts/internal/moderation"
	"accounts/internal/notify"
	"accounts/internal/profile"
	"accounts/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is not active")
	ErrAccountClosed      = errors.New("this account has been closed, contact a moderator to reopen it")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrAlreadyDecided     = errors.New("account request was already decided")
	ErrNotReinvitable     = errors.New("only invited accounts that were never activated can be reinvited")
	ErrNotClosed          = errors.New("only closed accounts can be reopened")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrForbidden          = errors.New("forbidden")
)

const (
	passwordResetTTL   = 30 * time.Minute
	loginFailureWindow = 15 * time.Minute
)

type Service struct {
	cfg       config.Config
	st        *store.Store
	sender    notify.Sender
	provision directory.Provisioner
	logger    *zap.Logger
	clock     clockwork.Clock
	workflow  *moderation.Workflow
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithWorkflow replaces the moderation workflow. Without it the workflow
// shares the service clock.
func WithWorkflow(w *moderation.Workflow) Option {
	return func(s *Service) { s.workflow = w }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(cfg config.Config, st *store.Store, sender notify.Sender, p directory.Provisioner, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{cfg: cfg, st: st, sender: sender, provision: p, logger: logger, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.provision == nil {
		s.provision = directory.NoopProvisioner{}
	}
	if s.sender == nil {
		s.sender = notify.NewNotifier(cfg, notify.LogTransport{})
	}
	if s.workflow == nil {
		s.workflow = moderation.New(moderation.WithClock(s.clock))
	}
	return s
}

func (s *Service) Store() *store.Store { return s.st }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// fingerprintUA is an HMAC of the user agent keyed by the session secret.
func (s *Service) fingerprintUA(ua string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.SessionSecret))
	mac.Write([]byte(ua))
	return hex.EncodeToString(mac.Sum(nil))
}

// Bootstrap makes sure the configured moderator account exists.
func (s *Service) Bootstrap(ctx context.Context) error {
	email := strings.TrimSpace(s.cfg.BootstrapModeratorEmail)
	if email == "" || s.cfg.BootstrapModeratorPassword == "" {
		return nil
	}
	if err := s.ValidatePassword(s.cfg.BootstrapModeratorPassword); err != nil {
		return fmt.Errorf("bootstrap moderator password: %w", err)
	}
	hash, err := auth.HashPassword(s.cfg.BootstrapModeratorPassword)
	if err != nil {
		return err
	}
	if err := s.st.EnsureModerator(ctx, email, hash); err != nil {
		return fmt.Errorf("ensure moderator: %w", err)
	}
	s.logger.Info("bootstrap moderator ensured", zap.String("email", strings.ToLower(email)))
	return nil
}

func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (rawToken string, user models.User, err error) {
	u, err := s.st.GetUserByEmail(ctx, email)
	if err != nil {
		auth.VerifyPassword("", password)
		return "", models.User{}, ErrInvalidCredentials
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return "", models.User{}, ErrInvalidCredentials
	}
	if u.IsClosed() {
		return "", models.User{}, ErrAccountClosed
	}
	if !u.IsActive {
		return "", models.User{}, ErrInactive
	}

	raw, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		return "", models.User{}, err
	}
	now := s.now()
	sess := models.Session{
		ID:            uuid.NewString(),
		UserID:        u.ID,
		TokenHash:     tokenHash,
		IPHint:        ip,
		UserAgentHash: s.fingerprintUA(userAgent),
		ExpiresAt:     now.Add(s.cfg.SessionAbsoluteDuration()),
		IdleExpiresAt: now.Add(s.cfg.SessionIdleDuration()),
		CreatedAt:     now,
		LastSeenAt:    now,
	}
	if err := s.st.CreateSession(ctx, sess); err != nil {
		return "", models.User{}, err
	}
	if err := s.st.TouchUserLastLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn("touch last login failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	if auth.NeedsRehash(u.PasswordHash) {
		s.rehashPassword(ctx, u, password)
	}
	return raw, u, nil
}

// rehashPassword upgrades a hash made with older cost settings.
func (s *Service) rehashPassword(ctx context.Context, u models.User, password string) {
	h, err := auth.HashPassword(password)
	if err == nil {
		err = s.st.UpdateUserPasswordHash(ctx, u.ID, h)
	}
	if err != nil {
		s.logger.Warn("password rehash failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	s.provisionActive(ctx, u, h)
}

// RecordLoginFailure counts a failed login for key in the current window and
// returns the running count.
func (s *Service) RecordLoginFailure(ctx context.Context, key string) (int, error) {
	now := s.now()
	count, err := s.st.IncrementRateEvent(ctx, key, "login_failed", now.Truncate(loginFailureWindow))
	if err != nil {
		return 0, err
	}
	if err := s.st.CleanupRateEventsBefore(ctx, now.Add(-24*time.Hour)); err != nil {
		s.logger.Warn("cleanup rate events failed", zap.Error(err))
	}
	return count, nil
}

func (s *Service) ClearLoginFailures(ctx context.Context, key string) error {
	return s.st.DeleteRateEvents(ctx, key, "login_failed")
}

func (s *Service) ValidateSession(ctx context.Context, rawToken string) (models.User, models.Session, error) {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	now := s.now()
	if sess.RevokedAt != nil || now.After(sess.ExpiresAt) || now.After(sess.IdleExpiresAt) {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	if err := s.st.TouchSession(ctx, sess.ID, now, now.Add(s.cfg.SessionIdleDuration())); err != nil {
		s.logger.Warn("touch session failed", zap.String("session_id", sess.ID), zap.Error(err))
	}

	u, err := s.st.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	if u.IsClosed() || !u.IsActive {
		return models.User{}, models.Session{}, ErrInactive
	}
	return u, sess, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return nil
	}
	return s.st.RevokeSession(ctx, sess.ID)
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.st.GetUserByEmail(ctx, email)
	if err != nil || !u.IsActive || u.IsClosed() {
		// don't leak existence
		return nil
	}
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return err
	}
	if _, err := s.st.CreatePasswordResetToken(ctx, u.ID, hash, s.now().Add(passwordResetTTL)); err != nil {
		return err
	}
	return s.sender.SendPasswordReset(ctx, u.Email, raw)
}

func (s *Service) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if err := s.ValidatePassword(newPassword); err != nil {
		return profile.ValidationErrors{"new_password": err.Error()}
	}
	t, err := s.st.ConsumePasswordResetToken(ctx, auth.HashToken(rawToken), s.now())
	if err != nil {
		return ErrInvalidToken
	}
	h, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.st.UpdateUserPasswordHash(ctx, t.UserID, h); err != nil {
		return err
	}
	if u, err := s.st.GetUserByID(ctx, t.UserID); err == nil && u.IsActive {
		s.provisionActive(ctx, u, h)
	}
	return s.st.RevokeUserSessions(ctx, t.UserID)
}

func (s *Service) ValidatePassword(pw string) error {
	pw = strings.TrimSpace(pw)
	if pw == "" {
		return errors.New("password is required")
	}
	if len(pw) < s.cfg.PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters", s.cfg.PasswordMinLength)
	}
	if len(pw) > s.cfg.PasswordMaxLength {
		return fmt.Errorf("password must be at most %d characters", s.cfg.PasswordMaxLength)
	}
	classes := 0
	if strings.IndexFunc(pw, func(r rune) bool { return r >= 'a' && r <= 'z' }) >= 0 {
		classes++
	}
	if strings.IndexFunc(pw, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0 {
		classes++
	}
	if strings.IndexFunc(pw, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0 {
		classes++
	}
	if strings.IndexFunc(pw, func(r rune) bool {
		return (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126)
	}) >= 0 {
		classes++
	}
	if classes < 3 {
		return errors.New("password must include at least 3 character classes (lower/upper/number/symbol)")
	}
	return nil
}

func (s *Service) provisionActive(ctx context.Context, u models.User, passwordHash string) {
	if err := s.provision.UpsertActiveUser(ctx, u.Email, u.FullName(), passwordHash); err != nil {
		s.logger.Error("directory upsert failed", zap.String("user_id", u.ID), zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, st *store.Store, actorID, action, target string, meta map[string]string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if actorID == "" {
		actorID = "anonymous"
	}
	return st.InsertAudit(ctx, actorID, action, target, string(raw))
}

func (s *Service) ListAudit(ctx context.Context, actor models.User, limit, offset int) ([]models.AuditEntry, int, error) {
	if err := s.requireListing(actor); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, total, err := s.st.ListAudit(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].SummaryText, items[i].Severity = buildAuditSummary(items[i])
	}
	return items, total, nil
}

func buildAuditSummary(entry models.AuditEntry) (string, string) {
	meta := parseAuditMetadata(entry.MetadataJSON)
	target := strings.TrimSpace(meta["email"])
	if target == "" {
		target = strings.TrimSpace(entry.Target)
	}
	if target == "" {
		target = "(n/a)"
	}

	switch entry.Action {
	case "account.invite":
		return fmt.Sprintf("Invitation sent to %s.", target), "ok"
	case "account.reinvite":
		return fmt.Sprintf("Invitation re-sent to %s.", target), "ok"
	case "account.reopen":
		return fmt.Sprintf("Account reopened for %s.", target), "ok"
	case "account.approve":
		return fmt.Sprintf("Account request approved for %s.", target), "ok"
	case "account.reject":
		return fmt.Sprintf("Account request rejected for %s.", target), "warning"
	case "account.request":
		return fmt.Sprintf("Account requested by %s.", target), "info"
	case "account.activate":
		return fmt.Sprintf("Account activated: %s.", target), "ok"
	case "account.settings":
		return fmt.Sprintf("Account settings changed for %s.", target), "info"
	case "account.close":
		return fmt.Sprintf("Account closed: %s.", target), "warning"
	case "brand.add":
		return fmt.Sprintf("Link brand added for %s.", meta["domain"]), "info"
	case "moderation.denied":
		return fmt.Sprintf("Denied %s attempt on %s.", meta["action"], target), "warning"
	default:
		return fmt.Sprintf("Audit event %s on %s.", entry.Action, target), "info"
	}
}

func parseAuditMetadata(raw string) map[string]string {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return out
	}
	for key, value := range decoded {
		switch typed := value.(type) {
		case string:
			out[key] = typed
		default:
			out[key] = fmt.Sprintf("%v", typed)
		}
	}
	return out
}
