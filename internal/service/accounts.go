package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"accounts/internal/auth"
	"accounts/internal/models"
	"accounts/internal/moderation"
	"accounts/internal/profile"
	"accounts/internal/store"
)

const maxRequestNameLength = 100

type InvitationRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// RequestInvitation records a self-service account request and tells the
// moderators about it. The account stays inactive until a moderator approves
// it and the owner activates it.
func (s *Service) RequestInvitation(ctx context.Context, req InvitationRequest) (models.User, error) {
	email := moderation.NormalizeEmail(req.Email)
	errs := profile.ValidationErrors{}
	if err := profile.ValidateEmail(email); err != nil {
		errs["email"] = err.Error()
	}
	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if first == "" {
		errs["first_name"] = "first name is required"
	} else if len(first) > maxRequestNameLength {
		errs["first_name"] = "too long"
	}
	if len(last) > maxRequestNameLength {
		errs["last_name"] = "too long"
	}
	if len(errs) > 0 {
		return models.User{}, errs
	}

	existing, err := s.st.GetUserByEmail(ctx, email)
	switch {
	case err == nil && existing.IsClosed():
		s.metrics.ObserveInvitationRequest("closed")
		return models.User{}, ErrAccountClosed
	case err == nil:
		s.metrics.ObserveInvitationRequest("duplicate")
		return models.User{}, ErrEmailTaken
	case !errors.Is(err, store.ErrNotFound):
		return models.User{}, err
	}

	u := models.User{
		Email:              email,
		FirstName:          first,
		LastName:           last,
		Role:               models.RoleStandard,
		RegistrationMethod: models.RegistrationRequested,
		CreatedAt:          s.now(),
	}
	u.ID = uuid.NewString()
	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		return s.audit(ctx, tx, u.ID, "account.request", u.ID, map[string]string{"email": u.Email})
	})
	if errors.Is(err, store.ErrConflict) {
		return models.User{}, ErrEmailTaken
	}
	if err != nil {
		return models.User{}, fmt.Errorf("store account request: %w", err)
	}
	s.metrics.ObserveInvitationRequest("created")
	s.logger.Info("account requested", zap.String("user_id", u.ID))

	body := fmt.Sprintf("%s <%s> asked for an account.\r\nReview pending requests at %s/#/moderation/requests\r\n",
		u.FullName(), u.Email, strings.TrimRight(s.cfg.PublicURL, "/"))
	s.notifyModerators(ctx, "New account request", body)
	return u, nil
}

// ActivateAccount sets the first password of an invited or approved account.
func (s *Service) ActivateAccount(ctx context.Context, rawToken, password, confirm string) (models.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return models.User{}, ErrInvalidToken
	}
	u, err := s.st.GetUserByAuthTokenHash(ctx, auth.HashToken(rawToken))
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, err
	}
	if u.IsActive || u.IsClosed() {
		return models.User{}, ErrInvalidToken
	}
	if u.ModeratorDecision != models.DecisionPreApproved && u.ModeratorDecision != models.DecisionApproved {
		return models.User{}, ErrInvalidToken
	}
	now := s.now()
	if u.DecisionAt == nil || now.After(u.DecisionAt.Add(s.cfg.ActivationTTL)) {
		return models.User{}, ErrInvalidToken
	}
	if password != confirm {
		return models.User{}, ErrPasswordMismatch
	}
	if err := s.ValidatePassword(password); err != nil {
		return models.User{}, profile.ValidationErrors{"password": err.Error()}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.ActivateUser(ctx, u.ID, hash, now); err != nil {
			return err
		}
		return s.audit(ctx, tx, u.ID, "account.activate", u.ID, map[string]string{"email": u.Email})
	})
	if errors.Is(err, store.ErrConflict) {
		return models.User{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, fmt.Errorf("activate account: %w", err)
	}
	u.PasswordHash = hash
	u.IsActive = true
	u.ActivatedAt = &now
	u.AuthTokenHash = nil
	s.metrics.ObserveActivation()
	s.provisionActive(ctx, u, hash)

	body := fmt.Sprintf("%s <%s> activated their account.\r\n", u.FullName(), u.Email)
	s.notifyModerators(ctx, "Account activated", body)
	return u, nil
}

// UpdateSettings changes the login email and, optionally, the password.
func (s *Service) UpdateSettings(ctx context.Context, userID string, form profile.SettingsForm) (models.User, error) {
	form.Email = moderation.NormalizeEmail(form.Email)
	if err := form.Validate(); err != nil {
		return models.User{}, err
	}
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if u.IsClosed() {
		return models.User{}, ErrAccountClosed
	}

	errs := profile.ValidationErrors{}
	emailChanged := form.Email != u.Email
	if emailChanged {
		if err := s.ensureEmailFree(ctx, form.Email, u.ID); errors.Is(err, ErrEmailTaken) {
			errs["email"] = "email is already in use"
		} else if err != nil {
			return models.User{}, err
		}
	}
	var newHash string
	if form.ChangesPassword() {
		if !auth.VerifyPassword(u.PasswordHash, form.CurrentPassword) {
			errs["current_password"] = "current password is incorrect"
		} else if err := s.ValidatePassword(form.NewPassword); err != nil {
			errs["new_password"] = err.Error()
		}
	}
	if len(errs) > 0 {
		return models.User{}, errs
	}
	if form.ChangesPassword() {
		if newHash, err = auth.HashPassword(form.NewPassword); err != nil {
			return models.User{}, err
		}
	}
	if !emailChanged && newHash == "" {
		return u, nil
	}

	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if emailChanged {
			if err := tx.UpdateUserEmail(ctx, u.ID, form.Email); err != nil {
				return err
			}
		}
		if newHash != "" {
			if err := tx.UpdateUserPasswordHash(ctx, u.ID, newHash); err != nil {
				return err
			}
		}
		return s.audit(ctx, tx, u.ID, "account.settings", u.ID, map[string]string{
			"email":            form.Email,
			"email_changed":    fmt.Sprintf("%t", emailChanged),
			"password_changed": fmt.Sprintf("%t", newHash != ""),
		})
	})
	if errors.Is(err, store.ErrConflict) {
		return models.User{}, profile.ValidationErrors{"email": "email is already in use"}
	}
	if err != nil {
		return models.User{}, fmt.Errorf("update settings: %w", err)
	}

	oldEmail := u.Email
	u.Email = form.Email
	if newHash != "" {
		u.PasswordHash = newHash
	}
	if u.IsActive {
		if emailChanged {
			if err := s.provision.RenameUser(ctx, oldEmail, u.Email); err != nil {
				s.logger.Error("directory rename failed", zap.String("user_id", u.ID), zap.Error(err))
			}
		}
		if newHash != "" {
			s.provisionActive(ctx, u, newHash)
		}
	}
	return u, nil
}

// CloseAccount deactivates the account of userID and ends its sessions. The
// record is kept so the email cannot be requested again.
func (s *Service) CloseAccount(ctx context.Context, userID, currentPassword string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.VerifyPassword(u.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	now := s.now()
	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.CloseUser(ctx, u.ID, now); err != nil {
			return err
		}
		if err := tx.RevokeUserSessions(ctx, u.ID); err != nil {
			return err
		}
		return s.audit(ctx, tx, u.ID, "account.close", u.ID, map[string]string{"email": u.Email})
	})
	if errors.Is(err, store.ErrConflict) {
		return ErrAccountClosed
	}
	if err != nil {
		return fmt.Errorf("close account: %w", err)
	}
	s.metrics.ObserveClose()
	if err := s.provision.DisableUser(ctx, u.Email); err != nil {
		s.logger.Error("directory disable failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	s.logger.Info("account closed", zap.String("user_id", u.ID))
	return nil
}

func (s *Service) notifyModerators(ctx context.Context, subject, body string) {
	mods, err := s.st.ListModerators(ctx)
	if err != nil {
		s.logger.Error("list moderators failed", zap.Error(err))
		return
	}
	to := make([]string, 0, len(mods))
	for _, m := range mods {
		to = append(to, m.Email)
	}
	if err := s.sender.NotifyModerators(ctx, to, subject, body); err != nil {
		s.logger.Error("notify moderators failed", zap.String("subject", subject), zap.Error(err))
	}
}
