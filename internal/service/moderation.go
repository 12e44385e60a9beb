package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"accounts/internal/models"
	"accounts/internal/moderation"
	"accounts/internal/policy"
	"accounts/internal/profile"
	"accounts/internal/store"
)

// InviteUser creates a pre-approved invited account and mails the activation
// link. A denied Result carries no account and nothing is stored.
func (s *Service) InviteUser(ctx context.Context, actor models.User, email, firstName, lastName string) (moderation.Result, error) {
	res, err := s.workflow.InviteNewUser(actor, email, firstName, lastName)
	if err != nil {
		return moderation.Result{}, err
	}
	if res.Denied() {
		s.recordDenied(ctx, actor, "invite", moderation.NormalizeEmail(email), res.Reason)
		return res, nil
	}
	if err := profile.ValidateEmail(res.Account.Email); err != nil {
		return moderation.Result{}, profile.ValidationErrors{"email": err.Error()}
	}
	if err := s.ensureEmailFree(ctx, res.Account.Email, ""); err != nil {
		return moderation.Result{}, err
	}

	u := res.Account
	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor.ID, "account.invite", u.ID, map[string]string{"email": u.Email})
	})
	if errors.Is(err, store.ErrConflict) {
		return moderation.Result{}, ErrEmailTaken
	}
	if err != nil {
		return moderation.Result{}, fmt.Errorf("store invited account: %w", err)
	}
	s.metrics.ObserveModeration("invite", string(res.Outcome))
	s.logger.Info("account invited", zap.String("actor_id", actor.ID), zap.String("user_id", u.ID))

	if err := s.sender.SendInvitation(ctx, u.Email, u.FullName(), res.Token); err != nil {
		s.logger.Error("send invitation failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	return res, nil
}

// ReinviteUser moves a pending invitation to email and sends a new link.
func (s *Service) ReinviteUser(ctx context.Context, actor models.User, userID, email string) (moderation.Result, error) {
	target, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && !policy.Check(actor, policy.CapReinvite).Allowed {
			s.recordDenied(ctx, actor, "reinvite", userID, "moderator role required")
			return moderation.Result{Outcome: moderation.OutcomeDenied}, nil
		}
		return moderation.Result{}, err
	}
	updated := target
	res, err := s.workflow.ReinviteUser(actor, &updated, email)
	if err != nil {
		return moderation.Result{}, err
	}
	if res.Denied() {
		s.recordDenied(ctx, actor, "reinvite", target.ID, res.Reason)
		return res, nil
	}
	if !canReinvite(target) {
		return moderation.Result{}, ErrNotReinvitable
	}
	if err := profile.ValidateEmail(updated.Email); err != nil {
		return moderation.Result{}, profile.ValidationErrors{"email": err.Error()}
	}
	if err := s.ensureEmailFree(ctx, updated.Email, target.ID); err != nil {
		return moderation.Result{}, err
	}

	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.SaveReinvite(ctx, updated); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor.ID, "account.reinvite", updated.ID, map[string]string{
			"email":          updated.Email,
			"previous_email": target.Email,
		})
	})
	if errors.Is(err, store.ErrDuplicate) {
		return moderation.Result{}, ErrEmailTaken
	}
	if errors.Is(err, store.ErrConflict) {
		return moderation.Result{}, ErrNotReinvitable
	}
	if err != nil {
		return moderation.Result{}, fmt.Errorf("store reinvite: %w", err)
	}
	s.metrics.ObserveModeration("reinvite", string(res.Outcome))

	if err := s.sender.SendInvitation(ctx, updated.Email, updated.FullName(), res.Token); err != nil {
		s.logger.Error("send invitation failed", zap.String("user_id", updated.ID), zap.Error(err))
	}
	return res, nil
}

func (s *Service) ApproveApplication(ctx context.Context, actor models.User, userID string) (moderation.Result, error) {
	return s.decide(ctx, actor, userID, true)
}

func (s *Service) RejectApplication(ctx context.Context, actor models.User, userID string) (moderation.Result, error) {
	return s.decide(ctx, actor, userID, false)
}

func (s *Service) decide(ctx context.Context, actor models.User, userID string, approve bool) (moderation.Result, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	target, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && !policy.Check(actor, policy.CapDecide).Allowed {
			s.recordDenied(ctx, actor, action, userID, "moderator role required")
			return moderation.Result{Outcome: moderation.OutcomeDenied}, nil
		}
		return moderation.Result{}, err
	}

	updated := target
	var res moderation.Result
	if approve {
		res, err = s.workflow.ApproveUserApplication(actor, &updated)
	} else {
		res, err = s.workflow.RejectUserApplication(actor, &updated)
	}
	if err != nil {
		return moderation.Result{}, err
	}
	if res.Denied() {
		s.recordDenied(ctx, actor, action, target.ID, res.Reason)
		return res, nil
	}
	if target.RegistrationMethod != models.RegistrationRequested || !target.IsPending() || target.IsClosed() {
		return moderation.Result{}, ErrAlreadyDecided
	}

	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.SaveDecision(ctx, updated); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor.ID, "account."+action, updated.ID, map[string]string{"email": updated.Email})
	})
	if errors.Is(err, store.ErrConflict) {
		return moderation.Result{}, ErrAlreadyDecided
	}
	if err != nil {
		return moderation.Result{}, fmt.Errorf("store decision: %w", err)
	}
	s.metrics.ObserveModeration(action, string(res.Outcome))
	s.logger.Info("account request decided",
		zap.String("actor_id", actor.ID),
		zap.String("user_id", updated.ID),
		zap.String("decision", string(updated.ModeratorDecision)),
	)

	if err := s.sender.SendDecision(ctx, updated.Email, updated.FullName(), approve, res.Token); err != nil {
		s.logger.Error("send decision failed", zap.String("user_id", updated.ID), zap.Error(err))
	}
	return res, nil
}

// ReopenAccount lets a closed account be activated again. The account stays
// inactive until its owner follows the new activation link.
func (s *Service) ReopenAccount(ctx context.Context, actor models.User, userID string) (moderation.Result, error) {
	target, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && !policy.Check(actor, policy.CapReopen).Allowed {
			s.recordDenied(ctx, actor, "reopen", userID, "moderator role required")
			return moderation.Result{Outcome: moderation.OutcomeDenied}, nil
		}
		return moderation.Result{}, err
	}
	updated := target
	res, err := s.workflow.ReopenAccount(actor, &updated)
	if err != nil {
		return moderation.Result{}, err
	}
	if res.Denied() {
		s.recordDenied(ctx, actor, "reopen", target.ID, res.Reason)
		return res, nil
	}
	if !target.IsClosed() {
		return moderation.Result{}, ErrNotClosed
	}

	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.ReopenUser(ctx, updated); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor.ID, "account.reopen", updated.ID, map[string]string{"email": updated.Email})
	})
	if errors.Is(err, store.ErrConflict) {
		return moderation.Result{}, ErrNotClosed
	}
	if err != nil {
		return moderation.Result{}, fmt.Errorf("store reopen: %w", err)
	}
	s.metrics.ObserveModeration("reopen", string(res.Outcome))
	s.logger.Info("account reopened", zap.String("actor_id", actor.ID), zap.String("user_id", updated.ID))

	if err := s.sender.SendReopened(ctx, updated.Email, updated.FullName(), res.Token); err != nil {
		s.logger.Error("send reopen notice failed", zap.String("user_id", updated.ID), zap.Error(err))
	}
	return res, nil
}

// AddLinkBrand registers a brand and attaches it to existing links on its
// domain.
func (s *Service) AddLinkBrand(ctx context.Context, actor models.User, name, domain, icon string) (models.LinkBrand, error) {
	if v := policy.Check(actor, policy.CapManageBrands); !v.Allowed {
		s.recordDenied(ctx, actor, "brand.add", domain, v.Reason)
		return models.LinkBrand{}, ErrForbidden
	}
	name = strings.TrimSpace(name)
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	errs := profile.ValidationErrors{}
	if name == "" {
		errs["name"] = "name is required"
	}
	if domain == "" || strings.ContainsAny(domain, "/:@ ") || !strings.Contains(domain, ".") {
		errs["domain"] = "domain must be a bare host name such as example.com"
	}
	if len(errs) > 0 {
		return models.LinkBrand{}, errs
	}

	var brand models.LinkBrand
	matched := 0
	err := s.st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		brand, err = tx.CreateLinkBrand(ctx, models.LinkBrand{Name: name, Domain: domain, Icon: strings.TrimSpace(icon)})
		if err != nil {
			return err
		}
		links, err := tx.ListUnbrandedLinks(ctx)
		if err != nil {
			return err
		}
		for _, l := range links {
			if !profile.BrandMatches(profile.HostOf(l.URL), brand.Domain) {
				continue
			}
			if err := tx.SetLinkBrand(ctx, l.UserID, l.URL, brand.ID); err != nil {
				return err
			}
			matched++
		}
		return s.audit(ctx, tx, actor.ID, "brand.add", brand.ID, map[string]string{
			"domain":  brand.Domain,
			"matched": fmt.Sprintf("%d", matched),
		})
	})
	if errors.Is(err, store.ErrConflict) {
		return models.LinkBrand{}, profile.ValidationErrors{"domain": "a brand for this domain already exists"}
	}
	if err != nil {
		return models.LinkBrand{}, err
	}
	s.logger.Info("link brand added", zap.String("domain", brand.Domain), zap.Int("matched_links", matched))
	return brand, nil
}

func (s *Service) ListRequests(ctx context.Context, actor models.User, q models.RequestQuery) ([]models.User, int, error) {
	if err := s.requireListing(actor); err != nil {
		return nil, 0, err
	}
	return s.st.ListRequests(ctx, clampRequestQuery(q))
}

func (s *Service) ListUsers(ctx context.Context, actor models.User, q models.UserQuery) ([]models.User, int, error) {
	if err := s.requireListing(actor); err != nil {
		return nil, 0, err
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 25
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.st.ListUsers(ctx, q)
}

func (s *Service) requireListing(actor models.User) error {
	if v := policy.Check(actor, policy.CapListAccounts); !v.Allowed {
		return ErrForbidden
	}
	return nil
}

func clampRequestQuery(q models.RequestQuery) models.RequestQuery {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 25
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func canReinvite(u models.User) bool {
	return u.RegistrationMethod == models.RegistrationInvited && !u.IsActive && !u.IsClosed() && u.ActivatedAt == nil
}

// ensureEmailFree fails when email belongs to an account other than selfID.
func (s *Service) ensureEmailFree(ctx context.Context, email, selfID string) error {
	existing, err := s.st.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == selfID {
		return nil
	}
	return ErrEmailTaken
}

func (s *Service) recordDenied(ctx context.Context, actor models.User, action, target, reason string) {
	s.metrics.ObserveModeration(action, string(moderation.OutcomeDenied))
	s.logger.Info("moderation action denied",
		zap.String("action", action),
		zap.String("actor_id", actor.ID),
		zap.String("target", target),
		zap.String("reason", reason),
	)
	if err := s.audit(ctx, s.st, actor.ID, "moderation.denied", target, map[string]string{
		"action": action,
		"reason": reason,
	}); err != nil {
		s.logger.Warn("audit denied action failed", zap.Error(err))
	}
}
