package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"accounts/internal/captcha"
	"accounts/internal/middleware"
	"accounts/internal/service"
	"accounts/internal/util"
)

type invitationRequest struct {
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	CaptchaToken string `json:"captcha_token"`
}

func (h *Handlers) RequestInvitation(w http.ResponseWriter, r *http.Request) {
	var req invitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ip := middleware.ClientIP(r, h.cfg.TrustProxy)
	if err := h.captchaVerifier.Verify(r.Context(), req.CaptchaToken, ip); err != nil {
		status, code := 400, "captcha_required"
		if errors.Is(err, captcha.ErrCaptchaUnavailable) {
			status, code = 502, "captcha_unavailable"
		}
		h.logger.Info("invitation request captcha failed", zap.String("remote_ip", ip), zap.Error(err))
		util.WriteError(w, status, code, "captcha validation failed", middleware.RequestID(r.Context()))
		return
	}
	u, err := h.svc.RequestInvitation(r.Context(), service.InvitationRequest{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, map[string]string{"status": "pending_review", "user_id": u.ID})
}

type activateRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.svc.ActivateAccount(r.Context(), req.Token, req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"status": "active", "user": viewUser(u)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ip := middleware.ClientIP(r, h.cfg.TrustProxy)
	key := loginFailureKey(ip, req.Email)

	token, user, err := h.svc.Login(r.Context(), req.Email, req.Password, ip, r.UserAgent())
	if err != nil {
		failCount, rerr := h.svc.RecordLoginFailure(r.Context(), key)
		if rerr != nil {
			h.logger.Warn("record login failure", zap.Error(rerr))
		}
		rid := middleware.RequestID(r.Context())
		if failCount > maxLoginFailures {
			util.WriteError(w, 429, "rate_limited", "too many failed logins", rid)
			return
		}
		if backoff := loginBackoff(failCount, h.cfg.HTTPWriteTimeout); backoff > 0 {
			select {
			case <-h.clock.After(backoff):
			case <-r.Context().Done():
			}
		}

		switch {
		case errors.Is(err, service.ErrAccountClosed):
			util.WriteError(w, 403, "account_closed", err.Error(), rid)
		case errors.Is(err, service.ErrInactive):
			util.WriteError(w, 403, "inactive", err.Error(), rid)
		case errors.Is(err, service.ErrInvalidCredentials):
			util.WriteError(w, 401, "invalid_credentials", err.Error(), rid)
		default:
			h.writeServiceError(w, r, err)
		}
		return
	}
	if err := h.svc.ClearLoginFailures(r.Context(), key); err != nil {
		h.logger.Warn("clear login failures", zap.Error(err))
	}

	csrfToken := randomToken()
	h.setAuthCookies(w, r, token, csrfToken)
	util.WriteJSON(w, 200, map[string]any{"user": viewUser(user), "csrf_token": csrfToken})
}

const maxLoginFailures = 6

func loginFailureKey(ip, email string) string {
	return ip + "|" + strings.ToLower(strings.TrimSpace(email))
}

// loginBackoff is the delay before answering a failed login. It doubles from
// the fourth failure on and stays under half the write timeout so the reply
// still reaches the client.
func loginBackoff(failCount int, writeTimeout time.Duration) time.Duration {
	if failCount <= 3 || failCount > maxLoginFailures {
		return 0
	}
	d := time.Duration(1<<(failCount-3)) * time.Second
	if writeTimeout > 0 && d > writeTimeout/2 {
		d = writeTimeout / 2
	}
	return d
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	c, _ := r.Cookie(h.cfg.SessionCookieName)
	if c != nil && c.Value != "" {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			h.logger.Warn("logout", zap.Error(err))
		}
	}
	h.clearAuthCookies(w, r)
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "accepted"})
}

func (h *Handlers) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}
