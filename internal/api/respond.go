package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"accounts/internal/middleware"
	"accounts/internal/models"
	"accounts/internal/moderation"
	"accounts/internal/profile"
	"accounts/internal/service"
	"accounts/internal/store"
	"accounts/internal/util"
)

const maxBodyBytes = 1 << 20

type userView struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Role               string     `json:"role"`
	IsActive           bool       `json:"is_active"`
	RegistrationMethod string     `json:"registration_method"`
	ModeratorID        *string    `json:"moderator_id,omitempty"`
	ModeratorDecision  string     `json:"moderator_decision,omitempty"`
	DecisionAt         *time.Time `json:"decision_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
}

func viewUser(u models.User) userView {
	return userView{
		ID:                 u.ID,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Role:               string(u.Role),
		IsActive:           u.IsActive,
		RegistrationMethod: string(u.RegistrationMethod),
		ModeratorID:        u.ModeratorID,
		ModeratorDecision:  string(u.ModeratorDecision),
		DecisionAt:         u.DecisionAt,
		CreatedAt:          u.CreatedAt,
		ActivatedAt:        u.ActivatedAt,
		ClosedAt:           u.ClosedAt,
		LastLoginAt:        u.LastLoginAt,
	}
}

func viewUsers(items []models.User) []userView {
	out := make([]userView, 0, len(items))
	for _, u := range items {
		out = append(out, viewUser(u))
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return false
	}
	return true
}

// writeServiceError maps service errors to API errors. Unknown errors are
// logged and reported as 500 without details.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	var verrs profile.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		util.WriteFieldErrors(w, verrs, rid)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, 403, "forbidden", "moderator role required", rid)
	case errors.Is(err, service.ErrEmailTaken):
		util.WriteError(w, 409, "email_taken", err.Error(), rid)
	case errors.Is(err, service.ErrAccountClosed):
		util.WriteError(w, 409, "account_closed", err.Error(), rid)
	case errors.Is(err, service.ErrAlreadyDecided):
		util.WriteError(w, 409, "already_decided", err.Error(), rid)
	case errors.Is(err, service.ErrNotReinvitable):
		util.WriteError(w, 409, "not_reinvitable", err.Error(), rid)
	case errors.Is(err, service.ErrNotClosed):
		util.WriteError(w, 409, "not_closed", err.Error(), rid)
	case errors.Is(err, service.ErrInvalidToken):
		util.WriteError(w, 400, "invalid_token", err.Error(), rid)
	case errors.Is(err, service.ErrPasswordMismatch):
		util.WriteFieldErrors(w, map[string]string{"confirm_password": err.Error()}, rid)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, 401, "invalid_credentials", err.Error(), rid)
	case errors.Is(err, service.ErrInactive):
		util.WriteError(w, 403, "inactive", err.Error(), rid)
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, 404, "not_found", "not found", rid)
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", rid), zap.Error(err))
		util.WriteError(w, 500, "internal_error", "internal error", rid)
	}
}

// writeModeration answers a moderation action. A denied outcome is a 403 and
// nothing was stored.
func writeModeration(w http.ResponseWriter, r *http.Request, status int, res moderation.Result) {
	if res.Denied() {
		util.WriteError(w, 403, "forbidden", "moderator role required", middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, status, map[string]any{"outcome": res.Outcome, "user": viewUser(res.Account)})
}

func parsePagination(r *http.Request) (int, int) {
	page := 1
	pageSize := 25
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}
	return page, pageSize
}

func randomToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func (h *Handlers) setAuthCookies(w http.ResponseWriter, r *http.Request, sessionToken, csrfToken string) {
	secure := h.cfg.ResolveCookieSecure(r)
	maxAge := int(h.cfg.SessionAbsoluteDuration().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) clearAuthCookies(w http.ResponseWriter, r *http.Request) {
	secure := h.cfg.ResolveCookieSecure(r)
	expiredAt := time.Unix(1, 0).UTC()
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{{h.cfg.SessionCookieName, true}, {h.cfg.CSRFCookieName, false}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     "/",
			HttpOnly: c.httpOnly,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  expiredAt,
		})
	}
}
