package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"accounts/internal/captcha"
	"accounts/internal/config"
	"accounts/internal/metrics"
	"accounts/internal/middleware"
	"accounts/internal/rate"
	"accounts/internal/service"
	"accounts/internal/util"
	"accounts/internal/version"
)

// ReadyCheck reports whether one dependency of the service is usable.
type ReadyCheck func(ctx context.Context) error

// Options carries the optional collaborators of the router. Zero values fall
// back to an in-memory limiter, the configured captcha verifier and no
// metrics endpoint. Clock drives the failed-login backoff and defaults to the
// real clock.
type Options struct {
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Limiter     rate.Allower
	Captcha     captcha.Verifier
	ReadyChecks map[string]ReadyCheck
	Clock       clockwork.Clock
}

type Handlers struct {
	cfg             config.Config
	svc             *service.Service
	logger          *zap.Logger
	limiter         rate.Allower
	captchaVerifier captcha.Verifier
	readyChecks     map[string]ReadyCheck
	clock           clockwork.Clock
}

func NewRouter(cfg config.Config, svc *service.Service, opts Options) http.Handler {
	h := &Handlers{
		cfg:             cfg,
		svc:             svc,
		logger:          opts.Logger,
		limiter:         opts.Limiter,
		captchaVerifier: opts.Captcha,
		readyChecks:     opts.ReadyChecks,
		clock:           opts.Clock,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.limiter == nil {
		h.limiter = rate.NewLimiter()
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.captchaVerifier == nil {
		h.captchaVerifier = captcha.NewVerifier(cfg)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(h.logger, opts.Metrics, cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]any{"status": "ok", "build": version.Current()})
	})
	r.Get("/health/ready", h.Ready)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, "invitation_request", 10, time.Minute, cfg.TrustProxy)).Post("/invitations/request", h.RequestInvitation)
		r.With(middleware.RateLimit(h.limiter, "activate", 20, time.Minute, cfg.TrustProxy)).Post("/accounts/activate", h.Activate)
		r.With(middleware.RateLimit(h.limiter, "login", 20, time.Minute, cfg.TrustProxy)).Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.With(middleware.RateLimit(h.limiter, "reset_request", 10, time.Minute, cfg.TrustProxy)).Post("/password/reset/request", h.PasswordResetRequest)
		r.Post("/password/reset/confirm", h.PasswordResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authn(h.svc, cfg.SessionCookieName))
			r.Use(middleware.CSRFFromCookie(cfg.CSRFCookieName))

			r.Get("/me", h.Me)
			r.Get("/profile", h.GetProfile)
			r.Post("/profile", h.UpdateProfile)
			r.Get("/link-brands", h.ListLinkBrands)
			r.Get("/account/settings", h.GetSettings)
			r.Post("/account/settings", h.UpdateSettings)
			r.Post("/account/close", h.CloseAccount)

			r.Route("/moderation", func(r chi.Router) {
				r.Get("/requests", h.ListRequests)
				r.Get("/users", h.ListUsers)
				r.Get("/audit-log", h.AuditLog)
				r.Post("/invitations", h.Invite)
				r.Post("/users/{id}/reinvite", h.Reinvite)
				r.Post("/users/{id}/approve", h.Approve)
				r.Post("/users/{id}/reject", h.Reject)
				r.Post("/users/{id}/reopen", h.Reopen)
				r.Post("/link-brands", h.AddLinkBrand)
			})
		})
	})

	return r
}

// Ready reports the store and every configured dependency. Any failure turns
// the response into 503 with status "degraded".
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	comps := map[string]any{}
	ok := true
	check := func(name string, fn ReadyCheck) {
		if err := fn(ctx); err != nil {
			ok = false
			comps[name] = map[string]any{"ok": false, "error": err.Error()}
			return
		}
		comps[name] = map[string]any{"ok": true}
	}
	check("sqlite", h.svc.Store().Ping)
	for name, fn := range h.readyChecks {
		check(name, fn)
	}

	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"components": comps,
		"status":     "ready",
	}
	if !ok {
		ready["status"] = "degraded"
		util.WriteJSON(w, http.StatusServiceUnavailable, ready)
		return
	}
	util.WriteJSON(w, http.StatusOK, ready)
}
