package middleware

import (
	"context"
	"net/http"

	"accounts/internal/models"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	authKey
)

// authState is what Authn learned about the caller.
type authState struct {
	user    models.User
	session models.Session
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithAuth stores the authenticated account and its session. Handlers pass
// the account to the service as the acting user.
func WithAuth(ctx context.Context, u models.User, s models.Session) context.Context {
	return context.WithValue(ctx, authKey, authState{user: u, session: s})
}

func User(ctx context.Context) (models.User, bool) {
	st, ok := ctx.Value(authKey).(authState)
	return st.user, ok
}

func Session(ctx context.Context) (models.Session, bool) {
	st, ok := ctx.Value(authKey).(authState)
	return st.session, ok
}

func SecurityHeaders(next http.Handler) http.Handler {
	const csp = "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; " +
		"script-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy", csp)
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
