package captcha

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"accounts/internal/config"
)

func newTestVerifier(t *testing.T, hostname string, h http.HandlerFunc) *HTTPVerifier {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewHTTPVerifier(Options{VerifyURL: ts.URL, Secret: "secret", Hostname: hostname, Client: ts.Client()})
}

func TestHTTPVerifierSuccess(t *testing.T) {
	v := newTestVerifier(t, "", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "secret" || r.PostForm.Get("response") != "token" || r.PostForm.Get("remoteip") != "127.0.0.1" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	if err := v.Verify(testContext(t), "token", "127.0.0.1"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestHTTPVerifierFailure(t *testing.T) {
	v := newTestVerifier(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	})
	err := v.Verify(testContext(t), "token", "127.0.0.1")
	if !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected ErrCaptchaRequired, got %v", err)
	}
}

func TestHTTPVerifierUnavailable(t *testing.T) {
	v := newTestVerifier(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if err := v.Verify(testContext(t), "token", ""); !errors.Is(err, ErrCaptchaUnavailable) {
		t.Fatalf("expected ErrCaptchaUnavailable, got %v", err)
	}
}

func TestHTTPVerifierRejectsForeignHostname(t *testing.T) {
	v := newTestVerifier(t, "accounts.example.com", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"hostname":"evil.example.net"}`))
	})
	if err := v.Verify(testContext(t), "token", ""); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected hostname mismatch to be rejected, got %v", err)
	}
}

func TestHTTPVerifierRequiresToken(t *testing.T) {
	v := NewHTTPVerifier(Options{VerifyURL: "http://127.0.0.1:1"})
	if err := v.Verify(testContext(t), "  ", ""); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected ErrCaptchaRequired, got %v", err)
	}
}

func TestNewVerifierDisabledIsNoop(t *testing.T) {
	if _, ok := NewVerifier(config.Config{}).(NoopVerifier); !ok {
		t.Fatalf("expected noop verifier when captcha is disabled")
	}
}
