// Package captcha checks turnstile or hcaptcha tokens submitted with
// invitation requests.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"accounts/internal/config"
)

var (
	ErrCaptchaRequired    = errors.New("captcha_required")
	ErrCaptchaUnavailable = errors.New("captcha_unavailable")
)

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type NoopVerifier struct{}

func (NoopVerifier) Verify(ctx context.Context, token, remoteIP string) error { return nil }

type Options struct {
	VerifyURL string
	Secret    string
	// Hostname, when set, must equal the hostname the provider reports the
	// challenge was solved on.
	Hostname string
	Client   *http.Client
}

type HTTPVerifier struct {
	opts Options
}

func NewHTTPVerifier(opts Options) *HTTPVerifier {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 8 * time.Second}
	}
	return &HTTPVerifier{opts: opts}
}

func NewVerifier(cfg config.Config) Verifier {
	if !cfg.CaptchaEnabled {
		return NoopVerifier{}
	}
	host := ""
	if u, err := url.Parse(cfg.PublicURL); err == nil {
		host = u.Hostname()
	}
	return NewHTTPVerifier(Options{
		VerifyURL: strings.TrimSpace(cfg.CaptchaVerifyURL),
		Secret:    strings.TrimSpace(cfg.CaptchaSecret),
		Hostname:  host,
	})
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: captcha token is required", ErrCaptchaRequired)
	}
	form := url.Values{}
	form.Set("secret", v.opts.Secret)
	form.Set("response", token)
	if ip := strings.TrimSpace(remoteIP); ip != "" {
		form.Set("remoteip", ip)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.opts.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: captcha verify HTTP %d", ErrCaptchaUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: captcha verify HTTP %d", ErrCaptchaRequired, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if !out.Success {
		if len(out.ErrorCodes) > 0 {
			return fmt.Errorf("%w: captcha rejected: %s", ErrCaptchaRequired, strings.Join(out.ErrorCodes, ","))
		}
		return fmt.Errorf("%w: captcha rejected", ErrCaptchaRequired)
	}
	if v.opts.Hostname != "" && out.Hostname != "" && !strings.EqualFold(out.Hostname, v.opts.Hostname) {
		return fmt.Errorf("%w: captcha solved on %q", ErrCaptchaRequired, out.Hostname)
	}
	return nil
}
