package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	PublicURL  string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	LogDev     bool   `env:"LOG_DEV" envDefault:"false"`

	DBPath            string        `env:"APP_DB_PATH" envDefault:"./data/app.db"`
	DBMaxOpenConns    int           `env:"APP_DB_MAX_OPEN_CONNS" envDefault:"4"`
	DBMaxIdleConns    int           `env:"APP_DB_MAX_IDLE_CONNS" envDefault:"2"`
	DBConnMaxLifetime time.Duration `env:"APP_DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	MigrationsDir     string        `env:"APP_MIGRATIONS_DIR" envDefault:"migrations"`

	SessionCookieName   string   `env:"SESSION_COOKIE_NAME" envDefault:"accounts_session"`
	SessionIdleMinutes  int      `env:"SESSION_IDLE_MINUTES" envDefault:"30"`
	SessionAbsoluteHour int      `env:"SESSION_ABSOLUTE_HOURS" envDefault:"24"`
	SessionSecret       string   `env:"SESSION_SECRET" envDefault:"CHANGE_ME_PRODUCTION_SESSION_SECRET"`
	CSRFCookieName      string   `env:"CSRF_COOKIE_NAME" envDefault:"accounts_csrf"`
	CookieSecureMode    string   `env:"COOKIE_SECURE_MODE"`
	CookieSecure        *bool    `env:"COOKIE_SECURE"`
	TrustProxy          bool     `env:"TRUST_PROXY" envDefault:"false"`
	CORSAllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	CaptchaEnabled   bool   `env:"CAPTCHA_ENABLED" envDefault:"false"`
	CaptchaProvider  string `env:"CAPTCHA_PROVIDER" envDefault:"turnstile"`
	CaptchaVerifyURL string `env:"CAPTCHA_VERIFY_URL"`
	CaptchaSecret    string `env:"CAPTCHA_SECRET"`

	PasswordMinLength int `env:"PASSWORD_MIN_LENGTH" envDefault:"12"`
	PasswordMaxLength int `env:"PASSWORD_MAX_LENGTH" envDefault:"128"`

	// Activation links expire this long after the moderator decision.
	ActivationTTL time.Duration `env:"ACTIVATION_TTL" envDefault:"168h"`

	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RedisAddr        string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`

	MailSender             string `env:"MAIL_SENDER" envDefault:"log"`
	MailFrom               string `env:"MAIL_FROM" envDefault:"accounts@example.com"`
	SMTPHost               string `env:"SMTP_HOST" envDefault:"127.0.0.1"`
	SMTPPort               int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername           string `env:"SMTP_USERNAME"`
	SMTPPassword           string `env:"SMTP_PASSWORD"`
	SMTPStartTLS           bool   `env:"SMTP_STARTTLS" envDefault:"true"`
	SMTPInsecureSkipVerify bool   `env:"SMTP_INSECURE_SKIP_VERIFY" envDefault:"false"`

	DirectoryDBDriver   string `env:"DIRECTORY_DB_DRIVER"`
	DirectoryDBDSN      string `env:"DIRECTORY_DB_DSN"`
	DirectoryTable      string `env:"DIRECTORY_TABLE" envDefault:"accounts"`
	DirectoryEmailCol   string `env:"DIRECTORY_EMAIL_COL" envDefault:"email"`
	DirectoryNameCol    string `env:"DIRECTORY_NAME_COL" envDefault:"display_name"`
	DirectoryPassCol    string `env:"DIRECTORY_PASS_COL" envDefault:"password_hash"`
	DirectoryActiveCol  string `env:"DIRECTORY_ACTIVE_COL" envDefault:"active"`
	DirectoryMaxConns   int    `env:"DIRECTORY_DB_MAX_OPEN_CONNS" envDefault:"2"`
	DirectoryPingOnBoot bool   `env:"DIRECTORY_PING_ON_BOOT" envDefault:"true"`

	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	BootstrapModeratorEmail    string `env:"BOOTSTRAP_MODERATOR_EMAIL"`
	BootstrapModeratorPassword string `env:"BOOTSTRAP_MODERATOR_PASSWORD"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.CaptchaProvider = strings.ToLower(strings.TrimSpace(c.CaptchaProvider))
	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	c.MailSender = strings.ToLower(strings.TrimSpace(c.MailSender))
	c.CookieSecureMode = strings.ToLower(strings.TrimSpace(c.CookieSecureMode))

	if c.SessionIdleMinutes <= 0 || c.SessionAbsoluteHour <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 {
		return fmt.Errorf("invalid DB pool config")
	}
	if c.PasswordMinLength < 8 {
		return fmt.Errorf("password min length must be >= 8")
	}
	if c.PasswordMaxLength < c.PasswordMinLength {
		return fmt.Errorf("password max length must be >= min length")
	}
	if c.ActivationTTL <= 0 {
		return fmt.Errorf("ACTIVATION_TTL must be positive")
	}
	if strings.TrimSpace(c.SessionSecret) == "" ||
		c.SessionSecret == "CHANGE_ME_PRODUCTION_SESSION_SECRET" ||
		len(c.SessionSecret) < 24 {
		return fmt.Errorf("SESSION_SECRET must be set to a strong non-default value (>=24 chars)")
	}

	if c.CookieSecureMode == "" {
		// COOKIE_SECURE is the older boolean switch.
		switch {
		case c.CookieSecure == nil:
			c.CookieSecureMode = "auto"
		case *c.CookieSecure:
			c.CookieSecureMode = "always"
		default:
			c.CookieSecureMode = "never"
		}
	}
	switch c.CookieSecureMode {
	case "auto", "always":
	case "never":
		if !isLocalListen(c.ListenAddr) {
			return fmt.Errorf("COOKIE_SECURE_MODE=never is allowed only for local listen addresses")
		}
	default:
		return fmt.Errorf("COOKIE_SECURE_MODE must be one of: auto, always, never")
	}

	switch c.RateLimitBackend {
	case "", "memory":
		c.RateLimitBackend = "memory"
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of: memory, redis")
	}

	switch c.MailSender {
	case "", "log":
		c.MailSender = "log"
	case "smtp":
		if c.SMTPPort <= 0 || strings.TrimSpace(c.SMTPHost) == "" {
			return fmt.Errorf("invalid SMTP host/port")
		}
	default:
		return fmt.Errorf("MAIL_SENDER must be one of: log, smtp")
	}

	switch strings.ToLower(c.DirectoryDBDriver) {
	case "", "pgx", "mysql":
	default:
		return fmt.Errorf("DIRECTORY_DB_DRIVER must be one of: pgx, mysql")
	}

	if c.CaptchaEnabled {
		if strings.TrimSpace(c.CaptchaSecret) == "" {
			return fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED=true")
		}
		if strings.TrimSpace(c.CaptchaVerifyURL) == "" {
			switch c.CaptchaProvider {
			case "turnstile", "":
				c.CaptchaVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
			case "hcaptcha":
				c.CaptchaVerifyURL = "https://hcaptcha.com/siteverify"
			default:
				return fmt.Errorf("unsupported CAPTCHA_PROVIDER: %s", c.CaptchaProvider)
			}
		}
	}
	return nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHour) * time.Hour
}

// ResolveCookieSecure decides the Secure attribute for cookies set on r.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	switch c.CookieSecureMode {
	case "always":
		return true
	case "never":
		return false
	}
	if r.TLS != nil {
		return true
	}
	if c.TrustProxy && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return true
	}
	return false
}

// ActivationLink builds the link mailed to invited and approved users.
func (c Config) ActivationLink(token string) string {
	base := strings.TrimRight(c.PublicURL, "/")
	return fmt.Sprintf("%s/#/activate?token=%s", base, token)
}

func (c Config) PasswordResetLink(token string) string {
	base := strings.TrimRight(c.PublicURL, "/")
	return fmt.Sprintf("%s/#/reset?token=%s", base, token)
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}
