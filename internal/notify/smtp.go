package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"accounts/internal/config"
)

const defaultDialTimeout = 10 * time.Second

type SMTPTransport struct {
	cfg config.Config
	now func() time.Time
}

func NewSMTPTransport(cfg config.Config) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, now: time.Now}
}

func (t *SMTPTransport) Deliver(ctx context.Context, from string, msg Message) error {
	raw, err := Compose(from, msg, t.now().UTC())
	if err != nil {
		return err
	}
	return t.send(ctx, from, msg.To, raw)
}

// Compose renders msg as a single part text/plain RFC 5322 message.
func Compose(from string, msg Message, date time.Time) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	to := make([]*mail.Address, 0, len(msg.To))
	for _, r := range msg.To {
		to = append(to, &mail.Address{Address: strings.TrimSpace(r)})
	}
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, *tls.Config, error) {
	addr := net.JoinHostPort(t.cfg.SMTPHost, strconv.Itoa(t.cfg.SMTPPort))
	tlsConfig := &tls.Config{ServerName: t.cfg.SMTPHost, InsecureSkipVerify: t.cfg.SMTPInsecureSkipVerify}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	client, err := smtp.NewClient(conn, t.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return client, tlsConfig, nil
}

func (t *SMTPTransport) send(ctx context.Context, from string, rcpt []string, raw []byte) error {
	client, tlsConfig, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.cfg.SMTPStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}

	if t.cfg.SMTPUsername != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", t.cfg.SMTPUsername, t.cfg.SMTPPassword, t.cfg.SMTPHost)
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, r := range rcpt {
		if err := client.Rcpt(strings.TrimSpace(r)); err != nil {
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// Probe checks that the SMTP server answers and, if configured, offers
// STARTTLS. Used by the readiness endpoint.
func (t *SMTPTransport) Probe(ctx context.Context) error {
	client, tlsConfig, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.cfg.SMTPStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("SMTP STARTTLS extension not available")
		}
	}
	return client.Quit()
}
