// Package notify delivers account emails such as invitations, moderator
// decisions, reopen notices, moderator alerts and password resets.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"accounts/internal/config"
)

// Sender is what the service needs from the mail layer.
type Sender interface {
	SendInvitation(ctx context.Context, toEmail, name, token string) error
	SendDecision(ctx context.Context, toEmail, name string, approved bool, token string) error
	SendReopened(ctx context.Context, toEmail, name, token string) error
	NotifyModerators(ctx context.Context, toEmails []string, subject, body string) error
	SendPasswordReset(ctx context.Context, toEmail, token string) error
}

type Message struct {
	To      []string
	Subject string
	Body    string
}

// Transport hands a finished message to a delivery mechanism.
type Transport interface {
	Deliver(ctx context.Context, from string, msg Message) error
}

type Notifier struct {
	cfg       config.Config
	transport Transport
}

func NewNotifier(cfg config.Config, transport Transport) *Notifier {
	return &Notifier{cfg: cfg, transport: transport}
}

// NewSender picks the transport configured by MAIL_SENDER.
func NewSender(cfg config.Config, logger *zap.Logger) *Notifier {
	switch cfg.MailSender {
	case "smtp":
		return NewNotifier(cfg, NewSMTPTransport(cfg))
	default:
		return NewNotifier(cfg, LogTransport{logger: logger})
	}
}

func (n *Notifier) SendInvitation(ctx context.Context, toEmail, name, token string) error {
	body := fmt.Sprintf("Hello %s,\r\n\r\nYou have been invited to create an account.\r\nActivate it here:\r\n%s\r\n\r\nThe link expires in %s.\r\n",
		greetingName(name, toEmail), n.cfg.ActivationLink(token), n.cfg.ActivationTTL)
	return n.transport.Deliver(ctx, n.cfg.MailFrom, Message{To: []string{toEmail}, Subject: "Your invitation", Body: body})
}

func (n *Notifier) SendDecision(ctx context.Context, toEmail, name string, approved bool, token string) error {
	if approved {
		body := fmt.Sprintf("Hello %s,\r\n\r\nYour account request was approved.\r\nActivate your account here:\r\n%s\r\n",
			greetingName(name, toEmail), n.cfg.ActivationLink(token))
		return n.transport.Deliver(ctx, n.cfg.MailFrom, Message{To: []string{toEmail}, Subject: "Your account request was approved", Body: body})
	}
	body := fmt.Sprintf("Hello %s,\r\n\r\nYour account request was not approved.\r\n", greetingName(name, toEmail))
	return n.transport.Deliver(ctx, n.cfg.MailFrom, Message{To: []string{toEmail}, Subject: "Your account request", Body: body})
}

func (n *Notifier) SendReopened(ctx context.Context, toEmail, name, token string) error {
	body := fmt.Sprintf("Hello %s,\r\n\r\nYour account has been reopened by a moderator.\r\nSet a new password here:\r\n%s\r\n\r\nThe link expires in %s.\r\n",
		greetingName(name, toEmail), n.cfg.ActivationLink(token), n.cfg.ActivationTTL)
	return n.transport.Deliver(ctx, n.cfg.MailFrom, Message{To: []string{toEmail}, Subject: "Your account was reopened", Body: body})
}

func (n *Notifier) NotifyModerators(ctx context.Context, toEmails []string, subject, body string) error {
	if len(toEmails) == 0 {
		return nil
	}
	return n.transport.Deliver(ctx, n.cfg.MailFrom, Message{To: toEmails, Subject: subject, Body: body})
}

func (n *Notifier) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	body := "Use this link to reset your password:\r\n" + n.cfg.PasswordResetLink(token) + "\r\n"
	return n.transport.Deliver(ctx, n.cfg.MailFrom, Message{To: []string{toEmail}, Subject: "Password Reset", Body: body})
}

func greetingName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return email
}

// LogTransport writes messages to the log instead of sending them.
type LogTransport struct {
	logger *zap.Logger
}

func (t LogTransport) Deliver(_ context.Context, from string, msg Message) error {
	logger := t.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("mail not sent, log sender active",
		zap.String("from", from),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
		zap.Time("at", time.Now().UTC()),
	)
	return nil
}
