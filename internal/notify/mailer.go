// Package notify implements plugin.Notifier for e-mail and plain writers.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/patrickspencer/hydranotify/pkg/plugin"
)

// DefaultSubject is used when the configuration sets no subject.
const DefaultSubject = "Packages failing to build in Nixpkgs"

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	Subject  string
	Timeout  time.Duration
}

// Mailer sends notifications over SMTP.
type Mailer struct {
	cfg    MailConfig
	client *mail.Client
	logger *zap.SugaredLogger
}

// NewMailer validates cfg and prepares an SMTP client. Nothing is dialed
// until the first notification.
func NewMailer(cfg MailConfig, log *zap.SugaredLogger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	// Build a throwaway message so bad addresses fail at startup.
	if _, err := newMessage(cfg, ""); err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: create client: %w", err)
	}

	return &Mailer{cfg: cfg, client: client, logger: log}, nil
}

func newMessage(cfg MailConfig, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(cfg.From); err != nil {
		return nil, fmt.Errorf("mail: invalid from address %q: %w", cfg.From, err)
	}
	if err := msg.To(cfg.To); err != nil {
		return nil, fmt.Errorf("mail: invalid to address %q: %w", cfg.To, err)
	}
	msg.Subject(cfg.Subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// Name implements plugin.Plugin.
func (m *Mailer) Name() string { return "smtp" }

// Close implements plugin.Plugin.
func (m *Mailer) Close() error { return nil }

// Notify implements plugin.Notifier. An event without builds sends nothing.
func (m *Mailer) Notify(ctx context.Context, event plugin.NotifyEvent) error {
	if len(event.Builds) == 0 {
		return nil
	}

	cfg := m.cfg
	if event.Subject != "" {
		cfg.Subject = event.Subject
	}
	msg, err := newMessage(cfg, event.Body)
	if err != nil {
		return err
	}

	m.logger.Infow("notify: sending mail",
		"run_id", event.RunID,
		"to", cfg.To,
		"builds", len(event.Builds))

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send report: %w", err)
	}
	return nil
}
