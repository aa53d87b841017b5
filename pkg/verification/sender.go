package verification

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/go-mail"
)

// Sender delivers a plaintext verification code out of band. Delivery
// mechanics live outside the engine; SMS gateways plug in behind this
// interface the same way the SMTP sender below does.
type Sender interface {
	Send(ctx context.Context, recipient, code string) error
}

// MockSender records deliveries for tests and local development
type MockSender struct {
	mu   sync.Mutex
	Fail error

	sent []SentCode
}

// SentCode is one recorded delivery
type SentCode struct {
	Recipient string
	Code      string
}

// Send implements Sender
func (m *MockSender) Send(_ context.Context, recipient, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.sent = append(m.sent, SentCode{Recipient: recipient, Code: code})
	return nil
}

// Sent returns a copy of the recorded deliveries
func (m *MockSender) Sent() []SentCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentCode(nil), m.sent...)
}

// SMTPConfig configures the email sender
type SMTPConfig struct {
	Host     string `env:"DEVAUTH_SMTP_HOST" env-default:"localhost"`
	Port     int    `env:"DEVAUTH_SMTP_PORT" env-default:"1025"`
	TLS      bool   `env:"DEVAUTH_SMTP_TLS" env-default:"false"`
	Username string `env:"DEVAUTH_SMTP_USERNAME"`
	Password string `env:"DEVAUTH_SMTP_PASSWORD"`
	From     string `env:"DEVAUTH_SMTP_FROM" env-default:"noreply@example.com"`
}

// EmailSender delivers codes over SMTP
type EmailSender struct {
	config SMTPConfig
	client *mail.Client
}

// NewEmailSender creates an SMTP-backed sender
func NewEmailSender(config SMTPConfig) (*EmailSender, error) {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(30),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if !config.TLS {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.NoTLS),
		)
	} else {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		slog.Error("Failed to create mail client", "err", err)
		return nil, err
	}

	return &EmailSender{config: config, client: client}, nil
}

// Send implements Sender
func (e *EmailSender) Send(_ context.Context, recipient, code string) error {
	if recipient == "" {
		return fmt.Errorf("email delivery requires a recipient address")
	}

	msg := mail.NewMsg()
	if err := msg.From(e.config.From); err != nil {
		return err
	}
	if err := msg.To(recipient); err != nil {
		return err
	}
	msg.Subject("Your verification code")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf("Your verification code is %s. It expires shortly.", code))

	if err := e.client.DialAndSend(msg); err != nil {
		slog.Error("Failed to send verification code", "err", err)
		return err
	}

	slog.Info("Verification code sent", "to", recipient)
	return nil
}
