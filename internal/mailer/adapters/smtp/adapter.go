// Package smtp sends mail through a plain SMTP relay.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	mail "github.com/wneessen/go-mail"

	"github.com/deskbotio/deskbot/internal/config"
	"github.com/deskbotio/deskbot/internal/mailer"
)

const ProviderName mailer.ProviderName = "smtp"

type Adapter struct {
	logger *slog.Logger
	from   string
	cfg    config.SMTPConfig
}

func New(log *slog.Logger, from string, cfg config.SMTPConfig) *Adapter {
	return &Adapter{
		logger: log.With(slog.String("adapter", "smtp")),
		from:   from,
		cfg:    cfg,
	}
}

func (a *Adapter) Type() mailer.ProviderName { return ProviderName }

func (a *Adapter) Send(ctx context.Context, msg mailer.Message) (string, error) {
	m := mail.NewMsg()
	if err := m.From(a.from); err != nil {
		return "", fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return "", fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	}
	for _, att := range msg.Attachments {
		if err := m.AttachReader(att.Filename, bytes.NewReader(att.Data),
			mail.WithFileContentType(mail.ContentType(att.MIMEType))); err != nil {
			return "", fmt.Errorf("attach %s: %w", att.Filename, err)
		}
	}
	m.SetMessageID()

	opts := []mail.Option{
		mail.WithPort(a.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(a.cfg.Username),
		mail.WithPassword(a.cfg.Password),
	}
	switch a.cfg.Security {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "starttls":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(a.cfg.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return m.GetMessageID(), nil
}

var _ mailer.Sender = (*Adapter)(nil)
