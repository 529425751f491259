// Package mailgun sends mail through the Mailgun HTTP API.
package mailgun

import (
	"context"
	"fmt"
	"log/slog"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/deskbotio/deskbot/internal/config"
	"github.com/deskbotio/deskbot/internal/mailer"
)

const ProviderName mailer.ProviderName = "mailgun"

type Adapter struct {
	logger *slog.Logger
	from   string
	cfg    config.MailgunConfig
}

func New(log *slog.Logger, from string, cfg config.MailgunConfig) *Adapter {
	return &Adapter{
		logger: log.With(slog.String("adapter", "mailgun")),
		from:   from,
		cfg:    cfg,
	}
}

func (a *Adapter) Type() mailer.ProviderName { return ProviderName }

func (a *Adapter) Send(ctx context.Context, msg mailer.Message) (string, error) {
	client := mg.NewMailgun(a.cfg.APIKey)
	if a.cfg.Region == "eu" {
		client.SetAPIBase(mg.APIBaseEU)
	}

	m := mg.NewMessage(a.cfg.Domain, a.from, msg.Subject, msg.TextBody, msg.To...)
	if msg.HTMLBody != "" {
		m.SetHTML(msg.HTMLBody)
	}
	for _, att := range msg.Attachments {
		m.AddBufferAttachment(att.Filename, att.Data)
	}

	resp, err := client.Send(ctx, m)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}
	return resp.ID, nil
}

var _ mailer.Sender = (*Adapter)(nil)
