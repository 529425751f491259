package ticket

import (
	"context"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/deskbotio/deskbot/internal/mailer"
	"github.com/deskbotio/deskbot/internal/render"
)

const fallbackMIMEType = "application/octet-stream"

// Relay forwards ticket content to the staff chat.
type Relay interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendAttachment(ctx context.Context, chatID int64, ref AttachmentRef) error
}

// Fetcher downloads an attachment's binary payload.
type Fetcher interface {
	FetchAttachment(ctx context.Context, ref AttachmentRef) ([]byte, string, error)
}

// Notifier tells the requester their submission went through.
type Notifier interface {
	NotifyDone(ctx context.Context, telegramID int64)
}

// Dispatcher fans a submission out to the staff chat and the email inbox.
// The two sinks are attempted independently; a failure in one is logged
// and never blocks the other or the requester's completion notice.
type Dispatcher struct {
	logger   *slog.Logger
	renderer *render.Renderer
	relay    Relay
	fetcher  Fetcher
	notifier Notifier
	sender   mailer.Sender

	chatID int64
	email  string
}

// NewDispatcher creates a Dispatcher. A zero chatID disables the chat
// sink; an empty email disables the mail sink; a nil sender does the same.
func NewDispatcher(
	log *slog.Logger,
	renderer *render.Renderer,
	relay Relay,
	fetcher Fetcher,
	notifier Notifier,
	sender mailer.Sender,
	chatID int64,
	email string,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:   log.With(slog.String("service", "dispatcher")),
		renderer: renderer,
		relay:    relay,
		fetcher:  fetcher,
		notifier: notifier,
		sender:   sender,
		chatID:   chatID,
		email:    email,
	}
}

// Dispatch delivers one submission and notifies the requester. Sink
// failures are absorbed here; the caller only needs to reset the session.
func (d *Dispatcher) Dispatch(ctx context.Context, sub Submission) {
	id := uuid.NewString()[:8]
	log := d.logger.With(
		slog.String("ticket_id", id),
		slog.Int64("requester_id", sub.RequesterID))

	view := render.Ticket{
		ID:          id,
		Requester:   sub.RequesterName,
		RequesterID: sub.RequesterID,
		Email:       sub.Email,
		Topic:       sub.Topic,
		Body:        sub.Body,
		Attachments: len(sub.Attachments),
	}
	summary, err := d.renderer.Summary(view)
	if err != nil {
		log.Error("summary render failed", slog.Any("error", err))
		summary = sub.Body
	}

	d.relayToChat(ctx, log, summary, sub)
	d.sendEmail(ctx, log, view, summary, sub)

	if d.notifier != nil {
		d.notifier.NotifyDone(ctx, sub.RequesterID)
	}
	log.Info("ticket dispatched",
		slog.String("topic", sub.Topic),
		slog.Int("attachments", len(sub.Attachments)))
}

func (d *Dispatcher) relayToChat(ctx context.Context, log *slog.Logger, summary string, sub Submission) {
	if d.relay == nil || d.chatID == 0 {
		return
	}
	if err := d.relay.SendText(ctx, d.chatID, summary); err != nil {
		log.Error("relay summary failed", slog.Any("error", err))
	}
	for _, ref := range sub.Attachments {
		if err := d.relay.SendAttachment(ctx, d.chatID, ref); err != nil {
			log.Error("relay attachment failed",
				slog.String("file_id", ref.FileID),
				slog.Any("error", err))
		}
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, log *slog.Logger, view render.Ticket, summary string, sub Submission) {
	if d.sender == nil || d.email == "" {
		return
	}

	var attachments []mailer.Attachment
	for _, ref := range sub.Attachments {
		if d.fetcher == nil {
			break
		}
		data, name, err := d.fetcher.FetchAttachment(ctx, ref)
		if err != nil {
			log.Error("attachment fetch failed",
				slog.String("file_id", ref.FileID),
				slog.Any("error", err))
			continue
		}
		attachments = append(attachments, mailer.Attachment{
			Filename: name,
			MIMEType: inferMIMEType(name),
			Data:     data,
		})
	}

	htmlBody, err := d.renderer.HTML(view)
	if err != nil {
		log.Error("html render failed", slog.Any("error", err))
	}

	msgID, err := d.sender.Send(ctx, mailer.Message{
		To:          []string{d.email},
		Subject:     d.renderer.Subject(view),
		TextBody:    summary,
		HTMLBody:    htmlBody,
		Attachments: attachments,
	})
	if err != nil {
		log.Error("email send failed", slog.Any("error", err))
		return
	}
	log.Debug("email sent", slog.String("message_id", msgID))
}

func inferMIMEType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fallbackMIMEType
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return fallbackMIMEType
}
