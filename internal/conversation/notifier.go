package conversation

import (
	"context"
	"log/slog"

	"github.com/deskbotio/deskbot/internal/session"
)

// CompletionNotifier closes out a dispatched submission: it thanks the
// requester and returns their session to idle. It runs regardless of sink
// outcomes, so the user is never left stuck after a partial failure.
type CompletionNotifier struct {
	logger   *slog.Logger
	bot      Transport
	sessions *session.Store
}

// NewCompletionNotifier creates a CompletionNotifier.
func NewCompletionNotifier(log *slog.Logger, bot Transport, sessions *session.Store) *CompletionNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &CompletionNotifier{
		logger:   log.With(slog.String("service", "notifier")),
		bot:      bot,
		sessions: sessions,
	}
}

// NotifyDone sends the completion notice and resets the session.
func (n *CompletionNotifier) NotifyDone(ctx context.Context, telegramID int64) {
	if err := n.bot.SendText(ctx, telegramID, msgTicketSent()); err != nil {
		n.logger.Error("completion notice failed",
			slog.Int64("telegram_id", telegramID),
			slog.Any("error", err))
	}
	n.sessions.Update(telegramID, func(s *session.Session) { s.Reset() })
}
