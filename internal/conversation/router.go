// Package conversation routes inbound messages through the per-user state
// machine that produces support tickets.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/deskbotio/deskbot/internal/config"
	"github.com/deskbotio/deskbot/internal/mediagroup"
	"github.com/deskbotio/deskbot/internal/ratelimit"
	"github.com/deskbotio/deskbot/internal/session"
	"github.com/deskbotio/deskbot/internal/store"
	"github.com/deskbotio/deskbot/internal/telegram"
	"github.com/deskbotio/deskbot/internal/ticket"
)

const (
	callbackSubmitRequest = "submit_request"
	callbackTopicPrefix   = "topic:"
)

// UserStore is the persistence surface the router needs.
type UserStore interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (store.User, error)
	GetEmailByID(ctx context.Context, emailID int64) (string, error)
	GetEmailRecord(ctx context.Context, email string) (store.EmailRecord, error)
	UpsertUser(ctx context.Context, params store.UpsertUserParams) error
	UpdateUserEmail(ctx context.Context, telegramID int64, newEmail string) (bool, error)
	AddAllowedEmail(ctx context.Context, email string) error
	RemoveAllowedEmail(ctx context.Context, email string) error
	BanAllowedEmail(ctx context.Context, email string) error
	UnbanAllowedEmail(ctx context.Context, email string) error
	IsAdmin(ctx context.Context, telegramID int64) (bool, error)
	AddAdmin(ctx context.Context, telegramID int64, topLevel bool) error
	RemoveAdmin(ctx context.Context, telegramID int64) error
	ListAdmins(ctx context.Context) ([]store.Admin, error)
}

// Transport is the outbound side of the chat platform.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, labels []string) error
	SendInlineButton(ctx context.Context, chatID int64, text, label, data string) error
	AnswerCallback(ctx context.Context, callbackID string)
}

// Sink receives finalized submissions.
type Sink interface {
	Dispatch(ctx context.Context, sub ticket.Submission)
}

// Router drives the conversation state machine.
type Router struct {
	logger      *slog.Logger
	users       UserStore
	sessions    *session.Store
	groups      *mediagroup.Aggregator
	sink        Sink
	bot         Transport
	ui          *config.UI
	limiter     ratelimit.Limiter
	maxLength   int
	rootAdminID int64
}

// NewRouter creates a Router.
func NewRouter(
	log *slog.Logger,
	users UserStore,
	sessions *session.Store,
	groups *mediagroup.Aggregator,
	sink Sink,
	bot Transport,
	ui *config.UI,
	limits config.LimitsConfig,
	rootAdminID int64,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		logger:   log.With(slog.String("service", "conversation")),
		users:    users,
		sessions: sessions,
		groups:   groups,
		sink:     sink,
		bot:      bot,
		ui:       ui,
		limiter: ratelimit.Limiter{
			MaxRequests: limits.MaxRequests,
			Interval:    time.Duration(limits.IntervalSeconds) * time.Second,
		},
		maxLength:   limits.MaxSubmissionLength,
		rootAdminID: rootAdminID,
	}
}

// Handle processes one inbound update. A panic in any handler is absorbed
// here: the user gets a generic notice and their session is left as-is so
// one bad update cannot take the polling loop down.
func (r *Router) Handle(ctx context.Context, msg telegram.Inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				slog.Int64("telegram_id", msg.TelegramID),
				slog.Any("panic", rec))
			r.send(ctx, msg, msgUnexpectedError())
		}
	}()

	if msg.IsCallback {
		r.bot.AnswerCallback(ctx, msg.CallbackID)
	}

	if cmd, args, ok := parseCommand(msg.Text); ok && !msg.IsCallback {
		r.handleCommand(ctx, msg, cmd, args)
		return
	}

	sess := r.sessions.Load(msg.TelegramID)
	r.logger.Debug("routing message",
		slog.Int64("telegram_id", msg.TelegramID),
		slog.String("state", string(sess.State)))

	// Later parts of an album already being collected join their group
	// directly, whatever the session state: the first part carried the
	// caption and topic and reset the session at handoff.
	if msg.MediaGroupID != "" && r.groups.Contains(msg.MediaGroupID) {
		r.appendGroupEntry(msg)
		return
	}

	// Email-like input re-enters the authorization flow from any state.
	// While free-text input is expected, only an explicit address (one
	// containing @) preempts, so a one-word reply is not mistaken for a
	// login attempt.
	if r.isEmailInput(sess.State, msg) {
		r.authorize(ctx, msg)
		return
	}

	switch sess.State {
	case session.StateIdle:
		r.handleIdle(ctx, msg)
	case session.StateWaitingForEmail:
		r.authorize(ctx, msg)
	case session.StateConfirmingEmailSwap:
		r.handleEmailSwapDecision(ctx, msg, sess)
	case session.StateWaitingForReqButton:
		r.handleRequestButton(ctx, msg, sess)
	case session.StateWaitingForTopic:
		r.handleTopicSelection(ctx, msg)
	case session.StateWaitingForMsgText:
		r.handleSubmission(ctx, msg, sess)
	default:
		r.sessions.Update(msg.TelegramID, func(s *session.Session) { s.Reset() })
		r.send(ctx, msg, msgUnknownInput(msg.FullName))
	}
}

func (r *Router) isEmailInput(state session.State, msg telegram.Inbound) bool {
	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.IsCallback {
		return false
	}
	switch state {
	case session.StateWaitingForEmail, session.StateConfirmingEmailSwap:
		// Those states run their own email handling.
		return false
	case session.StateWaitingForReqButton, session.StateWaitingForTopic, session.StateWaitingForMsgText:
		// Button labels, topic names, and ticket bodies are one-word free
		// text; autocomplete would turn any of them into a valid address,
		// so only an explicit one preempts here.
		return strings.Contains(text, "@") && r.ui.IsValidEmail(text)
	}
	return r.ui.IsValidEmail(r.ui.NormalizeEmail(text))
}

func (r *Router) handleIdle(ctx context.Context, msg telegram.Inbound) {
	user, err := r.users.GetUserByTelegramID(ctx, msg.TelegramID)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		r.logger.Error("load user failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	if !user.IsAuthorized {
		r.sessions.Update(msg.TelegramID, func(s *session.Session) {
			s.SetState(session.StateWaitingForEmail)
		})
		r.send(ctx, msg, msgAuthStart(msg.FullName))
		return
	}
	r.send(ctx, msg, msgUnknownInput(msg.FullName))
}

func (r *Router) handleRequestButton(ctx context.Context, msg telegram.Inbound, sess session.Session) {
	decision := r.limiter.Check(sess.RequestWindowStart, sess.RequestCount, time.Now())
	if !decision.Allowed {
		r.logger.Info("request rate limited",
			slog.Int64("telegram_id", msg.TelegramID),
			slog.Duration("retry_after", decision.RetryAfter))
		r.send(ctx, msg, msgRateLimited(ratelimit.FormatWait(decision.RetryAfter)))
		return
	}
	r.sessions.Update(msg.TelegramID, func(s *session.Session) {
		s.RequestWindowStart = decision.WindowStart
		s.RequestCount = decision.Count
		s.SetState(session.StateWaitingForTopic)
	})
	r.sendTopicPrompt(ctx, msg)
}

func (r *Router) handleTopicSelection(ctx context.Context, msg telegram.Inbound) {
	topic := strings.TrimSpace(strings.TrimPrefix(msg.Text, callbackTopicPrefix))
	if !r.ui.HasTopic(topic) {
		r.logger.Warn("invalid topic",
			slog.Int64("telegram_id", msg.TelegramID),
			slog.String("topic", topic))
		r.send(ctx, msg, msgInvalidTopic())
		return
	}
	r.sessions.Update(msg.TelegramID, func(s *session.Session) {
		s.SetState(session.StateWaitingForMsgText)
		s.SelectedTopic = topic
	})
	r.send(ctx, msg, msgEnterMessage(topic))
}

func (r *Router) handleSubmission(ctx context.Context, msg telegram.Inbound, sess session.Session) {
	body := strings.TrimSpace(msg.Text)
	if len([]rune(body)) > r.maxLength {
		r.logger.Warn("submission too long",
			slog.Int64("telegram_id", msg.TelegramID),
			slog.Int("length", len([]rune(body))))
		r.send(ctx, msg, msgTooLong(r.maxLength))
		return
	}

	user, err := r.users.GetUserByTelegramID(ctx, msg.TelegramID)
	if err != nil || user.EmailID == 0 {
		r.logger.Error("submission without resolvable user",
			slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	email, err := r.users.GetEmailByID(ctx, user.EmailID)
	if err != nil {
		r.logger.Error("submission email lookup failed",
			slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}

	// Media-group messages are parked with the aggregator; the sweeper
	// dispatches once the group goes quiet. The session returns to idle
	// right away so interleaved inputs cannot corrupt the pending group.
	if msg.MediaGroupID != "" {
		entry := mediagroup.Entry{
			TelegramID:  msg.TelegramID,
			DisplayName: displayName(msg),
			Email:       email,
			Topic:       sess.SelectedTopic,
			Caption:     body,
		}
		if msg.Attachment != nil {
			entry.FileID = msg.Attachment.FileID
			entry.FileName = msg.Attachment.FileName
			entry.Kind = string(msg.Attachment.Kind)
		}
		r.groups.Append(msg.MediaGroupID, entry)
		r.sessions.Update(msg.TelegramID, func(s *session.Session) { s.Reset() })
		return
	}

	sub := ticket.Submission{
		RequesterID:   msg.TelegramID,
		RequesterName: displayName(msg),
		Email:         email,
		Topic:         sess.SelectedTopic,
		Body:          body,
	}
	if msg.Attachment != nil {
		sub.Attachments = []ticket.AttachmentRef{*msg.Attachment}
	}
	r.sink.Dispatch(ctx, sub)
}

// appendGroupEntry adds a follow-up album message to its pending group.
// Only the first entry's caption and topic count, so no user lookup is
// needed here.
func (r *Router) appendGroupEntry(msg telegram.Inbound) {
	entry := mediagroup.Entry{
		TelegramID:  msg.TelegramID,
		DisplayName: displayName(msg),
		Caption:     strings.TrimSpace(msg.Text),
	}
	if msg.Attachment != nil {
		entry.FileID = msg.Attachment.FileID
		entry.FileName = msg.Attachment.FileName
		entry.Kind = string(msg.Attachment.Kind)
	}
	r.groups.Append(msg.MediaGroupID, entry)
}

// FlushGroup converts a flushed media group into one submission. It is
// wired as the aggregator's flush callback.
func (r *Router) FlushGroup(groupID string, entries []mediagroup.Entry) {
	if len(entries) == 0 {
		return
	}
	first := entries[0]
	sub := ticket.Submission{
		RequesterID:   first.TelegramID,
		RequesterName: first.DisplayName,
		Email:         first.Email,
		Topic:         first.Topic,
		Body:          first.Caption,
	}
	for _, entry := range entries {
		if entry.FileID == "" {
			continue
		}
		sub.Attachments = append(sub.Attachments, ticket.AttachmentRef{
			FileID:   entry.FileID,
			FileName: entry.FileName,
			Kind:     ticket.Kind(entry.Kind),
		})
	}
	r.logger.Info("dispatching media group",
		slog.String("group_id", groupID),
		slog.Int("attachments", len(sub.Attachments)))
	r.sink.Dispatch(context.Background(), sub)
}

func (r *Router) sendTopicPrompt(ctx context.Context, msg telegram.Inbound) {
	if err := r.bot.SendKeyboard(ctx, chatID(msg), msgSelectTopic(), r.ui.Topics); err != nil {
		r.logger.Error("send topic prompt failed", slog.Any("error", err))
	}
}

func (r *Router) send(ctx context.Context, msg telegram.Inbound, text string) {
	if err := r.bot.SendText(ctx, chatID(msg), text); err != nil {
		r.logger.Error("send failed",
			slog.Int64("telegram_id", msg.TelegramID),
			slog.Any("error", err))
	}
}

func chatID(msg telegram.Inbound) int64 {
	if msg.ChatID != 0 {
		return msg.ChatID
	}
	return msg.TelegramID
}

func displayName(msg telegram.Inbound) string {
	if msg.Username != "" {
		return msg.Username
	}
	if msg.FullName != "" {
		return msg.FullName
	}
	return "user"
}

func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	// Commands may carry the bot username suffix in group chats.
	if idx := strings.Index(cmd, "@"); idx >= 0 {
		cmd = cmd[:idx]
	}
	return strings.ToLower(cmd), fields[1:], true
}
