// Package telegram is the chat transport: it long-polls for updates,
// normalizes them for the conversation router, and sends replies.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deskbotio/deskbot/internal/ticket"
)

const maxMessageLength = 4096

// Inbound is one normalized update. Text carries the message text or, for
// media messages, the caption. Callback presses surface their payload as
// Text with IsCallback set.
type Inbound struct {
	TelegramID   int64
	ChatID       int64
	Username     string
	FullName     string
	Text         string
	MediaGroupID string
	Attachment   *ticket.AttachmentRef
	CallbackID   string
	IsCallback   bool
}

// Handler processes one inbound update.
type Handler func(ctx context.Context, msg Inbound)

// Bot wraps the Telegram API client.
type Bot struct {
	logger *slog.Logger
	api    *tgbotapi.BotAPI
	client *http.Client
}

// New authenticates against the Telegram API.
func New(log *slog.Logger, token string) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Bot{
		logger: log.With(slog.String("adapter", "telegram")),
		api:    api,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Username returns the bot's own username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// workerCount bounds handler concurrency. Updates are sharded by user,
// so the pool size only caps how many users are handled at once.
const workerCount = 16

// Run long-polls for updates until ctx is done, invoking handler for each
// message or callback press. Updates fan out to a fixed worker pool
// sharded by user ID: one slow user cannot stall the rest, while each
// user's messages are handled in arrival order.
func (b *Bot) Run(ctx context.Context, handler Handler) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := b.api.GetUpdatesChan(updateConfig)

	queues := newInboundQueues(ctx, workerCount, handler)
	defer queues.close()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			// Drain so the library's polling goroutine can exit; an
			// abandoned long-poll session causes getUpdates conflicts on
			// the next start with the same token.
			for range updates {
			}
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return
			}
			msg, ok := b.normalize(update)
			if !ok {
				continue
			}
			b.logger.Debug("inbound received",
				slog.Int64("telegram_id", msg.TelegramID),
				slog.Bool("callback", msg.IsCallback),
				slog.String("media_group_id", msg.MediaGroupID))
			queues.dispatch(msg)
		}
	}
}

// inboundQueues fans inbound messages out to a fixed set of workers.
// All messages from one user land on the same shard, preserving their
// order; different users proceed independently.
type inboundQueues struct {
	shards []chan Inbound
	wg     sync.WaitGroup
}

func newInboundQueues(ctx context.Context, workers int, handler Handler) *inboundQueues {
	q := &inboundQueues{shards: make([]chan Inbound, workers)}
	for i := range q.shards {
		shard := make(chan Inbound, 64)
		q.shards[i] = shard
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for msg := range shard {
				handler(ctx, msg)
			}
		}()
	}
	return q
}

func (q *inboundQueues) dispatch(msg Inbound) {
	q.shards[uint64(msg.TelegramID)%uint64(len(q.shards))] <- msg
}

// close stops accepting work and waits for in-flight handlers.
func (q *inboundQueues) close() {
	for _, shard := range q.shards {
		close(shard)
	}
	q.wg.Wait()
}

func (b *Bot) normalize(update tgbotapi.Update) (Inbound, bool) {
	if update.CallbackQuery != nil {
		cb := update.CallbackQuery
		if cb.From == nil {
			return Inbound{}, false
		}
		msg := Inbound{
			TelegramID: cb.From.ID,
			Username:   cb.From.UserName,
			FullName:   displayName(cb.From),
			Text:       strings.TrimSpace(cb.Data),
			CallbackID: cb.ID,
			IsCallback: true,
		}
		if cb.Message != nil && cb.Message.Chat != nil {
			msg.ChatID = cb.Message.Chat.ID
		}
		return msg, true
	}

	m := update.Message
	if m == nil || m.From == nil {
		return Inbound{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	attachment := collectAttachment(m)
	if text == "" && attachment == nil {
		return Inbound{}, false
	}
	msg := Inbound{
		TelegramID:   m.From.ID,
		Username:     m.From.UserName,
		FullName:     displayName(m.From),
		Text:         text,
		MediaGroupID: m.MediaGroupID,
		Attachment:   attachment,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	return msg, true
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = strings.TrimSpace(u.UserName)
	}
	return name
}

func collectAttachment(m *tgbotapi.Message) *ticket.AttachmentRef {
	switch {
	case len(m.Photo) > 0:
		photo := pickPhoto(m.Photo)
		return &ticket.AttachmentRef{FileID: photo.FileID, Kind: ticket.KindPhoto}
	case m.Document != nil:
		return &ticket.AttachmentRef{FileID: m.Document.FileID, FileName: m.Document.FileName, Kind: ticket.KindDocument}
	case m.Video != nil:
		return &ticket.AttachmentRef{FileID: m.Video.FileID, FileName: m.Video.FileName, Kind: ticket.KindVideo}
	case m.Audio != nil:
		return &ticket.AttachmentRef{FileID: m.Audio.FileID, FileName: m.Audio.FileName, Kind: ticket.KindAudio}
	case m.Voice != nil:
		return &ticket.AttachmentRef{FileID: m.Voice.FileID, Kind: ticket.KindVoice}
	default:
		return nil
	}
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// SendText sends a plain message, removing any reply keyboard.
func (b *Bot) SendText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	_, err := b.api.Send(msg)
	return err
}

// SendKeyboard sends a message with a one-time reply keyboard, one button
// per label per row.
func (b *Bot) SendKeyboard(_ context.Context, chatID int64, text string, labels []string) error {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(labels))
	for _, label := range labels {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(label)))
	}
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.OneTimeKeyboard = true
	keyboard.ResizeKeyboard = true

	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

// SendInlineButton sends a message with a single inline button carrying
// data as its callback payload.
func (b *Bot) SendInlineButton(_ context.Context, chatID int64, text, label, data string) error {
	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)))
	_, err := b.api.Send(msg)
	return err
}

// AnswerCallback acknowledges a callback press so the client stops showing
// a spinner.
func (b *Bot) AnswerCallback(_ context.Context, callbackID string) {
	if callbackID == "" {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		b.logger.Warn("answer callback failed", slog.Any("error", err))
	}
}

// SendAttachment re-sends a platform-hosted file to a chat by its file id.
func (b *Bot) SendAttachment(_ context.Context, chatID int64, ref ticket.AttachmentRef) error {
	file := tgbotapi.FileID(ref.FileID)
	var chattable tgbotapi.Chattable
	switch ref.Kind {
	case ticket.KindPhoto:
		chattable = tgbotapi.NewPhoto(chatID, file)
	case ticket.KindVideo:
		chattable = tgbotapi.NewVideo(chatID, file)
	case ticket.KindAudio:
		chattable = tgbotapi.NewAudio(chatID, file)
	case ticket.KindVoice:
		chattable = tgbotapi.NewVoice(chatID, file)
	default:
		chattable = tgbotapi.NewDocument(chatID, file)
	}
	_, err := b.api.Send(chattable)
	return err
}

// FetchAttachment downloads an attachment's payload and returns it with a
// usable filename.
func (b *Bot) FetchAttachment(ctx context.Context, ref ticket.AttachmentRef) ([]byte, string, error) {
	downloadURL, err := b.api.GetFileDirectURL(ref.FileID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download attachment: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, "", fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}
	name := strings.TrimSpace(ref.FileName)
	if name == "" {
		name = path.Base(downloadURL)
	}
	return data, name, nil
}

var (
	_ ticket.Relay   = (*Bot)(nil)
	_ ticket.Fetcher = (*Bot)(nil)
)

func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
