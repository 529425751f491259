package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deskbotio/deskbot/internal/ticket"
)

func testBot() *Bot {
	return &Bot{logger: slog.Default()}
}

func TestNormalizeCaptionFallsBackToText(t *testing.T) {
	t.Parallel()
	bot := testBot()
	msg, ok := bot.normalize(tgbotapi.Update{Message: &tgbotapi.Message{
		From:         &tgbotapi.User{ID: 7, FirstName: "Alice"},
		Chat:         &tgbotapi.Chat{ID: 7},
		Caption:      "  see attached  ",
		MediaGroupID: "g1",
		Photo:        []tgbotapi.PhotoSize{{FileID: "p1", FileSize: 10}},
	}})
	if !ok {
		t.Fatalf("update dropped")
	}
	if msg.Text != "see attached" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.MediaGroupID != "g1" {
		t.Fatalf("media group id = %q", msg.MediaGroupID)
	}
	if msg.Attachment == nil || msg.Attachment.Kind != ticket.KindPhoto || msg.Attachment.FileID != "p1" {
		t.Fatalf("attachment = %+v", msg.Attachment)
	}
}

func TestNormalizeDropsEmptyUpdates(t *testing.T) {
	t.Parallel()
	bot := testBot()
	if _, ok := bot.normalize(tgbotapi.Update{}); ok {
		t.Fatalf("empty update accepted")
	}
	if _, ok := bot.normalize(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1},
	}}); ok {
		t.Fatalf("contentless message accepted")
	}
}

func TestNormalizeCallback(t *testing.T) {
	t.Parallel()
	bot := testBot()
	msg, ok := bot.normalize(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 9, UserName: "bob"},
		Data:    "new_request",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 9}},
	}})
	if !ok {
		t.Fatalf("callback dropped")
	}
	if !msg.IsCallback || msg.CallbackID != "cb1" || msg.Text != "new_request" {
		t.Fatalf("callback mapping wrong: %+v", msg)
	}
}

func TestPickPhotoPrefersLargest(t *testing.T) {
	t.Parallel()
	best := pickPhoto([]tgbotapi.PhotoSize{
		{FileID: "small", FileSize: 100, Width: 90, Height: 90},
		{FileID: "big", FileSize: 900, Width: 800, Height: 600},
	})
	if best.FileID != "big" {
		t.Fatalf("picked %q", best.FileID)
	}
}

func TestTruncateTextRespectsRuneBoundary(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("я", maxMessageLength)
	out := truncateText(long)
	if len(out) > maxMessageLength {
		t.Fatalf("len = %d, want <= %d", len(out), maxMessageLength)
	}
	if !strings.HasSuffix(out, "...") {
		t.Fatalf("truncated text missing ellipsis")
	}
	for _, r := range out {
		if r == '�' {
			t.Fatalf("truncation split a rune")
		}
	}
}

func TestSanitizeTextStripsInvalidUTF8(t *testing.T) {
	t.Parallel()
	if got := sanitizeText("ok\xff"); got != "ok" {
		t.Fatalf("sanitize = %q", got)
	}
}

func TestInboundQueuesKeepPerUserOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[int64][]string{}
	q := newInboundQueues(context.Background(), 4, func(_ context.Context, msg Inbound) {
		// Make one user slow so a racy fan-out would reorder the other.
		if msg.TelegramID == 1 {
			time.Sleep(2 * time.Millisecond)
		}
		mu.Lock()
		seen[msg.TelegramID] = append(seen[msg.TelegramID], msg.Text)
		mu.Unlock()
	})

	var want []string
	for i := 0; i < 25; i++ {
		text := fmt.Sprintf("m%d", i)
		want = append(want, text)
		q.dispatch(Inbound{TelegramID: 1, Text: text})
		q.dispatch(Inbound{TelegramID: 2, Text: text})
	}
	q.close()

	for _, id := range []int64{1, 2} {
		got := seen[id]
		if len(got) != len(want) {
			t.Fatalf("user %d handled %d messages, want %d", id, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("user %d message %d = %q, want %q", id, i, got[i], want[i])
			}
		}
	}
}
