package session_test

import (
	"testing"
	"time"

	"github.com/deskbotio/deskbot/internal/session"
)

func TestLoadCreatesIdleSession(t *testing.T) {
	t.Parallel()
	store := session.NewStore()
	sess := store.Load(42)
	if sess.State != session.StateIdle {
		t.Fatalf("new session state = %q, want %q", sess.State, session.StateIdle)
	}
	if sess.TelegramID != 42 {
		t.Fatalf("telegram id = %d, want 42", sess.TelegramID)
	}
	if store.Len() != 1 {
		t.Fatalf("store len = %d, want 1", store.Len())
	}
}

func TestUpdateCommitsChanges(t *testing.T) {
	t.Parallel()
	store := session.NewStore()
	store.Update(7, func(s *session.Session) {
		s.SetState(session.StateWaitingForTopic)
	})
	sess := store.Load(7)
	if sess.State != session.StateWaitingForTopic {
		t.Fatalf("state = %q, want %q", sess.State, session.StateWaitingForTopic)
	}
}

func TestSetStateClearsStaleFields(t *testing.T) {
	t.Parallel()
	sess := session.Session{State: session.StateConfirmingEmailSwap, PendingEmail: "new@corp.test"}
	sess.SetState(session.StateIdle)
	if sess.PendingEmail != "" {
		t.Fatalf("pending email survived state change: %q", sess.PendingEmail)
	}

	sess.SelectedTopic = "Billing"
	sess.SetState(session.StateWaitingForMsgText)
	if sess.SelectedTopic != "Billing" {
		t.Fatalf("selected topic dropped in message-text state")
	}
	sess.SetState(session.StateIdle)
	if sess.SelectedTopic != "" {
		t.Fatalf("selected topic survived exit from message-text state")
	}
}

func TestPruneIdleResetsOnlyStaleNonIdle(t *testing.T) {
	t.Parallel()
	store := session.NewStore()
	store.Update(1, func(s *session.Session) {
		s.SetState(session.StateWaitingForTopic)
		s.RequestCount = 2
	})
	store.Update(2, func(s *session.Session) {
		s.SetState(session.StateWaitingForEmail)
	})

	// Only the future cutoff catches sessions touched just now.
	if n := store.PruneIdle(time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("pruned %d fresh sessions, want 0", n)
	}
	if n := store.PruneIdle(time.Now().Add(time.Hour)); n != 2 {
		t.Fatalf("pruned %d sessions, want 2", n)
	}

	sess := store.Load(1)
	if sess.State != session.StateIdle {
		t.Fatalf("state after prune = %q, want idle", sess.State)
	}
	if sess.RequestCount != 2 {
		t.Fatalf("rate counter reset by prune, want preserved")
	}
}
