package conversation_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/deskbotio/deskbot/internal/config"
	"github.com/deskbotio/deskbot/internal/conversation"
	"github.com/deskbotio/deskbot/internal/mediagroup"
	"github.com/deskbotio/deskbot/internal/session"
	"github.com/deskbotio/deskbot/internal/store"
	"github.com/deskbotio/deskbot/internal/telegram"
	"github.com/deskbotio/deskbot/internal/ticket"
)

type fakeUsers struct {
	getUser         func(telegramID int64) (store.User, error)
	getEmailByID    func(emailID int64) (string, error)
	getEmailRecord  func(email string) (store.EmailRecord, error)
	upserts         []store.UpsertUserParams
	updateEmail     func(telegramID int64, email string) (bool, error)
	allowListCalls  []string
	isAdminResponse bool
	admins          []store.Admin
}

func (f *fakeUsers) GetUserByTelegramID(_ context.Context, telegramID int64) (store.User, error) {
	if f.getUser != nil {
		return f.getUser(telegramID)
	}
	return store.User{}, store.ErrUserNotFound
}

func (f *fakeUsers) GetEmailByID(_ context.Context, emailID int64) (string, error) {
	if f.getEmailByID != nil {
		return f.getEmailByID(emailID)
	}
	return "", store.ErrEmailNotFound
}

func (f *fakeUsers) GetEmailRecord(_ context.Context, email string) (store.EmailRecord, error) {
	if f.getEmailRecord != nil {
		return f.getEmailRecord(email)
	}
	return store.EmailRecord{}, store.ErrEmailNotFound
}

func (f *fakeUsers) UpsertUser(_ context.Context, params store.UpsertUserParams) error {
	f.upserts = append(f.upserts, params)
	return nil
}

func (f *fakeUsers) UpdateUserEmail(_ context.Context, telegramID int64, email string) (bool, error) {
	if f.updateEmail != nil {
		return f.updateEmail(telegramID, email)
	}
	return false, nil
}

func (f *fakeUsers) AddAllowedEmail(_ context.Context, email string) error {
	f.allowListCalls = append(f.allowListCalls, "add:"+email)
	return nil
}

func (f *fakeUsers) RemoveAllowedEmail(_ context.Context, email string) error {
	f.allowListCalls = append(f.allowListCalls, "remove:"+email)
	return nil
}

func (f *fakeUsers) BanAllowedEmail(_ context.Context, email string) error {
	f.allowListCalls = append(f.allowListCalls, "ban:"+email)
	return nil
}

func (f *fakeUsers) UnbanAllowedEmail(_ context.Context, email string) error {
	f.allowListCalls = append(f.allowListCalls, "unban:"+email)
	return nil
}

func (f *fakeUsers) IsAdmin(_ context.Context, _ int64) (bool, error) {
	return f.isAdminResponse, nil
}

func (f *fakeUsers) AddAdmin(_ context.Context, telegramID int64, topLevel bool) error {
	f.admins = append(f.admins, store.Admin{TelegramID: telegramID, IsTopLevel: topLevel})
	return nil
}

func (f *fakeUsers) RemoveAdmin(_ context.Context, telegramID int64) error {
	kept := f.admins[:0]
	for _, admin := range f.admins {
		if admin.TelegramID != telegramID {
			kept = append(kept, admin)
		}
	}
	f.admins = kept
	return nil
}

func (f *fakeUsers) ListAdmins(_ context.Context) ([]store.Admin, error) {
	return f.admins, nil
}

type fakeTransport struct {
	texts     []string
	keyboards [][]string
	inline    []string
	answered  []string
}

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendKeyboard(_ context.Context, _ int64, text string, labels []string) error {
	f.texts = append(f.texts, text)
	f.keyboards = append(f.keyboards, labels)
	return nil
}

func (f *fakeTransport) SendInlineButton(_ context.Context, _ int64, text, label, _ string) error {
	f.texts = append(f.texts, text)
	f.inline = append(f.inline, label)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, callbackID string) {
	f.answered = append(f.answered, callbackID)
}

type fakeSink struct {
	dispatched []ticket.Submission
}

func (f *fakeSink) Dispatch(_ context.Context, sub ticket.Submission) {
	f.dispatched = append(f.dispatched, sub)
}

type harness struct {
	router   *conversation.Router
	users    *fakeUsers
	bot      *fakeTransport
	sink     *fakeSink
	sessions *session.Store
	groups   *mediagroup.Aggregator
}

func newHarness(t *testing.T, users *fakeUsers) *harness {
	t.Helper()
	ui, err := config.LoadUI("/nonexistent/ui.yaml")
	if err != nil {
		t.Fatalf("LoadUI: %v", err)
	}
	ui.Topics = []string{"Billing", "Technical", "Other"}

	bot := &fakeTransport{}
	sink := &fakeSink{}
	sessions := session.NewStore()
	limits := config.LimitsConfig{
		MaxRequests:         1,
		IntervalSeconds:     60,
		MaxSubmissionLength: 1500,
		GroupIdleSeconds:    2,
	}
	groups := mediagroup.New(nil, 2*time.Second, nil)
	router := conversation.NewRouter(nil, users, sessions, groups, sink, bot, &ui, limits, 0)
	groups.SetFlush(router.FlushGroup)
	return &harness{router: router, users: users, bot: bot, sink: sink, sessions: sessions, groups: groups}
}

func (h *harness) state(telegramID int64) session.State {
	return h.sessions.Load(telegramID).State
}

func authorizedUsers(email string) *fakeUsers {
	return &fakeUsers{
		getUser: func(int64) (store.User, error) {
			return store.User{ID: 1, TelegramID: 42, EmailID: 5, IsAuthorized: true}, nil
		},
		getEmailByID: func(int64) (string, error) { return email, nil },
		getEmailRecord: func(addr string) (store.EmailRecord, error) {
			if addr == email {
				return store.EmailRecord{ID: 5, Email: email}, nil
			}
			return store.EmailRecord{}, store.ErrEmailNotFound
		},
	}
}

func inbound(text string) telegram.Inbound {
	return telegram.Inbound{TelegramID: 42, ChatID: 42, Username: "alice", FullName: "Alice", Text: text}
}

func TestEndToEndSubmissionFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	authorized := false
	users := &fakeUsers{
		getUser: func(int64) (store.User, error) {
			if !authorized {
				return store.User{}, store.ErrUserNotFound
			}
			return store.User{ID: 1, TelegramID: 42, EmailID: 5, IsAuthorized: true}, nil
		},
		getEmailByID: func(int64) (string, error) { return "alice@example.com", nil },
		getEmailRecord: func(email string) (store.EmailRecord, error) {
			if email == "alice@example.com" {
				return store.EmailRecord{ID: 5, Email: email}, nil
			}
			return store.EmailRecord{}, store.ErrEmailNotFound
		},
	}
	h := newHarness(t, users)

	// Unauthenticated non-email input prompts for email.
	h.router.Handle(ctx, inbound("not-an-email!"))
	if got := h.state(42); got != session.StateWaitingForEmail {
		t.Fatalf("state after unknown input = %q, want waiting_for_email", got)
	}

	// A bare local part is auto-suffixed and authorizes the user.
	h.router.Handle(ctx, inbound("alice"))
	if len(users.upserts) != 1 || !users.upserts[0].Authorized {
		t.Fatalf("expected one authorized upsert, got %+v", users.upserts)
	}
	if users.upserts[0].Email != "alice@example.com" {
		t.Fatalf("upsert email = %q, want auto-suffixed", users.upserts[0].Email)
	}
	authorized = true
	if got := h.state(42); got != session.StateWaitingForTopic {
		t.Fatalf("state after auth = %q, want waiting_for_topic", got)
	}

	// Valid topic selection moves to message entry.
	h.router.Handle(ctx, inbound("Billing"))
	if got := h.state(42); got != session.StateWaitingForMsgText {
		t.Fatalf("state after topic = %q, want waiting_for_message_text", got)
	}

	// Oversize submission is rejected and the state does not change.
	h.router.Handle(ctx, inbound(strings.Repeat("x", 4000)))
	if len(h.sink.dispatched) != 0 {
		t.Fatalf("oversize message dispatched")
	}
	if got := h.state(42); got != session.StateWaitingForMsgText {
		t.Fatalf("state after oversize = %q, want unchanged", got)
	}

	// A normal-size message dispatches.
	h.router.Handle(ctx, inbound(strings.Repeat("y", 100)))
	if len(h.sink.dispatched) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(h.sink.dispatched))
	}
	sub := h.sink.dispatched[0]
	if sub.Topic != "Billing" || sub.Email != "alice@example.com" || sub.RequesterID != 42 {
		t.Fatalf("submission = %+v", sub)
	}
}

func TestInvalidTopicStaysInState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, authorizedUsers("alice@example.com"))
	h.sessions.Update(42, func(s *session.Session) { s.SetState(session.StateWaitingForTopic) })

	h.router.Handle(context.Background(), inbound("Gardening"))
	if got := h.state(42); got != session.StateWaitingForTopic {
		t.Fatalf("state = %q, want waiting_for_topic", got)
	}
}

func TestRequestButtonRateLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, authorizedUsers("alice@example.com"))
	h.sessions.Update(42, func(s *session.Session) { s.SetState(session.StateWaitingForReqButton) })

	h.router.Handle(ctx, inbound("Submit a request"))
	if got := h.state(42); got != session.StateWaitingForTopic {
		t.Fatalf("first request: state = %q, want waiting_for_topic", got)
	}

	// Second request inside the window is denied with a wait notice.
	h.sessions.Update(42, func(s *session.Session) { s.SetState(session.StateWaitingForReqButton) })
	h.router.Handle(ctx, inbound("Submit a request"))
	if got := h.state(42); got != session.StateWaitingForReqButton {
		t.Fatalf("second request: state = %q, want waiting_for_request_button", got)
	}
	last := h.bot.texts[len(h.bot.texts)-1]
	if !strings.Contains(last, "00:") {
		t.Fatalf("rate-limit notice lacks wait time: %q", last)
	}
}

func TestEmailPreemptsOtherStates(t *testing.T) {
	t.Parallel()
	users := authorizedUsers("alice@example.com")
	h := newHarness(t, users)
	h.sessions.Update(42, func(s *session.Session) { s.SetState(session.StateWaitingForTopic) })

	// A different registered address triggers the change-confirmation flow
	// even while a topic is expected.
	users.getEmailRecord = func(email string) (store.EmailRecord, error) {
		return store.EmailRecord{ID: 9, Email: email}, nil
	}
	h.router.Handle(context.Background(), inbound("bob@example.com"))
	if got := h.state(42); got != session.StateConfirmingEmailSwap {
		t.Fatalf("state = %q, want confirming_email_change", got)
	}
	if got := h.sessions.Load(42).PendingEmail; got != "bob@example.com" {
		t.Fatalf("pending email = %q", got)
	}
}

func TestPlainWordIsNotEmailDuringSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, authorizedUsers("alice@example.com"))
	h.sessions.Update(42, func(s *session.Session) {
		s.SetState(session.StateWaitingForMsgText)
		s.SelectedTopic = "Other"
	})

	h.router.Handle(context.Background(), inbound("thanks"))
	if len(h.sink.dispatched) != 1 {
		t.Fatalf("one-word body swallowed by auth flow, dispatches = %d", len(h.sink.dispatched))
	}
}

func TestUnregisteredEmailRecordsUnauthorizedUser(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	h := newHarness(t, users)

	h.router.Handle(context.Background(), inbound("stranger@example.com"))
	if len(users.upserts) != 1 || users.upserts[0].Authorized {
		t.Fatalf("expected unauthorized upsert, got %+v", users.upserts)
	}
	if got := h.state(42); got != session.StateWaitingForEmail {
		t.Fatalf("state = %q, want waiting_for_email", got)
	}
}

func TestBannedEmailStaysUnauthorized(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{
		getEmailRecord: func(email string) (store.EmailRecord, error) {
			return store.EmailRecord{ID: 3, Email: email, IsBanned: true}, nil
		},
	}
	h := newHarness(t, users)

	h.router.Handle(context.Background(), inbound("banned@example.com"))
	if len(users.upserts) != 1 || users.upserts[0].Authorized {
		t.Fatalf("expected unauthorized upsert for banned email, got %+v", users.upserts)
	}
	if got := h.state(42); got != session.StateWaitingForEmail {
		t.Fatalf("state = %q, want waiting_for_email", got)
	}
}

func TestEmailSwapCommitAndCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	users := authorizedUsers("alice@example.com")
	users.updateEmail = func(_ int64, email string) (bool, error) { return email == "bob@example.com", nil }
	h := newHarness(t, users)
	h.sessions.Update(42, func(s *session.Session) {
		s.SetState(session.StateConfirmingEmailSwap)
		s.PendingEmail = "bob@example.com"
	})

	h.router.Handle(ctx, inbound("Yes"))
	if got := h.state(42); got != session.StateIdle {
		t.Fatalf("state after commit = %q, want idle", got)
	}

	// Cancel path: any non-affirmative answer drops the pending email.
	h.sessions.Update(42, func(s *session.Session) {
		s.SetState(session.StateConfirmingEmailSwap)
		s.PendingEmail = "carol@example.com"
	})
	h.router.Handle(ctx, inbound("No"))
	sess := h.sessions.Load(42)
	if sess.State != session.StateIdle || sess.PendingEmail != "" {
		t.Fatalf("cancel left session %+v", sess)
	}
}

func TestEmailSwapToUnregisteredReprompts(t *testing.T) {
	t.Parallel()
	users := authorizedUsers("alice@example.com")
	h := newHarness(t, users)
	h.sessions.Update(42, func(s *session.Session) {
		s.SetState(session.StateConfirmingEmailSwap)
		s.PendingEmail = "ghost@example.com"
	})

	h.router.Handle(context.Background(), inbound("Yes"))
	if got := h.state(42); got != session.StateWaitingForEmail {
		t.Fatalf("state = %q, want waiting_for_email", got)
	}
	if len(users.upserts) != 1 || users.upserts[0].Authorized {
		t.Fatalf("failed swap should record unauthorized user, got %+v", users.upserts)
	}
}

func TestMediaGroupHandoffAndFlush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, authorizedUsers("alice@example.com"))
	h.sessions.Update(42, func(s *session.Session) {
		s.SetState(session.StateWaitingForMsgText)
		s.SelectedTopic = "Technical"
	})

	first := inbound("screenshots attached")
	first.MediaGroupID = "g1"
	first.Attachment = &ticket.AttachmentRef{FileID: "p1", Kind: ticket.KindPhoto}
	h.router.Handle(ctx, first)

	second := inbound("")
	second.MediaGroupID = "g1"
	second.Attachment = &ticket.AttachmentRef{FileID: "p2", Kind: ticket.KindPhoto}
	h.router.Handle(ctx, second)

	// Handoff returns the session to idle immediately.
	if got := h.state(42); got != session.StateIdle {
		t.Fatalf("state after handoff = %q, want idle", got)
	}
	if len(h.sink.dispatched) != 0 {
		t.Fatalf("group dispatched before flush")
	}

	h.groups.Sweep(time.Now().Add(5 * time.Second))
	if len(h.sink.dispatched) != 1 {
		t.Fatalf("dispatches after flush = %d, want 1", len(h.sink.dispatched))
	}
	sub := h.sink.dispatched[0]
	if sub.Body != "screenshots attached" || sub.Topic != "Technical" {
		t.Fatalf("first entry not authoritative: %+v", sub)
	}
	if len(sub.Attachments) != 2 || sub.Attachments[0].FileID != "p1" || sub.Attachments[1].FileID != "p2" {
		t.Fatalf("attachment order wrong: %+v", sub.Attachments)
	}
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users := &fakeUsers{}
	h := newHarness(t, users)

	h.router.Handle(ctx, inbound("/add_email new@example.com"))
	if len(users.allowListCalls) != 0 {
		t.Fatalf("non-admin mutated the allow-list: %v", users.allowListCalls)
	}

	users.isAdminResponse = true
	h.router.Handle(ctx, inbound("/add_email new@example.com other@example.com"))
	h.router.Handle(ctx, inbound("/ban_email bad@example.com"))
	h.router.Handle(ctx, inbound("/unban_email bad@example.com"))
	h.router.Handle(ctx, inbound("/remove_email old@example.com"))
	want := []string{
		"add:new@example.com", "add:other@example.com",
		"ban:bad@example.com", "unban:bad@example.com",
		"remove:old@example.com",
	}
	if len(users.allowListCalls) != len(want) {
		t.Fatalf("allow-list calls = %v, want %v", users.allowListCalls, want)
	}
	for i, call := range want {
		if users.allowListCalls[i] != call {
			t.Fatalf("call %d = %q, want %q", i, users.allowListCalls[i], call)
		}
	}
}

func TestStartCommandBranches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Unauthorized start prompts for email.
	h := newHarness(t, &fakeUsers{})
	h.router.Handle(ctx, inbound("/start"))
	if got := h.state(42); got != session.StateWaitingForEmail {
		t.Fatalf("state = %q, want waiting_for_email", got)
	}

	// Authorized start without the action button returns to idle.
	h = newHarness(t, authorizedUsers("alice@example.com"))
	h.sessions.Update(42, func(s *session.Session) { s.SetState(session.StateWaitingForTopic) })
	h.router.Handle(ctx, inbound("/start"))
	if got := h.state(42); got != session.StateIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestCallbackTopicSelection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, authorizedUsers("alice@example.com"))
	h.sessions.Update(42, func(s *session.Session) { s.SetState(session.StateWaitingForTopic) })

	msg := inbound("topic:Technical")
	msg.IsCallback = true
	msg.CallbackID = "cb1"
	h.router.Handle(context.Background(), msg)

	if len(h.bot.answered) != 1 || h.bot.answered[0] != "cb1" {
		t.Fatalf("callback not answered: %v", h.bot.answered)
	}
	sess := h.sessions.Load(42)
	if sess.State != session.StateWaitingForMsgText || sess.SelectedTopic != "Technical" {
		t.Fatalf("session after callback = %+v", sess)
	}
}

func TestPanicInHandlerIsAbsorbed(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{
		getUser: func(int64) (store.User, error) { panic("store blew up") },
	}
	h := newHarness(t, users)

	h.router.Handle(context.Background(), inbound("hello"))
	last := h.bot.texts[len(h.bot.texts)-1]
	if !strings.Contains(last, "unexpected error") {
		t.Fatalf("no generic notice after panic: %q", last)
	}
}

func TestAdminManagementCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t, authorizedUsers("alice@example.com"))
	h.router.Handle(ctx, inbound("/add_admin 777 top"))
	if len(h.users.admins) != 0 {
		t.Fatalf("non-admin grew the admin set: %v", h.users.admins)
	}

	// Caller becomes a stored top-level admin.
	h.users.admins = []store.Admin{{TelegramID: 42, IsTopLevel: true}}
	h.users.isAdminResponse = true

	h.router.Handle(ctx, inbound("/add_admin 777 top"))
	if len(h.users.admins) != 2 || h.users.admins[1].TelegramID != 777 || !h.users.admins[1].IsTopLevel {
		t.Fatalf("admins after add = %v", h.users.admins)
	}

	h.router.Handle(ctx, inbound("/list_admins"))
	listing := h.bot.texts[len(h.bot.texts)-1]
	if !strings.Contains(listing, "777") || !strings.Contains(listing, "42") {
		t.Fatalf("listing missing admins: %q", listing)
	}

	h.router.Handle(ctx, inbound("/remove_admin 777"))
	if len(h.users.admins) != 1 || h.users.admins[0].TelegramID != 42 {
		t.Fatalf("admins after remove = %v", h.users.admins)
	}

	h.router.Handle(ctx, inbound("/add_admin not-a-number"))
	last := h.bot.texts[len(h.bot.texts)-1]
	if !strings.Contains(last, "not a Telegram ID") {
		t.Fatalf("bad id reply = %q", last)
	}
}

func TestButtonLabelIsNotEmailInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, authorizedUsers("alice@example.com"))
	h.sessions.Update(42, func(s *session.Session) { s.SetState(session.StateWaitingForReqButton) })

	// The action button arrives as plain text; autocomplete must not turn
	// it into a login attempt.
	h.router.Handle(context.Background(), inbound("Submit a request"))
	if got := h.state(42); got != session.StateWaitingForTopic {
		t.Fatalf("state = %q, want waiting_for_topic", got)
	}
	if got := h.sessions.Load(42).PendingEmail; got != "" {
		t.Fatalf("pending email = %q, want empty", got)
	}
}
