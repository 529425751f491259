package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/deskbotio/deskbot/internal/session"
	"github.com/deskbotio/deskbot/internal/store"
	"github.com/deskbotio/deskbot/internal/telegram"
)

// authorize runs the email authorization flow: grammar check, ban and
// registration checks, email-change confirmation, and the optional jump
// straight into topic selection.
func (r *Router) authorize(ctx context.Context, msg telegram.Inbound) {
	email := r.ui.NormalizeEmail(msg.Text)
	if !r.ui.IsValidEmail(email) {
		r.logger.Warn("invalid email format",
			slog.Int64("telegram_id", msg.TelegramID))
		r.sessions.Update(msg.TelegramID, func(s *session.Session) {
			s.SetState(session.StateWaitingForEmail)
		})
		r.send(ctx, msg, msgAuthInvalid(msg.FullName))
		return
	}

	user, err := r.users.GetUserByTelegramID(ctx, msg.TelegramID)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		r.logger.Error("load user failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}

	if user.IsAuthorized && user.EmailID != 0 {
		current, err := r.users.GetEmailByID(ctx, user.EmailID)
		if err != nil {
			r.logger.Error("load current email failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
			r.send(ctx, msg, msgUnexpectedError())
			return
		}
		if strings.EqualFold(current, email) {
			r.send(ctx, msg, msgAuthAlready(current))
			return
		}
		r.sessions.Update(msg.TelegramID, func(s *session.Session) {
			s.SetState(session.StateConfirmingEmailSwap)
			s.PendingEmail = email
		})
		r.logger.Info("email change requested",
			slog.Int64("telegram_id", msg.TelegramID))
		if err := r.bot.SendKeyboard(ctx, chatID(msg), msgAuthChangeConfirm(current, email),
			[]string{r.ui.Auth.ConfirmChangeButtons.Yes, r.ui.Auth.ConfirmChangeButtons.No}); err != nil {
			r.logger.Error("send confirm keyboard failed", slog.Any("error", err))
		}
		return
	}

	record, err := r.users.GetEmailRecord(ctx, email)
	switch {
	case errors.Is(err, store.ErrEmailNotFound):
		r.recordUnauthorized(ctx, msg, email)
		r.sessions.Update(msg.TelegramID, func(s *session.Session) {
			s.SetState(session.StateWaitingForEmail)
		})
		r.logger.Warn("unregistered email attempt", slog.Int64("telegram_id", msg.TelegramID))
		r.send(ctx, msg, msgAuthNotRegistered(email))
		return
	case err != nil:
		r.logger.Error("email lookup failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	case record.IsBanned:
		r.recordUnauthorized(ctx, msg, email)
		r.sessions.Update(msg.TelegramID, func(s *session.Session) {
			s.SetState(session.StateWaitingForEmail)
		})
		r.logger.Warn("banned email attempt", slog.Int64("telegram_id", msg.TelegramID))
		r.send(ctx, msg, msgAuthBanned(email))
		return
	}

	if err := r.users.UpsertUser(ctx, store.UpsertUserParams{
		Email:      email,
		TelegramID: msg.TelegramID,
		Username:   msg.Username,
		FullName:   msg.FullName,
		Authorized: true,
	}); err != nil {
		r.logger.Error("authorize upsert failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	r.logger.Info("user authorized", slog.Int64("telegram_id", msg.TelegramID))
	r.send(ctx, msg, msgAuthSuccess(msg.FullName, email))

	r.proceedAfterAuth(ctx, msg, email)
}

// proceedAfterAuth moves a freshly authorized user onward per the UI
// configuration: straight to topic selection, behind an action button, or
// back to idle.
func (r *Router) proceedAfterAuth(ctx context.Context, msg telegram.Inbound, email string) {
	if !r.ui.Auth.SendTopicAfterAuth {
		r.sessions.Update(msg.TelegramID, func(s *session.Session) { s.Reset() })
		return
	}

	if r.ui.Auth.SendWelcomeBeforeTopic {
		welcome := msgWelcome(msg.FullName, email)
		if r.ui.Start.ShowActionButtonIfAuthorized {
			r.sessions.Update(msg.TelegramID, func(s *session.Session) {
				s.SetState(session.StateWaitingForReqButton)
			})
			if err := r.bot.SendKeyboard(ctx, chatID(msg), welcome,
				[]string{r.ui.Start.ActionButtonText}); err != nil {
				r.logger.Error("send action button failed", slog.Any("error", err))
			}
			return
		}
		r.send(ctx, msg, welcome)
	}

	r.sessions.Update(msg.TelegramID, func(s *session.Session) {
		s.SetState(session.StateWaitingForTopic)
	})
	r.sendTopicPrompt(ctx, msg)
}

// handleEmailSwapDecision resolves a pending email change. The affirmative
// label commits the swap when the new address is registered and not
// banned; anything else cancels.
func (r *Router) handleEmailSwapDecision(ctx context.Context, msg telegram.Inbound, sess session.Session) {
	decision := strings.TrimSpace(msg.Text)
	pending := sess.PendingEmail

	if decision != r.ui.Auth.ConfirmChangeButtons.Yes {
		r.sessions.Update(msg.TelegramID, func(s *session.Session) { s.Reset() })
		r.send(ctx, msg, msgAuthChangeCancelled(msg.FullName))
		return
	}

	ok, err := r.users.UpdateUserEmail(ctx, msg.TelegramID, pending)
	if err != nil {
		r.logger.Error("email change failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	if !ok {
		r.recordUnauthorized(ctx, msg, pending)
		r.sessions.Update(msg.TelegramID, func(s *session.Session) {
			s.SetState(session.StateWaitingForEmail)
		})
		r.send(ctx, msg, msgAuthNotRegistered(pending))
		return
	}
	r.sessions.Update(msg.TelegramID, func(s *session.Session) { s.Reset() })
	r.logger.Info("email changed", slog.Int64("telegram_id", msg.TelegramID))
	r.send(ctx, msg, msgAuthChanged(msg.FullName, pending))
}

func (r *Router) recordUnauthorized(ctx context.Context, msg telegram.Inbound, email string) {
	if err := r.users.UpsertUser(ctx, store.UpsertUserParams{
		Email:      email,
		TelegramID: msg.TelegramID,
		Username:   msg.Username,
		FullName:   msg.FullName,
		Authorized: false,
	}); err != nil {
		r.logger.Error("record unauthorized user failed",
			slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
	}
}
