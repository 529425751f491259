package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/deskbotio/deskbot/internal/session"
	"github.com/deskbotio/deskbot/internal/store"
	"github.com/deskbotio/deskbot/internal/telegram"
)

func (r *Router) handleCommand(ctx context.Context, msg telegram.Inbound, cmd string, args []string) {
	switch cmd {
	case "start":
		r.handleStart(ctx, msg)
	case "help":
		r.handleHelp(ctx, msg)
	case "myid":
		r.handleMyID(ctx, msg)
	case "add_email":
		r.handleAllowListCommand(ctx, msg, cmd, args, r.users.AddAllowedEmail, msgEmailsAdded)
	case "ban_email":
		r.handleAllowListCommand(ctx, msg, cmd, args, r.users.BanAllowedEmail, msgEmailsBanned)
	case "unban_email":
		r.handleAllowListCommand(ctx, msg, cmd, args, r.users.UnbanAllowedEmail, msgEmailsUnbanned)
	case "remove_email":
		r.handleAllowListCommand(ctx, msg, cmd, args, r.users.RemoveAllowedEmail, msgEmailsRemoved)
	case "check_email":
		r.handleCheckEmail(ctx, msg, args)
	case "add_admin":
		r.handleAddAdmin(ctx, msg, args)
	case "remove_admin":
		r.handleRemoveAdmin(ctx, msg, args)
	case "list_admins":
		r.handleListAdmins(ctx, msg)
	default:
		r.send(ctx, msg, msgUnknownInput(msg.FullName))
	}
}

func (r *Router) handleStart(ctx context.Context, msg telegram.Inbound) {
	user, err := r.users.GetUserByTelegramID(ctx, msg.TelegramID)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		r.logger.Error("start: load user failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
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

	email, err := r.users.GetEmailByID(ctx, user.EmailID)
	if err != nil {
		r.logger.Error("start: email lookup failed", slog.Int64("telegram_id", msg.TelegramID), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	welcome := msgWelcome(msg.FullName, email)

	if r.ui.Start.ShowActionButtonIfAuthorized {
		r.sessions.Update(msg.TelegramID, func(s *session.Session) {
			s.SetState(session.StateWaitingForReqButton)
		})
		if err := r.bot.SendInlineButton(ctx, chatID(msg), welcome,
			r.ui.Start.ActionButtonText, callbackSubmitRequest); err != nil {
			r.logger.Error("start: send action button failed", slog.Any("error", err))
		}
		return
	}
	r.sessions.Update(msg.TelegramID, func(s *session.Session) { s.Reset() })
	r.send(ctx, msg, welcome)
}

func (r *Router) handleHelp(ctx context.Context, msg telegram.Inbound) {
	if r.isAdmin(ctx, msg.TelegramID) {
		r.send(ctx, msg, msgHelpAdmin())
		return
	}
	r.send(ctx, msg, msgHelpUser())
}

func (r *Router) handleMyID(ctx context.Context, msg telegram.Inbound) {
	var email string
	user, err := r.users.GetUserByTelegramID(ctx, msg.TelegramID)
	if err == nil && user.IsAuthorized && user.EmailID != 0 {
		if value, lookupErr := r.users.GetEmailByID(ctx, user.EmailID); lookupErr == nil {
			email = value
		}
	}
	r.send(ctx, msg, msgMyID(msg.TelegramID, displayName(msg), chatID(msg), email))
}

func (r *Router) handleAllowListCommand(
	ctx context.Context,
	msg telegram.Inbound,
	cmd string,
	args []string,
	apply func(context.Context, string) error,
	confirm func([]string) string,
) {
	if !r.isAdmin(ctx, msg.TelegramID) {
		r.send(ctx, msg, msgNotAuthorized())
		return
	}
	if len(args) == 0 {
		r.send(ctx, msg, msgEmailRequired("/"+cmd))
		return
	}
	var applied []string
	for _, email := range args {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		if err := apply(ctx, email); err != nil {
			r.logger.Error("allow-list command failed",
				slog.String("command", cmd),
				slog.Int64("telegram_id", msg.TelegramID),
				slog.Any("error", err))
			continue
		}
		r.logger.Info("allow-list updated",
			slog.String("command", cmd),
			slog.Int64("admin_id", msg.TelegramID))
		applied = append(applied, email)
	}
	r.send(ctx, msg, confirm(applied))
}

func (r *Router) handleCheckEmail(ctx context.Context, msg telegram.Inbound, args []string) {
	if !r.isAdmin(ctx, msg.TelegramID) {
		r.send(ctx, msg, msgNotAuthorized())
		return
	}
	if len(args) == 0 {
		r.send(ctx, msg, msgEmailRequired("/check_email"))
		return
	}
	var lines []string
	for _, email := range args {
		email = strings.TrimSpace(email)
		record, err := r.users.GetEmailRecord(ctx, email)
		switch {
		case errors.Is(err, store.ErrEmailNotFound):
			lines = append(lines, msgEmailStatusNotFound(email))
		case err != nil:
			r.logger.Error("check email failed", slog.Any("error", err))
			lines = append(lines, msgEmailStatusNotFound(email))
		default:
			key := "allowed"
			if record.IsBanned {
				key = "banned"
			}
			label := r.ui.EmailStatusLabels[key]
			if label == "" {
				label = key
			}
			lines = append(lines, msgEmailStatusFound(email, label))
		}
	}
	r.send(ctx, msg, strings.Join(lines, "\n"))
}

// handleAddAdmin grants admin rights. Only top-level admins may manage
// the admin set; the optional "top" argument grants that flag too.
func (r *Router) handleAddAdmin(ctx context.Context, msg telegram.Inbound, args []string) {
	if !r.isTopLevelAdmin(ctx, msg.TelegramID) {
		r.send(ctx, msg, msgNotAuthorized())
		return
	}
	if len(args) == 0 {
		r.send(ctx, msg, msgAdminIDRequired("/add_admin"))
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		r.send(ctx, msg, msgAdminBadID(args[0]))
		return
	}
	topLevel := len(args) > 1 && strings.EqualFold(args[1], "top")
	if err := r.users.AddAdmin(ctx, id, topLevel); err != nil {
		r.logger.Error("add admin failed", slog.Int64("telegram_id", id), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	r.logger.Info("admin added",
		slog.Int64("admin_id", msg.TelegramID),
		slog.Int64("new_admin_id", id),
		slog.Bool("top_level", topLevel))
	r.send(ctx, msg, msgAdminAdded(id))
}

func (r *Router) handleRemoveAdmin(ctx context.Context, msg telegram.Inbound, args []string) {
	if !r.isTopLevelAdmin(ctx, msg.TelegramID) {
		r.send(ctx, msg, msgNotAuthorized())
		return
	}
	if len(args) == 0 {
		r.send(ctx, msg, msgAdminIDRequired("/remove_admin"))
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		r.send(ctx, msg, msgAdminBadID(args[0]))
		return
	}
	if r.rootAdminID != 0 && id == r.rootAdminID {
		r.send(ctx, msg, msgNotAuthorized())
		return
	}
	if err := r.users.RemoveAdmin(ctx, id); err != nil {
		r.logger.Error("remove admin failed", slog.Int64("telegram_id", id), slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	r.logger.Info("admin removed",
		slog.Int64("admin_id", msg.TelegramID),
		slog.Int64("removed_admin_id", id))
	r.send(ctx, msg, msgAdminRemoved(id))
}

func (r *Router) handleListAdmins(ctx context.Context, msg telegram.Inbound) {
	if !r.isAdmin(ctx, msg.TelegramID) {
		r.send(ctx, msg, msgNotAuthorized())
		return
	}
	admins, err := r.users.ListAdmins(ctx)
	if err != nil {
		r.logger.Error("list admins failed", slog.Any("error", err))
		r.send(ctx, msg, msgUnexpectedError())
		return
	}
	r.send(ctx, msg, msgAdminList(r.rootAdminID, admins))
}

// isTopLevelAdmin reports whether the user may manage the admin set:
// the configured root admin or a stored admin carrying the top-level flag.
func (r *Router) isTopLevelAdmin(ctx context.Context, telegramID int64) bool {
	if r.rootAdminID != 0 && telegramID == r.rootAdminID {
		return true
	}
	admins, err := r.users.ListAdmins(ctx)
	if err != nil {
		r.logger.Error("admin lookup failed", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		return false
	}
	for _, admin := range admins {
		if admin.TelegramID == telegramID && admin.IsTopLevel {
			return true
		}
	}
	return false
}

func (r *Router) isAdmin(ctx context.Context, telegramID int64) bool {
	if r.rootAdminID != 0 && telegramID == r.rootAdminID {
		return true
	}
	ok, err := r.users.IsAdmin(ctx, telegramID)
	if err != nil {
		r.logger.Error("admin lookup failed", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		return false
	}
	return ok
}
