package conversation

import (
	"fmt"
	"strings"

	"github.com/deskbotio/deskbot/internal/store"
)

func username(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

func msgAuthStart(name string) string {
	return fmt.Sprintf("Hi %s! To get support access, please send me your work email address.", username(name))
}

func msgAuthInvalid(name string) string {
	return fmt.Sprintf("Sorry %s, that does not look like a valid email address. Please try again.", username(name))
}

func msgAuthAlready(email string) string {
	return fmt.Sprintf("You are already signed in as %s.", email)
}

func msgAuthChangeConfirm(oldEmail, newEmail string) string {
	return fmt.Sprintf("You are currently signed in as %s. Switch to %s?", oldEmail, newEmail)
}

func msgAuthChangeCancelled(name string) string {
	return fmt.Sprintf("No problem %s, keeping your current email.", username(name))
}

func msgAuthChanged(name, email string) string {
	return fmt.Sprintf("Done %s, you are now signed in as %s.", username(name), email)
}

func msgAuthNotRegistered(email string) string {
	return fmt.Sprintf("The address %s is not registered with support. Please check it or contact your administrator.", email)
}

func msgAuthBanned(email string) string {
	return fmt.Sprintf("The address %s is not allowed to use support. Please contact your administrator.", email)
}

func msgAuthSuccess(name, email string) string {
	return fmt.Sprintf("Thanks %s, you are signed in as %s.", username(name), email)
}

func msgWelcome(name, email string) string {
	return fmt.Sprintf("Welcome back %s (%s)! I can file a support request for you.", username(name), email)
}

func msgSelectTopic() string {
	return "Please pick a topic for your request."
}

func msgInvalidTopic() string {
	return "That topic is not on the list. Please pick one of the offered topics."
}

func msgEnterMessage(topic string) string {
	return fmt.Sprintf("Describe your %s issue in one message. You can attach photos or files.", topic)
}

func msgTooLong(max int) string {
	return fmt.Sprintf("That message is too long. Please keep it under %d characters.", max)
}

func msgTicketSent() string {
	return "Your request has been sent to the support team. We will get back to you by email."
}

func msgRateLimited(wait string) string {
	return fmt.Sprintf("You have reached the request limit. Please try again in %s.", wait)
}

func msgUnknownInput(name string) string {
	return fmt.Sprintf("Sorry %s, I did not understand that. Send /start to begin or /help for the command list.", username(name))
}

func msgUnexpectedError() string {
	return "An unexpected error occurred. Please try again later."
}

func msgNotAuthorized() string {
	return "You are not allowed to run this command."
}

func msgEmailRequired(command string) string {
	return fmt.Sprintf("Usage: %s email [email ...]", command)
}

func msgEmailsAdded(emails []string) string {
	return listNotice("Added to the allow-list", emails)
}

func msgEmailsBanned(emails []string) string {
	return listNotice("Banned", emails)
}

func msgEmailsUnbanned(emails []string) string {
	return listNotice("Unbanned", emails)
}

func msgEmailsRemoved(emails []string) string {
	return listNotice("Removed from the allow-list", emails)
}

func listNotice(prefix string, emails []string) string {
	if len(emails) == 0 {
		return "Nothing changed."
	}
	return fmt.Sprintf("%s: %s", prefix, strings.Join(emails, ", "))
}

func msgAdminIDRequired(command string) string {
	return fmt.Sprintf("Usage: %s telegram_id [top]", command)
}

func msgAdminBadID(arg string) string {
	return fmt.Sprintf("%q is not a Telegram ID.", arg)
}

func msgAdminAdded(telegramID int64) string {
	return fmt.Sprintf("Added admin %d.", telegramID)
}

func msgAdminRemoved(telegramID int64) string {
	return fmt.Sprintf("Removed admin %d.", telegramID)
}

func msgAdminList(rootAdminID int64, admins []store.Admin) string {
	var b strings.Builder
	b.WriteString("Admins:")
	if rootAdminID != 0 {
		fmt.Fprintf(&b, "\n%d (root)", rootAdminID)
	}
	for _, admin := range admins {
		fmt.Fprintf(&b, "\n%d", admin.TelegramID)
		if admin.IsTopLevel {
			b.WriteString(" (top-level)")
		}
	}
	return b.String()
}

func msgEmailStatusFound(email, status string) string {
	return fmt.Sprintf("%s: %s", email, status)
}

func msgEmailStatusNotFound(email string) string {
	return fmt.Sprintf("%s: not found", email)
}

func msgMyID(telegramID int64, name string, chatID int64, email string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your Telegram ID: %d\n", telegramID)
	fmt.Fprintf(&b, "Username: %s\n", username(name))
	fmt.Fprintf(&b, "Chat ID: %d", chatID)
	if email != "" {
		fmt.Fprintf(&b, "\nEmail: %s", email)
	}
	return b.String()
}

func msgHelpUser() string {
	return strings.Join([]string{
		"Here is what I can do:",
		"/start - sign in and file a support request",
		"/myid - show your Telegram ID and email",
		"/help - show this message",
		"",
		"To file a request, sign in with your email, pick a topic, and describe the issue.",
	}, "\n")
}

func msgHelpAdmin() string {
	return msgHelpUser() + "\n\n" + strings.Join([]string{
		"Admin commands:",
		"/add_email email [email ...] - add addresses to the allow-list",
		"/remove_email email [email ...] - remove addresses",
		"/ban_email email [email ...] - ban addresses",
		"/unban_email email [email ...] - lift bans",
		"/check_email email [email ...] - show allow-list status",
		"/add_admin telegram_id [top] - grant admin rights",
		"/remove_admin telegram_id - revoke admin rights",
		"/list_admins - show the admin set",
	}, "\n")
}
