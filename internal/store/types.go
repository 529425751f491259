package store

import "time"

// User is a Telegram user known to the bot. EmailID is zero when the user
// has never presented an address.
type User struct {
	ID           int64     `json:"id"`
	TelegramID   int64     `json:"telegram_id"`
	Username     string    `json:"username,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	EmailID      int64     `json:"email_id,omitempty"`
	IsAuthorized bool      `json:"is_authorized"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EmailRecord is an allow-list entry. A banned entry exists but never
// authorizes.
type EmailRecord struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	IsBanned bool   `json:"is_banned"`
}

// Admin is a staff member allowed to run allow-list commands.
type Admin struct {
	TelegramID int64 `json:"telegram_id"`
	IsTopLevel bool  `json:"is_top_level"`
}

// UpsertUserParams carries the fields written when a user presents an
// email address.
type UpsertUserParams struct {
	Email      string
	TelegramID int64
	Username   string
	FullName   string
	Authorized bool
}
