// Package store persists users, the email allow-list, and admins.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailNotFound = errors.New("email not found")
)

// Store provides user and allow-list persistence on Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "store")),
	}
}

// GetUserByTelegramID returns the user record for a Telegram identity.
func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	if s.pool == nil {
		return User{}, fmt.Errorf("store pool not configured")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, telegram_id, username, full_name, email_id, is_authorized, created_at, updated_at
		FROM users WHERE telegram_id = $1`, telegramID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return user, nil
}

// GetEmailByID returns the address text for an allow-list entry ID.
func (s *Store) GetEmailByID(ctx context.Context, emailID int64) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("store pool not configured")
	}
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email FROM allowed_emails WHERE id = $1`, emailID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrEmailNotFound
		}
		return "", err
	}
	return email, nil
}

// GetEmailRecord returns the allow-list entry for an address.
func (s *Store) GetEmailRecord(ctx context.Context, email string) (EmailRecord, error) {
	if s.pool == nil {
		return EmailRecord{}, fmt.Errorf("store pool not configured")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, is_banned FROM allowed_emails WHERE email = $1`, normalize(email))
	var record EmailRecord
	if err := row.Scan(&record.ID, &record.Email, &record.IsBanned); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EmailRecord{}, ErrEmailNotFound
		}
		return EmailRecord{}, err
	}
	return record, nil
}

// UpsertUser records a user together with the address they presented. An
// address not yet on the allow-list is inserted banned, and the user is
// stored unauthorized regardless of the requested flag. This keeps a trail
// of unknown-address attempts without ever authorizing them.
func (s *Store) UpsertUser(ctx context.Context, params UpsertUserParams) error {
	if s.pool == nil {
		return fmt.Errorf("store pool not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	email := normalize(params.Email)
	var emailID int64
	var isBanned bool
	err = tx.QueryRow(ctx, `SELECT id, is_banned FROM allowed_emails WHERE email = $1`, email).
		Scan(&emailID, &isBanned)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
			INSERT INTO allowed_emails (email, is_banned) VALUES ($1, TRUE) RETURNING id`, email).
			Scan(&emailID)
		isBanned = true
	}
	if err != nil {
		return fmt.Errorf("resolve email: %w", err)
	}

	authorized := params.Authorized && !isBanned
	_, err = tx.Exec(ctx, `
		INSERT INTO users (telegram_id, username, full_name, email_id, is_authorized)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = EXCLUDED.username,
			full_name = EXCLUDED.full_name,
			email_id = EXCLUDED.email_id,
			is_authorized = EXCLUDED.is_authorized,
			updated_at = now()`,
		params.TelegramID, textOrNull(params.Username), textOrNull(params.FullName), emailID, authorized)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateUserEmail switches the user to a new address. It reports false
// without changing anything when the address is unknown or banned.
func (s *Store) UpdateUserEmail(ctx context.Context, telegramID int64, newEmail string) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("store pool not configured")
	}
	var emailID int64
	var isBanned bool
	err := s.pool.QueryRow(ctx, `
		SELECT id, is_banned FROM allowed_emails WHERE email = $1`, normalize(newEmail)).
		Scan(&emailID, &isBanned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if isBanned {
		return false, nil
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE users SET email_id = $1, is_authorized = TRUE, updated_at = now()
		WHERE telegram_id = $2`, emailID, telegramID)
	if err != nil {
		return false, fmt.Errorf("update user email: %w", err)
	}
	return true, nil
}

// AddAllowedEmail adds an address to the allow-list, lifting a ban if the
// address already exists.
func (s *Store) AddAllowedEmail(ctx context.Context, email string) error {
	if s.pool == nil {
		return fmt.Errorf("store pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO allowed_emails (email, is_banned) VALUES ($1, FALSE)
		ON CONFLICT (email) DO UPDATE SET is_banned = FALSE`, normalize(email))
	return err
}

// RemoveAllowedEmail deletes an address from the allow-list.
func (s *Store) RemoveAllowedEmail(ctx context.Context, email string) error {
	if s.pool == nil {
		return fmt.Errorf("store pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM allowed_emails WHERE email = $1`, normalize(email))
	return err
}

// BanAllowedEmail marks an address banned. Users holding it stay recorded
// but fail authorization on their next attempt.
func (s *Store) BanAllowedEmail(ctx context.Context, email string) error {
	if s.pool == nil {
		return fmt.Errorf("store pool not configured")
	}
	_, err := s.pool.Exec(ctx, `UPDATE allowed_emails SET is_banned = TRUE WHERE email = $1`, normalize(email))
	return err
}

// UnbanAllowedEmail lifts a ban.
func (s *Store) UnbanAllowedEmail(ctx context.Context, email string) error {
	if s.pool == nil {
		return fmt.Errorf("store pool not configured")
	}
	_, err := s.pool.Exec(ctx, `UPDATE allowed_emails SET is_banned = FALSE WHERE email = $1`, normalize(email))
	return err
}

// IsAdmin reports whether the Telegram identity is in the admins table.
func (s *Store) IsAdmin(ctx context.Context, telegramID int64) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("store pool not configured")
	}
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM admins WHERE telegram_id = $1`, telegramID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddAdmin adds or updates an admin record.
func (s *Store) AddAdmin(ctx context.Context, telegramID int64, topLevel bool) error {
	if s.pool == nil {
		return fmt.Errorf("store pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admins (telegram_id, is_top_level) VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO UPDATE SET is_top_level = EXCLUDED.is_top_level`,
		telegramID, topLevel)
	return err
}

// RemoveAdmin deletes an admin record.
func (s *Store) RemoveAdmin(ctx context.Context, telegramID int64) error {
	if s.pool == nil {
		return fmt.Errorf("store pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM admins WHERE telegram_id = $1`, telegramID)
	return err
}

// ListAdmins returns all admin records.
func (s *Store) ListAdmins(ctx context.Context) ([]Admin, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("store pool not configured")
	}
	rows, err := s.pool.Query(ctx, `SELECT telegram_id, is_top_level FROM admins ORDER BY telegram_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Admin
	for rows.Next() {
		var admin Admin
		if err := rows.Scan(&admin.TelegramID, &admin.IsTopLevel); err != nil {
			return nil, err
		}
		items = append(items, admin)
	}
	return items, rows.Err()
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	var username, fullName pgtype.Text
	var emailID pgtype.Int8
	err := row.Scan(&user.ID, &user.TelegramID, &username, &fullName, &emailID,
		&user.IsAuthorized, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if username.Valid {
		user.Username = username.String
	}
	if fullName.Valid {
		user.FullName = fullName.String
	}
	if emailID.Valid {
		user.EmailID = emailID.Int64
	}
	return user, nil
}

func textOrNull(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	return pgtype.Text{String: trimmed, Valid: trimmed != ""}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
