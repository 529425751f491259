package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultUIConfigPath    = "ui.yaml"
	DefaultHTTPAddr        = ":8080"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "deskbot"
	DefaultPGSSLMode       = "disable"
	DefaultSMTPPort        = 587
	DefaultMaxRequests     = 3
	DefaultIntervalSeconds = 3600
	DefaultMaxLength       = 1500
	DefaultGroupIdleSec    = 2
	DefaultPruneSchedule   = "@hourly"
	DefaultSessionIdleHrs  = 24
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Postgres PostgresConfig `toml:"postgres"`
	Mail     MailConfig     `toml:"mail"`
	Support  SupportConfig  `toml:"support"`
	Limits   LimitsConfig   `toml:"limits"`
	Prune    PruneConfig    `toml:"prune"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken    string `toml:"bot_token" validate:"required"`
	RootAdminID int64  `toml:"root_admin_id"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// MailConfig selects and configures the outbound mail provider. Provider
// names match the adapters registered in internal/mailer.
type MailConfig struct {
	Provider string        `toml:"provider" validate:"omitempty,oneof=smtp mailgun"`
	From     string        `toml:"from"`
	SMTP     SMTPConfig    `toml:"smtp"`
	Mailgun  MailgunConfig `toml:"mailgun"`
}

type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Security string `toml:"security" validate:"omitempty,oneof=tls starttls none"`
}

type MailgunConfig struct {
	Domain string `toml:"domain"`
	APIKey string `toml:"api_key"`
	Region string `toml:"region" validate:"omitempty,oneof=us eu"`
}

// SupportConfig names the two ticket sinks. Either may be empty, in which
// case that sink is skipped at dispatch time.
type SupportConfig struct {
	ChatID int64  `toml:"chat_id"`
	Email  string `toml:"email" validate:"omitempty,email"`
}

type LimitsConfig struct {
	MaxRequests         int `toml:"max_requests" validate:"min=0"`
	IntervalSeconds     int `toml:"interval_seconds" validate:"min=1"`
	MaxSubmissionLength int `toml:"max_submission_length" validate:"min=1"`
	GroupIdleSeconds    int `toml:"group_idle_seconds" validate:"min=1"`
}

type PruneConfig struct {
	Schedule         string `toml:"schedule"`
	SessionIdleHours int    `toml:"session_idle_hours" validate:"min=1"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Load reads the TOML config at path, filling defaults first so a missing
// file yields a complete (if unauthenticated) configuration, then validates
// the result.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Mail: MailConfig{
			Provider: "smtp",
			SMTP: SMTPConfig{
				Port:     DefaultSMTPPort,
				Security: "starttls",
			},
			Mailgun: MailgunConfig{
				Region: "us",
			},
		},
		Limits: LimitsConfig{
			MaxRequests:         DefaultMaxRequests,
			IntervalSeconds:     DefaultIntervalSeconds,
			MaxSubmissionLength: DefaultMaxLength,
			GroupIdleSeconds:    DefaultGroupIdleSec,
		},
		Prune: PruneConfig{
			Schedule:         DefaultPruneSchedule,
			SessionIdleHours: DefaultSessionIdleHrs,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
