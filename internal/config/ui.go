package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// UI holds the user-facing surface of the bot: the topic list, the email
// grammar, and the labels for keyboards and status replies. It is loaded
// once at startup from a YAML file and treated as read-only afterwards.
type UI struct {
	Topics []string `yaml:"topics"`
	Auth   AuthUI   `yaml:"auth"`
	Start  StartUI  `yaml:"start"`

	EmailStatusLabels map[string]string `yaml:"email_status_labels"`

	emailRe *regexp.Regexp
}

type AuthUI struct {
	// EmailPattern is the full-match grammar for a valid address. Input
	// without an "@" is suffixed with EmailAutocomplete before matching.
	EmailPattern      string `yaml:"email_pattern"`
	EmailAutocomplete string `yaml:"email_autocomplete"`

	SendTopicAfterAuth     bool `yaml:"send_topic_after_auth"`
	SendWelcomeBeforeTopic bool `yaml:"send_welcome_before_topic"`

	ConfirmChangeButtons ConfirmButtons `yaml:"confirm_change_buttons"`
}

type ConfirmButtons struct {
	Yes string `yaml:"yes"`
	No  string `yaml:"no"`
}

type StartUI struct {
	ShowActionButtonIfAuthorized bool   `yaml:"show_action_button_if_authorized"`
	ActionButtonText             string `yaml:"action_button_text"`
}

// LoadUI reads the YAML UI config at path and fills defaults for anything
// left unset. The email pattern is compiled here so a broken grammar fails
// startup instead of the first authorization attempt.
func LoadUI(path string) (UI, error) {
	ui := UI{
		Topics: []string{"General"},
		Auth: AuthUI{
			EmailPattern:       `^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`,
			EmailAutocomplete:  "@example.com",
			SendTopicAfterAuth: true,
			ConfirmChangeButtons: ConfirmButtons{
				Yes: "Yes",
				No:  "No",
			},
		},
		Start: StartUI{
			ActionButtonText: "Submit a request",
		},
		EmailStatusLabels: map[string]string{
			"allowed": "allowed",
			"banned":  "banned",
		},
	}

	if path == "" {
		path = DefaultUIConfigPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ui, ui.compile()
		}
		return ui, err
	}
	if err := yaml.Unmarshal(raw, &ui); err != nil {
		return ui, fmt.Errorf("parse ui config: %w", err)
	}
	return ui, ui.compile()
}

func (u *UI) compile() error {
	pattern := strings.TrimSpace(u.Auth.EmailPattern)
	// Full match, not partial: the configured grammar must cover the
	// entire address.
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return fmt.Errorf("email pattern: %w", err)
	}
	u.emailRe = re
	return nil
}

// NormalizeEmail applies the configured autocomplete suffix to input that
// carries no "@", so users on the default domain can sign in with just the
// local part.
func (u UI) NormalizeEmail(input string) string {
	trimmed := strings.TrimSpace(input)
	if !strings.Contains(trimmed, "@") {
		return trimmed + u.Auth.EmailAutocomplete
	}
	return trimmed
}

// IsValidEmail reports whether the (already normalized) address fully
// matches the configured grammar.
func (u UI) IsValidEmail(email string) bool {
	if u.emailRe == nil || email == "" {
		return false
	}
	return u.emailRe.MatchString(email)
}

// HasTopic reports whether the topic is a member of the configured set.
func (u UI) HasTopic(topic string) bool {
	for _, t := range u.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
