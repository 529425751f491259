// Package session tracks per-user conversation state.
package session

import (
	"time"
)

// State is a step in the conversation flow.
type State string

const (
	StateIdle                 State = "idle"
	StateWaitingForEmail      State = "waiting_for_email"
	StateConfirmingEmailSwap  State = "confirming_email_change"
	StateWaitingForReqButton  State = "waiting_for_request_button"
	StateWaitingForTopic      State = "waiting_for_topic"
	StateWaitingForMsgText    State = "waiting_for_message_text"
)

// Session is the mutable conversation state for one user. PendingEmail is
// meaningful only in StateConfirmingEmailSwap and SelectedTopic only in
// StateWaitingForMsgText; SetState clears both so a prior step's value can
// never leak into a later one.
type Session struct {
	TelegramID         int64
	State              State
	PendingEmail       string
	SelectedTopic      string
	RequestWindowStart time.Time
	RequestCount       int
	LastActivity       time.Time
}

// SetState moves the session to a new state and drops fields that are not
// valid there.
func (s *Session) SetState(state State) {
	s.State = state
	if state != StateConfirmingEmailSwap {
		s.PendingEmail = ""
	}
	if state != StateWaitingForMsgText {
		s.SelectedTopic = ""
	}
}

// Reset returns the session to idle.
func (s *Session) Reset() {
	s.SetState(StateIdle)
}
