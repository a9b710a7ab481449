// Package session keeps the per-chat conversation state of the bot.
//
// A chat with no stored record is idle. Records expire after a TTL so an
// abandoned flow does not linger. All mutation goes through Store.Update,
// which is atomic per chat.
package session

import (
	"context"
	"time"
)

// Step is the position of a chat in a multi-step flow.
type Step string

const (
	StepIdle              Step = "idle"
	StepAwaitingKeyword   Step = "awaiting_keyword"
	StepAwaitingFrequency Step = "awaiting_frequency"
)

// Flow names the command that started the current multi-step exchange.
type Flow string

const (
	FlowNone        Flow = ""
	FlowSubscribe   Flow = "subscribe"
	FlowUnsubscribe Flow = "unsubscribe"
)

// Session is the stored state of one chat.
type Session struct {
	ID        string    `json:"id"`
	Step      Step      `json:"step"`
	Flow      Flow      `json:"flow,omitempty"`
	Keyword   string    `json:"keyword,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Idle reports whether the chat has no flow in progress.
func (s Session) Idle() bool {
	return s.Step == "" || s.Step == StepIdle
}

// Store persists sessions keyed by chat id.
type Store interface {
	// Get returns the chat's session, or an idle one when none is stored.
	Get(ctx context.Context, chatID int64) (Session, error)
	// Update loads the session, applies fn and stores the result in one
	// atomic step. If fn returns an error nothing is written. fn may be
	// invoked more than once when a concurrent write forces a retry, so it
	// must be free of side effects. An idle result deletes the record.
	Update(ctx context.Context, chatID int64, fn func(*Session) error) (Session, error)
}

func normalize(s Session) Session {
	if s.Step == "" {
		s.Step = StepIdle
	}
	return s
}
