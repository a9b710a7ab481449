// Package subscription validates and applies subscription changes for both
// the bot and the HTTP API.
package subscription

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"jobmate/alert-service/internal/events"
	"jobmate/alert-service/internal/model"
)

// MaxKeywordLen bounds keyword length in runes.
const MaxKeywordLen = 64

// ErrNotFound is returned when unsubscribing from a keyword the chat does
// not follow.
var ErrNotFound = errors.New("subscription not found")

// ValidationError is returned for invalid user input.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Store is the persistence the service depends on.
type Store interface {
	Upsert(ctx context.Context, chatID int64, keyword string, freq model.Frequency) error
	Delete(ctx context.Context, chatID int64, keyword string) (bool, error)
	ListByChat(ctx context.Context, chatID int64) ([]model.Subscription, error)
}

// Publisher receives subscription change events.
type Publisher interface {
	Publish(ctx context.Context, channel string, data any)
}

// Service encapsulates subscription business rules.
type Service struct {
	store  Store
	events Publisher
}

// NewService returns a Service. events may be nil.
func NewService(store Store, events Publisher) *Service {
	return &Service{store: store, events: events}
}

// NormalizeKeyword trims and lower-cases a keyword.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateKeyword normalizes s and rejects empty or overlong keywords.
func ValidateKeyword(s string) (string, error) {
	kw := NormalizeKeyword(s)
	if kw == "" {
		return "", &ValidationError{Msg: "keyword is required"}
	}
	if utf8.RuneCountInString(kw) > MaxKeywordLen {
		return "", &ValidationError{Msg: "keyword must be at most " + strconv.Itoa(MaxKeywordLen) + " characters"}
	}
	return kw, nil
}

// ParseChatID parses a Telegram chat id given as a string.
func ParseChatID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Msg: "chat_id is required"}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, &ValidationError{Msg: "chat_id must be a non-zero integer"}
	}
	return id, nil
}

// Subscribe creates or replaces the (chat, keyword) subscription and resets
// its watermark. It returns the normalized keyword.
func (s *Service) Subscribe(ctx context.Context, chatID int64, keyword string, freq model.Frequency) (string, error) {
	kw, err := ValidateKeyword(keyword)
	if err != nil {
		return "", err
	}
	freq, err = model.ParseFrequency(string(freq))
	if err != nil {
		return "", &ValidationError{Msg: err.Error()}
	}
	if err := s.store.Upsert(ctx, chatID, kw, freq); err != nil {
		return "", errors.Wrap(err, "subscribe")
	}
	s.publish(ctx, events.SubscriptionChange{Action: "subscribed", ChatID: chatID, Keyword: kw, Frequency: string(freq)})
	return kw, nil
}

// Unsubscribe deletes the (chat, keyword) subscription. It returns
// ErrNotFound when no such row exists.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64, keyword string) (string, error) {
	kw, err := ValidateKeyword(keyword)
	if err != nil {
		return "", err
	}
	ok, err := s.store.Delete(ctx, chatID, kw)
	if err != nil {
		return "", errors.Wrap(err, "unsubscribe")
	}
	if !ok {
		return kw, ErrNotFound
	}
	s.publish(ctx, events.SubscriptionChange{Action: "unsubscribed", ChatID: chatID, Keyword: kw})
	return kw, nil
}

// List returns the chat's subscriptions ordered by keyword.
func (s *Service) List(ctx context.Context, chatID int64) ([]model.Subscription, error) {
	subs, err := s.store.ListByChat(ctx, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "list subscriptions")
	}
	return subs, nil
}

func (s *Service) publish(ctx context.Context, change events.SubscriptionChange) {
	if s.events != nil {
		s.events.Publish(ctx, events.SubscriptionChanged, change)
	}
}
