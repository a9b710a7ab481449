package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/session"
	"jobmate/alert-service/internal/subscription"
)

// Messenger sends replies back to the chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	ClearKeyboard(ctx context.Context, chatID int64, messageID int) error
}

// Subscriptions is the subscription service as seen by the bot.
type Subscriptions interface {
	Subscribe(ctx context.Context, chatID int64, keyword string, freq model.Frequency) (string, error)
	Unsubscribe(ctx context.Context, chatID int64, keyword string) (string, error)
	List(ctx context.Context, chatID int64) ([]model.Subscription, error)
}

// FailureText is sent when a store operation fails.
const FailureText = "Something went wrong on my side. Please try again in a moment."

// Handler drives the conversation for every chat. Events of one chat are
// handled one at a time; different chats proceed in parallel.
type Handler struct {
	sessions session.Store
	subs     Subscriptions
	msg      Messenger
	locks    chatLocks
	newID    func() string
	log      *zap.SugaredLogger
}

// NewHandler returns a Handler.
func NewHandler(sessions session.Store, subs Subscriptions, msg Messenger, log *zap.SugaredLogger) *Handler {
	return &Handler{
		sessions: sessions,
		subs:     subs,
		msg:      msg,
		locks:    chatLocks{m: make(map[int64]*chatLock)},
		newID:    uuid.NewString,
		log:      log,
	}
}

// Handle processes one event. The returned error is for logging only: the
// user has already been told when something failed.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	chatID := ev.Chat()
	unlock := h.locks.lock(chatID)
	defer unlock()

	freshID := h.newID()
	var eff Effect
	_, err := h.sessions.Update(ctx, chatID, func(s *session.Session) error {
		next, e := Transition(*s, ev, freshID)
		*s = next
		eff = e
		return nil
	})
	if err != nil {
		h.log.Errorw("session update failed", "chat_id", chatID, "error", err)
		if b, ok := ev.(ButtonEvent); ok {
			h.answer(ctx, b.CallbackID, "")
		}
		h.send(ctx, chatID, FailureText, nil)
		return errors.Wrap(err, "session update")
	}

	return h.apply(ctx, ev, eff)
}

func (h *Handler) apply(ctx context.Context, ev Event, eff Effect) error {
	chatID := ev.Chat()

	switch eff.Kind {
	case EffectReply:
		return h.send(ctx, chatID, eff.Text, eff.Keyboard)

	case EffectRejectButton:
		b, _ := ev.(ButtonEvent)
		return h.answer(ctx, b.CallbackID, eff.Text)

	case EffectSubscribe:
		b, _ := ev.(ButtonEvent)
		h.answer(ctx, b.CallbackID, "")
		if err := h.msg.ClearKeyboard(ctx, chatID, b.MessageID); err != nil {
			h.log.Warnw("clear keyboard failed", "chat_id", chatID, "error", err)
		}
		kw, err := h.subs.Subscribe(ctx, chatID, eff.Keyword, eff.Frequency)
		if err != nil {
			return h.fail(ctx, chatID, "subscribe", err)
		}
		return h.send(ctx, chatID, fmt.Sprintf("✅ Subscribed to %q (%s). I will send new matching jobs %s.",
			kw, eff.Frequency.Label(), eff.Frequency), nil)

	case EffectUnsubscribe:
		kw, err := h.subs.Unsubscribe(ctx, chatID, eff.Keyword)
		switch {
		case errors.Is(err, subscription.ErrNotFound):
			return h.send(ctx, chatID, fmt.Sprintf("You are not subscribed to %q.", kw), nil)
		case err != nil:
			return h.fail(ctx, chatID, "unsubscribe", err)
		}
		return h.send(ctx, chatID, fmt.Sprintf("🗑 Removed %q from your subscriptions.", kw), nil)

	case EffectList:
		subs, err := h.subs.List(ctx, chatID)
		if err != nil {
			return h.fail(ctx, chatID, "list", err)
		}
		return h.send(ctx, chatID, FormatList(subs), nil)
	}
	return nil
}

// FormatList renders a chat's subscriptions.
func FormatList(subs []model.Subscription) string {
	if len(subs) == 0 {
		return "You have no subscriptions yet. Use /subscribe to add one."
	}
	var sb strings.Builder
	sb.WriteString("Your subscriptions:\n")
	for _, s := range subs {
		fmt.Fprintf(&sb, "• %s: %s\n", s.Keyword, s.Frequency.Label())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (h *Handler) fail(ctx context.Context, chatID int64, op string, err error) error {
	if subscription.IsValidation(err) {
		return h.send(ctx, chatID, "⚠️ "+err.Error(), nil)
	}
	h.log.Errorw(op+" failed", "chat_id", chatID, "error", err)
	h.send(ctx, chatID, FailureText, nil)
	return errors.Wrap(err, op)
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	if err := h.msg.SendText(ctx, chatID, text, kb); err != nil {
		h.log.Warnw("reply failed", "chat_id", chatID, "error", err)
		return errors.Wrap(err, "reply")
	}
	return nil
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) error {
	if callbackID == "" {
		return nil
	}
	if err := h.msg.AnswerCallback(ctx, callbackID, text); err != nil {
		h.log.Warnw("answer callback failed", "error", err)
		return errors.Wrap(err, "answer callback")
	}
	return nil
}

// ─── Per-chat locks ──────────────────────────────────────────────────────────

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// chatLocks hands out one mutex per chat and frees it when unused.
type chatLocks struct {
	mu sync.Mutex
	m  map[int64]*chatLock
}

func (l *chatLocks) lock(chatID int64) (unlock func()) {
	l.mu.Lock()
	cl, ok := l.m[chatID]
	if !ok {
		cl = &chatLock{}
		l.m[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, chatID)
		}
		l.mu.Unlock()
	}
}

func (l *chatLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
