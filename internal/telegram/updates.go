package telegram

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jobmate/alert-service/internal/bot"
)

// EventHandler consumes converted chat events.
type EventHandler interface {
	Handle(ctx context.Context, ev bot.Event) error
}

// SecretHeader carries the webhook secret set with RegisterWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// ToEvent converts an update into a chat event. ok is false for updates the
// bot does not handle (edits, channel posts, media without text...).
func ToEvent(u tgbotapi.Update) (bot.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return nil, false
		}
		return bot.ButtonEvent{
			ChatID:     cq.Message.Chat.ID,
			CallbackID: cq.ID,
			MessageID:  cq.Message.MessageID,
			Data:       cq.Data,
		}, true
	}

	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return nil, false
	}
	if cmd, ok := bot.ParseCommand(m.Chat.ID, m.Text); ok {
		return cmd, true
	}
	return bot.TextEvent{ChatID: m.Chat.ID, Text: m.Text}, true
}

// Poller receives updates with getUpdates long polling.
type Poller struct {
	api         *tgbotapi.BotAPI
	handler     EventHandler
	timeout     int // seconds
	concurrency int
	maxBackoff  time.Duration
	log         *zap.SugaredLogger
}

// NewPoller returns a Poller feeding handler.
func NewPoller(c *Client, handler EventHandler, log *zap.SugaredLogger) *Poller {
	return &Poller{
		api:         c.poll,
		handler:     handler,
		timeout:     pollTimeoutSeconds,
		concurrency: 8,
		maxBackoff:  30 * time.Second,
		log:         log,
	}
}

// Run polls until ctx is done. Each batch is handled before the next poll:
// chats run in parallel, and updates of one chat run in arrival order.
// Failed polls back off exponentially up to maxBackoff.
func (p *Poller) Run(ctx context.Context) error {
	// Polling and a registered webhook are mutually exclusive.
	if _, err := p.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		p.log.Warnw("deleteWebhook failed", "error", err)
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = p.timeout
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := p.api.GetUpdates(cfg)
		if err != nil {
			p.log.Warnw("getUpdates failed, backing off", "wait_ms", backoff.Milliseconds(), "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.maxBackoff)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= cfg.Offset {
				cfg.Offset = u.UpdateID + 1
			}
		}
		p.dispatch(ctx, updates)
	}
}

func (p *Poller) dispatch(ctx context.Context, updates []tgbotapi.Update) {
	byChat := make(map[int64][]bot.Event)
	var order []int64
	for _, u := range updates {
		ev, ok := ToEvent(u)
		if !ok {
			continue
		}
		id := ev.Chat()
		if _, seen := byChat[id]; !seen {
			order = append(order, id)
		}
		byChat[id] = append(byChat[id], ev)
	}

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, id := range order {
		id := id
		events := byChat[id]
		g.Go(func() error {
			for _, ev := range events {
				if err := p.handler.Handle(ctx, ev); err != nil {
					p.log.Warnw("update handling failed", "chat_id", id, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// RegisterWebhook points the bot at url. secret, when set, is echoed by
// Telegram in SecretHeader on every delivery.
func (c *Client) RegisterWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if _, err := c.api.MakeRequest("setWebhook", params); err != nil {
		return errors.Wrap(err, "setWebhook")
	}
	return nil
}

// WebhookHandler returns an http.Handler that converts webhook deliveries
// into events. Requests without the expected secret get 401.
func WebhookHandler(handler EventHandler, secret string, log *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var u tgbotapi.Update
		if err := decodeUpdate(r, &u); err != nil {
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		if ev, ok := ToEvent(u); ok {
			if err := handler.Handle(r.Context(), ev); err != nil {
				log.Warnw("webhook update handling failed", "chat_id", ev.Chat(), "error", err)
			}
		}
		// Always 200 so Telegram does not redeliver a handled update.
		w.WriteHeader(http.StatusOK)
	})
}
