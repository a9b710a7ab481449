// Package telegram adapts the Telegram Bot API to the notifier and the bot
// handler: outgoing messages, callback answers and inbound updates.
package telegram

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"jobmate/alert-service/internal/bot"
	"jobmate/alert-service/internal/retry"
)

const (
	// MessagesPerSecond is the global send budget for one bot.
	MessagesPerSecond = 25

	// SendTimeout bounds one Bot API call other than getUpdates.
	SendTimeout = 15 * time.Second

	pollTimeoutSeconds = 30
)

// Client sends messages through one bot, sharing a process-wide rate limit.
// Sends and long polling use separate HTTP clients with their own timeouts.
type Client struct {
	api     *tgbotapi.BotAPI
	poll    *tgbotapi.BotAPI
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// New connects to the Bot API with token (validated with getMe).
func New(token string, log *zap.SugaredLogger) (*Client, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, log)
}

// NewWithEndpoint is New against a custom API endpoint, a format string
// taking the token and the method name.
func NewWithEndpoint(token, endpoint string, log *zap.SugaredLogger) (*Client, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: SendTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "telegram getMe")
	}
	poll := *api
	poll.Client = &http.Client{Timeout: pollTimeoutSeconds*time.Second + SendTimeout}

	return &Client{
		api:     api,
		poll:    &poll,
		limiter: rate.NewLimiter(rate.Every(time.Second/MessagesPerSecond), 1),
		log:     log,
	}, nil
}

// Username is the bot's @name.
func (c *Client) Username() string { return c.api.Self.UserName }

// SendHTML sends an HTML-formatted message with link previews disabled.
func (c *Client) SendHTML(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return c.send(ctx, msg)
}

// SendText sends a plain-text message, with an inline keyboard when kb is
// not empty.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, kb bot.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kb) > 0 {
		msg.ReplyMarkup = inlineKeyboard(kb)
	}
	return c.send(ctx, msg)
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.request(ctx, tgbotapi.NewCallback(callbackID, text))
}

// ClearKeyboard removes the inline keyboard of a sent message.
func (c *Client) ClearKeyboard(ctx context.Context, chatID int64, messageID int) error {
	if messageID == 0 {
		return nil
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	return c.request(ctx, edit)
}

func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	return c.call(ctx, func() error {
		_, err := c.api.Send(msg)
		return err
	})
}

func (c *Client) request(ctx context.Context, cfg tgbotapi.Chattable) error {
	return c.call(ctx, func() error {
		_, err := c.api.Request(cfg)
		return err
	})
}

// call runs fn under the rate limit and returns as soon as ctx is done.
// tgbotapi builds its requests without a context, so an abandoned call keeps
// running in the background until SendTimeout.
func (c *Client) call(ctx context.Context, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return Classify(err)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "telegram call abandoned")
	}
}

// Classify marks Bot API errors that will not succeed on retry (bad request,
// unauthorized, blocked by the user, chat not found) as retry.Permanent.
// Rate limiting, server errors and network failures stay retryable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		wrapped := errors.Wrapf(err, "telegram %d", apiErr.Code)
		switch {
		case apiErr.Code == 429, apiErr.Code >= 500:
			return wrapped
		case apiErr.Code >= 400:
			return retry.Permanent(wrapped)
		}
		return wrapped
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Wrap(err, "telegram network")
	}
	return errors.Wrap(err, "telegram")
}

func inlineKeyboard(kb bot.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
