// Package events publishes run and subscription notifications on Redis
// pub/sub. Publishing is best-effort: a failure is logged, never returned.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel names.
const (
	JobsScraped         = "EVENT_JOBS_SCRAPED"
	NotificationsSent   = "EVENT_NOTIFICATIONS_SENT"
	SubscriptionChanged = "EVENT_SUBSCRIPTION_CHANGED"
)

// Envelope is the JSON message written to every channel.
type Envelope struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// SubscriptionChange is the payload of SubscriptionChanged.
type SubscriptionChange struct {
	Action    string `json:"action"` // "subscribed" or "unsubscribed"
	ChatID    int64  `json:"chatId"`
	Keyword   string `json:"keyword"`
	Frequency string `json:"frequency,omitempty"`
}

// Publisher writes envelopes to Redis. A nil *Publisher discards everything.
type Publisher struct {
	rdb *redis.Client
	log *zap.SugaredLogger
}

// NewPublisher returns a Publisher on rdb.
func NewPublisher(rdb *redis.Client, log *zap.SugaredLogger) *Publisher {
	return &Publisher{rdb: rdb, log: log}
}

// Publish sends data on channel (non-fatal).
func (p *Publisher) Publish(ctx context.Context, channel string, data any) {
	if p == nil || p.rdb == nil {
		return
	}
	msg, err := json.Marshal(Envelope{Type: channel, At: time.Now().UTC(), Data: data})
	if err != nil {
		p.log.Warnw("marshal event failed", "channel", channel, "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, msg).Err(); err != nil {
		p.log.Warnw("publish event failed", "channel", channel, "error", err)
	}
}
