package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"jobmate/alert-service/internal/model"
)

// ─── Subscription store ──────────────────────────────────────────────────────

// SubscriptionStore reads and writes the subscriptions table.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore returns a SubscriptionStore on db.
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `chat_id, keyword, frequency, last_job_id, created_at, updated_at`

// Upsert creates or replaces the (chat, keyword) subscription. The watermark
// is reset to 0 on every upsert, so re-subscribing replays matching history.
func (s *SubscriptionStore) Upsert(ctx context.Context, chatID int64, keyword string, freq model.Frequency) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (chat_id, keyword, frequency, last_job_id)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (chat_id, keyword) DO UPDATE SET
		     frequency   = EXCLUDED.frequency,
		     last_job_id = 0,
		     updated_at  = NOW()`,
		chatID, keyword, string(freq),
	)
	return errors.Wrap(err, "upsert subscription")
}

// Delete removes the (chat, keyword) subscription. It reports whether a row
// existed.
func (s *SubscriptionStore) Delete(ctx context.Context, chatID int64, keyword string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE chat_id = $1 AND keyword = $2`,
		chatID, keyword,
	)
	if err != nil {
		return false, errors.Wrap(err, "delete subscription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "delete subscription rows affected")
	}
	return n > 0, nil
}

// ListByChat returns the chat's subscriptions ordered by keyword.
func (s *SubscriptionStore) ListByChat(ctx context.Context, chatID int64) ([]model.Subscription, error) {
	return s.query(ctx, "listByChat",
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE chat_id = $1 ORDER BY keyword`,
		chatID,
	)
}

// ListByFrequency returns every subscription of the given tier.
func (s *SubscriptionStore) ListByFrequency(ctx context.Context, freq model.Frequency) ([]model.Subscription, error) {
	return s.query(ctx, "listByFrequency",
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE frequency = $1 ORDER BY chat_id, keyword`,
		string(freq),
	)
}

// AdvanceWatermark moves last_job_id up to newID. The update only applies
// when newID is greater than the stored value; it reports whether it did.
func (s *SubscriptionStore) AdvanceWatermark(ctx context.Context, chatID int64, keyword string, newID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET last_job_id = $3, updated_at = NOW()
		 WHERE chat_id = $1 AND keyword = $2 AND last_job_id < $3`,
		chatID, keyword, newID,
	)
	if err != nil {
		return false, errors.Wrap(err, "advance watermark")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "advance watermark rows affected")
	}
	return n > 0, nil
}

func (s *SubscriptionStore) query(ctx context.Context, op, q string, args ...any) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s query", op)
	}
	defer rows.Close()

	subs := make([]model.Subscription, 0)
	for rows.Next() {
		var (
			sub  model.Subscription
			freq string
		)
		if err := rows.Scan(&sub.ChatID, &sub.Keyword, &freq, &sub.LastJobID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, errors.Wrapf(err, "%s scan", op)
		}
		sub.Frequency = model.Frequency(freq)
		subs = append(subs, sub)
	}
	return subs, errors.Wrapf(rows.Err(), "%s rows", op)
}
