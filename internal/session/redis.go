package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "alert:session:"
	maxUpdateRetries = 5
)

// Redis is a Store backed by one JSON value per chat with a TTL. Update uses
// WATCH/MULTI so concurrent writers on the same chat retry instead of
// clobbering each other.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedis returns a Redis-backed store whose records expire after ttl.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, now: time.Now}
}

// Key returns the Redis key holding chatID's session.
func Key(chatID int64) string {
	return keyPrefix + strconv.FormatInt(chatID, 10)
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, chatID int64) (Session, error) {
	return r.load(ctx, r.rdb, Key(chatID))
}

// Update implements Store.
func (r *Redis) Update(ctx context.Context, chatID int64, fn func(*Session) error) (Session, error) {
	key := Key(chatID)
	var result Session

	txf := func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(&s); err != nil {
			return err
		}
		s = normalize(s)

		var data []byte
		if !s.Idle() {
			s.UpdatedAt = r.now()
			if data, err = json.Marshal(s); err != nil {
				return errors.Wrap(err, "marshal session")
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if s.Idle() {
				p.Del(ctx, key)
			} else {
				p.Set(ctx, key, data, r.ttl)
			}
			return nil
		})
		if err == nil {
			result = s
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Session{}, errors.Wrapf(err, "update session %d", chatID)
		}
		return result, nil
	}
	return Session{}, errors.Newf("update session %d: too much contention", chatID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) load(ctx context.Context, c getter, key string) (Session, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{Step: StepIdle}, nil
	}
	if err != nil {
		return Session{}, errors.Wrapf(err, "get %s", key)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt record is treated as no record.
		return Session{Step: StepIdle}, nil
	}
	return normalize(s), nil
}
