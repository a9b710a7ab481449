// Package lease provides a Redis-backed mutual-exclusion lease shared by all
// instances of the service. A lease expires on its own if the holder dies.
package lease

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another holder owns the lease.
var ErrHeld = errors.New("lease held")

const keyPrefix = "lease:"

// releaseScript deletes the key only if it still holds our token, so an
// expired-and-reacquired lease is never released by its previous owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release gives the lease back.
type Release func(ctx context.Context) error

// Manager acquires named leases.
type Manager struct {
	rdb *redis.Client
}

// NewManager returns a Manager on rdb.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Key is the Redis key for lease name.
func Key(name string) string { return keyPrefix + name }

// Acquire takes lease name for ttl. It returns ErrHeld when the lease is
// owned by someone else.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, error) {
	key := Key(name)
	token := uuid.NewString()

	ok, err := m.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire %s", key)
	}
	if !ok {
		return nil, errors.Wrapf(ErrHeld, "%s", name)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, m.rdb, []string{key}, token).Err(); err != nil {
			return errors.Wrapf(err, "release %s", key)
		}
		return nil
	}, nil
}
