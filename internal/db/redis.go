package db

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrapf(err, "redis.ParseURL(%q)", redact(redisURL))
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}

	return client, nil
}

// redact hides the password of a redis URL so it can be logged.
func redact(raw string) string {
	opts, err := redis.ParseURL(raw)
	if err != nil || opts.Password == "" {
		return raw
	}
	return opts.Network + "://" + opts.Addr
}
