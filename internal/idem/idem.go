// Package idem remembers client message ids so a resent send_message is
// persisted once.
package idem

import (
	"context"
	"time"

	"Parley/internal/redisx"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	// PutNX records key and reports whether it was new
	PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type redisStore struct{ r *redis.Client }

func New(rdb *redisx.Client) Store {
	return &redisStore{r: rdb.R}
}

func (s *redisStore) PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.r.SetNX(ctx, "idem:"+key, "1", ttl).Result()
}

// Key scopes a client message id to its sender
func Key(userID, clientMessageID string) string {
	return "msg:" + userID + ":" + clientMessageID
}
