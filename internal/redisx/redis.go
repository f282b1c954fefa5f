package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomActivityKey = "room_activity"

type Client struct{ R *redis.Client }

// NewClient connects to the redis instance at url (redis://[:pass@]host:port/db)
func NewClient(ctx context.Context, url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{R: rdb}, nil
}

func (c *Client) Close() error { return c.R.Close() }

// IncRoomActivity bumps the room's score in the activity ranking
func (c *Client) IncRoomActivity(ctx context.Context, roomID string) {
	_ = c.R.ZIncrBy(ctx, roomActivityKey, 1, roomID).Err()
	_ = c.R.Expire(ctx, roomActivityKey, 24*time.Hour).Err()
}

// TopRooms returns up to n room ids ordered by recent activity
func (c *Client) TopRooms(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	return c.R.ZRevRange(ctx, roomActivityKey, 0, n-1).Result()
}
