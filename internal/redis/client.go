package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// AccountLockKey is the key guarding reconciliation of one account.
func AccountLockKey(accountID string) string {
	return fmt.Sprintf("lock:reconcile:%s", accountID)
}

// VerificationRateKey scopes verification-link rate limiting to a client IP.
func VerificationRateKey(ip string) string {
	return fmt.Sprintf("ratelimit:verify:%s", ip)
}
