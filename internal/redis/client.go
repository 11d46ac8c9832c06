package redis

import (
	"context"
	"fmt"

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

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// LegKey is the hash holding one call leg.
func LegKey(legID string) string {
	return fmt.Sprintf("calls:leg:%s", legID)
}

// CalleeRingingKey is the set of leg ids currently ringing for a callee.
func CalleeRingingKey(calleeID string) string {
	return fmt.Sprintf("calls:callee:%s:ringing", calleeID)
}

// CallerLegsKey is the set of leg ids a caller has created.
func CallerLegsKey(callerID string) string {
	return fmt.Sprintf("calls:caller:%s:legs", callerID)
}

// GroupKey is the set of leg ids sharing one group session.
func GroupKey(groupSessionID string) string {
	return fmt.Sprintf("calls:group:%s", groupSessionID)
}

// RingingIndexKey is the sorted set of all ringing legs scored by creation
// time, used by the ring-timeout sweep.
func RingingIndexKey() string {
	return "calls:ringing"
}
