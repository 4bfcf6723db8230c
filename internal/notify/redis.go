package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisSender publishes messages on a pub/sub channel for downstream
// consumers such as a websocket fanout or a mobile push bridge.
type RedisSender struct {
	Client  *redis.Client
	Channel string
}

func NewRedisSender(addr, channel string) *RedisSender {
	return &RedisSender{
		Client:  redis.NewClient(&redis.Options{Addr: addr}),
		Channel: channel,
	}
}

func (s *RedisSender) Name() string { return "redis" }

func (s *RedisSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.Client.Publish(ctx, s.Channel, data).Err()
}

func (s *RedisSender) Close() error {
	return s.Client.Close()
}
