package rtm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus publishes events on a single pub/sub channel shared by every API
// node.
type RedisBus struct {
	log     zerolog.Logger
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client, channel string, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		log:     log.With().Str("component", "rtm.bus").Logger(),
		client:  client,
		channel: channel,
	}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and invokes onEvent for every
// decoded event until the context is cancelled. It returns once the
// subscription is confirmed active.
func (b *RedisBus) StartForwarder(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.log.Warn().Err(err).Msg("bad event payload on bus")
					continue
				}
				onEvent(event)
			}
		}
	}()

	return nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
