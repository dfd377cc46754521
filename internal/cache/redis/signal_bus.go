package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// Channel and stream names used across processes. Pub/sub channels carry
// live fan-out; streams keep a bounded replayable tail.
const (
	ChannelTicks  = "arb:ticks"
	ChannelTrades = "arb:trades"
	StreamTicks   = "arb:stream:ticks"
	StreamTrades  = "arb:stream:trades"
)

// DefaultStreamMaxLen bounds stream growth when config leaves it unset.
const DefaultStreamMaxLen = 10000

// SignalBus implements domain.SignalBus: Pub/Sub for ephemeral tick and
// trade fan-out, Streams for a durable tail that survives subscriber
// restarts.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates a SignalBus. streamMaxLen <= 0 selects
// DefaultStreamMaxLen.
func NewSignalBus(c *Client, streamMaxLen int) *SignalBus {
	if streamMaxLen <= 0 {
		streamMaxLen = DefaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: int64(streamMaxLen)}
}

// Publish sends a payload to a Pub/Sub channel. Delivery is best-effort;
// nobody listening is not an error.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw payloads for the given Pub/Sub
// channel. Glob patterns (*, ?, [) switch to PSUBSCRIBE. The returned
// channel closes when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var sub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		sub = b.rdb.PSubscribe(ctx, channel)
	} else {
		sub = b.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation so a broken connection
	// surfaces here instead of as a silent dead channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends a payload to a stream, trimming to the configured
// approximate maximum length.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID. Pass "0" to read
// from the start. No pending entries yields an empty result, not an error.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, res := range results {
		for _, msg := range res.Messages {
			raw, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			var data []byte
			switch v := raw.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}
