package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gavelhouse/gavel/internal/domain"
)

// Event fan-out keys. Every auction event is published on its auction's
// channel and on the firehose channel, and appended to the durable stream
// that reconnecting clients replay from.
const (
	eventChannelPrefix = "gavel:auction:"
	EventFirehose      = "gavel:events"
	EventStream        = "gavel:events:stream"
)

// streamMaxLen bounds the durable event stream, enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 50000

// EventChannel returns the pub/sub channel carrying one auction's events.
func EventChannel(auctionID string) string {
	return eventChannelPrefix + auctionID
}

// EventBus implements domain.EventBus using Redis Pub/Sub for live fan-out
// and a Redis Stream for durable, ordered replay.
type EventBus struct {
	rdb *redis.Client
}

var _ domain.EventBus = (*EventBus)(nil)

// NewEventBus returns an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// PublishEvent fans one auction event out to its auction channel, the
// firehose channel and the durable stream. The first failing hop aborts the
// rest; callers treat the error as a warning.
func (b *EventBus) PublishEvent(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", evt.Type, err)
	}
	if evt.AuctionID != "" {
		if err := b.publish(ctx, EventChannel(evt.AuctionID), payload); err != nil {
			return err
		}
	}
	if err := b.publish(ctx, EventFirehose, payload); err != nil {
		return err
	}
	return b.streamAppend(ctx, EventStream, payload)
}

func (b *EventBus) publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and returns a channel of raw
// payloads. Channel names containing glob wildcards go through PSUBSCRIBE.
// The subscription and the returned channel close with the context.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation so a caller that publishes
	// right after subscribing cannot miss its own event.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go pump(ctx, pubsub, out)
	return out, nil
}

// pump moves payloads from the subscription to out until the context ends or
// the subscription drops.
func pump(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
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
}

// streamAppend XADDs a payload, trimming the stream to roughly streamMaxLen
// entries.
func (b *EventBus) streamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count messages appended after lastID, oldest
// first. Use "0" for the beginning. An empty stream yields an empty result,
// not an error.
func (b *EventBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		// go-redis only omits BLOCK when Block is negative; the zero value
		// issues XREAD BLOCK 0, which waits forever on an empty stream.
		Block: -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, res := range results {
		for _, msg := range res.Messages {
			payload, ok := payloadBytes(msg.Values["payload"])
			if !ok {
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: payload})
		}
	}
	return messages, nil
}

// payloadBytes unpacks the payload field, which go-redis hands back as a
// string.
func payloadBytes(v any) ([]byte, bool) {
	switch p := v.(type) {
	case string:
		return []byte(p), true
	case []byte:
		return p, true
	default:
		return nil, false
	}
}
