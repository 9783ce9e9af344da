package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantrail/fixmirror/internal/domain"
)

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// defaultStream is the replication lifecycle stream consumed by dashboards
// and downstream tooling.
const defaultStream = "fixmirror:events"

// EventBus implements domain.EventBus on a Redis stream. Entries are
// JSON-encoded BusEvents, trimmed to an approximate maximum length so the
// stream never grows unbounded.
type EventBus struct {
	rdb    *redis.Client
	stream string
}

// NewEventBus creates an EventBus on the given stream; empty selects the
// default.
func NewEventBus(c *Client, stream string) *EventBus {
	if stream == "" {
		stream = defaultStream
	}
	return &EventBus{rdb: c.Underlying(), stream: stream}
}

// Publish appends the event to the stream.
func (b *EventBus) Publish(ctx context.Context, ev domain.BusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal bus event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":    string(ev.Kind),
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", b.stream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
