package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const busChannel = "realtime:events"

// BusMessage is one realtime emit carried between workers. An empty Room
// means a broadcast to every connection.
type BusMessage struct {
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Bus fans realtime emits out through one Redis pub/sub channel. A single
// channel keeps a total order per publisher.
type Bus struct {
	client *redis.Client
}

// NewBus creates a new Bus.
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Publish sends msg to every subscribed worker.
func (b *Bus) Publish(ctx context.Context, msg BusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	return b.client.Publish(ctx, busChannel, data).Err()
}

// Subscribe delivers messages to fn until ctx is cancelled. Malformed
// messages are passed to onErr and skipped.
func (b *Bus) Subscribe(ctx context.Context, fn func(BusMessage), onErr func(error)) error {
	sub := b.client.Subscribe(ctx, busChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", busChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg BusMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				onErr(err)
				continue
			}
			fn(msg)
		}
	}
}
