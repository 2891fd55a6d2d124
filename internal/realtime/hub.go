// Package realtime is the websocket side of the service: rooms, per
// connection throttles and event fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"roadside/internal/redis"
	"roadside/internal/service"
)

const publishTimeout = 2 * time.Second

// Bus carries emits between workers. Every worker publishes and delivers
// what it receives to its own connections.
type Bus interface {
	Publish(ctx context.Context, msg redis.BusMessage) error
	Subscribe(ctx context.Context, fn func(redis.BusMessage), onErr func(error)) error
}

// outFrame is a server-to-client event.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub tracks connections and the rooms they joined. It implements
// service.Emitter.
type Hub struct {
	logger *zap.Logger
	bus    Bus

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

var _ service.Emitter = (*Hub)(nil)

// NewHub creates a hub. bus may be nil for single-worker deployments.
func NewHub(logger *zap.Logger, bus Bus) *Hub {
	return &Hub{
		logger:  logger.With(zap.String("component", "realtime")),
		bus:     bus,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Run delivers bus messages until ctx is done. Without a bus it only waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}
	return h.bus.Subscribe(ctx, func(msg redis.BusMessage) {
		h.deliver(msg.Room, msg.Event, msg.Payload, nil)
	}, func(err error) {
		h.logger.Warn("dropping malformed bus message", zap.Error(err))
	})
}

// Emit sends event to every connection in room.
func (h *Hub) Emit(room, event string, payload any) {
	h.publish(room, event, payload)
}

// Broadcast sends event to every connection.
func (h *Hub) Broadcast(event string, payload any) {
	h.publish("", event, payload)
}

// EmitExcept sends event to room, skipping the sender. It stays on this
// worker: the sender's peers are the only audience that matters.
func (h *Hub) EmitExcept(room, event string, payload any, except *Client) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(room, event, raw, except)
}

func (h *Hub) publish(room, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	if h.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := h.bus.Publish(ctx, redis.BusMessage{Room: room, Event: event, Payload: raw})
		if err == nil {
			return
		}
		h.logger.Warn("bus publish failed, delivering locally",
			zap.String("event", event), zap.String("room", room), zap.Error(err))
	}
	h.deliver(room, event, raw, nil)
}

// deliver queues the frame on every local target. A client whose queue is
// full is disconnected rather than waited on.
func (h *Hub) deliver(room, event string, payload json.RawMessage, except *Client) {
	frame, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("marshal frame", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if room != "" {
		targets = h.rooms[room]
	}
	for c := range targets {
		if c == except {
			continue
		}
		if !c.enqueue(frame) {
			h.logger.Warn("send queue full, disconnecting",
				zap.String("principal_id", c.principal.ID), zap.String("event", event))
			go c.close()
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
}

// Join adds c to room. Joining twice is a no-op.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// InRoom reports whether c joined room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// RoomSize returns the number of local connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Connections returns the number of local connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
