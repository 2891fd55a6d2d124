package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/redis"
)

// MockBus records publishes and can loop them back like Redis would.
type MockBus struct {
	mu         sync.Mutex
	published  []redis.BusMessage
	PublishErr error
}

func (b *MockBus) Publish(ctx context.Context, msg redis.BusMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *MockBus) Subscribe(ctx context.Context, fn func(redis.BusMessage), onErr func(error)) error {
	<-ctx.Done()
	return nil
}

func (b *MockBus) Published() []redis.BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]redis.BusMessage(nil), b.published...)
}

// testClient registers a connection-less client; frames stay in its queue.
func testClient(h *Hub, id string) *Client {
	c := newClient(h, nil, domain.Principal{ID: id, Role: domain.RoleUser, Active: true})
	h.register(c)
	return c
}

func drain(c *Client) []outFrame {
	var out []outFrame
	for {
		select {
		case b := <-c.send:
			var f outFrame
			_ = json.Unmarshal(b, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

// ──────────────────────────────────────────────
// 1. ROOMS
// ──────────────────────────────────────────────

func TestHub_EmitReachesRoomMembersOnly(t *testing.T) {
	t.Parallel()

	h := NewHub(zap.NewNop(), nil)
	a, b := testClient(h, "a"), testClient(h, "b")
	h.Join(a, "request_1")
	h.Join(a, "request_1")

	if h.RoomSize("request_1") != 1 {
		t.Fatalf("duplicate join must be idempotent, room has %d", h.RoomSize("request_1"))
	}

	h.Emit("request_1", "request:on_way", map[string]string{"requestId": "1"})
	if got := drain(a); len(got) != 1 || got[0].Event != "request:on_way" {
		t.Errorf("expected one frame for a, got %+v", got)
	}
	if got := drain(b); len(got) != 0 {
		t.Errorf("expected nothing for b, got %+v", got)
	}

	h.Broadcast("maintenance:started", nil)
	if len(drain(a)) != 1 || len(drain(b)) != 1 {
		t.Error("expected broadcast to reach everyone")
	}
}

func TestHub_PreservesRoomOrder(t *testing.T) {
	t.Parallel()

	h := NewHub(zap.NewNop(), nil)
	c := testClient(h, "a")
	h.Join(c, "request_1")

	events := []string{"request:accepted", "request:on_way", "request:arrived", "request:working", "request:completed"}
	for _, ev := range events {
		h.Emit("request_1", ev, nil)
	}
	got := drain(c)
	if len(got) != len(events) {
		t.Fatalf("expected %d frames, got %d", len(events), len(got))
	}
	for i, ev := range events {
		if got[i].Event != ev {
			t.Errorf("frame %d: expected %s, got %s", i, ev, got[i].Event)
		}
	}
}

func TestHub_EmitExceptSkipsSender(t *testing.T) {
	t.Parallel()

	h := NewHub(zap.NewNop(), nil)
	a, b := testClient(h, "a"), testClient(h, "b")
	h.Join(a, "chat_1")
	h.Join(b, "chat_1")

	h.EmitExcept("chat_1", "typing_start", nil, a)
	if len(drain(a)) != 0 || len(drain(b)) != 1 {
		t.Error("expected typing to reach only the peer")
	}
}

func TestHub_CloseDropsMembership(t *testing.T) {
	t.Parallel()

	h := NewHub(zap.NewNop(), nil)
	c := testClient(h, "a")
	h.Join(c, "request_1")
	c.close()
	c.close()

	if h.RoomSize("request_1") != 0 || h.Connections() != 0 {
		t.Error("expected a closed client to leave every room")
	}
	h.Join(c, "request_2")
	if h.RoomSize("request_2") != 0 {
		t.Error("a closed client must not rejoin")
	}
}

func TestHub_FullQueueDisconnects(t *testing.T) {
	t.Parallel()

	h := NewHub(zap.NewNop(), nil)
	c := testClient(h, "slow")
	for i := 0; i < sendQueueSize+1; i++ {
		h.Broadcast("tick", i)
	}
	<-c.done
	if h.Connections() != 0 {
		t.Error("expected the slow client to be dropped")
	}
}

// ──────────────────────────────────────────────
// 2. BUS
// ──────────────────────────────────────────────

func TestHub_PublishesThroughBus(t *testing.T) {
	t.Parallel()

	bus := &MockBus{}
	h := NewHub(zap.NewNop(), bus)
	c := testClient(h, "a")
	h.Join(c, "admins")

	h.Emit("admins", "payment:completed", map[string]float64{"amount": 100})
	h.Broadcast("maintenance:stopped", nil)

	msgs := bus.Published()
	if len(msgs) != 2 || msgs[0].Room != "admins" || msgs[1].Room != "" {
		t.Fatalf("unexpected bus traffic %+v", msgs)
	}
	if len(drain(c)) != 0 {
		t.Error("local delivery must wait for the bus")
	}

	// What the subscriber would deliver.
	h.deliver(msgs[0].Room, msgs[0].Event, msgs[0].Payload, nil)
	if got := drain(c); len(got) != 1 || got[0].Event != "payment:completed" {
		t.Errorf("expected delivery from the bus, got %+v", got)
	}
}

func TestHub_BusFailureDeliversLocally(t *testing.T) {
	t.Parallel()

	bus := &MockBus{PublishErr: errors.New("connection refused")}
	h := NewHub(zap.NewNop(), bus)
	c := testClient(h, "a")
	h.Join(c, "admins")

	h.Emit("admins", "payment:completed", nil)
	if len(drain(c)) != 1 {
		t.Error("expected local delivery when publishing fails")
	}
}

// ──────────────────────────────────────────────
// 3. CLIENT THROTTLES
// ──────────────────────────────────────────────

func TestClient_ChatBudgetIsPerChat(t *testing.T) {
	t.Parallel()

	h := NewHub(zap.NewNop(), nil)
	c := testClient(h, "u1")

	for i := 0; i < chatBurst; i++ {
		if !c.allowMessage("chat-a") {
			t.Fatalf("message %d should pass", i+1)
		}
	}
	// The budget does not refill within the window.
	if c.allowMessage("chat-a") {
		t.Error("message beyond the budget should be refused")
	}
	if !c.allowMessage("chat-b") {
		t.Error("another chat has its own budget")
	}
}
