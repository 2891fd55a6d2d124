package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/service"
)

// Client event names.
const (
	EventJoinRequestRoom  = "join_request_room"
	EventLeaveRequestRoom = "leave_request_room"
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventSendMessage      = "send_message"

	eventAck   = "ack"
	eventError = "error"
)

const handleTimeout = 10 * time.Second

// errDropped marks an event that was throttled silently.
var errDropped = errors.New("dropped")

// RoomAuthorizer decides whether a principal may follow a request.
type RoomAuthorizer interface {
	AuthorizeRoom(ctx context.Context, p domain.Principal, requestID string) error
}

// ChatEngine is the chat side of the service.
type ChatEngine interface {
	Join(ctx context.Context, p domain.Principal, ref string) (*domain.Chat, error)
	Send(ctx context.Context, p domain.Principal, chatID string, in service.SendInput) (*domain.Message, error)
	MarkRead(ctx context.Context, p domain.Principal, chatID string) (*service.MarkReadPayload, error)
}

// LocationRelay streams mechanic positions to request rooms.
type LocationRelay interface {
	ShareLocation(ctx context.Context, p domain.Principal, in service.LocationInput) (*service.LocationUpdatePayload, error)
	ShareETA(ctx context.Context, p domain.Principal, in service.ETAInput) (*service.ETAUpdatePayload, error)
	StopSharing(ctx context.Context, p domain.Principal, requestID string) (*service.LocationStopPayload, error)
}

// inFrame is a client-to-server event. ID asks for an ack.
type inFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ackFrame struct {
	Event string  `json:"event"`
	ID    string  `json:"id"`
	Data  ackData `json:"data"`
}

type ackData struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorData struct {
	Event   string `json:"event"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type roomRef struct {
	RequestID string `json:"requestId"`
	ChatID    string `json:"chatId"`
}

type sendMessageData struct {
	ChatID string `json:"chatId"`
	service.SendInput
}

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (any, error)

// router maps client events to handlers.
type router struct {
	hub      *Hub
	logger   *zap.Logger
	rooms    RoomAuthorizer
	chat     ChatEngine
	tracking LocationRelay
	handlers map[string]handlerFunc
}

func newRouter(hub *Hub, logger *zap.Logger, rooms RoomAuthorizer, chat ChatEngine, tracking LocationRelay) *router {
	r := &router{hub: hub, logger: logger, rooms: rooms, chat: chat, tracking: tracking}
	r.handlers = map[string]handlerFunc{
		EventJoinRequestRoom:        r.joinRequestRoom,
		EventLeaveRequestRoom:       r.leaveRequestRoom,
		EventJoinChat:               r.joinChat,
		EventLeaveChat:              r.leaveChat,
		EventSendMessage:            r.sendMessage,
		service.EventMarkRead:       r.markRead,
		service.EventTypingStart:    r.typing(service.EventTypingStart),
		service.EventTypingStop:     r.typing(service.EventTypingStop),
		service.EventLocationUpdate: r.locationUpdate,
		service.EventETAUpdate:      r.etaUpdate,
		service.EventLocationStop:   r.locationStop,
	}
	return r
}

// handle runs one inbound frame and answers with an ack when asked.
// Failures without an ack id are reported as an error event.
func (r *router) handle(c *Client, raw []byte) {
	var in inFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		r.reply(c, in, nil, service.Validation("Malformed event frame"))
		return
	}
	h, ok := r.handlers[in.Event]
	if !ok {
		r.reply(c, in, nil, service.Validation("Unknown event %q", in.Event))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, handleTimeout)
	defer cancel()
	data, err := h(ctx, c, in.Data)
	if errors.Is(err, errDropped) {
		return
	}
	r.reply(c, in, data, err)
}

func (r *router) reply(c *Client, in inFrame, data any, err error) {
	if err != nil && service.KindOf(err) == service.KindInternal {
		r.logger.Error("realtime handler failed",
			zap.String("event", in.Event), zap.String("principal_id", c.principal.ID), zap.Error(err))
	}

	var frame any
	switch {
	case in.ID != "" && err != nil:
		frame = ackFrame{Event: eventAck, ID: in.ID, Data: ackData{
			Error: string(service.KindOf(err)), Message: service.PublicMessage(err),
		}}
	case in.ID != "":
		frame = ackFrame{Event: eventAck, ID: in.ID, Data: ackData{Success: true, Data: data}}
	case err != nil:
		frame = outFrame{Event: eventError, Data: errorData{
			Event: in.Event, Error: string(service.KindOf(err)), Message: service.PublicMessage(err),
		}}
	default:
		return
	}

	b, mErr := json.Marshal(frame)
	if mErr != nil {
		r.logger.Error("marshal ack", zap.Error(mErr))
		return
	}
	if !c.enqueue(b) {
		go c.close()
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return service.Validation("Event data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return service.Validation("Invalid event data")
	}
	return nil
}

func (r *router) joinRequestRoom(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var ref roomRef
	if err := decode(data, &ref); err != nil {
		return nil, err
	}
	if ref.RequestID == "" {
		return nil, service.Validation("requestId is required")
	}
	if err := r.rooms.AuthorizeRoom(ctx, c.principal, ref.RequestID); err != nil {
		return nil, err
	}
	room := service.RequestRoom(ref.RequestID)
	r.hub.Join(c, room)
	return map[string]string{"room": room}, nil
}

func (r *router) leaveRequestRoom(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	var ref roomRef
	if err := decode(data, &ref); err != nil {
		return nil, err
	}
	r.hub.Leave(c, service.RequestRoom(ref.RequestID))
	return nil, nil
}

func (r *router) joinChat(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var ref roomRef
	if err := decode(data, &ref); err != nil {
		return nil, err
	}
	key := ref.ChatID
	if key == "" {
		key = ref.RequestID
	}
	if key == "" {
		return nil, service.Validation("chatId or requestId is required")
	}
	chat, err := r.chat.Join(ctx, c.principal, key)
	if err != nil {
		return nil, err
	}
	r.hub.Join(c, service.ChatRoom(chat.ID))
	return chat, nil
}

func (r *router) leaveChat(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	var ref roomRef
	if err := decode(data, &ref); err != nil {
		return nil, err
	}
	r.hub.Leave(c, service.ChatRoom(ref.ChatID))
	return nil, nil
}

func (r *router) sendMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var in sendMessageData
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	if in.ChatID == "" {
		return nil, service.Validation("chatId is required")
	}
	if !c.allowMessage(in.ChatID) {
		return nil, service.ErrMessageRateLimited
	}
	return r.chat.Send(ctx, c.principal, in.ChatID, in.SendInput)
}

func (r *router) markRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var ref roomRef
	if err := decode(data, &ref); err != nil {
		return nil, err
	}
	return r.chat.MarkRead(ctx, c.principal, ref.ChatID)
}

// typing relays to the other participants of a chat the client joined.
func (r *router) typing(event string) handlerFunc {
	return func(_ context.Context, c *Client, data json.RawMessage) (any, error) {
		var ref roomRef
		if err := decode(data, &ref); err != nil {
			return nil, err
		}
		room := service.ChatRoom(ref.ChatID)
		if !r.hub.InRoom(c, room) {
			return nil, service.ErrNotChatParticipant
		}
		r.hub.EmitExcept(room, event, service.TypingPayload{ChatID: ref.ChatID, PrincipalID: c.principal.ID}, c)
		return nil, nil
	}
}

// locationUpdate drops updates arriving faster than one per interval.
func (r *router) locationUpdate(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	if !c.location.Allow() {
		return nil, errDropped
	}
	var in service.LocationInput
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	return r.tracking.ShareLocation(ctx, c.principal, in)
}

func (r *router) etaUpdate(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var in service.ETAInput
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	return r.tracking.ShareETA(ctx, c.principal, in)
}

func (r *router) locationStop(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var ref roomRef
	if err := decode(data, &ref); err != nil {
		return nil, err
	}
	return r.tracking.StopSharing(ctx, c.principal, ref.RequestID)
}
