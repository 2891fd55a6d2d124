package service

import (
	"time"

	"roadside/internal/domain"
)

// Realtime event names.
const (
	EventNewRequestNotification = "new_request_notification"
	EventNewRequestCreated      = "new_request_created"
	EventRequestAccepted        = "request:accepted"
	EventRequestOnWay           = "request:on_way"
	EventRequestArrived         = "request:arrived"
	EventRequestWorking         = "request:working"
	EventRequestCompleted       = "request:completed"
	EventRequestCancelled       = "request:cancelled"
	EventRequestRejected        = "request:rejected"
	EventRequestFailed          = "request:failed"
	EventRequestStatusChanged   = "request_status_changed"
	EventChatReady              = "chat_ready"
	EventAutoStartLocation      = "auto_start_location_sharing"
	EventAutoStopLocation       = "auto_stop_location_sharing"
	EventLocationUpdate         = "mechanic:location_update"
	EventETAUpdate              = "mechanic:eta_update"
	EventLocationStop           = "mechanic:location_stop"
	EventMessageReceived        = "message_received"
	EventMarkRead               = "mark_read"
	EventTypingStart            = "typing_start"
	EventTypingStop             = "typing_stop"
	EventChatClosed             = "chat_closed"
	EventChatDeleted            = "chat_deleted"
	EventPaymentCompleted       = "payment:completed"
	EventMaintenanceStarted     = "maintenance:started"
	EventMaintenanceStopped     = "maintenance:stopped"
)

// Role-wide rooms.
const (
	RoomMechanics = "mechanics"
	RoomAdmins    = "admins"
)

// UserRoom is the personal room of a principal.
func UserRoom(principalID string) string { return "user_" + principalID }

// RequestRoom is the per-job room.
func RequestRoom(requestID string) string { return "request_" + requestID }

// ChatRoom is the per-conversation room.
func ChatRoom(chatID string) string { return "chat_" + chatID }

// RoleRoom returns the role-wide room of role, if any.
func RoleRoom(role domain.Role) string {
	switch role {
	case domain.RoleMechanic:
		return RoomMechanics
	case domain.RoleAdmin:
		return RoomAdmins
	}
	return ""
}

// Emitter delivers realtime events. Emits are fire-and-forget.
type Emitter interface {
	Emit(room, event string, payload any)
	Broadcast(event string, payload any)
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(string, string, any) {}
func (NopEmitter) Broadcast(string, any)    {}

// NewRequestPayload is sent to candidate mechanics and admins.
type NewRequestPayload struct {
	Request    *domain.Request `json:"request"`
	DistanceKm *float64        `json:"distance,omitempty"`
	Message    string          `json:"message"`
	Timestamp  time.Time       `json:"ts"`
}

// RequestEventPayload accompanies request:* lifecycle events.
type RequestEventPayload struct {
	RequestID string               `json:"requestId"`
	Request   *domain.Request      `json:"request"`
	Status    domain.RequestStatus `json:"status"`
}

// StatusChangedPayload is the legacy request_status_changed shape.
type StatusChangedPayload struct {
	RequestID string               `json:"requestId"`
	Status    domain.RequestStatus `json:"status"`
	Message   string               `json:"message"`
	UpdatedBy string               `json:"updatedBy"`
	Timestamp time.Time            `json:"ts"`
}

// ChatReadyPayload tells both parties a chat is open.
type ChatReadyPayload struct {
	ChatID    string `json:"chatId"`
	RequestID string `json:"requestId"`
}

// LocationSharingPayload toggles the mechanic client's location stream.
type LocationSharingPayload struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// LatLng is the wire shape of a streamed location.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationUpdatePayload is a streamed mechanic position.
type LocationUpdatePayload struct {
	RequestID  string    `json:"requestId,omitempty"`
	MechanicID string    `json:"mechanicId"`
	Location   LatLng    `json:"location"`
	Timestamp  time.Time `json:"ts"`
}

// ETAUpdatePayload is a streamed arrival estimate.
type ETAUpdatePayload struct {
	RequestID  string    `json:"requestId"`
	ETAMinutes float64   `json:"etaMinutes"`
	DistanceKm float64   `json:"distanceKm"`
	SpeedKph   float64   `json:"speedKph"`
	Timestamp  time.Time `json:"ts"`
}

// LocationStopPayload ends a location stream.
type LocationStopPayload struct {
	RequestID  string    `json:"requestId"`
	MechanicID string    `json:"mechanicId"`
	Timestamp  time.Time `json:"ts"`
}

// MessagePayload carries a new chat message.
type MessagePayload struct {
	ChatID  string          `json:"chatId"`
	Message *domain.Message `json:"message"`
}

// MarkReadPayload announces a read receipt.
type MarkReadPayload struct {
	ChatID      string    `json:"chatId"`
	PrincipalID string    `json:"principalId"`
	ReadAt      time.Time `json:"readAt"`
	Count       int       `json:"count"`
}

// TypingPayload is relayed to the other chat participants.
type TypingPayload struct {
	ChatID      string `json:"chatId"`
	PrincipalID string `json:"principalId"`
}

// ChatLifecyclePayload accompanies chat_closed and chat_deleted.
type ChatLifecyclePayload struct {
	ChatID    string    `json:"chatId"`
	RequestID string    `json:"requestId"`
	At        time.Time `json:"at"`
}

// PaymentCompletedPayload announces a recorded payment.
type PaymentCompletedPayload struct {
	RequestID string               `json:"requestId"`
	PaymentID string               `json:"paymentId"`
	Amount    float64              `json:"amount"`
	Net       float64              `json:"net"`
	Method    domain.PaymentMethod `json:"method"`
}

// MaintenancePayload accompanies maintenance:started and maintenance:stopped.
type MaintenancePayload struct {
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
