package repository

import (
	"context"
	"time"

	"roadside/internal/domain"
)

// ChatRepository defines the persistence operations for chats.
type ChatRepository interface {
	// Create persists a new chat. Returns ErrDuplicate if the request
	// already has one.
	Create(ctx context.Context, chat *domain.Chat) error

	// GetByID retrieves a chat with its messages.
	GetByID(ctx context.Context, id string) (*domain.Chat, error)

	// GetByRequestID retrieves the chat of a request.
	GetByRequestID(ctx context.Context, requestID string) (*domain.Chat, error)

	// AppendMessage stores a message at the end of an open chat. The stored
	// createdAt is never earlier than the previous message's and Seq is
	// assigned in insertion order. Returns ErrStatusChanged if the chat is
	// closed.
	AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error

	// UpdateMessageStatus advances a message from sent to the given status.
	UpdateMessageStatus(ctx context.Context, chatID, messageID string, status domain.MessageStatus) error

	// MarkRead sets the participant's lastReadAt and marks every message from
	// other senders as read. Returns the number of messages changed.
	MarkRead(ctx context.Context, chatID, principalID string, at time.Time) (int, error)

	// Close marks the chat closed. Returns ErrStatusChanged if already closed.
	Close(ctx context.Context, chatID string, at time.Time) error

	// Delete removes the chat and its messages.
	Delete(ctx context.Context, chatID string) error
}
