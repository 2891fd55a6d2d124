package memory

import (
	"context"
	"time"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ChatRepository implements repository.ChatRepository in memory.
type ChatRepository struct {
	s *state
}

// Create persists a new chat.
func (r *ChatRepository) Create(ctx context.Context, chat *domain.Chat) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.chats {
		if c.RequestID == chat.RequestID {
			return repository.ErrDuplicate
		}
	}
	r.s.chats[chat.ID] = chat.Clone()
	return nil
}

// GetByID retrieves a chat with its messages.
func (r *ChatRepository) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c.Clone(), nil
}

// GetByRequestID retrieves the chat of a request.
func (r *ChatRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.chats {
		if c.RequestID == requestID {
			return c.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

// AppendMessage stores a message at the end of an open chat.
func (r *ChatRepository) AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.IsClosed {
		return repository.ErrStatusChanged
	}
	msg.Seq = int64(len(c.Messages) + 1)
	if n := len(c.Messages); n > 0 {
		if last := c.Messages[n-1]; msg.CreatedAt.Before(last.CreatedAt) {
			msg.CreatedAt = last.CreatedAt
		}
		msg.Seq = c.Messages[n-1].Seq + 1
	}
	c.Messages = append(c.Messages, *msg)
	return nil
}

// UpdateMessageStatus advances a sent message to status.
func (r *ChatRepository) UpdateMessageStatus(ctx context.Context, chatID, messageID string, status domain.MessageStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range c.Messages {
		if c.Messages[i].ID != messageID {
			continue
		}
		if c.Messages[i].Status == domain.MessageSent {
			c.Messages[i].Status = status
		}
		return nil
	}
	return repository.ErrNotFound
}

// MarkRead marks messages from other senders as read.
func (r *ChatRepository) MarkRead(ctx context.Context, chatID, principalID string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	for i := range c.Participants {
		if c.Participants[i].PrincipalID == principalID {
			t := at
			c.Participants[i].LastReadAt = &t
		}
	}
	n := 0
	for i := range c.Messages {
		if c.Messages[i].SenderID != principalID && c.Messages[i].Status != domain.MessageRead {
			c.Messages[i].Status = domain.MessageRead
			n++
		}
	}
	return n, nil
}

// Close marks the chat closed.
func (r *ChatRepository) Close(ctx context.Context, chatID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.IsClosed {
		return repository.ErrStatusChanged
	}
	t := at
	c.IsClosed = true
	c.ClosedAt = &t
	return nil
}

// Delete removes the chat.
func (r *ChatRepository) Delete(ctx context.Context, chatID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.chats[chatID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.chats, chatID)
	return nil
}
