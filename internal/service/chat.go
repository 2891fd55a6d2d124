package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ChatService runs the per-request conversation.
type ChatService struct {
	logger           *zap.Logger
	chats            repository.ChatRepository
	requests         repository.RequestRepository
	mechanics        repository.MechanicRepository
	emitter          Emitter
	deleteOnComplete bool
}

// NewChatService creates a new ChatService. When deleteOnComplete is set the
// chat is deleted on completion instead of closed.
func NewChatService(
	logger *zap.Logger,
	chats repository.ChatRepository,
	requests repository.RequestRepository,
	mechanics repository.MechanicRepository,
	emitter Emitter,
	deleteOnComplete bool,
) *ChatService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &ChatService{
		logger:           logger.With(zap.String("component", "chat")),
		chats:            chats,
		requests:         requests,
		mechanics:        mechanics,
		emitter:          emitter,
		deleteOnComplete: deleteOnComplete,
	}
}

// Ensure returns the request's chat, creating it with the requester and the
// mechanic principal as participants if absent.
func (s *ChatService) Ensure(ctx context.Context, req *domain.Request, mechanicPrincipalID string) (*domain.Chat, error) {
	chat, err := s.chats.GetByRequestID(ctx, req.ID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	chat = &domain.Chat{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Participants: []domain.Participant{
			{PrincipalID: req.UserID, Role: domain.RoleUser},
			{PrincipalID: mechanicPrincipalID, Role: domain.RoleMechanic},
		},
		Messages:  []domain.Message{},
		CreatedAt: time.Now(),
	}
	if err := s.chats.Create(ctx, chat); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.chats.GetByRequestID(ctx, req.ID)
		}
		return nil, err
	}
	s.logger.Info("chat created", zap.String("chatId", chat.ID), zap.String("requestId", req.ID))
	return chat, nil
}

// Join resolves ref as a chat id or a request id and checks membership.
func (s *ChatService) Join(ctx context.Context, p domain.Principal, ref string) (*domain.Chat, error) {
	if ref == "" {
		return nil, Validation("chatId is required")
	}
	chat, err := s.chats.GetByID(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		chat, err = s.chats.GetByRequestID(ctx, ref)
	}
	if err != nil {
		return nil, notFound(err, ErrChatNotFound)
	}
	if !p.IsAdmin() && !chat.HasParticipant(p.ID) {
		return nil, ErrNotChatParticipant
	}
	return chat, nil
}

// ForRequest returns the chat of a request the principal can access,
// creating it if the request has an assigned mechanic but no chat yet.
func (s *ChatService) ForRequest(ctx context.Context, p domain.Principal, requestID string) (*domain.Chat, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}

	chat, err := s.chats.GetByRequestID(ctx, requestID)
	if err == nil {
		if !p.IsAdmin() && !chat.HasParticipant(p.ID) {
			return nil, ErrNotChatParticipant
		}
		return chat, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if !req.HasMechanic() || !req.Status.Active() {
		return nil, ErrChatNotFound
	}

	m, err := s.mechanics.GetByID(ctx, *req.MechanicID)
	if err != nil {
		return nil, notFound(err, ErrMechanicNotFound)
	}
	if !p.IsAdmin() && p.ID != req.UserID && p.ID != m.PrincipalID {
		return nil, ErrNotChatParticipant
	}
	return s.Ensure(ctx, req, m.PrincipalID)
}

// SendInput is the body of send_message.
type SendInput struct {
	Text        string              `json:"text"`
	Attachments []domain.Attachment `json:"attachments"`
}

func (in SendInput) validate() error {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return Validation("Message text or attachments are required")
	}
	if utf8.RuneCountInString(in.Text) > domain.MaxMessageLength {
		return Validation("Message text exceeds %d characters", domain.MaxMessageLength)
	}
	if len(in.Attachments) > domain.MaxAttachments {
		return Validation("At most %d attachments are allowed", domain.MaxAttachments)
	}
	for _, a := range in.Attachments {
		if a.URL == "" || !a.Type.Valid() {
			return Validation("Each attachment needs a url and a type of image, file or location")
		}
		if len(a.Metadata) > domain.MaxAttachmentMetadata {
			return Validation("Attachment metadata allows at most %d entries", domain.MaxAttachmentMetadata)
		}
	}
	return nil
}

// Send appends a message, fans it out to the chat room and marks it delivered.
func (s *ChatService) Send(ctx context.Context, p domain.Principal, chatID string, in SendInput) (*domain.Message, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	chat, err := s.Join(ctx, p, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsClosed {
		return nil, ErrChatClosed
	}

	msg := &domain.Message{
		ID:          uuid.NewString(),
		SenderID:    p.ID,
		Text:        in.Text,
		Attachments: in.Attachments,
		Status:      domain.MessageSent,
		CreatedAt:   time.Now(),
	}
	if err := s.chats.AppendMessage(ctx, chat.ID, msg); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, ErrChatClosed
		}
		return nil, err
	}

	s.emitter.Emit(ChatRoom(chat.ID), EventMessageReceived, MessagePayload{ChatID: chat.ID, Message: msg})

	if err := s.chats.UpdateMessageStatus(ctx, chat.ID, msg.ID, domain.MessageDelivered); err != nil {
		s.logger.Warn("mark message delivered", zap.String("chatId", chat.ID), zap.String("messageId", msg.ID), zap.Error(err))
		return msg, nil
	}
	msg.Status = domain.MessageDelivered
	return msg, nil
}

// MarkRead records a read receipt for the principal and announces it.
func (s *ChatService) MarkRead(ctx context.Context, p domain.Principal, chatID string) (*MarkReadPayload, error) {
	chat, err := s.Join(ctx, p, chatID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	n, err := s.chats.MarkRead(ctx, chat.ID, p.ID, now)
	if err != nil {
		return nil, err
	}
	payload := &MarkReadPayload{ChatID: chat.ID, PrincipalID: p.ID, ReadAt: now, Count: n}
	s.emitter.Emit(ChatRoom(chat.ID), EventMarkRead, payload)
	return payload, nil
}

// ApplyCompletionPolicy closes or deletes the chat of a finished request.
func (s *ChatService) ApplyCompletionPolicy(ctx context.Context, requestID string) error {
	chat, err := s.chats.GetByRequestID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now()
	payload := ChatLifecyclePayload{ChatID: chat.ID, RequestID: requestID, At: now}
	if s.deleteOnComplete {
		if err := s.chats.Delete(ctx, chat.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		s.emitter.Emit(ChatRoom(chat.ID), EventChatDeleted, payload)
		return nil
	}

	if err := s.chats.Close(ctx, chat.ID, now); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil
		}
		return err
	}
	s.emitter.Emit(ChatRoom(chat.ID), EventChatClosed, payload)
	return nil
}
