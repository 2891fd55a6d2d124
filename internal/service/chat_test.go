package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"roadside/internal/domain"
	"roadside/internal/service"
)

// acceptedChat returns an accepted request with its chat.
func acceptedChat(t *testing.T, f *Fixture) (*domain.Request, *domain.Chat, domain.Principal) {
	t.Helper()
	_, mp := f.AddMechanic(t, 1, dhaka)
	req := f.CreateRequest(t, "")
	f.Advance(t, mp, req.ID, domain.StatusAccepted)
	chat, err := f.Store.Chats.GetByRequestID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	return req, chat, mp
}

// ──────────────────────────────────────────────
// 1. MEMBERSHIP
// ──────────────────────────────────────────────

func TestChatJoin_ByChatOrRequestID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req, chat, mp := acceptedChat(t, f)

	for _, ref := range []string{chat.ID, req.ID} {
		got, err := f.Chat.Join(ctx, mp, ref)
		if err != nil {
			t.Fatalf("join %s: %v", ref, err)
		}
		if got.ID != chat.ID {
			t.Errorf("expected chat %s, got %s", chat.ID, got.ID)
		}
	}
	if _, err := f.Chat.Join(ctx, bystander, chat.ID); !errors.Is(err, service.ErrNotChatParticipant) {
		t.Errorf("expected ErrNotChatParticipant, got %v", err)
	}
	if _, err := f.Chat.Join(ctx, admin, chat.ID); err != nil {
		t.Errorf("admin join: %v", err)
	}
	if _, err := f.Chat.Join(ctx, motorist, "nope"); !errors.Is(err, service.ErrChatNotFound) {
		t.Errorf("expected ErrChatNotFound, got %v", err)
	}
}

func TestChatForRequest_CreatesMissingChat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req, chat, _ := acceptedChat(t, f)

	if err := f.Store.Chats.Delete(ctx, chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := f.Chat.ForRequest(ctx, motorist, req.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == chat.ID || got.RequestID != req.ID {
		t.Errorf("expected a new chat for %s, got %+v", req.ID, got)
	}

	pending := f.CreateRequest(t, "")
	if _, err := f.Chat.ForRequest(ctx, motorist, pending.ID); !errors.Is(err, service.ErrChatNotFound) {
		t.Errorf("expected ErrChatNotFound for a pending request, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 2. MESSAGES
// ──────────────────────────────────────────────

func TestChatSend_DeliversToRoom(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, chat, mp := acceptedChat(t, f)

	first, err := f.Chat.Send(ctx, motorist, chat.ID, service.SendInput{Text: "Where are you?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.Chat.Send(ctx, mp, chat.ID, service.SendInput{
		Text:        "Two minutes away",
		Attachments: []domain.Attachment{{URL: "https://cdn.example.com/pin.png", Type: domain.AttachmentImage}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Status != domain.MessageDelivered {
		t.Errorf("expected delivered, got %s", first.Status)
	}
	if second.Seq <= first.Seq {
		t.Errorf("expected increasing seq, got %d then %d", first.Seq, second.Seq)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Error("messages must be stored in order")
	}
	if got := f.Emitter.Find(service.ChatRoom(chat.ID), service.EventMessageReceived); len(got) != 2 {
		t.Errorf("expected 2 message_received events, got %d", len(got))
	}

	stored, _ := f.Store.Chats.GetByID(ctx, chat.ID)
	if len(stored.Messages) != 2 || stored.Messages[0].Text != "Where are you?" {
		t.Errorf("unexpected stored messages %+v", stored.Messages)
	}
}

func TestChatSend_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, chat, _ := acceptedChat(t, f)

	many := make([]domain.Attachment, 6)
	for i := range many {
		many[i] = domain.Attachment{URL: "https://x", Type: domain.AttachmentFile}
	}
	cases := []struct {
		name string
		in   service.SendInput
	}{
		{"empty", service.SendInput{Text: "  "}},
		{"too long", service.SendInput{Text: strings.Repeat("a", 2001)}},
		{"too many attachments", service.SendInput{Attachments: many}},
		{"bad attachment type", service.SendInput{Attachments: []domain.Attachment{{URL: "https://x", Type: "video"}}}},
		{"attachment without url", service.SendInput{Attachments: []domain.Attachment{{Type: domain.AttachmentImage}}}},
		{"too much metadata", service.SendInput{Attachments: []domain.Attachment{{
			URL: "https://x", Type: domain.AttachmentLocation,
			Metadata: map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6},
		}}}},
	}
	for _, tc := range cases {
		if _, err := f.Chat.Send(ctx, motorist, chat.ID, tc.in); !errors.Is(err, service.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if _, err := f.Chat.Send(ctx, motorist, chat.ID, service.SendInput{Text: strings.Repeat("a", 2000)}); err != nil {
		t.Errorf("2000 characters should be accepted: %v", err)
	}
}

func TestChatSend_ClosedChat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req, chat, mp := acceptedChat(t, f)

	if _, err := f.Lifecycle.Complete(ctx, mp, req.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.Chat.Send(ctx, motorist, chat.ID, service.SendInput{Text: "thanks"}); !errors.Is(err, service.ErrChatClosed) {
		t.Fatalf("expected ErrChatClosed, got %v", err)
	}
}

func TestChatMarkRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, chat, mp := acceptedChat(t, f)

	for _, text := range []string{"hello", "are you close?"} {
		if _, err := f.Chat.Send(ctx, motorist, chat.ID, service.SendInput{Text: text}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	receipt, err := f.Chat.MarkRead(ctx, mp, chat.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Count != 2 {
		t.Errorf("expected 2 messages marked read, got %d", receipt.Count)
	}
	if len(f.Emitter.Find(service.ChatRoom(chat.ID), service.EventMarkRead)) != 1 {
		t.Error("expected mark_read to the chat room")
	}

	stored, _ := f.Store.Chats.GetByID(ctx, chat.ID)
	for _, m := range stored.Messages {
		if m.Status != domain.MessageRead {
			t.Errorf("expected message %s read, got %s", m.ID, m.Status)
		}
	}
}

func TestChatCompletionPolicy_TerminalCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req, chat, _ := acceptedChat(t, f)

	if _, err := f.Lifecycle.Cancel(ctx, motorist, req.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored, _ := f.Store.Chats.GetByID(ctx, chat.ID)
	if !stored.IsClosed {
		t.Error("expected chat to close when the request is cancelled")
	}
	if err := f.Chat.ApplyCompletionPolicy(ctx, req.ID); err != nil {
		t.Errorf("applying the policy twice should be a no-op, got %v", err)
	}
	if f.Emitter.Count(service.EventChatClosed) != 1 {
		t.Errorf("expected a single chat_closed, got %d", f.Emitter.Count(service.EventChatClosed))
	}
}
