package domain

import (
	"slices"
	"time"
)

// Participant is a member of a chat.
type Participant struct {
	PrincipalID string     `json:"principalId"`
	Role        Role       `json:"role"`
	LastReadAt  *time.Time `json:"lastReadAt,omitempty"`
}

// AttachmentType classifies an attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentFile     AttachmentType = "file"
	AttachmentLocation AttachmentType = "location"
)

// Valid reports whether t is a known attachment type.
func (t AttachmentType) Valid() bool {
	switch t {
	case AttachmentImage, AttachmentFile, AttachmentLocation:
		return true
	}
	return false
}

// Attachment on a chat message.
type Attachment struct {
	URL      string         `json:"url"`
	Type     AttachmentType `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Message is one entry in a chat. Seq breaks createdAt ties by insertion order.
type Message struct {
	ID          string        `json:"id"`
	Seq         int64         `json:"seq"`
	SenderID    string        `json:"senderId"`
	Text        string        `json:"text,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Chat is the conversation attached to one request.
type Chat struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"requestId"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	IsClosed     bool          `json:"isClosed"`
	ClosedAt     *time.Time    `json:"closedAt,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

const (
	MaxMessageLength      = 2000
	MaxAttachments        = 5
	MaxAttachmentMetadata = 5
)

// HasParticipant reports whether principalID takes part in the chat.
func (c *Chat) HasParticipant(principalID string) bool {
	return slices.ContainsFunc(c.Participants, func(p Participant) bool {
		return p.PrincipalID == principalID
	})
}

// Clone returns a deep copy.
func (c *Chat) Clone() *Chat {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Messages = slices.Clone(c.Messages)
	if c.ClosedAt != nil {
		v := *c.ClosedAt
		cp.ClosedAt = &v
	}
	return &cp
}
