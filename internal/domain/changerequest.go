package domain

import (
	"encoding/json"
	"time"
)

// ChangeRequestStatus is the moderation state of a profile edit.
type ChangeRequestStatus string

const (
	ChangeRequestPending  ChangeRequestStatus = "pending"
	ChangeRequestApproved ChangeRequestStatus = "approved"
	ChangeRequestRejected ChangeRequestStatus = "rejected"
)

// FieldChange is a single field diff.
type FieldChange struct {
	From json.RawMessage `json:"from"`
	To   json.RawMessage `json:"to"`
}

// ChangeRequest holds a mechanic profile edit awaiting review.
type ChangeRequest struct {
	ID            string                 `json:"id"`
	MechanicID    string                 `json:"mechanicId"`
	RequestedBy   string                 `json:"requestedBy"`
	Status        ChangeRequestStatus    `json:"status"`
	FieldsChanged map[string]FieldChange `json:"fieldsChanged"`
	ReviewerID    string                 `json:"reviewerId,omitempty"`
	ReviewerNotes string                 `json:"reviewerNotes,omitempty"`
	DecidedAt     *time.Time             `json:"decidedAt,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// Change log sources.
const (
	ChangeSourceSelf     = "self"
	ChangeSourceApproval = "approval"
)

// ChangeLog records an applied profile change.
type ChangeLog struct {
	ID         string                 `json:"id"`
	MechanicID string                 `json:"mechanicId"`
	ChangedBy  string                 `json:"changedBy"`
	Source     string                 `json:"source"`
	Fields     map[string]FieldChange `json:"fields"`
	CreatedAt  time.Time              `json:"createdAt"`
}
