package domain

import (
	"slices"
	"time"
)

// RequestStatus represents the lifecycle state of a request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusOnWay     RequestStatus = "on_way"
	StatusArrived   RequestStatus = "arrived"
	StatusWorking   RequestStatus = "working"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
	StatusRejected  RequestStatus = "rejected"
	StatusFailed    RequestStatus = "failed"
)

// Legacy wire names.
const (
	legacyInProgress = "in_progress"
	legacyActive     = "active"
)

// ActiveStatuses are the states that count against a mechanic's capacity.
var ActiveStatuses = []RequestStatus{StatusAccepted, StatusOnWay, StatusArrived, StatusWorking}

// ParseRequestStatus parses a wire status, translating legacy aliases.
func ParseRequestStatus(s string) (RequestStatus, bool) {
	switch s {
	case legacyInProgress:
		return StatusOnWay, true
	case legacyActive:
		return StatusAccepted, true
	}
	st := RequestStatus(s)
	switch st {
	case StatusPending, StatusAccepted, StatusOnWay, StatusArrived, StatusWorking,
		StatusCompleted, StatusCancelled, StatusRejected, StatusFailed:
		return st, true
	}
	return "", false
}

// Terminal reports whether the state is absorbing.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Active reports whether the state occupies a mechanic.
func (s RequestStatus) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

// Priority of a request.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// BillingStatus is the payment state recorded on a request.
type BillingStatus string

const (
	BillingNone       BillingStatus = "none"
	BillingPending    BillingStatus = "payment_pending"
	BillingProcessing BillingStatus = "payment_processing"
	BillingCompleted  BillingStatus = "payment_completed"
	BillingFailed     BillingStatus = "payment_failed"
	BillingRefunded   BillingStatus = "refunded"
)

// Pickup is where the motorist is stranded.
type Pickup struct {
	Lon      float64 `json:"longitude"`
	Lat      float64 `json:"latitude"`
	Address  string  `json:"address"`
	Landmark string  `json:"landmark,omitempty"`
}

// SelectedService is a priced line item chosen at request time.
type SelectedService struct {
	Key       string  `json:"key"`
	Label     string  `json:"label"`
	UnitPrice float64 `json:"unitPrice"`
	Notes     string  `json:"notes,omitempty"`
}

// Timeline records when each lifecycle stage was first reached.
type Timeline struct {
	RequestedAt time.Time  `json:"requestedAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	OnWayAt     *time.Time `json:"onWayAt,omitempty"`
	ArrivedAt   *time.Time `json:"arrivedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// Review holds at most one review from each side.
type Review struct {
	UserRating      *int   `json:"userRating,omitempty"`
	UserComment     string `json:"userComment,omitempty"`
	MechanicRating  *int   `json:"mechanicRating,omitempty"`
	MechanicComment string `json:"mechanicComment,omitempty"`
}

// Note is a free-text annotation on a request.
type Note struct {
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Request is a motorist's call for roadside help.
type Request struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"userId"`
	MechanicID         *string           `json:"mechanicId"`
	VehicleType        VehicleType       `json:"vehicleType"`
	ProblemType        string            `json:"problemType"`
	Description        string            `json:"description"`
	Pickup             Pickup            `json:"pickupLocation"`
	Status             RequestStatus     `json:"status"`
	Priority           Priority          `json:"priority"`
	IsEmergency        bool              `json:"isEmergency"`
	SelectedServices   []SelectedService `json:"selectedServices"`
	VehicleMultiplier  float64           `json:"vehicleMultiplier"`
	EstimatedCost      float64           `json:"estimatedCost"`
	EstimatedCostRange PriceRange        `json:"estimatedCostRange"`
	EstimatedArrival   *int              `json:"estimatedArrivalMinutes,omitempty"`
	ActualCost         *float64          `json:"actualCost,omitempty"`
	PaymentStatus      BillingStatus     `json:"paymentStatus"`
	PaymentMethod      string            `json:"paymentMethod,omitempty"`
	PaymentIDs         []string          `json:"paymentIds"`
	Timeline           Timeline          `json:"timeline"`
	Rating             Review            `json:"rating"`
	CancellationReason string            `json:"cancellationReason,omitempty"`
	Notes              []Note            `json:"notes"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

const MaxDescriptionLength = 500

// AssignedTo reports whether mechanicID is the request's mechanic.
func (r *Request) AssignedTo(mechanicID string) bool {
	return r.MechanicID != nil && *r.MechanicID == mechanicID
}

// HasMechanic reports whether a mechanic is bound to the request.
func (r *Request) HasMechanic() bool {
	return r.MechanicID != nil && *r.MechanicID != ""
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	if r.MechanicID != nil {
		id := *r.MechanicID
		c.MechanicID = &id
	}
	if r.EstimatedArrival != nil {
		v := *r.EstimatedArrival
		c.EstimatedArrival = &v
	}
	if r.ActualCost != nil {
		v := *r.ActualCost
		c.ActualCost = &v
	}
	if r.Rating.UserRating != nil {
		v := *r.Rating.UserRating
		c.Rating.UserRating = &v
	}
	if r.Rating.MechanicRating != nil {
		v := *r.Rating.MechanicRating
		c.Rating.MechanicRating = &v
	}
	c.SelectedServices = slices.Clone(r.SelectedServices)
	c.PaymentIDs = slices.Clone(r.PaymentIDs)
	c.Notes = slices.Clone(r.Notes)
	c.Timeline = r.Timeline.clone()
	return &c
}

func (t Timeline) clone() Timeline {
	cp := func(p *time.Time) *time.Time {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	return Timeline{
		RequestedAt: t.RequestedAt,
		AcceptedAt:  cp(t.AcceptedAt),
		OnWayAt:     cp(t.OnWayAt),
		ArrivedAt:   cp(t.ArrivedAt),
		StartedAt:   cp(t.StartedAt),
		CompletedAt: cp(t.CompletedAt),
		CancelledAt: cp(t.CancelledAt),
	}
}
