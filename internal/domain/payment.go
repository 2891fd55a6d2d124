package domain

import "time"

// PaymentMethod is how the motorist paid.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodBkash  PaymentMethod = "bkash"
	PaymentMethodNagad  PaymentMethod = "nagad"
	PaymentMethodRocket PaymentMethod = "rocket"
	PaymentMethodCard   PaymentMethod = "card"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBkash, PaymentMethodNagad, PaymentMethodRocket, PaymentMethodCard:
		return true
	}
	return false
}

// PaymentStatus represents the current status of a payment.
type PaymentStatus string

const (
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// DefaultCommissionRate is the platform share when none is supplied.
const DefaultCommissionRate = 0.10

// Payment is a recorded payment for a request.
type Payment struct {
	ID               string        `json:"id"`
	PaymentID        string        `json:"paymentId"`
	RequestID        string        `json:"requestId"`
	UserID           string        `json:"userId"`
	MechanicID       *string       `json:"mechanicId,omitempty"`
	Amount           float64       `json:"amount"`
	Method           PaymentMethod `json:"method"`
	TransactionID    string        `json:"transactionId"`
	CommissionRate   float64       `json:"commissionRate"`
	CommissionAmount float64       `json:"commissionAmount"`
	NetToMechanic    float64       `json:"netToMechanic"`
	Status           PaymentStatus `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// Invoice is the document view of a completed payment.
type Invoice struct {
	InvoiceNumber    string            `json:"invoiceNumber"`
	PaymentID        string            `json:"paymentId"`
	RequestID        string            `json:"requestId"`
	UserID           string            `json:"userId"`
	MechanicID       string            `json:"mechanicId,omitempty"`
	MechanicName     string            `json:"mechanicName,omitempty"`
	VehicleType      VehicleType       `json:"vehicleType"`
	ProblemType      string            `json:"problemType"`
	PickupAddress    string            `json:"pickupAddress"`
	Services         []SelectedService `json:"services"`
	EstimatedCost    float64           `json:"estimatedCost"`
	Amount           float64           `json:"amount"`
	CommissionAmount float64           `json:"commissionAmount"`
	NetToMechanic    float64           `json:"netToMechanic"`
	Method           PaymentMethod     `json:"method"`
	TransactionID    string            `json:"transactionId"`
	Duration         time.Duration     `json:"durationNs"`
	RequestedAt      time.Time         `json:"requestedAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	IssuedAt         time.Time         `json:"issuedAt"`
}
