package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roadside/internal/domain"
)

// Invoice builds the invoice document of a payment.
func (s *PaymentService) Invoice(ctx context.Context, p domain.Principal, paymentID string) (*domain.Invoice, error) {
	payment, err := s.Get(ctx, p, paymentID)
	if err != nil {
		return nil, err
	}
	req, err := s.authorize(ctx, p, payment)
	if err != nil {
		return nil, err
	}

	inv := &domain.Invoice{
		InvoiceNumber:    "INV-" + strings.TrimPrefix(payment.PaymentID, "PAY-"),
		PaymentID:        payment.PaymentID,
		RequestID:        req.ID,
		UserID:           req.UserID,
		VehicleType:      req.VehicleType,
		ProblemType:      req.ProblemType,
		PickupAddress:    req.Pickup.Address,
		Services:         req.SelectedServices,
		EstimatedCost:    req.EstimatedCost,
		Amount:           payment.Amount,
		CommissionAmount: payment.CommissionAmount,
		NetToMechanic:    payment.NetToMechanic,
		Method:           payment.Method,
		TransactionID:    payment.TransactionID,
		RequestedAt:      req.Timeline.RequestedAt,
		CompletedAt:      req.Timeline.CompletedAt,
		IssuedAt:         time.Now(),
	}
	if req.Timeline.StartedAt != nil && req.Timeline.CompletedAt != nil {
		inv.Duration = req.Timeline.CompletedAt.Sub(*req.Timeline.StartedAt)
	}
	if req.HasMechanic() {
		inv.MechanicID = *req.MechanicID
		if m, err := s.lifecycle.geo.Mechanic(ctx, *req.MechanicID); err == nil {
			inv.MechanicName = m.Name
		}
	}
	return inv, nil
}

// FormatInvoice renders the invoice as plain text for print or download.
func FormatInvoice(inv *domain.Invoice) string {
	var b strings.Builder
	b.WriteString("=====================================\n")
	b.WriteString("        ROADSIDE ASSISTANCE\n")
	b.WriteString("=====================================\n\n")
	fmt.Fprintf(&b, "Invoice:     %s\n", inv.InvoiceNumber)
	fmt.Fprintf(&b, "Payment:     %s\n", inv.PaymentID)
	fmt.Fprintf(&b, "Request:     %s\n", inv.RequestID)
	fmt.Fprintf(&b, "Issued:      %s\n\n", inv.IssuedAt.Format(time.RFC1123))

	b.WriteString("JOB DETAILS\n")
	b.WriteString("-------------------------------------\n")
	fmt.Fprintf(&b, "Vehicle:     %s\n", inv.VehicleType)
	fmt.Fprintf(&b, "Problem:     %s\n", inv.ProblemType)
	fmt.Fprintf(&b, "Location:    %s\n", inv.PickupAddress)
	if inv.MechanicName != "" {
		fmt.Fprintf(&b, "Mechanic:    %s\n", inv.MechanicName)
	}
	fmt.Fprintf(&b, "Duration:    %s\n\n", formatDuration(inv.Duration))

	if len(inv.Services) > 0 {
		b.WriteString("SERVICES\n")
		b.WriteString("-------------------------------------\n")
		for _, svc := range inv.Services {
			fmt.Fprintf(&b, "%-24s %s\n", svc.Label, formatAmount(svc.UnitPrice))
		}
		b.WriteString("\n")
	}

	b.WriteString("PAYMENT\n")
	b.WriteString("-------------------------------------\n")
	fmt.Fprintf(&b, "Estimate:         %s\n", formatAmount(inv.EstimatedCost))
	fmt.Fprintf(&b, "TOTAL:            %s\n", formatAmount(inv.Amount))
	fmt.Fprintf(&b, "Platform fee:     %s\n", formatAmount(inv.CommissionAmount))
	fmt.Fprintf(&b, "To mechanic:      %s\n", formatAmount(inv.NetToMechanic))
	fmt.Fprintf(&b, "Method:           %s\n", inv.Method)
	fmt.Fprintf(&b, "Transaction:      %s\n\n", inv.TransactionID)
	b.WriteString("=====================================\n")
	b.WriteString("   Thank you for choosing us!\n")
	b.WriteString("=====================================\n")
	return b.String()
}

func formatAmount(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%d min", int(d.Minutes()))
}
