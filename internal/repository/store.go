package repository

import "context"

// Store groups the repositories of one backing store.
type Store struct {
	Users          UserRepository
	Mechanics      MechanicRepository
	Requests       RequestRepository
	Payments       PaymentRepository
	Chats          ChatRepository
	ChangeRequests ChangeRequestRepository
	Pricing        PricingRepository
	Settings       SettingsRepository

	// Ping reports whether the backing store is reachable.
	Ping func(ctx context.Context) error
}
