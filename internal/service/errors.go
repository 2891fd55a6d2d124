package service

import (
	"context"
	"errors"
	"fmt"

	"roadside/internal/repository"
)

// Kind is the stable error taxonomy exposed to clients.
type Kind string

const (
	KindValidation      Kind = "validation-failed"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not-found"
	KindConflict        Kind = "conflict"
	KindCapacity        Kind = "capacity-exceeded"
	KindRateLimited     Kind = "rate-limited"
	KindUnavailable     Kind = "service-unavailable"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

// Error is a classified, client-visible error.
type Error struct {
	Kind    Kind
	Message string

	// kindOnly sentinels match every Error of the same kind.
	kindOnly bool
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches kind sentinels by kind and named errors by identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.kindOnly {
		return e.Kind == t.Kind
	}
	return e == t
}

func kindSentinel(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg, kindOnly: true}
}

// Kind sentinels, for use with errors.Is.
var (
	ErrValidation      = kindSentinel(KindValidation, "validation failed")
	ErrUnauthenticated = kindSentinel(KindUnauthenticated, "authentication required")
	ErrForbidden       = kindSentinel(KindForbidden, "forbidden")
	ErrNotFound        = kindSentinel(KindNotFound, "not found")
	ErrConflict        = kindSentinel(KindConflict, "conflict")
	ErrCapacity        = kindSentinel(KindCapacity, "capacity exceeded")
	ErrRateLimited     = kindSentinel(KindRateLimited, "Too many requests")
	ErrUnavailable     = kindSentinel(KindUnavailable, "service unavailable")
	ErrTimeout         = kindSentinel(KindTimeout, "Request timed out")
	ErrInternal        = kindSentinel(KindInternal, "Internal server error")
)

var (
	// ErrRequestNotAvailable is returned when an accept loses the race or the
	// request already left pending.
	ErrRequestNotAvailable = &Error{Kind: KindConflict, Message: "Request is no longer available"}

	// ErrCapacityExceeded is returned when the mechanic is at maxConcurrentJobs.
	ErrCapacityExceeded = &Error{Kind: KindCapacity, Message: "Mechanic has reached the maximum number of concurrent jobs"}

	// ErrCancellationLocked is returned when a requester cancels after the
	// mechanic set off.
	ErrCancellationLocked = &Error{Kind: KindConflict, Message: "Cannot cancel request once the mechanic is on the way"}

	// ErrPaymentAlreadyCompleted is returned on a second payment for a request.
	ErrPaymentAlreadyCompleted = &Error{Kind: KindConflict, Message: "Payment already completed for this request"}

	// ErrRequestStateChanged is returned when a guarded write lost a race.
	ErrRequestStateChanged = &Error{Kind: KindConflict, Message: "Request was updated concurrently, please retry"}

	// ErrAlreadyRated is returned on a second review from the same side.
	ErrAlreadyRated = &Error{Kind: KindConflict, Message: "Request already rated"}

	// ErrNotRateable is returned when rating a request that is not completed.
	ErrNotRateable = &Error{Kind: KindConflict, Message: "Only completed requests can be rated"}

	// ErrChatClosed is returned when sending into a closed chat.
	ErrChatClosed = &Error{Kind: KindConflict, Message: "Chat is closed"}

	// ErrChangeRequestDecided is returned when deciding a change request twice.
	ErrChangeRequestDecided = &Error{Kind: KindConflict, Message: "Change request has already been decided"}

	// ErrMechanicUnavailable is returned when an unavailable mechanic accepts.
	ErrMechanicUnavailable = &Error{Kind: KindConflict, Message: "Mechanic is not available"}

	// ErrMechanicBusy is returned when another accept holds the mechanic lock.
	ErrMechanicBusy = &Error{Kind: KindConflict, Message: "Another accept is in progress for this mechanic"}

	// ErrMechanicProfileRequired is returned when a mechanic principal has no profile.
	ErrMechanicProfileRequired = &Error{Kind: KindForbidden, Message: "Mechanic profile required"}

	// ErrMechanicNotVerified is returned when a rejected mechanic tries to work.
	ErrMechanicNotVerified = &Error{Kind: KindForbidden, Message: "Mechanic verification was rejected"}

	// ErrRequestAccessDenied is returned when the principal may not see a request.
	ErrRequestAccessDenied = &Error{Kind: KindForbidden, Message: "Not authorized to access this request"}

	// ErrNotAssignedMechanic is returned when a mechanic acts on someone else's job.
	ErrNotAssignedMechanic = &Error{Kind: KindForbidden, Message: "Only the assigned mechanic can perform this action"}

	// ErrNotChatParticipant is returned when joining a chat without membership.
	ErrNotChatParticipant = &Error{Kind: KindForbidden, Message: "Not a participant of this chat"}

	// ErrAdminOnly is returned when a non-admin calls an admin operation.
	ErrAdminOnly = &Error{Kind: KindForbidden, Message: "Admin access required"}

	// ErrMaintenance is returned while maintenance mode is on.
	ErrMaintenance = &Error{Kind: KindUnavailable, Message: "Service is under maintenance"}

	// ErrMessageRateLimited is returned when a connection sends chat
	// messages too fast.
	ErrMessageRateLimited = &Error{Kind: KindRateLimited, Message: "Too many messages, slow down"}

	// ErrConnectionRateLimited is returned when a source opens connections
	// too fast.
	ErrConnectionRateLimited = &Error{Kind: KindRateLimited, Message: "Too many connection attempts"}

	// ErrRequestNotFound is returned when a request does not exist.
	ErrRequestNotFound = &Error{Kind: KindNotFound, Message: "Request not found"}

	// ErrMechanicNotFound is returned when a mechanic does not exist.
	ErrMechanicNotFound = &Error{Kind: KindNotFound, Message: "Mechanic not found"}

	// ErrPaymentNotFound is returned when a payment does not exist.
	ErrPaymentNotFound = &Error{Kind: KindNotFound, Message: "Payment not found"}

	// ErrChatNotFound is returned when a chat does not exist.
	ErrChatNotFound = &Error{Kind: KindNotFound, Message: "Chat not found"}

	// ErrChangeRequestNotFound is returned when a change request does not exist.
	ErrChangeRequestNotFound = &Error{Kind: KindNotFound, Message: "Change request not found"}
)

// Validation returns a validation-failed error with msg.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a conflict error with msg.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Forbidden returns a forbidden error with msg.
func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

// notFound maps repository.ErrNotFound to the given named error.
func notFound(err error, named *Error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return named
	}
	return err
}

// PublicMessage returns the message safe to show a client for err.
// Unclassified errors never leak their text.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	switch KindOf(err) {
	case KindNotFound:
		return ErrNotFound.Message
	case KindTimeout:
		return ErrTimeout.Message
	}
	return ErrInternal.Message
}
