package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/redis"
	"roadside/internal/repository"
)

const (
	mechanicLockTTL   = 10 * time.Second
	lockAttempts      = 5
	lockRetryDelay    = 100 * time.Millisecond
	ratingCASAttempts = 5
	maxNoteLength     = 1000
	maxCommentLength  = 500
)

// actor is the relation between a principal and a request.
type actor int

const (
	actorOther actor = iota
	actorRequester
	actorMechanic
	actorAdmin
)

// LifecycleService drives requests through their state machine.
type LifecycleService struct {
	logger    *zap.Logger
	requests  repository.RequestRepository
	mechanics repository.MechanicRepository
	geo       *GeoService
	chat      *ChatService
	lockStore redis.LockStoreInterface
	emitter   Emitter
}

// NewLifecycleService creates a new LifecycleService. lockStore may be nil,
// in which case the guarded accept write alone enforces capacity.
func NewLifecycleService(
	logger *zap.Logger,
	requests repository.RequestRepository,
	mechanics repository.MechanicRepository,
	geo *GeoService,
	chat *ChatService,
	lockStore redis.LockStoreInterface,
	emitter Emitter,
) *LifecycleService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &LifecycleService{
		logger:    logger.With(zap.String("component", "lifecycle")),
		requests:  requests,
		mechanics: mechanics,
		geo:       geo,
		chat:      chat,
		lockStore: lockStore,
		emitter:   emitter,
	}
}

// resolveActor classifies p against req. A mechanic counts as actorMechanic
// only when the request is bound to their profile.
func (s *LifecycleService) resolveActor(ctx context.Context, p domain.Principal, req *domain.Request) (actor, *domain.Mechanic, error) {
	switch {
	case p.IsAdmin():
		return actorAdmin, nil, nil
	case p.ID == req.UserID:
		return actorRequester, nil, nil
	case p.Role != domain.RoleMechanic:
		return actorOther, nil, nil
	}
	m, err := s.mechanics.GetByPrincipalID(ctx, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return actorOther, nil, nil
	}
	if err != nil {
		return actorOther, nil, err
	}
	if req.AssignedTo(m.ID) {
		return actorMechanic, m, nil
	}
	return actorOther, m, nil
}

// Get returns a request the principal may see: the requester, the assigned
// mechanic, an admin, or any mechanic while an open broadcast is pending.
func (s *LifecycleService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	a, m, err := s.resolveActor(ctx, p, req)
	if err != nil {
		return nil, err
	}
	if a == actorOther {
		if m == nil || req.Status != domain.StatusPending || req.HasMechanic() {
			return nil, ErrRequestAccessDenied
		}
	}
	return req, nil
}

// AuthorizeRoom checks that p may join the request's room.
func (s *LifecycleService) AuthorizeRoom(ctx context.Context, p domain.Principal, id string) error {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return notFound(err, ErrRequestNotFound)
	}
	a, _, err := s.resolveActor(ctx, p, req)
	if err != nil {
		return err
	}
	if a == actorOther {
		return ErrRequestAccessDenied
	}
	return nil
}

// ListRequestsInput filters a request listing.
type ListRequestsInput struct {
	Status string
	Limit  int
}

// List returns the requests visible to p: their own as requester, their jobs
// as a mechanic, everything for admins.
func (s *LifecycleService) List(ctx context.Context, p domain.Principal, in ListRequestsInput) ([]*domain.Request, error) {
	filter := repository.RequestFilter{Limit: in.Limit}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if in.Status != "" {
		for _, raw := range strings.Split(in.Status, ",") {
			st, ok := domain.ParseRequestStatus(strings.TrimSpace(raw))
			if !ok {
				return nil, Validation("Unknown status %q", raw)
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	switch p.Role {
	case domain.RoleAdmin:
	case domain.RoleMechanic:
		m, err := s.mechanics.GetByPrincipalID(ctx, p.ID)
		if err != nil {
			return nil, notFound(err, ErrMechanicProfileRequired)
		}
		filter.MechanicID = m.ID
	default:
		filter.UserID = p.ID
	}
	return s.requests.List(ctx, filter)
}

// AcceptInput carries the optional estimates sent with an accept.
type AcceptInput struct {
	EstimatedArrival *int     `json:"estimatedArrivalTime"`
	EstimatedCost    *float64 `json:"estimatedCost"`
}

// Accept binds the calling mechanic to a pending request. The status and
// capacity checks are part of one guarded write; the per-mechanic lock
// serializes concurrent accepts by the same mechanic.
func (s *LifecycleService) Accept(ctx context.Context, p domain.Principal, id string, in AcceptInput) (*domain.Request, error) {
	if p.Role != domain.RoleMechanic {
		return nil, Forbidden("Only mechanics can accept requests")
	}
	if in.EstimatedArrival != nil && *in.EstimatedArrival < 0 {
		return nil, Validation("estimatedArrivalTime must not be negative")
	}
	if in.EstimatedCost != nil && !validAmount(*in.EstimatedCost, true) {
		return nil, Validation("estimatedCost must be a non-negative number")
	}

	m, err := s.mechanics.GetByPrincipalID(ctx, p.ID)
	if err != nil {
		return nil, notFound(err, ErrMechanicProfileRequired)
	}
	if m.Verification == domain.VerificationRejected {
		return nil, ErrMechanicNotVerified
	}
	if !m.IsAvailable {
		return nil, ErrMechanicUnavailable
	}

	release, err := s.lockMechanic(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release mechanic lock", zap.String("mechanicId", m.ID), zap.Error(err))
		}
	}()

	req, err := s.requests.Accept(ctx, repository.AcceptParams{
		RequestID:         id,
		MechanicID:        m.ID,
		MaxConcurrentJobs: m.MaxConcurrentJobs,
		At:                time.Now(),
		EstimatedArrival:  in.EstimatedArrival,
		EstimatedCost:     in.EstimatedCost,
	})
	switch {
	case errors.Is(err, repository.ErrStatusChanged):
		return nil, ErrRequestNotAvailable
	case errors.Is(err, repository.ErrCapacityReached):
		return nil, ErrCapacityExceeded
	case err != nil:
		return nil, notFound(err, ErrRequestNotFound)
	}

	s.logger.Info("request accepted", zap.String("requestId", req.ID), zap.String("mechanicId", m.ID))
	s.geo.UnindexRequest(ctx, req.ID)

	s.emitLifecycle(EventRequestAccepted, req)
	s.emitStatusChanged(req, p.ID, "Request accepted by mechanic")

	// The accept stands even if the chat cannot be created now; it is
	// created lazily on first access.
	chat, err := s.chat.Ensure(ctx, req, m.PrincipalID)
	if err != nil {
		s.logger.Warn("create chat on accept", zap.String("requestId", req.ID), zap.Error(err))
		return req, nil
	}
	ready := ChatReadyPayload{ChatID: chat.ID, RequestID: req.ID}
	s.emitter.Emit(UserRoom(req.UserID), EventChatReady, ready)
	s.emitter.Emit(UserRoom(m.PrincipalID), EventChatReady, ready)
	return req, nil
}

// lockMechanic takes the per-mechanic accept lock, retrying briefly while it
// is held. Lock store failures degrade to the guarded write alone.
func (s *LifecycleService) lockMechanic(ctx context.Context, mechanicID string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if s.lockStore == nil {
		return noop, nil
	}
	for attempt := 0; attempt < lockAttempts; attempt++ {
		release, err := s.lockStore.AcquireMechanicLock(ctx, mechanicID, mechanicLockTTL)
		if err != nil {
			s.logger.Warn("acquire mechanic lock", zap.String("mechanicId", mechanicID), zap.Error(err))
			return noop, nil
		}
		if release != nil {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return nil, ErrMechanicBusy
}

// TransitionInput is a generic status change.
type TransitionInput struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Transition moves a request to the given status on behalf of p. A lost race
// is re-evaluated once against the fresh state.
func (s *LifecycleService) Transition(ctx context.Context, p domain.Principal, id string, in TransitionInput) (*domain.Request, error) {
	to, ok := domain.ParseRequestStatus(in.Status)
	if !ok {
		return nil, Validation("Unknown status %q", in.Status)
	}
	if to == domain.StatusPending {
		return nil, Validation("A request cannot be moved back to pending")
	}
	if to == domain.StatusAccepted {
		return s.Accept(ctx, p, id, AcceptInput{})
	}
	if utf8.RuneCountInString(in.Reason) > maxCommentLength {
		return nil, Validation("reason exceeds %d characters", maxCommentLength)
	}

	for attempt := 0; ; attempt++ {
		req, err := s.requests.GetByID(ctx, id)
		if err != nil {
			return nil, notFound(err, ErrRequestNotFound)
		}
		a, _, err := s.resolveActor(ctx, p, req)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(a, req.Status, to); err != nil {
			return nil, err
		}

		next := req.Clone()
		applyTransition(next, to, time.Now(), in.Reason)

		err = s.requests.UpdateIfStatus(ctx, next, req.Status)
		if errors.Is(err, repository.ErrStatusChanged) && attempt == 0 {
			continue
		}
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, ErrRequestStateChanged
		}
		if err != nil {
			return nil, notFound(err, ErrRequestNotFound)
		}

		s.logger.Info("request transitioned",
			zap.String("requestId", id),
			zap.String("from", string(req.Status)),
			zap.String("to", string(to)),
			zap.String("by", p.ID),
		)
		s.afterTransition(ctx, next, req.Status, p.ID)
		return next, nil
	}
}

// Reject declines a direct offer. Only the targeted mechanic may reject.
func (s *LifecycleService) Reject(ctx context.Context, p domain.Principal, id, reason string) (*domain.Request, error) {
	return s.Transition(ctx, p, id, TransitionInput{Status: string(domain.StatusRejected), Reason: reason})
}

// StartJourney moves an accepted request to on_way.
func (s *LifecycleService) StartJourney(ctx context.Context, p domain.Principal, id string) (*domain.Request, error) {
	return s.Transition(ctx, p, id, TransitionInput{Status: string(domain.StatusOnWay)})
}

// Arrive moves an on_way request to arrived.
func (s *LifecycleService) Arrive(ctx context.Context, p domain.Principal, id string) (*domain.Request, error) {
	return s.Transition(ctx, p, id, TransitionInput{Status: string(domain.StatusArrived)})
}

// StartWork moves an arrived request to working.
func (s *LifecycleService) StartWork(ctx context.Context, p domain.Principal, id string) (*domain.Request, error) {
	return s.Transition(ctx, p, id, TransitionInput{Status: string(domain.StatusWorking)})
}

// Complete finishes the job.
func (s *LifecycleService) Complete(ctx context.Context, p domain.Principal, id string) (*domain.Request, error) {
	return s.Transition(ctx, p, id, TransitionInput{Status: string(domain.StatusCompleted)})
}

// Cancel cancels the request. Requesters are locked out once the mechanic
// is on the way.
func (s *LifecycleService) Cancel(ctx context.Context, p domain.Principal, id, reason string) (*domain.Request, error) {
	return s.Transition(ctx, p, id, TransitionInput{Status: string(domain.StatusCancelled), Reason: reason})
}

// checkTransition validates the edge from -> to for actor a.
func checkTransition(a actor, from, to domain.RequestStatus) error {
	if from.Terminal() {
		return Conflict("Request is already %s", from)
	}
	if from == to {
		return Conflict("Request is already %s", from)
	}

	switch to {
	case domain.StatusRejected:
		if a != actorMechanic {
			return ErrNotAssignedMechanic
		}
		if from != domain.StatusPending {
			return ErrRequestNotAvailable
		}
	case domain.StatusOnWay, domain.StatusArrived, domain.StatusWorking:
		if a != actorMechanic && a != actorAdmin {
			return ErrNotAssignedMechanic
		}
		prev := map[domain.RequestStatus]domain.RequestStatus{
			domain.StatusOnWay:   domain.StatusAccepted,
			domain.StatusArrived: domain.StatusOnWay,
			domain.StatusWorking: domain.StatusArrived,
		}[to]
		if from != prev {
			return Conflict("Cannot move request from %s to %s", from, to)
		}
	case domain.StatusCompleted:
		if a != actorMechanic && a != actorAdmin {
			return ErrNotAssignedMechanic
		}
		if !from.Active() {
			return Conflict("Cannot complete a %s request", from)
		}
	case domain.StatusCancelled:
		switch a {
		case actorAdmin:
		case actorRequester:
			if from != domain.StatusPending && from != domain.StatusAccepted {
				return ErrCancellationLocked
			}
		default:
			return Forbidden("Only the requester or an admin can cancel a request")
		}
	case domain.StatusFailed:
		if a != actorAdmin {
			return ErrAdminOnly
		}
	default:
		return Validation("Unsupported transition to %s", to)
	}
	return nil
}

// applyTransition mutates req into state to. Timestamps never move before an
// earlier stage.
func applyTransition(req *domain.Request, to domain.RequestStatus, now time.Time, reason string) {
	at := clampTimeline(req.Timeline, now)
	switch to {
	case domain.StatusOnWay:
		setOnce(&req.Timeline.OnWayAt, at)
		setOnce(&req.Timeline.StartedAt, at)
	case domain.StatusArrived:
		setOnce(&req.Timeline.ArrivedAt, at)
	case domain.StatusWorking:
		setOnce(&req.Timeline.StartedAt, at)
	case domain.StatusCompleted:
		applyCompletion(req, at)
		return
	case domain.StatusCancelled:
		setOnce(&req.Timeline.CancelledAt, at)
	}
	if reason != "" {
		req.CancellationReason = reason
	}
	req.Status = to
	req.UpdatedAt = at
}

// applyCompletion marks req completed and backfills startedAt from the
// latest earlier stage.
func applyCompletion(req *domain.Request, now time.Time) {
	at := clampTimeline(req.Timeline, now)
	setOnce(&req.Timeline.CompletedAt, at)
	if req.Timeline.StartedAt == nil {
		switch {
		case req.Timeline.ArrivedAt != nil:
			setOnce(&req.Timeline.StartedAt, *req.Timeline.ArrivedAt)
		case req.Timeline.AcceptedAt != nil:
			setOnce(&req.Timeline.StartedAt, *req.Timeline.AcceptedAt)
		default:
			setOnce(&req.Timeline.StartedAt, req.Timeline.RequestedAt)
		}
	}
	req.Status = domain.StatusCompleted
	req.UpdatedAt = at
}

func setOnce(dst **time.Time, at time.Time) {
	if *dst == nil {
		v := at
		*dst = &v
	}
}

// clampTimeline returns now, or the latest recorded stage if that is later.
func clampTimeline(t domain.Timeline, now time.Time) time.Time {
	latest := t.RequestedAt
	for _, p := range []*time.Time{t.AcceptedAt, t.OnWayAt, t.ArrivedAt, t.StartedAt, t.CompletedAt, t.CancelledAt} {
		if p != nil && p.After(latest) {
			latest = *p
		}
	}
	if now.Before(latest) {
		return latest
	}
	return now
}

// afterTransition runs the side effects of a committed transition.
func (s *LifecycleService) afterTransition(ctx context.Context, req *domain.Request, from domain.RequestStatus, by string) {
	if from == domain.StatusPending {
		s.geo.UnindexRequest(ctx, req.ID)
	}

	switch req.Status {
	case domain.StatusOnWay:
		s.emitLifecycle(EventRequestOnWay, req)
		s.emitStatusChanged(req, by, "Mechanic is on the way")
		s.emitToMechanic(ctx, req, EventAutoStartLocation, LocationSharingPayload{
			RequestID: req.ID,
			Message:   "Start sharing your location with the customer",
		})
	case domain.StatusArrived:
		s.emitLifecycle(EventRequestArrived, req)
		s.emitStatusChanged(req, by, "Mechanic has arrived")
		s.emitToMechanic(ctx, req, EventAutoStopLocation, LocationSharingPayload{
			RequestID: req.ID,
			Message:   "You have arrived, location sharing stopped",
		})
	case domain.StatusWorking:
		s.emitLifecycle(EventRequestWorking, req)
		s.emitStatusChanged(req, by, "Mechanic started working")
	case domain.StatusCompleted:
		s.afterCompletion(ctx, req, by)
	case domain.StatusCancelled, domain.StatusRejected, domain.StatusFailed:
		event := map[domain.RequestStatus]string{
			domain.StatusCancelled: EventRequestCancelled,
			domain.StatusRejected:  EventRequestRejected,
			domain.StatusFailed:    EventRequestFailed,
		}[req.Status]
		s.emitLifecycle(event, req)
		s.emitToMechanic(ctx, req, event, RequestEventPayload{RequestID: req.ID, Request: req, Status: req.Status})
		s.emitStatusChanged(req, by, "Request "+string(req.Status))
		if err := s.chat.ApplyCompletionPolicy(ctx, req.ID); err != nil {
			s.logger.Warn("apply chat policy", zap.String("requestId", req.ID), zap.Error(err))
		}
	}
}

// afterCompletion runs once per request, right after the write that moved
// it to completed.
func (s *LifecycleService) afterCompletion(ctx context.Context, req *domain.Request, by string) {
	if req.HasMechanic() {
		if err := s.mechanics.IncrementCompletedJobs(ctx, *req.MechanicID); err != nil {
			s.logger.Error("increment completed jobs", zap.String("mechanicId", *req.MechanicID), zap.Error(err))
		}
		s.geo.InvalidateMechanic(ctx, *req.MechanicID)
	}
	if err := s.chat.ApplyCompletionPolicy(ctx, req.ID); err != nil {
		s.logger.Warn("apply chat policy", zap.String("requestId", req.ID), zap.Error(err))
	}
	s.emitLifecycle(EventRequestCompleted, req)
	s.emitStatusChanged(req, by, "Request completed")
}

func (s *LifecycleService) emitLifecycle(event string, req *domain.Request) {
	payload := RequestEventPayload{RequestID: req.ID, Request: req, Status: req.Status}
	s.emitter.Emit(UserRoom(req.UserID), event, payload)
	s.emitter.Emit(RoomMechanics, event, payload)
	s.emitter.Emit(RequestRoom(req.ID), event, payload)
}

func (s *LifecycleService) emitStatusChanged(req *domain.Request, by, msg string) {
	s.emitter.Emit(RequestRoom(req.ID), EventRequestStatusChanged, StatusChangedPayload{
		RequestID: req.ID,
		Status:    req.Status,
		Message:   msg,
		UpdatedBy: by,
		Timestamp: time.Now(),
	})
}

// emitToMechanic sends to the assigned mechanic's personal room.
func (s *LifecycleService) emitToMechanic(ctx context.Context, req *domain.Request, event string, payload any) {
	if !req.HasMechanic() {
		return
	}
	m, err := s.geo.Mechanic(ctx, *req.MechanicID)
	if err != nil {
		s.logger.Warn("resolve mechanic room", zap.String("mechanicId", *req.MechanicID), zap.Error(err))
		return
	}
	s.emitter.Emit(UserRoom(m.PrincipalID), event, payload)
}

// RateInput is a review from one side of a completed request.
type RateInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Rate records the caller's review. A requester review also updates the
// mechanic's rating aggregate.
func (s *LifecycleService) Rate(ctx context.Context, p domain.Principal, id string, in RateInput) (*domain.Request, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, Validation("Rating must be between 1 and 5")
	}
	if utf8.RuneCountInString(in.Comment) > maxCommentLength {
		return nil, Validation("Comment exceeds %d characters", maxCommentLength)
	}

	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	a, _, err := s.resolveActor(ctx, p, req)
	if err != nil {
		return nil, err
	}
	var side repository.ReviewSide
	switch a {
	case actorRequester:
		side = repository.ReviewByUser
	case actorMechanic:
		side = repository.ReviewByMechanic
	default:
		return nil, Forbidden("Only the requester or the assigned mechanic can rate this request")
	}
	if req.Status != domain.StatusCompleted {
		return nil, ErrNotRateable
	}

	err = s.requests.SetReview(ctx, id, side, in.Rating, in.Comment)
	switch {
	case errors.Is(err, repository.ErrStatusChanged):
		return nil, ErrNotRateable
	case errors.Is(err, repository.ErrDuplicate):
		return nil, ErrAlreadyRated
	case err != nil:
		return nil, err
	}

	if side == repository.ReviewByUser && req.HasMechanic() {
		if err := s.updateMechanicRating(ctx, *req.MechanicID, in.Rating); err != nil {
			s.logger.Error("update mechanic rating", zap.String("mechanicId", *req.MechanicID), zap.Error(err))
			return nil, fmt.Errorf("update mechanic rating: %w", err)
		}
	}
	return s.requests.GetByID(ctx, id)
}

// updateMechanicRating folds one rating into the mechanic's average with a
// compare-and-set on totalRatings.
func (s *LifecycleService) updateMechanicRating(ctx context.Context, mechanicID string, rating int) error {
	for attempt := 0; attempt < ratingCASAttempts; attempt++ {
		m, err := s.mechanics.GetByID(ctx, mechanicID)
		if err != nil {
			return err
		}
		avg := round1((m.Rating*float64(m.TotalRatings) + float64(rating)) / float64(m.TotalRatings+1))
		err = s.mechanics.UpdateRating(ctx, mechanicID, m.TotalRatings, avg)
		if errors.Is(err, repository.ErrStatusChanged) {
			continue
		}
		if err != nil {
			return err
		}
		s.geo.InvalidateMechanic(ctx, mechanicID)
		return nil
	}
	return ErrRequestStateChanged
}

// AddNote appends a note from a party of the request.
func (s *LifecycleService) AddNote(ctx context.Context, p domain.Principal, id, content string) (*domain.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Validation("Note content is required")
	}
	if utf8.RuneCountInString(content) > maxNoteLength {
		return nil, Validation("Note exceeds %d characters", maxNoteLength)
	}

	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	a, _, err := s.resolveActor(ctx, p, req)
	if err != nil {
		return nil, err
	}
	if a == actorOther {
		return nil, ErrRequestAccessDenied
	}

	note := domain.Note{AuthorID: p.ID, Content: content, CreatedAt: time.Now()}
	if err := s.requests.AddNote(ctx, id, note); err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	return &note, nil
}
