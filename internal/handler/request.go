package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roadside/internal/domain"
	"roadside/internal/service"
)

// RequestHandler handles HTTP requests for service requests.
type RequestHandler struct {
	dispatch  *service.DispatchService
	lifecycle *service.LifecycleService
	chat      *service.ChatService
	payments  *service.PaymentService
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(
	dispatch *service.DispatchService,
	lifecycle *service.LifecycleService,
	chat *service.ChatService,
	payments *service.PaymentService,
) *RequestHandler {
	return &RequestHandler{dispatch: dispatch, lifecycle: lifecycle, chat: chat, payments: payments}
}

// reasonBody is the optional body of reject.
type reasonBody struct {
	Reason string `json:"reason"`
}

// noteBody is the body of POST /requests/:id/notes.
type noteBody struct {
	Content string `json:"content"`
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "invalid request body")
		return false
	}
	return true
}

// Create handles POST /requests
func (h *RequestHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	req, err := h.dispatch.CreateRequest(c.Request.Context(), p, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Request created", req)
}

// List handles GET /requests?status=a,b&limit=n
func (h *RequestHandler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	reqs, err := h.lifecycle.List(c.Request.Context(), p, service.ListRequestsInput{
		Status: c.Query("status"),
		Limit:  limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Requests retrieved", reqs)
}

// Nearby handles GET /requests/nearby?radius=km
func (h *RequestHandler) Nearby(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	radius := 0.0
	if raw := c.Query("radius"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "radius must be a number")
			return
		}
		radius = v
	}

	reqs, err := h.dispatch.NearbyRequests(c.Request.Context(), p, radius)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Nearby requests retrieved", reqs)
}

// Get handles GET /requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	req, err := h.lifecycle.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Request retrieved", req)
}

// Chat handles GET /requests/:id/chat
func (h *RequestHandler) Chat(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	chat, err := h.chat.ForRequest(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Chat retrieved", chat)
}

// Payments handles GET /requests/:id/payments
func (h *RequestHandler) Payments(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	payments, err := h.payments.ListForRequest(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Payments retrieved", payments)
}

// Accept handles PUT /requests/:id/accept
func (h *RequestHandler) Accept(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.AcceptInput
	if !bindOptional(c, &in) {
		return
	}
	req, err := h.lifecycle.Accept(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Request accepted", req)
}

// Reject handles PUT /requests/:id/reject
func (h *RequestHandler) Reject(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var body reasonBody
	if !bindOptional(c, &body) {
		return
	}
	req, err := h.lifecycle.Reject(c.Request.Context(), p, c.Param("id"), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Request rejected", req)
}

// StartJourney handles PUT /requests/:id/start-journey
func (h *RequestHandler) StartJourney(c *gin.Context) {
	h.transitionTo(c, domain.StatusOnWay, "Journey started")
}

// Arrived handles PUT /requests/:id/arrived
func (h *RequestHandler) Arrived(c *gin.Context) {
	h.transitionTo(c, domain.StatusArrived, "Mechanic arrived")
}

// StartWork handles PUT /requests/:id/start-work
func (h *RequestHandler) StartWork(c *gin.Context) {
	h.transitionTo(c, domain.StatusWorking, "Work started")
}

// Complete handles PUT /requests/:id/complete
func (h *RequestHandler) Complete(c *gin.Context) {
	h.transitionTo(c, domain.StatusCompleted, "Request completed")
}

func (h *RequestHandler) transitionTo(c *gin.Context, to domain.RequestStatus, message string) {
	p, ok := principal(c)
	if !ok {
		return
	}
	req, err := h.lifecycle.Transition(c.Request.Context(), p, c.Param("id"), service.TransitionInput{Status: string(to)})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, message, req)
}

// UpdateStatus handles PUT /requests/:id/status
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.TransitionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req, err := h.lifecycle.Transition(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Request status updated", req)
}

// Rate handles PUT /requests/:id/rate
func (h *RequestHandler) Rate(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.RateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req, err := h.lifecycle.Rate(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Rating submitted", req)
}

// AddNote handles POST /requests/:id/notes
func (h *RequestHandler) AddNote(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var body noteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	note, err := h.lifecycle.AddNote(c.Request.Context(), p, c.Param("id"), body.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Note added", note)
}
