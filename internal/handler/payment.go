package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roadside/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// RecordPayment handles POST /payment
func (h *PaymentHandler) RecordPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req service.RecordPaymentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	payment, err := h.paymentService.Record(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Payment recorded", payment)
}

// GetPayment handles GET /payment/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	payment, err := h.paymentService.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Payment retrieved", payment)
}

// Invoice handles GET /payment/:id/invoice. Clients asking for text/plain
// get the printable rendering as an attachment.
func (h *PaymentHandler) Invoice(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	inv, err := h.paymentService.Invoice(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEPlain) == gin.MIMEPlain {
		c.Header("Content-Disposition", `attachment; filename="invoice-`+inv.InvoiceNumber+`.txt"`)
		c.String(http.StatusOK, service.FormatInvoice(inv))
		return
	}
	respondJSON(c, http.StatusOK, "Invoice generated", inv)
}

// VerifyPayment handles GET /payment/verify/:transactionId
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	payment, err := h.paymentService.Verify(c.Request.Context(), p, c.Param("transactionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Payment verified", payment)
}
