package api

import (
	"net/http"
	"strconv"

	"counseling-service/internal/apperror"
	"counseling-service/internal/service"

	"github.com/gin-gonic/gin"
)

// requestPayment handles POST /payments/request
func (h *Handler) requestPayment(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req service.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.BadRequest("invalid request body: %v", err))
		return
	}

	resp, err := h.payments.CreatePaymentRequest(c.Request.Context(), caller, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// confirmPayment handles the gateway success redirect
func (h *Handler) confirmPayment(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		writeError(c, apperror.BadRequest("invalid amount %q", c.Query("amount")))
		return
	}

	payment, err := h.payments.Confirm(c.Request.Context(), c.Query("paymentKey"), c.Query("orderId"), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// failPayment handles the gateway failure redirect
func (h *Handler) failPayment(c *gin.Context) {
	err := h.payments.Fail(c.Request.Context(), c.Query("orderId"), c.Query("code"), c.Query("message"))
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}
	writeError(c, err)
}

func (h *Handler) refundPayment(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.BadRequest("invalid request body: %v", err))
		return
	}

	payment, err := h.payments.Refund(c.Request.Context(), caller, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) listMyPayments(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	payments, err := h.payments.ListMine(c.Request.Context(), caller)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// listAllPayments handles GET /admin/payments
func (h *Handler) listAllPayments(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	payments, err := h.payments.ListAll(c.Request.Context(), caller, c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}
