package api

import (
	"errors"
	"net/http"

	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrProductUnavailable, http.StatusConflict, "product_unavailable"},
	{service.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{service.ErrPaymentRequired, http.StatusPaymentRequired, "payment_required"},
	{service.ErrInvalidLineItem, http.StatusBadRequest, "invalid_line_item"},
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{service.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
	{service.ErrCheckoutInProgress, http.StatusConflict, "checkout_in_progress"},
	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{service.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{service.ErrReconciliationRequired, http.StatusInternalServerError, "reconciliation_required"},
}

// statusFor maps an error to its HTTP status and error code
func statusFor(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{"error": code}

	var rejection *service.RejectionError
	if errors.As(err, &rejection) {
		body["product_id"] = rejection.ProductID
		body["product_name"] = rejection.ProductName
		body["line"] = rejection.Line
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	} else {
		body["details"] = err.Error()
	}

	c.JSON(status, body)
}
