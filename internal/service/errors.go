package service

import (
	"errors"
	"fmt"

	"storefront/internal/models"
)

// Business failures. Callers match them with errors.Is.
var (
	ErrProductUnavailable      = errors.New("product unavailable")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrPaymentRequired         = errors.New("payment required")
	ErrInvalidLineItem         = errors.New("invalid line item")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOrderNotFound           = errors.New("order not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrCheckoutInProgress      = errors.New("checkout already in progress")
	ErrReconciliationRequired  = errors.New("manual stock reconciliation required")
)

// RejectionError names the line that failed a stock check
type RejectionError struct {
	Kind        error
	ProductID   string
	ProductName string
	Line        int
}

func (e *RejectionError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%v: %s (line %d)", e.Kind, name, e.Line)
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

func reject(kind error, line int, productID, name string) *RejectionError {
	return &RejectionError{Kind: kind, ProductID: productID, ProductName: name, Line: line}
}

// ReconciliationError is returned when a failed checkout could not restore the stock it
// had already taken. Movements lists what is still outstanding.
type ReconciliationError struct {
	CheckoutID string
	Movements  []models.StockMovement
	Cause      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("checkout %s: %v: %d movement(s) outstanding: %v",
		e.CheckoutID, ErrReconciliationRequired, len(e.Movements), e.Cause)
}

func (e *ReconciliationError) Unwrap() []error {
	return []error{ErrReconciliationRequired, e.Cause}
}
