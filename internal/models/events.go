package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced                 = "ORDER_PLACED"
	EventTypeOrderStatusChanged          = "ORDER_STATUS_CHANGED"
	EventTypeStockReconciliationRequired = "STOCK_RECONCILIATION_REQUIRED"
	EventTypePaymentVerified             = "PAYMENT_VERIFIED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderPlacedEvent published once an order has been recorded
type OrderPlacedEvent struct {
	BaseEvent
	OrderNumber   string          `json:"order_number"`
	UserID        string          `json:"user_id"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Entry         string          `json:"entry"`
	Items         []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on administrative status changes
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderNumber string      `json:"order_number"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
}

// StockReconciliationRequiredEvent published when a compensation could not be applied
type StockReconciliationRequiredEvent struct {
	BaseEvent
	CheckoutID string          `json:"checkout_id"`
	Reason     string          `json:"reason"`
	Movements  []StockMovement `json:"movements"`
}

// PaymentVerifiedEvent is consumed from the payment gateway topic
type PaymentVerifiedEvent struct {
	BaseEvent
	UserID         string           `json:"user_id"`
	GatewayOrderID string           `json:"gateway_order_id"`
	PaymentID      string           `json:"payment_id"`
	Signature      string           `json:"signature"`
	Items          []LineItem       `json:"items"`
	Total          *decimal.Decimal `json:"total,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductRef string          `json:"product_ref"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}
