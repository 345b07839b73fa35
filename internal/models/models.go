package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// ProductStatus is the lifecycle flag of a catalog product
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// Product represents a product in the catalog.
// When Variants is non-empty the variant quantities are the advertised stock and
// Quantity is an overflow pool.
type Product struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	SKU           *string             `db:"sku" json:"sku,omitempty"`
	Name          string              `db:"name" json:"name"`
	Description   string              `db:"description" json:"description"`
	Price         decimal.Decimal     `db:"price" json:"price"`
	DiscountPrice decimal.NullDecimal `db:"discount_price" json:"discount_price"`
	Quantity      int                 `db:"quantity" json:"quantity"`
	Status        ProductStatus       `db:"status" json:"status"`
	SoftDeleted   bool                `db:"soft_deleted" json:"soft_deleted"`
	Variants      []Variant           `db:"-" json:"variants"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// HasVariants reports whether the variant pools are authoritative
func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// Sellable reports whether lifecycle flags allow the product to be sold
func (p *Product) Sellable() bool {
	return p.Status == ProductStatusActive && !p.SoftDeleted
}

// Clone returns a deep copy, variants included
func (p *Product) Clone() *Product {
	cp := *p
	cp.Variants = make([]Variant, len(p.Variants))
	copy(cp.Variants, p.Variants)
	return &cp
}

// Variant is a per-variant stock pool owned by a product
type Variant struct {
	ProductID  uuid.UUID      `db:"product_id" json:"-"`
	Position   int            `db:"position" json:"position"`
	SKU        *string        `db:"sku" json:"sku,omitempty"`
	Attributes types.JSONText `db:"attributes" json:"attributes"`
	Quantity   int            `db:"quantity" json:"quantity"`
}

// OrderStatus is the fulfilment status of an order
type OrderStatus string

// Order statuses, in forward order
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusConfirmed:  2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := orderStatusRank[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is legal.
// Statuses only move forward; cancellation is allowed from pending, processing and confirmed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderStatusCancelled {
		switch s {
		case OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed:
			return true
		}
		return false
	}
	from, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	to, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// PaymentStatus is the payment state of an order
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusPaid, PaymentStatusRefunded:
		return true
	}
	return false
}

// Settled reports whether the money has already been captured
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusPaid
}

// Payment methods
const (
	PaymentMethodCOD     = "cod"
	PaymentMethodGateway = "gateway"
)

// Order represents a recorded customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	OrderNumber    string          `db:"order_number" json:"order_number"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	UserID         string          `db:"user_id" json:"user_id"`
	Total          decimal.Decimal `db:"total" json:"total"`
	Status         OrderStatus     `db:"status" json:"status"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	PaymentStatus  PaymentStatus   `db:"payment_status" json:"payment_status"`
	TransactionID  *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	Items          []OrderItem     `db:"-" json:"items"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is the purchase-time snapshot of a line item
type OrderItem struct {
	ID         int64           `db:"id" json:"id"`
	OrderID    int64           `db:"order_id" json:"-"`
	ProductRef string          `db:"product_ref" json:"product_ref"`
	Name       string          `db:"name" json:"name"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity   int             `db:"quantity" json:"quantity"`
}

// LineItem is one requested (product, quantity, price) tuple of a checkout
type LineItem struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

// FlatPool is the pool index of a product's flat quantity
const FlatPool = -1

// MovementKind distinguishes ledger entries
type MovementKind string

const (
	MovementDecrement    MovementKind = "decrement"
	MovementCompensation MovementKind = "compensation"
)

// StockMovement is one applied change to a single stock pool within a checkout
type StockMovement struct {
	CheckoutID      string       `db:"checkout_id" json:"checkout_id"`
	LineNo          int          `db:"line_no" json:"line_no"`
	Pool            int          `db:"pool" json:"pool"`
	Kind            MovementKind `db:"kind" json:"kind"`
	ProductID       uuid.UUID    `db:"product_id" json:"product_id"`
	Amount          int          `db:"amount" json:"amount"`
	ExpectedMinimum int          `db:"-" json:"-"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

// VariantIndex returns the variant position, or nil for the flat pool
func (m StockMovement) VariantIndex() *int {
	if m.Pool == FlatPool {
		return nil
	}
	idx := m.Pool
	return &idx
}

// Reconciliation is a movement that could not be compensated and needs manual repair
type Reconciliation struct {
	ID         int64      `db:"id" json:"id"`
	CheckoutID string     `db:"checkout_id" json:"checkout_id"`
	ProductID  uuid.UUID  `db:"product_id" json:"product_id"`
	Pool       int        `db:"pool" json:"pool"`
	Amount     int        `db:"amount" json:"amount"`
	Reason     string     `db:"reason" json:"reason"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
