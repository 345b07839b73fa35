package service

import (
	"context"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
)

// Catalog is the part of the catalog store the stock ledger reads and mutates.
// Implemented by *store.Store.
type Catalog interface {
	ReadProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ConditionalDecrement(ctx context.Context, mv models.StockMovement) (bool, error)
	CompensateIncrement(ctx context.Context, mv models.StockMovement) error
	RecordReconciliation(ctx context.Context, checkoutID string, movements []models.StockMovement, reason string) error
	ResolveReconciliations(ctx context.Context, checkoutID string) error
}

// CatalogAdmin covers the administrative writes on the catalog
type CatalogAdmin interface {
	Restock(ctx context.Context, id uuid.UUID, variantIndex *int, amount int) error
	SetProductStatus(ctx context.Context, id uuid.UUID, status models.ProductStatus) error
	SoftDeleteProduct(ctx context.Context, id uuid.UUID) error
	OpenReconciliations(ctx context.Context, limit int) ([]models.Reconciliation, error)
}

// OrderStore persists recorded orders
type OrderStore interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderByTransactionID(ctx context.Context, txID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, number string, from, to models.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, number string, status models.PaymentStatus) error
}

// AvailabilityCache caches sellable quantities. Implemented by *redisclient.Client.
// Every invalidation bumps a per-product generation; SetAvailability stores nothing
// unless the generation still matches the one GetAvailability returned.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, productID uuid.UUID) (qty int, generation int64, hit bool, err error)
	SetAvailability(ctx context.Context, productID uuid.UUID, qty int, generation int64, ttl time.Duration) (bool, error)
	InvalidateAvailability(ctx context.Context, productIDs ...uuid.UUID) error
}

// Locker serializes duplicate submissions of the same checkout. Implemented by *redisclient.Client.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher publishes ledger events. Implemented by *broker.EventPublisher.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishStockReconciliationRequired(ctx context.Context, event *models.StockReconciliationRequiredEvent) error
}
