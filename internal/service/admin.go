package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminService holds the back-office writes: restock, product lifecycle and order status
type AdminService struct {
	catalog   CatalogAdmin
	orders    OrderStore
	cache     AvailabilityCache
	publisher EventPublisher
	logger    *zap.Logger
}

// NewAdminService creates a new admin service. cache and publisher may be nil.
func NewAdminService(catalog CatalogAdmin, orders OrderStore, cache AvailabilityCache, publisher EventPublisher) *AdminService {
	return &AdminService{
		catalog:   catalog,
		orders:    orders,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Restock adds stock to the flat pool, or to one variant when variantIndex is set
func (s *AdminService) Restock(ctx context.Context, productID uuid.UUID, variantIndex *int, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: restock amount must be positive", ErrInvalidRequest)
	}
	if err := s.productErr(s.catalog.Restock(ctx, productID, variantIndex, amount)); err != nil {
		return err
	}

	s.invalidate(ctx, productID)
	s.logger.Info("Product restocked",
		zap.String("product_id", productID.String()),
		zap.Any("variant", variantIndex),
		zap.Int("amount", amount))
	return nil
}

// SetProductStatus activates or deactivates a product
func (s *AdminService) SetProductStatus(ctx context.Context, productID uuid.UUID, status models.ProductStatus) error {
	if status != models.ProductStatusActive && status != models.ProductStatusInactive {
		return fmt.Errorf("%w: unknown product status %q", ErrInvalidRequest, status)
	}
	if err := s.productErr(s.catalog.SetProductStatus(ctx, productID, status)); err != nil {
		return err
	}
	s.invalidate(ctx, productID)
	return nil
}

// SoftDeleteProduct hides a product from sale permanently
func (s *AdminService) SoftDeleteProduct(ctx context.Context, productID uuid.UUID) error {
	if err := s.productErr(s.catalog.SoftDeleteProduct(ctx, productID)); err != nil {
		return err
	}
	s.invalidate(ctx, productID)
	return nil
}

// UpdateOrderStatus moves an order forward, or cancels it.
// Cancelling does not give the stock back; restocking is a separate decision.
func (s *AdminService) UpdateOrderStatus(ctx context.Context, number string, to models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.UpdateOrderStatus")
	defer span.End()

	order, err := s.orders.GetOrderByNumber(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order: %w", err)
	}

	from := order.Status
	if !to.Valid() || !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}

	err = s.orders.UpdateOrderStatus(ctx, number, from, to)
	if errors.Is(err, store.ErrNotFound) {
		// status changed underneath us
		return nil, fmt.Errorf("%w: order %s is no longer %s", ErrInvalidStatusTransition, number, from)
	}
	if err != nil {
		return nil, err
	}
	order.Status = to

	if to == models.OrderStatusCancelled {
		s.logger.Warn("Order cancelled, stock not restored",
			zap.String("order_number", number),
			zap.String("from", string(from)))
	}

	if s.publisher != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent:   models.NewBaseEvent(models.EventTypeOrderStatusChanged),
			OrderNumber: number,
			From:        from,
			To:          to,
		}
		if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	return order, nil
}

// UpdatePaymentStatus overrides the payment status of a recorded order
func (s *AdminService) UpdatePaymentStatus(ctx context.Context, number string, status models.PaymentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, status)
	}
	err := s.orders.UpdatePaymentStatus(ctx, number, status)
	if errors.Is(err, store.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}

// OpenReconciliations lists stock movements waiting for manual repair
func (s *AdminService) OpenReconciliations(ctx context.Context, limit int) ([]models.Reconciliation, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.catalog.OpenReconciliations(ctx, limit)
}

func (s *AdminService) productErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	return err
}

func (s *AdminService) invalidate(ctx context.Context, productID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAvailability(ctx, productID); err != nil {
		s.logger.Warn("Failed to invalidate availability cache", zap.Error(err))
	}
}
