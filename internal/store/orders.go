package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

const orderColumns = `id, order_number, idempotency_key, user_id, total, status, payment_method, payment_status, transaction_id, created_at, updated_at`

// InsertOrder persists an order and its item snapshot in one transaction
func (s *Store) InsertOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin order insert: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_number, idempotency_key, user_id, total, status, payment_method, payment_status, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.OrderNumber, order.IdempotencyKey, order.UserID, order.Total,
		order.Status, order.PaymentMethod, order.PaymentStatus, order.TransactionID,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", order.OrderNumber, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_ref, name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			item.OrderID, item.ProductRef, item.Name, item.UnitPrice, item.Quantity,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// GetOrderByNumber retrieves an order and its items by order number
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.getOrder(ctx, "order_number = $1", number)
}

// GetOrderByIdempotencyKey retrieves an order by the client supplied idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return s.getOrder(ctx, "idempotency_key = $1", key)
}

// GetOrderByTransactionID retrieves an order by its payment transaction reference
func (s *Store) GetOrderByTransactionID(ctx context.Context, txID string) (*models.Order, error) {
	return s.getOrder(ctx, "transaction_id = $1", txID)
}

func (s *Store) getOrder(ctx context.Context, where string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order: %w", err)
	}

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, product_ref, name, unit_price, quantity FROM order_items WHERE order_id = $1 ORDER BY id",
		order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read order items: %w", err)
	}
	order.Items = items

	return &order, nil
}

// UpdateOrderStatus moves an order from one status to another. The expected current
// status is part of the predicate so concurrent admin edits cannot skip the state machine.
func (s *Store) UpdateOrderStatus(ctx context.Context, number string, from, to models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE order_number = $2 AND status = $3",
		to, number, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("order %s in status %s", number, from))
}

// UpdatePaymentStatus sets the payment status of an order
func (s *Store) UpdatePaymentStatus(ctx context.Context, number string, status models.PaymentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE order_number = $2",
		status, number)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("order %s", number))
}
