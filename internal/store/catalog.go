package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// ConditionalDecrement subtracts mv.Amount from one stock pool only if the pool still
// holds at least mv.ExpectedMinimum units and the product is sellable. The decrement is
// recorded in stock_movements within the same transaction. It returns false when the
// precondition no longer holds.
func (s *Store) ConditionalDecrement(ctx context.Context, mv models.StockMovement) (bool, error) {
	minimum := mv.ExpectedMinimum
	if minimum < mv.Amount {
		minimum = mv.Amount
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin decrement: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if mv.Pool == models.FlatPool {
		res, err = tx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity - $1, updated_at = NOW()
			WHERE id = $2 AND quantity >= $3 AND status = 'active' AND NOT soft_deleted`,
			mv.Amount, mv.ProductID, minimum)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE product_variants v SET quantity = v.quantity - $1
			FROM products p
			WHERE v.product_id = p.id AND v.product_id = $2 AND v.position = $3 AND v.quantity >= $4
			  AND p.status = 'active' AND NOT p.soft_deleted`,
			mv.Amount, mv.ProductID, mv.Pool, minimum)
	}
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock of %s: %w", mv.ProductID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := insertMovement(ctx, tx, mv, models.MovementDecrement); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit decrement: %w", err)
	}
	return true, nil
}

// CompensateIncrement restores a decrement recorded for the same checkout line and pool.
// It is idempotent: the compensation row is keyed like its decrement, so a retry is a
// no-op, and nothing is restored when no matching decrement was ever committed.
func (s *Store) CompensateIncrement(ctx context.Context, mv models.StockMovement) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin compensation: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (checkout_id, line_no, pool, kind, product_id, amount)
		SELECT checkout_id, line_no, pool, 'compensation', product_id, amount
		FROM stock_movements
		WHERE checkout_id = $1 AND line_no = $2 AND pool = $3 AND kind = 'decrement'
		ON CONFLICT DO NOTHING`,
		mv.CheckoutID, mv.LineNo, mv.Pool)
	if err != nil {
		return fmt.Errorf("failed to record compensation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return nil
	}

	if mv.Pool == models.FlatPool {
		_, err = tx.ExecContext(ctx,
			"UPDATE products SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2",
			mv.Amount, mv.ProductID)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE product_variants SET quantity = quantity + $1 WHERE product_id = $2 AND position = $3",
			mv.Amount, mv.ProductID, mv.Pool)
	}
	if err != nil {
		return fmt.Errorf("failed to restore stock of %s: %w", mv.ProductID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit compensation: %w", err)
	}
	return nil
}

// RecordReconciliation queues movements that could not be compensated
func (s *Store) RecordReconciliation(ctx context.Context, checkoutID string, movements []models.StockMovement, reason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reconciliation: %w", err)
	}
	defer tx.Rollback()

	for _, mv := range movements {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_reconciliations (checkout_id, product_id, pool, amount, reason)
			VALUES ($1, $2, $3, $4, $5)`,
			checkoutID, mv.ProductID, mv.Pool, mv.Amount, reason)
		if err != nil {
			return fmt.Errorf("failed to record reconciliation: %w", err)
		}
	}

	return tx.Commit()
}

// OpenReconciliations lists unresolved reconciliation entries, oldest first
func (s *Store) OpenReconciliations(ctx context.Context, limit int) ([]models.Reconciliation, error) {
	var out []models.Reconciliation
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, checkout_id, product_id, pool, amount, reason, created_at, resolved_at
		FROM stock_reconciliations
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	return out, nil
}

func insertMovement(ctx context.Context, tx *sqlx.Tx, mv models.StockMovement, kind models.MovementKind) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (checkout_id, line_no, pool, kind, product_id, amount)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		mv.CheckoutID, mv.LineNo, mv.Pool, kind, mv.ProductID, mv.Amount)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("movement %s/%d/%d already recorded: %w", mv.CheckoutID, mv.LineNo, mv.Pool, ErrDuplicate)
		}
		return fmt.Errorf("failed to record movement: %w", err)
	}
	return nil
}

// ResolveReconciliations closes every open reconciliation entry of a checkout
func (s *Store) ResolveReconciliations(ctx context.Context, checkoutID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE stock_reconciliations SET resolved_at = NOW() WHERE checkout_id = $1 AND resolved_at IS NULL",
		checkoutID)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliations of %s: %w", checkoutID, err)
	}
	return nil
}
