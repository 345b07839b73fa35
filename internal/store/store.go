package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (order number, idempotency key, transaction id) already exists
	ErrDuplicate = errors.New("duplicate key")
)

const uniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const productColumns = `id, sku, name, description, price, discount_price, quantity, status, soft_deleted, created_at, updated_at`

// ReadProduct retrieves a product with its variants in stored order
func (s *Store) ReadProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read product %s: %w", id, err)
	}

	var variants []models.Variant
	err = s.db.SelectContext(ctx, &variants,
		"SELECT product_id, position, sku, attributes, quantity FROM product_variants WHERE product_id = $1 ORDER BY position",
		id)
	if err != nil {
		return nil, fmt.Errorf("failed to read variants of product %s: %w", id, err)
	}
	product.Variants = variants

	return &product, nil
}

// Restock adds amount to a product's flat pool, or to one variant when variantIndex is set
func (s *Store) Restock(ctx context.Context, productID uuid.UUID, variantIndex *int, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("restock amount must be positive, got %d", amount)
	}

	var (
		res sql.Result
		err error
	)
	if variantIndex == nil {
		res, err = s.db.ExecContext(ctx,
			"UPDATE products SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2",
			amount, productID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE product_variants SET quantity = quantity + $1 WHERE product_id = $2 AND position = $3",
			amount, productID, *variantIndex)
	}
	if err != nil {
		return fmt.Errorf("failed to restock product %s: %w", productID, err)
	}

	return expectOneRow(res, fmt.Sprintf("product %s", productID))
}

// SetProductStatus flips the active/inactive flag
func (s *Store) SetProductStatus(ctx context.Context, productID uuid.UUID, status models.ProductStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET status = $1, updated_at = NOW() WHERE id = $2",
		status, productID)
	if err != nil {
		return fmt.Errorf("failed to update product status: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("product %s", productID))
}

// SoftDeleteProduct marks a product as deleted without removing the row
func (s *Store) SoftDeleteProduct(ctx context.Context, productID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET soft_deleted = TRUE, updated_at = NOW() WHERE id = $1",
		productID)
	if err != nil {
		return fmt.Errorf("failed to soft delete product: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("product %s", productID))
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
