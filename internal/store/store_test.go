package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

func TestConditionalDecrement_FlatApplied(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET quantity = quantity - $1")).
		WithArgs(2, productID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("chk-1", 0, models.FlatPool, models.MovementDecrement, productID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := s.ConditionalDecrement(context.Background(), models.StockMovement{
		CheckoutID: "chk-1",
		LineNo:     0,
		Pool:       models.FlatPool,
		ProductID:  productID,
		Amount:     2,
	})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalDecrement_VariantUsesExpectedMinimum(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_variants v SET quantity = v.quantity - $1")).
		WithArgs(3, productID, 1, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("chk-2", 4, 1, models.MovementDecrement, productID, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := s.ConditionalDecrement(context.Background(), models.StockMovement{
		CheckoutID:      "chk-2",
		LineNo:          4,
		Pool:            1,
		ProductID:       productID,
		Amount:          3,
		ExpectedMinimum: 5,
	})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalDecrement_PreconditionFailed(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET quantity = quantity - $1")).
		WithArgs(1, productID, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := s.ConditionalDecrement(context.Background(), models.StockMovement{
		CheckoutID: "chk-3",
		Pool:       models.FlatPool,
		ProductID:  productID,
		Amount:     1,
	})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalDecrement_StoreError(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	ok, err := s.ConditionalDecrement(context.Background(), models.StockMovement{
		CheckoutID: "chk-4",
		Pool:       models.FlatPool,
		ProductID:  productID,
		Amount:     1,
	})

	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompensateIncrement_RestoresOnce(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()
	mv := models.StockMovement{CheckoutID: "chk-5", LineNo: 1, Pool: models.FlatPool, ProductID: productID, Amount: 2}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("chk-5", 1, models.FlatPool).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET quantity = quantity + $1")).
		WithArgs(2, productID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.CompensateIncrement(context.Background(), mv))

	// second attempt finds the compensation row already present
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("chk-5", 1, models.FlatPool).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, s.CompensateIncrement(context.Background(), mv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompensateIncrement_Variant(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("chk-6", 0, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_variants SET quantity = quantity + $1")).
		WithArgs(4, productID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.CompensateIncrement(context.Background(), models.StockMovement{
		CheckoutID: "chk-6", LineNo: 0, Pool: 2, ProductID: productID, Amount: 4,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadProduct(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM products WHERE id = ").
		WithArgs(productID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "sku", "name", "description", "price", "discount_price",
			"quantity", "status", "soft_deleted", "created_at", "updated_at",
		}).AddRow(productID.String(), "LAMP-1", "Desk lamp", "", "19.99", nil, 5, "active", false, now, now))
	mock.ExpectQuery("FROM product_variants WHERE product_id = ").
		WithArgs(productID).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "position", "sku", "attributes", "quantity"}).
			AddRow(productID.String(), 0, nil, `{"color":"red"}`, 3).
			AddRow(productID.String(), 1, "LAMP-1-B", `{"color":"blue"}`, 0))

	p, err := s.ReadProduct(context.Background(), productID)

	require.NoError(t, err)
	assert.Equal(t, productID, p.ID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(p.Price))
	assert.False(t, p.DiscountPrice.Valid)
	require.Len(t, p.Variants, 2)
	assert.Equal(t, 3, p.Variants[0].Quantity)
	assert.Equal(t, "LAMP-1-B", *p.Variants[1].SKU)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadProduct_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()

	mock.ExpectQuery("FROM products WHERE id = ").
		WithArgs(productID).
		WillReturnError(sql.ErrNoRows)

	_, err := s.ReadProduct(context.Background(), productID)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	order := &models.Order{
		OrderNumber:   "ORD-20260101-abcdef12",
		UserID:        "u-1",
		Total:         decimal.NewFromInt(25),
		Status:        models.OrderStatusProcessing,
		PaymentMethod: models.PaymentMethodCOD,
		PaymentStatus: models.PaymentStatusPending,
		Items: []models.OrderItem{
			{ProductRef: "legacy-1", Name: "Gift card", UnitPrice: decimal.NewFromInt(5), Quantity: 1},
			{ProductRef: uuid.NewString(), Name: "Lamp", UnitPrice: decimal.NewFromInt(10), Quantity: 2},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(42, now, now))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(int64(42), "legacy-1", "Gift card", sqlmock.AnyArg(), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectCommit()

	require.NoError(t, s.InsertOrder(context.Background(), order))
	assert.Equal(t, int64(42), order.ID)
	assert.Equal(t, int64(42), order.Items[1].OrderID)
	assert.Equal(t, int64(2), order.Items[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrder_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	err := s.InsertOrder(context.Background(), &models.Order{OrderNumber: "ORD-dup"})

	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus_StaleStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(models.OrderStatusShipped, "ORD-1", models.OrderStatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateOrderStatus(context.Background(), "ORD-1", models.OrderStatusConfirmed, models.OrderStatusShipped)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestock_RejectsNonPositive(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.Restock(context.Background(), uuid.New(), nil, 0)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestock_Variant(t *testing.T) {
	s, mock := newMockStore(t)
	productID := uuid.New()
	idx := 1

	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_variants SET quantity = quantity + $1")).
		WithArgs(10, productID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Restock(context.Background(), productID, &idx, 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveReconciliations(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE stock_reconciliations SET resolved_at").
		WithArgs("chk-9").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.ResolveReconciliations(context.Background(), "chk-9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
