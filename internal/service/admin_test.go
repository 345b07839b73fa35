package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockCatalogAdmin struct {
	mock.Mock
}

func (m *mockCatalogAdmin) Restock(ctx context.Context, id uuid.UUID, variantIndex *int, amount int) error {
	return m.Called(ctx, id, variantIndex, amount).Error(0)
}

func (m *mockCatalogAdmin) SetProductStatus(ctx context.Context, id uuid.UUID, status models.ProductStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockCatalogAdmin) SoftDeleteProduct(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCatalogAdmin) OpenReconciliations(ctx context.Context, limit int) ([]models.Reconciliation, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]models.Reconciliation)
	return out, args.Error(1)
}

type mockOrderStore struct {
	mock.Mock
}

func (m *mockOrderStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockOrderStore) get(args mock.Arguments) (*models.Order, error) {
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrderStore) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return m.get(m.Called(ctx, number))
}

func (m *mockOrderStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return m.get(m.Called(ctx, key))
}

func (m *mockOrderStore) GetOrderByTransactionID(ctx context.Context, txID string) (*models.Order, error) {
	return m.get(m.Called(ctx, txID))
}

func (m *mockOrderStore) UpdateOrderStatus(ctx context.Context, number string, from, to models.OrderStatus) error {
	return m.Called(ctx, number, from, to).Error(0)
}

func (m *mockOrderStore) UpdatePaymentStatus(ctx context.Context, number string, status models.PaymentStatus) error {
	return m.Called(ctx, number, status).Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetAvailability(ctx context.Context, id uuid.UUID) (int, int64, bool, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Get(1).(int64), args.Bool(2), args.Error(3)
}

func (m *mockCache) SetAvailability(ctx context.Context, id uuid.UUID, qty int, generation int64, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, id, qty, generation, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) InvalidateAvailability(ctx context.Context, ids ...uuid.UUID) error {
	return m.Called(ctx, ids).Error(0)
}

func newAdmin(t *testing.T) (*AdminService, *mockCatalogAdmin, *mockOrderStore, *recordingPublisher) {
	util.SetLogger(zaptest.NewLogger(t))
	catalog := new(mockCatalogAdmin)
	orders := new(mockOrderStore)
	publisher := &recordingPublisher{}
	return NewAdminService(catalog, orders, nil, publisher), catalog, orders, publisher
}

func TestUpdateOrderStatus_Forward(t *testing.T) {
	admin, _, orders, publisher := newAdmin(t)
	ctx := context.Background()

	orders.On("GetOrderByNumber", mock.Anything, "ORD-1").Return(&models.Order{OrderNumber: "ORD-1", Status: models.OrderStatusConfirmed}, nil)
	orders.On("UpdateOrderStatus", mock.Anything, "ORD-1", models.OrderStatusConfirmed, models.OrderStatusShipped).Return(nil)

	order, err := admin.UpdateOrderStatus(ctx, "ORD-1", models.OrderStatusShipped)

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, order.Status)
	require.Len(t, publisher.statusChanged, 1)
	assert.Equal(t, models.OrderStatusConfirmed, publisher.statusChanged[0].From)
	orders.AssertExpectations(t)
}

func TestUpdateOrderStatus_IllegalTransitions(t *testing.T) {
	tests := []struct {
		from, to models.OrderStatus
	}{
		{models.OrderStatusShipped, models.OrderStatusCancelled},
		{models.OrderStatusDelivered, models.OrderStatusShipped},
		{models.OrderStatusCancelled, models.OrderStatusConfirmed},
		{models.OrderStatusPending, "lost"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			admin, _, orders, publisher := newAdmin(t)
			orders.On("GetOrderByNumber", mock.Anything, "ORD-1").Return(&models.Order{OrderNumber: "ORD-1", Status: tt.from}, nil)

			_, err := admin.UpdateOrderStatus(context.Background(), "ORD-1", tt.to)

			assert.ErrorIs(t, err, ErrInvalidStatusTransition)
			orders.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, publisher.statusChanged)
		})
	}
}

func TestUpdateOrderStatus_CancelDoesNotTouchStock(t *testing.T) {
	admin, catalog, orders, _ := newAdmin(t)

	orders.On("GetOrderByNumber", mock.Anything, "ORD-1").Return(&models.Order{OrderNumber: "ORD-1", Status: models.OrderStatusProcessing}, nil)
	orders.On("UpdateOrderStatus", mock.Anything, "ORD-1", models.OrderStatusProcessing, models.OrderStatusCancelled).Return(nil)

	order, err := admin.UpdateOrderStatus(context.Background(), "ORD-1", models.OrderStatusCancelled)

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	catalog.AssertNotCalled(t, "Restock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateOrderStatus_ConcurrentChange(t *testing.T) {
	admin, _, orders, _ := newAdmin(t)

	orders.On("GetOrderByNumber", mock.Anything, "ORD-1").Return(&models.Order{OrderNumber: "ORD-1", Status: models.OrderStatusPending}, nil)
	orders.On("UpdateOrderStatus", mock.Anything, "ORD-1", models.OrderStatusPending, models.OrderStatusConfirmed).
		Return(fmt.Errorf("order ORD-1: %w", store.ErrNotFound))

	_, err := admin.UpdateOrderStatus(context.Background(), "ORD-1", models.OrderStatusConfirmed)

	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	admin, _, orders, _ := newAdmin(t)
	orders.On("GetOrderByNumber", mock.Anything, "ORD-404").Return(nil, store.ErrNotFound)

	_, err := admin.UpdateOrderStatus(context.Background(), "ORD-404", models.OrderStatusShipped)

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestUpdatePaymentStatus(t *testing.T) {
	admin, _, orders, _ := newAdmin(t)
	orders.On("UpdatePaymentStatus", mock.Anything, "ORD-1", models.PaymentStatusRefunded).Return(nil)
	orders.On("UpdatePaymentStatus", mock.Anything, "ORD-404", models.PaymentStatusPaid).Return(store.ErrNotFound)

	assert.NoError(t, admin.UpdatePaymentStatus(context.Background(), "ORD-1", models.PaymentStatusRefunded))
	assert.ErrorIs(t, admin.UpdatePaymentStatus(context.Background(), "ORD-404", models.PaymentStatusPaid), ErrOrderNotFound)
	assert.ErrorIs(t, admin.UpdatePaymentStatus(context.Background(), "ORD-1", "bogus"), ErrInvalidRequest)
}

func TestRestock(t *testing.T) {
	admin, catalog, _, _ := newAdmin(t)
	id := uuid.New()
	idx := 2

	catalog.On("Restock", mock.Anything, id, &idx, 10).Return(nil)
	catalog.On("Restock", mock.Anything, mock.Anything, (*int)(nil), 5).Return(store.ErrNotFound)

	assert.NoError(t, admin.Restock(context.Background(), id, &idx, 10))
	assert.ErrorIs(t, admin.Restock(context.Background(), uuid.New(), nil, 5), ErrProductNotFound)
	assert.ErrorIs(t, admin.Restock(context.Background(), id, nil, 0), ErrInvalidRequest)
	catalog.AssertNumberOfCalls(t, "Restock", 2)
}

func TestSetProductStatus(t *testing.T) {
	admin, catalog, _, _ := newAdmin(t)
	id := uuid.New()

	catalog.On("SetProductStatus", mock.Anything, id, models.ProductStatusInactive).Return(nil)
	catalog.On("SoftDeleteProduct", mock.Anything, id).Return(nil)

	assert.NoError(t, admin.SetProductStatus(context.Background(), id, models.ProductStatusInactive))
	assert.ErrorIs(t, admin.SetProductStatus(context.Background(), id, "archived"), ErrInvalidRequest)
	assert.NoError(t, admin.SoftDeleteProduct(context.Background(), id))
	catalog.AssertExpectations(t)
}

func TestOpenReconciliations_ClampsLimit(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{0, 100},
		{-5, 100},
		{25, 25},
		{100, 100},
		{300, 100},
	}

	for _, tt := range tests {
		admin, catalog, _, _ := newAdmin(t)
		catalog.On("OpenReconciliations", mock.Anything, tt.want).Return([]models.Reconciliation{{CheckoutID: "chk-1"}}, nil)

		out, err := admin.OpenReconciliations(context.Background(), tt.requested)

		require.NoError(t, err)
		assert.Len(t, out, 1)
		catalog.AssertExpectations(t)
	}
}
