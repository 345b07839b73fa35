package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentInfo is the payment signal an orchestrator hands to the recorder
type PaymentInfo struct {
	Method        string
	Status        models.PaymentStatus
	TransactionID string
}

// RecordRequest carries everything needed to persist an order
type RecordRequest struct {
	UserID         string
	Lines          []models.LineItem
	Total          *decimal.Decimal
	Payment        PaymentInfo
	IdempotencyKey string
}

// Recorder persists orders. It applies no business checks; its only failures are
// infrastructure failures.
type Recorder struct {
	orders OrderStore
	now    func() time.Time
	logger *zap.Logger
}

// NewRecorder creates a new order recorder
func NewRecorder(orders OrderStore) *Recorder {
	return &Recorder{
		orders: orders,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Record builds the order and its item snapshot and inserts them
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Recorder.Record")
	defer span.End()

	order := r.build(req)
	if err := r.orders.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to record order: %w", err)
	}

	util.OrdersRecordedTotal.WithLabelValues(string(order.Status)).Inc()
	r.logger.Info("Order recorded",
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)),
		zap.String("payment_status", string(order.PaymentStatus)))

	return order, nil
}

func (r *Recorder) build(req RecordRequest) *models.Order {
	total := ComputeTotal(req.Lines)
	if req.Total != nil {
		total = *req.Total
	}

	status := models.OrderStatusProcessing
	if req.Payment.Status.Settled() {
		status = models.OrderStatusConfirmed
	}

	order := &models.Order{
		OrderNumber:   r.newOrderNumber(),
		UserID:        req.UserID,
		Total:         total,
		Status:        status,
		PaymentMethod: req.Payment.Method,
		PaymentStatus: req.Payment.Status,
		Items:         make([]models.OrderItem, len(req.Lines)),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}
	if req.Payment.TransactionID != "" {
		txID := req.Payment.TransactionID
		order.TransactionID = &txID
	}

	for i, line := range req.Lines {
		order.Items[i] = models.OrderItem{
			ProductRef: line.ProductRef,
			Name:       line.Name,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
		}
	}
	return order
}

// newOrderNumber returns ORD-<yyyymmdd>-<8 hex chars>
func (r *Recorder) newOrderNumber() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%s-%s", r.now().UTC().Format("20060102"), strings.ToUpper(suffix))
}

// ComputeTotal sums unit price times quantity over all lines
func ComputeTotal(lines []models.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}
