package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checkout entry points, used in metrics and events
const (
	EntryDirect       = "direct"
	EntryVerification = "payment_verification"
)

// Pipeline is the validate, decrement, record sequence shared by both checkout entry points
type Pipeline struct {
	validator *Validator
	executor  *Executor
	recorder  *Recorder
	publisher EventPublisher
	logger    *zap.Logger
}

// NewPipeline creates a new checkout pipeline. publisher may be nil.
func NewPipeline(validator *Validator, executor *Executor, recorder *Recorder, publisher EventPublisher) *Pipeline {
	return &Pipeline{
		validator: validator,
		executor:  executor,
		recorder:  recorder,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Run validates and decrements every line and records the order. No order is recorded
// unless every decrement succeeded, and decrements are compensated when recording fails.
func (p *Pipeline) Run(ctx context.Context, entry string, req RecordRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Pipeline.Run")
	defer span.End()

	order, err := p.run(ctx, entry, req)
	util.CheckoutsTotal.WithLabelValues(entry, checkoutResult(err)).Inc()
	return order, err
}

func (p *Pipeline) run(ctx context.Context, entry string, req RecordRequest) (*models.Order, error) {
	lines, err := p.validator.Validate(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	checkoutID := uuid.NewString()
	logger := util.LoggerFromContext(ctx, p.logger).With(
		zap.String("checkout_id", checkoutID),
		zap.String("entry", entry))

	commit, err := p.executor.Commit(ctx, checkoutID, lines)
	if err != nil {
		return nil, err
	}

	order, err := p.recorder.Record(ctx, req)
	if err != nil {
		logger.Error("Recording failed after decrement, compensating", zap.Error(err))
		if cerr := p.executor.Compensate(ctx, commit, fmt.Sprintf("order not recorded: %v", err)); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	logger.Info("Checkout completed",
		zap.String("order_number", order.OrderNumber),
		zap.Int("movements", len(commit.Movements)))

	p.publishPlaced(ctx, entry, order)
	return order, nil
}

func (p *Pipeline) publishPlaced(ctx context.Context, entry string, order *models.Order) {
	if p.publisher == nil {
		return
	}

	items := make([]models.OrderItemData, len(order.Items))
	for i, item := range order.Items {
		items[i] = models.OrderItemData{
			ProductRef: item.ProductRef,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Total:         order.Total,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Entry:         entry,
		Items:         items,
	}
	if err := p.publisher.PublishOrderPlaced(ctx, event); err != nil {
		p.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrProductUnavailable):
		return "rejected"
	case errors.Is(err, ErrInvalidLineItem):
		return "invalid"
	case errors.Is(err, ErrReconciliationRequired):
		return "reconciliation_required"
	case errors.Is(err, store.ErrDuplicate):
		return "duplicate"
	default:
		return "error"
	}
}

// CheckoutConfig holds the lock lifetimes of the orchestrators
type CheckoutConfig struct {
	IdempotencyTTL  time.Duration
	CallbackLockTTL time.Duration
}

// CheckoutService exposes the two checkout entry points over one Pipeline
type CheckoutService struct {
	pipeline *Pipeline
	orders   OrderStore
	locker   Locker
	verifier PaymentVerifier
	cfg      CheckoutConfig
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service. locker may be nil.
func NewCheckoutService(pipeline *Pipeline, orders OrderStore, locker Locker, verifier PaymentVerifier, cfg CheckoutConfig) *CheckoutService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 30 * time.Second
	}
	if cfg.CallbackLockTTL <= 0 {
		cfg.CallbackLockTTL = 30 * time.Second
	}
	return &CheckoutService{
		pipeline: pipeline,
		orders:   orders,
		locker:   locker,
		verifier: verifier,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// PlaceOrderRequest is a direct order submission
type PlaceOrderRequest struct {
	UserID         string               `json:"user_id" binding:"required"`
	Items          []models.LineItem    `json:"items" binding:"required,min=1"`
	Total          *decimal.Decimal     `json:"total,omitempty"`
	PaymentMethod  string               `json:"payment_method" binding:"required"`
	PaymentStatus  models.PaymentStatus `json:"payment_status,omitempty"`
	TransactionID  string               `json:"transaction_id,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// PlaceOrder is the direct checkout entry point. Cash on delivery is always recorded
// with a pending payment; any other claimed payment status is trusted as given.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	payment, err := directPayment(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if existing, ok, err := s.replay(ctx, s.orders.GetOrderByIdempotencyKey, req.IdempotencyKey); err != nil || ok {
			return existing, err
		}

		release, err := s.lock(ctx, "checkout:"+req.IdempotencyKey, s.cfg.IdempotencyTTL)
		if err != nil {
			return nil, err
		}
		defer release()

		// another submission may have finished while we waited for the lock
		if existing, ok, err := s.replay(ctx, s.orders.GetOrderByIdempotencyKey, req.IdempotencyKey); err != nil || ok {
			return existing, err
		}
	}

	order, err := s.pipeline.Run(ctx, EntryDirect, RecordRequest{
		UserID:         req.UserID,
		Lines:          req.Items,
		Total:          req.Total,
		Payment:        payment,
		IdempotencyKey: req.IdempotencyKey,
	})
	if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
		if existing, ok, lerr := s.replay(ctx, s.orders.GetOrderByIdempotencyKey, req.IdempotencyKey); lerr == nil && ok {
			return existing, nil
		}
	}
	return order, err
}

func directPayment(req *PlaceOrderRequest) (PaymentInfo, error) {
	payment := PaymentInfo{
		Method:        req.PaymentMethod,
		Status:        req.PaymentStatus,
		TransactionID: req.TransactionID,
	}
	if payment.Method == models.PaymentMethodCOD || payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	if !payment.Status.Valid() {
		return PaymentInfo{}, fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, req.PaymentStatus)
	}
	return payment, nil
}

// VerifyPaymentRequest is a payment gateway confirmation callback
type VerifyPaymentRequest struct {
	UserID         string            `json:"user_id" binding:"required"`
	GatewayOrderID string            `json:"gateway_order_id" binding:"required"`
	PaymentID      string            `json:"payment_id" binding:"required"`
	Signature      string            `json:"signature" binding:"required"`
	Items          []models.LineItem `json:"items" binding:"required,min=1"`
	Total          *decimal.Decimal  `json:"total,omitempty"`
}

// VerifyPayment is the gateway callback entry point. The checkout only runs once the
// signature checks out; the order is marked paid with the payment id as its
// transaction reference. A repeated callback for the same payment returns the
// order recorded the first time.
func (s *CheckoutService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.VerifyPayment")
	defer span.End()

	if s.verifier == nil || !s.verifier.Verify(req.GatewayOrderID, req.PaymentID, req.Signature) {
		util.CheckoutsTotal.WithLabelValues(EntryVerification, "payment_required").Inc()
		s.logger.Warn("Payment signature rejected",
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("payment_id", req.PaymentID))
		return nil, ErrPaymentRequired
	}

	if existing, ok, err := s.replay(ctx, s.orders.GetOrderByTransactionID, req.PaymentID); err != nil || ok {
		return existing, err
	}

	release, err := s.lock(ctx, "payment:"+req.PaymentID, s.cfg.CallbackLockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	if existing, ok, err := s.replay(ctx, s.orders.GetOrderByTransactionID, req.PaymentID); err != nil || ok {
		return existing, err
	}

	order, err := s.pipeline.Run(ctx, EntryVerification, RecordRequest{
		UserID: req.UserID,
		Lines:  req.Items,
		Total:  req.Total,
		Payment: PaymentInfo{
			Method:        models.PaymentMethodGateway,
			Status:        models.PaymentStatusPaid,
			TransactionID: req.PaymentID,
		},
	})
	if errors.Is(err, store.ErrDuplicate) {
		if existing, ok, lerr := s.replay(ctx, s.orders.GetOrderByTransactionID, req.PaymentID); lerr == nil && ok {
			return existing, nil
		}
	}
	return order, err
}

// GetOrder returns a recorded order by number
func (s *CheckoutService) GetOrder(ctx context.Context, number string) (*models.Order, error) {
	order, ok, err := s.lookup(ctx, s.orders.GetOrderByNumber, number)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *CheckoutService) lookup(ctx context.Context, get func(context.Context, string) (*models.Order, error), key string) (*models.Order, bool, error) {
	order, err := get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up order: %w", err)
	}
	return order, true, nil
}

// replay finds an order already recorded for the same idempotency key or payment
func (s *CheckoutService) replay(ctx context.Context, get func(context.Context, string) (*models.Order, error), key string) (*models.Order, bool, error) {
	order, ok, err := s.lookup(ctx, get, key)
	if ok {
		s.logger.Info("Duplicate checkout detected",
			zap.String("key", key),
			zap.String("order_number", order.OrderNumber))
	}
	return order, ok, err
}

func (s *CheckoutService) lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	token, ok, err := s.locker.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrCheckoutInProgress
	}

	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
