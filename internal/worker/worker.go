package worker

import (
	"context"
	"errors"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// PaymentCheckout is the checkout entry point driven by gateway confirmations
type PaymentCheckout interface {
	VerifyPayment(ctx context.Context, req *service.VerifyPaymentRequest) (*models.Order, error)
}

// Reconciler retries compensations that failed during a checkout
type Reconciler interface {
	Reconcile(ctx context.Context, checkoutID string, movements []models.StockMovement) error
}

// PaymentWorker turns PaymentVerified events from the gateway topic into checkouts
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	checkout     PaymentCheckout
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, checkout PaymentCheckout) *PaymentWorker {
	pw := &PaymentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		checkout:     checkout,
		logger:       util.GetLogger(),
	}
	pw.eventHandler.OnPaymentVerified(pw.handlePaymentVerified)
	return pw
}

// Start starts the payment worker
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.consumer.StartConsuming(ctx, pw.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.consumer.Close()
}

// handlePaymentVerified returns an error only for failures worth retrying.
// Business rejections are final and the message is committed.
func (pw *PaymentWorker) handlePaymentVerified(ctx context.Context, event *models.PaymentVerifiedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentWorker.HandlePaymentVerified")
	defer span.End()

	order, err := pw.checkout.VerifyPayment(ctx, &service.VerifyPaymentRequest{
		UserID:         event.UserID,
		GatewayOrderID: event.GatewayOrderID,
		PaymentID:      event.PaymentID,
		Signature:      event.Signature,
		Items:          event.Items,
		Total:          event.Total,
	})
	if err != nil {
		if isFinal(err) {
			pw.logger.Warn("Payment checkout rejected",
				zap.String("payment_id", event.PaymentID),
				zap.String("event_id", event.EventID),
				zap.Error(err))
			return nil
		}
		return err
	}

	pw.logger.Info("Payment checkout recorded",
		zap.String("payment_id", event.PaymentID),
		zap.String("order_number", order.OrderNumber))
	return nil
}

func isFinal(err error) bool {
	return errors.Is(err, service.ErrPaymentRequired) ||
		errors.Is(err, service.ErrInsufficientStock) ||
		errors.Is(err, service.ErrProductUnavailable) ||
		errors.Is(err, service.ErrInvalidLineItem) ||
		errors.Is(err, service.ErrReconciliationRequired)
}

// ReconciliationWorker consumes StockReconciliationRequired events from the order topic
// and retries the outstanding compensations.
type ReconciliationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	reconciler   Reconciler
	logger       *zap.Logger
}

// NewReconciliationWorker creates a new reconciliation worker
func NewReconciliationWorker(consumer *broker.Consumer, reconciler Reconciler) *ReconciliationWorker {
	rw := &ReconciliationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		reconciler:   reconciler,
		logger:       util.GetLogger(),
	}
	rw.eventHandler.OnStockReconciliationRequired(rw.handleReconciliationRequired)
	return rw
}

// Start starts the reconciliation worker
func (rw *ReconciliationWorker) Start(ctx context.Context) error {
	rw.logger.Info("Starting reconciliation worker")
	return rw.consumer.StartConsuming(ctx, rw.eventHandler.HandleMessage)
}

// Stop stops the reconciliation worker
func (rw *ReconciliationWorker) Stop() error {
	rw.logger.Info("Stopping reconciliation worker")
	return rw.consumer.Close()
}

func (rw *ReconciliationWorker) handleReconciliationRequired(ctx context.Context, event *models.StockReconciliationRequiredEvent) error {
	if err := rw.reconciler.Reconcile(ctx, event.CheckoutID, event.Movements); err != nil {
		rw.logger.Error("Reconciliation attempt failed",
			zap.String("checkout_id", event.CheckoutID),
			zap.Error(err))
		return err
	}
	return nil
}
