package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedMessage marks a message that can never be handled, such as undecodable JSON
var ErrMalformedMessage = errors.New("malformed message")

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderNumber, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderNumber, event)
}

// PublishStockReconciliationRequired publishes StockReconciliationRequired event
func (ep *EventPublisher) PublishStockReconciliationRequired(ctx context.Context, event *models.StockReconciliationRequiredEvent) error {
	return ep.producer.PublishEvent(ctx, "checkout-"+event.CheckoutID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentVerified             func(context.Context, *models.PaymentVerifiedEvent) error
	onStockReconciliationRequired func(context.Context, *models.StockReconciliationRequiredEvent) error
	logger                        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentVerified registers a handler for PaymentVerified events
func (eh *EventHandler) OnPaymentVerified(handler func(context.Context, *models.PaymentVerifiedEvent) error) {
	eh.onPaymentVerified = handler
}

// OnStockReconciliationRequired registers a handler for StockReconciliationRequired events
func (eh *EventHandler) OnStockReconciliationRequired(handler func(context.Context, *models.StockReconciliationRequiredEvent) error) {
	eh.onStockReconciliationRequired = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrMalformedMessage, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentVerified:
		if eh.onPaymentVerified != nil {
			var event models.PaymentVerifiedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal PaymentVerified event: %v", ErrMalformedMessage, err)
			}
			return eh.onPaymentVerified(ctx, &event)
		}

	case models.EventTypeStockReconciliationRequired:
		if eh.onStockReconciliationRequired != nil {
			var event models.StockReconciliationRequiredEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal StockReconciliationRequired event: %v", ErrMalformedMessage, err)
			}
			return eh.onStockReconciliationRequired(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
