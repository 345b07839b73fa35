package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

var errStoreDown = errors.New("store unavailable")

type movementKey struct {
	checkoutID string
	line       int
	pool       int
	kind       models.MovementKind
}

// memCatalog enforces the same conditional-update contract as the Postgres store
type memCatalog struct {
	mu              sync.Mutex
	products        map[uuid.UUID]*models.Product
	movements       map[movementKey]models.StockMovement
	reconciliations []models.Reconciliation
	decrementCalls  int

	failDecrementCall int // 1-based call number that fails with errStoreDown
	compensateErr     error
	beforeDecrement   func(c *memCatalog, call int) // runs outside the lock, may call set
}

func newMemCatalog(products ...*models.Product) *memCatalog {
	c := &memCatalog{
		products:  make(map[uuid.UUID]*models.Product),
		movements: make(map[movementKey]models.StockMovement),
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *memCatalog) ReadProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return p.Clone(), nil
}

func (c *memCatalog) ConditionalDecrement(_ context.Context, mv models.StockMovement) (bool, error) {
	c.mu.Lock()
	c.decrementCalls++
	call := c.decrementCalls
	hook := c.beforeDecrement
	c.mu.Unlock()

	if hook != nil {
		hook(c, call)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if call == c.failDecrementCall {
		return false, errStoreDown
	}

	p, ok := c.products[mv.ProductID]
	if !ok || !p.Sellable() {
		return false, nil
	}
	qty := c.pool(p, mv.Pool)
	if qty == nil || *qty < max(mv.ExpectedMinimum, mv.Amount) {
		return false, nil
	}
	*qty -= mv.Amount
	mv.Kind = models.MovementDecrement
	c.movements[movementKey{mv.CheckoutID, mv.LineNo, mv.Pool, mv.Kind}] = mv
	return true, nil
}

func (c *memCatalog) CompensateIncrement(_ context.Context, mv models.StockMovement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.compensateErr != nil {
		return c.compensateErr
	}
	dec, ok := c.movements[movementKey{mv.CheckoutID, mv.LineNo, mv.Pool, models.MovementDecrement}]
	if !ok {
		return nil
	}
	compKey := movementKey{mv.CheckoutID, mv.LineNo, mv.Pool, models.MovementCompensation}
	if _, done := c.movements[compKey]; done {
		return nil
	}
	if qty := c.pool(c.products[dec.ProductID], dec.Pool); qty != nil {
		*qty += dec.Amount
	}
	dec.Kind = models.MovementCompensation
	c.movements[compKey] = dec
	return nil
}

func (c *memCatalog) RecordReconciliation(_ context.Context, checkoutID string, movements []models.StockMovement, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, mv := range movements {
		c.reconciliations = append(c.reconciliations, models.Reconciliation{
			CheckoutID: checkoutID, ProductID: mv.ProductID, Pool: mv.Pool, Amount: mv.Amount, Reason: reason,
		})
	}
	return nil
}

func (c *memCatalog) ResolveReconciliations(_ context.Context, checkoutID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for i := range c.reconciliations {
		if c.reconciliations[i].CheckoutID == checkoutID {
			c.reconciliations[i].ResolvedAt = &now
		}
	}
	return nil
}

func (c *memCatalog) pool(p *models.Product, pool int) *int {
	if p == nil {
		return nil
	}
	if pool == models.FlatPool {
		return &p.Quantity
	}
	for i := range p.Variants {
		if p.Variants[i].Position == pool {
			return &p.Variants[i].Quantity
		}
	}
	return nil
}

func (c *memCatalog) flat(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[id].Quantity
}

func (c *memCatalog) variant(id uuid.UUID, pos int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.pool(c.products[id], pos)
}

func (c *memCatalog) set(id uuid.UUID, fn func(p *models.Product)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.products[id])
}

type memOrders struct {
	mu        sync.Mutex
	byNumber  map[string]*models.Order
	insertErr error
	inserts   int
}

func newMemOrders() *memOrders {
	return &memOrders{byNumber: make(map[string]*models.Order)}
}

func (o *memOrders) InsertOrder(_ context.Context, order *models.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inserts++
	if o.insertErr != nil {
		return o.insertErr
	}
	for _, existing := range o.byNumber {
		if existing.OrderNumber == order.OrderNumber ||
			(order.IdempotencyKey != nil && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *order.IdempotencyKey) ||
			(order.TransactionID != nil && existing.TransactionID != nil && *existing.TransactionID == *order.TransactionID) {
			return store.ErrDuplicate
		}
	}
	order.ID = int64(len(o.byNumber) + 1)
	cp := *order
	o.byNumber[order.OrderNumber] = &cp
	return nil
}

func (o *memOrders) find(match func(*models.Order) bool) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, order := range o.byNumber {
		if match(order) {
			cp := *order
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (o *memOrders) GetOrderByNumber(_ context.Context, number string) (*models.Order, error) {
	return o.find(func(x *models.Order) bool { return x.OrderNumber == number })
}

func (o *memOrders) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	return o.find(func(x *models.Order) bool { return x.IdempotencyKey != nil && *x.IdempotencyKey == key })
}

func (o *memOrders) GetOrderByTransactionID(_ context.Context, txID string) (*models.Order, error) {
	return o.find(func(x *models.Order) bool { return x.TransactionID != nil && *x.TransactionID == txID })
}

func (o *memOrders) UpdateOrderStatus(_ context.Context, number string, from, to models.OrderStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.byNumber[number]
	if !ok || order.Status != from {
		return store.ErrNotFound
	}
	order.Status = to
	return nil
}

func (o *memOrders) UpdatePaymentStatus(_ context.Context, number string, status models.PaymentStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.byNumber[number]
	if !ok {
		return store.ErrNotFound
	}
	order.PaymentStatus = status
	return nil
}

func (o *memOrders) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byNumber)
}

type recordingPublisher struct {
	mu              sync.Mutex
	placed          []*models.OrderPlacedEvent
	statusChanged   []*models.OrderStatusChangedEvent
	reconciliations []*models.StockReconciliationRequiredEvent
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, e)
	return nil
}

func (p *recordingPublisher) PublishStockReconciliationRequired(_ context.Context, e *models.StockReconciliationRequiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciliations = append(p.reconciliations, e)
	return nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// harness wires the real services over the in-memory fakes
type harness struct {
	catalog   *memCatalog
	orders    *memOrders
	publisher *recordingPublisher
	locker    *memLocker
	verifier  *HMACVerifier
	executor  *Executor
	checkout  *CheckoutService
}

func newHarness(t *testing.T, products ...*models.Product) *harness {
	t.Helper()
	util.SetLogger(zaptest.NewLogger(t))

	h := &harness{
		catalog:   newMemCatalog(products...),
		orders:    newMemOrders(),
		publisher: &recordingPublisher{},
		locker:    newMemLocker(),
		verifier:  NewHMACVerifier("test-secret"),
	}
	h.executor = NewExecutor(h.catalog, nil, h.publisher, ExecutorConfig{
		CompensationMaxAttempts: 2,
		CompensationBackoff:     time.Millisecond,
	})
	pipeline := NewPipeline(NewValidator(h.catalog), h.executor, NewRecorder(h.orders), h.publisher)
	h.checkout = NewCheckoutService(pipeline, h.orders, h.locker, h.verifier, CheckoutConfig{})
	return h
}

func flatProduct(name string, qty int) *models.Product {
	return &models.Product{
		ID:       uuid.New(),
		Name:     name,
		Price:    decimal.NewFromInt(10),
		Quantity: qty,
		Status:   models.ProductStatusActive,
	}
}

func variantProduct(name string, flat int, variantQty ...int) *models.Product {
	p := flatProduct(name, flat)
	for i, q := range variantQty {
		p.Variants = append(p.Variants, models.Variant{ProductID: p.ID, Position: i, Quantity: q})
	}
	return p
}

func line(p *models.Product, qty int) models.LineItem {
	return models.LineItem{
		ProductRef: p.ID.String(),
		Name:       p.Name,
		UnitPrice:  p.Price,
		Quantity:   qty,
	}
}
