package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultCompensationAttempts = 3
	defaultCompensationBackoff  = 50 * time.Millisecond
)

// ExecutorConfig tunes compensation retries
type ExecutorConfig struct {
	CompensationMaxAttempts int
	CompensationBackoff     time.Duration
}

// Commit is the set of decrements applied for one checkout
type Commit struct {
	CheckoutID string
	Movements  []models.StockMovement
}

// Executor applies validated checkouts to the catalog through conditional decrements and
// undoes them with compensating increments when the checkout cannot complete.
type Executor struct {
	catalog     Catalog
	cache       AvailabilityCache
	publisher   EventPublisher
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewExecutor creates a new decrement executor. cache and publisher may be nil.
func NewExecutor(catalog Catalog, cache AvailabilityCache, publisher EventPublisher, cfg ExecutorConfig) *Executor {
	if cfg.CompensationMaxAttempts <= 0 {
		cfg.CompensationMaxAttempts = defaultCompensationAttempts
	}
	if cfg.CompensationBackoff <= 0 {
		cfg.CompensationBackoff = defaultCompensationBackoff
	}
	return &Executor{
		catalog:     catalog,
		cache:       cache,
		publisher:   publisher,
		maxAttempts: cfg.CompensationMaxAttempts,
		backoff:     cfg.CompensationBackoff,
		logger:      util.GetLogger(),
	}
}

// Commit decrements every non-exempt line. On a late conflict the decrements already
// applied are compensated and an InsufficientStock rejection is returned. On a store
// failure the uncertain write is compensated along with them and the failure is
// returned. If compensation itself fails the result is a *ReconciliationError.
func (e *Executor) Commit(ctx context.Context, checkoutID string, lines []ValidatedLine) (*Commit, error) {
	ctx, span := util.StartSpan(ctx, "Executor.Commit")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockCommitLatency.Observe(time.Since(start).Seconds())
	}()

	logger := util.LoggerFromContext(ctx, e.logger).With(zap.String("checkout_id", checkoutID))

	local := make(map[uuid.UUID]*models.Product)
	var applied []models.StockMovement

	for _, line := range lines {
		if line.Product == nil {
			continue
		}

		p, ok := local[line.Product.ID]
		if !ok {
			p = line.Product.Clone()
			local[p.ID] = p
		}

		for _, d := range PlanDecrement(p, line.Item.Quantity) {
			mv := models.StockMovement{
				CheckoutID:      checkoutID,
				LineNo:          line.LineNo,
				Pool:            d.Pool,
				Kind:            models.MovementDecrement,
				ProductID:       p.ID,
				Amount:          d.Amount,
				ExpectedMinimum: d.Amount,
			}

			ok, err := e.catalog.ConditionalDecrement(ctx, mv)
			if err != nil {
				util.StockDecrementsTotal.WithLabelValues(poolLabel(d.Pool), "error").Inc()
				logger.Error("Decrement failed",
					zap.String("product_id", p.ID.String()),
					zap.Int("pool", d.Pool),
					zap.Error(err))
				// the failed write may have landed; compensating it is a no-op if it did not
				pending := append(applied[:len(applied):len(applied)], mv)
				if cerr := e.compensate(ctx, checkoutID, pending, fmt.Sprintf("decrement failed: %v", err)); cerr != nil {
					return nil, cerr
				}
				return nil, fmt.Errorf("stock commit for checkout %s failed: %w", checkoutID, err)
			}

			if !ok {
				util.StockDecrementsTotal.WithLabelValues(poolLabel(d.Pool), "conflict").Inc()
				logger.Info("Late stock conflict",
					zap.String("product_id", p.ID.String()),
					zap.Int("line", line.LineNo),
					zap.Int("pool", d.Pool))
				if cerr := e.compensate(ctx, checkoutID, applied, "late stock conflict"); cerr != nil {
					return nil, cerr
				}
				util.CheckoutRejectionsTotal.WithLabelValues("late_conflict").Inc()
				return nil, reject(ErrInsufficientStock, line.LineNo, line.Item.ProductRef, p.Name)
			}

			util.StockDecrementsTotal.WithLabelValues(poolLabel(d.Pool), "applied").Inc()
			applied = append(applied, mv)
			applyDraw(p, d)
		}
	}

	e.invalidate(ctx, applied)

	return &Commit{CheckoutID: checkoutID, Movements: applied}, nil
}

// Compensate undoes a whole commit, used when the order could not be recorded
func (e *Executor) Compensate(ctx context.Context, c *Commit, reason string) error {
	if c == nil {
		return nil
	}
	return e.compensate(ctx, c.CheckoutID, c.Movements, reason)
}

// Reconcile retries the compensation of movements a failed checkout left behind and
// closes their reconciliation entries once every one of them is restored. Increments
// are keyed per checkout line and pool, so movements restored earlier are skipped.
func (e *Executor) Reconcile(ctx context.Context, checkoutID string, movements []models.StockMovement) error {
	ctx, span := util.StartSpan(ctx, "Executor.Reconcile")
	defer span.End()

	for i := len(movements) - 1; i >= 0; i-- {
		mv := movements[i]
		if err := e.compensateOne(ctx, mv); err != nil {
			util.StockCompensationsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("reconcile checkout %s: %w", checkoutID, err)
		}
		util.StockCompensationsTotal.WithLabelValues("applied").Inc()
	}

	e.invalidate(ctx, movements)

	if err := e.catalog.ResolveReconciliations(ctx, checkoutID); err != nil {
		return err
	}
	e.logger.Info("Checkout reconciled",
		zap.String("checkout_id", checkoutID),
		zap.Int("movements", len(movements)))
	return nil
}

func (e *Executor) compensateOne(ctx context.Context, mv models.StockMovement) error {
	backoff := retry.WithMaxRetries(uint64(e.maxAttempts-1), retry.NewExponential(e.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := e.catalog.CompensateIncrement(ctx, mv); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (e *Executor) compensate(ctx context.Context, checkoutID string, movements []models.StockMovement, reason string) error {
	if len(movements) == 0 {
		return nil
	}

	// compensation must finish even when the request that started it has gone away
	ctx = context.WithoutCancel(ctx)
	logger := util.LoggerFromContext(ctx, e.logger).With(zap.String("checkout_id", checkoutID))

	var outstanding []models.StockMovement
	var lastErr error

	for i := len(movements) - 1; i >= 0; i-- {
		mv := movements[i]
		if err := e.compensateOne(ctx, mv); err != nil {
			util.StockCompensationsTotal.WithLabelValues("failed").Inc()
			logger.Error("Compensation failed",
				zap.String("product_id", mv.ProductID.String()),
				zap.Int("line", mv.LineNo),
				zap.Int("pool", mv.Pool),
				zap.Int("amount", mv.Amount),
				zap.Error(err))
			outstanding = append(outstanding, mv)
			lastErr = err
			continue
		}
		util.StockCompensationsTotal.WithLabelValues("applied").Inc()
	}

	e.invalidate(ctx, movements)

	if len(outstanding) == 0 {
		logger.Info("Checkout compensated", zap.Int("movements", len(movements)), zap.String("reason", reason))
		return nil
	}
	return e.escalate(ctx, checkoutID, outstanding, reason, lastErr)
}

// escalate queues movements that could not be restored for manual reconciliation
func (e *Executor) escalate(ctx context.Context, checkoutID string, outstanding []models.StockMovement, reason string, cause error) error {
	util.ReconciliationsRequiredTotal.Inc()
	logger := util.LoggerFromContext(ctx, e.logger).With(zap.String("checkout_id", checkoutID))

	if err := e.catalog.RecordReconciliation(ctx, checkoutID, outstanding, reason); err != nil {
		logger.Error("Failed to record reconciliation", zap.Error(err))
	}

	if e.publisher != nil {
		event := &models.StockReconciliationRequiredEvent{
			BaseEvent:  models.NewBaseEvent(models.EventTypeStockReconciliationRequired),
			CheckoutID: checkoutID,
			Reason:     reason,
			Movements:  outstanding,
		}
		if err := e.publisher.PublishStockReconciliationRequired(ctx, event); err != nil {
			logger.Error("Failed to publish StockReconciliationRequired event", zap.Error(err))
		}
	}

	return &ReconciliationError{CheckoutID: checkoutID, Movements: outstanding, Cause: cause}
}

func (e *Executor) invalidate(ctx context.Context, movements []models.StockMovement) {
	if e.cache == nil || len(movements) == 0 {
		return
	}
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0, len(movements))
	for _, mv := range movements {
		if !seen[mv.ProductID] {
			seen[mv.ProductID] = true
			ids = append(ids, mv.ProductID)
		}
	}
	if err := e.cache.InvalidateAvailability(ctx, ids...); err != nil {
		e.logger.Warn("Failed to invalidate availability cache", zap.Error(err))
	}
}

func poolLabel(pool int) string {
	if pool == models.FlatPool {
		return "flat"
	}
	return "variant"
}
