package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ValidatedLine is a line item that passed validation. Product is nil for exempt
// legacy items; lines for the same product share one *Product.
type ValidatedLine struct {
	LineNo  int
	Item    models.LineItem
	Product *models.Product
}

// Validator checks requested lines against sellable stock without mutating anything
type Validator struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewValidator creates a new availability validator
func NewValidator(catalog Catalog) *Validator {
	return &Validator{
		catalog: catalog,
		logger:  util.GetLogger(),
	}
}

// Validate checks every line first to last and stops at the first failure. Demand for a
// product that appears on several lines is summed before comparing with its stock.
func (v *Validator) Validate(ctx context.Context, lines []models.LineItem) ([]ValidatedLine, error) {
	ctx, span := util.StartSpan(ctx, "Validator.Validate")
	defer span.End()

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: checkout has no lines", ErrInvalidLineItem)
	}

	products := make(map[uuid.UUID]*models.Product)
	claimed := make(map[uuid.UUID]int)
	out := make([]ValidatedLine, 0, len(lines))

	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d has quantity %d", ErrInvalidLineItem, i, line.Quantity)
		}

		id, ok := ParseProductRef(line.ProductRef)
		if !ok {
			v.logger.Debug("Exempt line item",
				zap.Int("line", i),
				zap.String("product_ref", line.ProductRef))
			out = append(out, ValidatedLine{LineNo: i, Item: line})
			continue
		}

		product, seen := products[id]
		if !seen {
			p, err := v.catalog.ReadProduct(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil, v.rejected(reject(ErrProductUnavailable, i, line.ProductRef, line.Name))
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read product %s: %w", id, err)
			}
			products[id] = p
			product = p
		}

		if !product.Sellable() {
			return nil, v.rejected(reject(ErrProductUnavailable, i, line.ProductRef, product.Name))
		}

		if SellableQuantity(product)-claimed[id] < line.Quantity {
			return nil, v.rejected(reject(ErrInsufficientStock, i, line.ProductRef, product.Name))
		}
		claimed[id] += line.Quantity

		out = append(out, ValidatedLine{LineNo: i, Item: line, Product: product})
	}

	return out, nil
}

func (v *Validator) rejected(err *RejectionError) error {
	reason := "insufficient_stock"
	if errors.Is(err, ErrProductUnavailable) {
		reason = "product_unavailable"
	}
	util.CheckoutRejectionsTotal.WithLabelValues(reason).Inc()
	v.logger.Info("Checkout rejected",
		zap.String("reason", reason),
		zap.String("product_id", err.ProductID),
		zap.Int("line", err.Line))
	return err
}
