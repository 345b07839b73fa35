package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AvailabilityService answers "how many can be sold right now", served from a short-lived
// cache in front of the catalog. Checkouts never read from it. A quantity read while a
// checkout invalidated the product is returned but not cached.
type AvailabilityService struct {
	catalog Catalog
	cache   AvailabilityCache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewAvailabilityService creates a new availability service. cache may be nil.
func NewAvailabilityService(catalog Catalog, cache AvailabilityCache, ttl time.Duration) *AvailabilityService {
	return &AvailabilityService{
		catalog: catalog,
		cache:   cache,
		ttl:     ttl,
		logger:  util.GetLogger(),
	}
}

// SellableQuantity returns the advertised stock of a product
func (s *AvailabilityService) SellableQuantity(ctx context.Context, productID uuid.UUID) (int, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityService.SellableQuantity")
	defer span.End()

	cacheable := false
	var generation int64
	if s.cache != nil {
		qty, gen, hit, err := s.cache.GetAvailability(ctx, productID)
		switch {
		case err != nil:
			util.AvailabilityCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Availability cache read failed", zap.Error(err))
		case hit:
			util.AvailabilityCacheTotal.WithLabelValues("hit").Inc()
			return qty, nil
		default:
			util.AvailabilityCacheTotal.WithLabelValues("miss").Inc()
			cacheable = s.ttl > 0
			generation = gen
		}
	}

	product, err := s.catalog.ReadProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read product %s: %w", productID, err)
	}

	qty := SellableQuantity(product)
	if cacheable {
		stored, err := s.cache.SetAvailability(ctx, productID, qty, generation, s.ttl)
		if err != nil {
			s.logger.Warn("Availability cache write failed", zap.Error(err))
		} else if !stored {
			util.AvailabilityCacheTotal.WithLabelValues("stale").Inc()
		}
	}
	return qty, nil
}
