package service

import (
	"storefront/internal/models"

	"github.com/google/uuid"
)

// SellableQuantity is the advertised stock of a product. With variants it is the sum of
// the variant pools only; the flat quantity then serves as hidden overflow and is not
// reported. Inactive or soft-deleted products report zero.
func SellableQuantity(p *models.Product) int {
	if p == nil || !p.Sellable() {
		return 0
	}
	if !p.HasVariants() {
		return max(p.Quantity, 0)
	}

	total := 0
	for _, v := range p.Variants {
		total += max(v.Quantity, 0)
	}
	return total
}

// ParseProductRef resolves a line item reference to a catalog id. References that are not
// catalog ids belong to legacy or external items, which are exempt from stock keeping.
func ParseProductRef(ref string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ref)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
