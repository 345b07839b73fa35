package service

import "storefront/internal/models"

// Draw is one planned reduction of a single stock pool
type Draw struct {
	Pool   int
	Amount int
}

// PlanDecrement splits a requested quantity across a product's pools.
//
// Without variants everything comes from the flat quantity. With variants the first
// variant in stored order holding stock gives min(held, qty) and any remainder comes
// from the flat quantity. When every variant is empty the flat quantity covers it all.
// The amounts always add up to qty.
//
// Advertised stock of a product with variants is the variant sum, so a checkout reaches
// the flat overflow only when its quantity is larger than the first stocked variant
// while the variants together still cover it; later variants are never drawn. Plans are
// made from the validated snapshot, so variant stock taken by a concurrent checkout
// fails the conditional decrement instead of spilling into the flat pool.
func PlanDecrement(p *models.Product, qty int) []Draw {
	if qty <= 0 {
		return nil
	}
	if !p.HasVariants() {
		return []Draw{{Pool: models.FlatPool, Amount: qty}}
	}

	for _, v := range p.Variants {
		if v.Quantity <= 0 {
			continue
		}
		take := min(v.Quantity, qty)
		draws := []Draw{{Pool: v.Position, Amount: take}}
		if rest := qty - take; rest > 0 {
			draws = append(draws, Draw{Pool: models.FlatPool, Amount: rest})
		}
		return draws
	}

	return []Draw{{Pool: models.FlatPool, Amount: qty}}
}

// applyDraw mirrors a committed draw on the in-memory product
func applyDraw(p *models.Product, d Draw) {
	if d.Pool == models.FlatPool {
		p.Quantity -= d.Amount
		return
	}
	for i := range p.Variants {
		if p.Variants[i].Position == d.Pool {
			p.Variants[i].Quantity -= d.Amount
			return
		}
	}
}
