// Package dedup removes redundant offer candidates from a batch before
// scheduling. Variants of the same product frequently surface as near
// identical offers; scheduling all of them wastes extraction capacity on
// pages that will yield the same data.
package dedup

import (
	"github.com/dealhound/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// fingerprint is the composite key used in phase 2. Two offers with the
// same fingerprint inside one variant group are interchangeable.
type fingerprint struct {
	originalPrice float64
	currentPrice  float64
	discountPct   float64
	couponCode    string
}

// Filter applies the offer-value pre-filter and both dedup phases to a
// batch, preserving first-seen order. Fingerprints are only unique within
// the given batch; callers must not reuse a Filter result across batches.
//
// Phase 1 keys variants by price alone; phase 2 keys phase-1 survivors by
// the full (originalPrice, currentPrice, discountPct, couponCode)
// fingerprint. Items without a group key skip both phases. The pre-filter
// drops items carrying neither a discount nor a coupon, which have no
// scheduling value.
func Filter(items []models.TaskAttrs) []models.TaskAttrs {
	seenPrice := make(map[string]map[float64]bool)
	seenFull := make(map[string]map[fingerprint]bool)

	out := make([]models.TaskAttrs, 0, len(items))
	dropped := 0

	for _, item := range items {
		if !item.HasDiscount && !item.HasCoupon() {
			dropped++
			continue
		}
		if item.GroupKey == "" {
			out = append(out, item)
			continue
		}

		// Phase 1: identical price within the group.
		prices := seenPrice[item.GroupKey]
		if prices == nil {
			prices = make(map[float64]bool)
			seenPrice[item.GroupKey] = prices
		}
		if prices[item.Price] {
			dropped++
			continue
		}
		prices[item.Price] = true

		// Phase 2: identical composite fingerprint among phase-1 survivors.
		fp := fingerprint{
			originalPrice: item.OriginalPrice,
			currentPrice:  item.Price,
			discountPct:   item.DiscountPct,
			couponCode:    item.CouponCode,
		}
		fps := seenFull[item.GroupKey]
		if fps == nil {
			fps = make(map[fingerprint]bool)
			seenFull[item.GroupKey] = fps
		}
		if fps[fp] {
			dropped++
			continue
		}
		fps[fp] = true

		out = append(out, item)
	}

	if dropped > 0 {
		log.Debug().
			Int("in", len(items)).
			Int("out", len(out)).
			Int("dropped", dropped).
			Msg("Deduplicated candidate batch")
	}
	return out
}
