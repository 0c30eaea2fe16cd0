package dedup

import (
	"fmt"
	"testing"

	"github.com/dealhound/crawler/pkg/models"
)

func TestPreFilterDropsOfferlessItems(t *testing.T) {
	items := []models.TaskAttrs{
		{ID: "a", Price: 10},
		{ID: "b", Price: 20, HasDiscount: true},
		{ID: "c", Price: 30, CouponCode: "SAVE5"},
	}
	out := Filter(items)
	if len(out) != 2 {
		t.Fatalf("got %d survivors, want 2", len(out))
	}
	if out[0].ID != "b" || out[1].ID != "c" {
		t.Errorf("survivors = %q, %q; want b, c", out[0].ID, out[1].ID)
	}
}

func TestSamePriceInGroupKeepsFirst(t *testing.T) {
	items := make([]models.TaskAttrs, 5)
	for i := range items {
		items[i] = models.TaskAttrs{
			ID:          fmt.Sprintf("v%d", i),
			GroupKey:    "g1",
			Price:       49.99,
			HasDiscount: true,
		}
	}
	out := Filter(items)
	if len(out) != 1 {
		t.Fatalf("got %d survivors, want 1", len(out))
	}
	if out[0].ID != "v0" {
		t.Errorf("survivor = %q, want first-seen v0", out[0].ID)
	}
}

func TestDuplicateRowDropped(t *testing.T) {
	items := []models.TaskAttrs{
		{ID: "a", GroupKey: "g", Price: 10, OriginalPrice: 20, DiscountPct: 50, CouponCode: "X", HasDiscount: true},
		{ID: "b", GroupKey: "g", Price: 12, OriginalPrice: 20, DiscountPct: 40, CouponCode: "X", HasDiscount: true},
		{ID: "c", GroupKey: "g", Price: 10, OriginalPrice: 20, DiscountPct: 50, CouponCode: "X", HasDiscount: true},
	}
	out := Filter(items)
	if len(out) != 2 {
		t.Fatalf("got %d survivors, want 2", len(out))
	}
	if out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("survivors = %q, %q; want a, b", out[0].ID, out[1].ID)
	}
}

func TestUngroupedItemsBypassDedup(t *testing.T) {
	items := []models.TaskAttrs{
		{ID: "a", Price: 10, HasDiscount: true},
		{ID: "b", Price: 10, HasDiscount: true},
		{ID: "c", Price: 10, HasDiscount: true},
	}
	out := Filter(items)
	if len(out) != 3 {
		t.Fatalf("got %d survivors, want all 3 ungrouped items", len(out))
	}
}

func TestGroupsAreIndependent(t *testing.T) {
	items := []models.TaskAttrs{
		{ID: "a", GroupKey: "g1", Price: 10, HasDiscount: true},
		{ID: "b", GroupKey: "g2", Price: 10, HasDiscount: true},
	}
	out := Filter(items)
	if len(out) != 2 {
		t.Fatalf("got %d survivors, want 2: price dedup must not cross groups", len(out))
	}
}

func TestEmptyInput(t *testing.T) {
	if out := Filter(nil); len(out) != 0 {
		t.Errorf("Filter(nil) = %d items, want 0", len(out))
	}
}
