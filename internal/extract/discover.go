package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealhound/crawler/pkg/models"
)

// ListingPage is one parsed page of the paginated catalog.
type ListingPage struct {
	// Items are the offer candidates found on this page.
	Items []models.TaskAttrs
	// NextCursor is the opaque token for the following page; empty on
	// the last page.
	NextCursor string
}

// ParseListing pulls candidate ids, their listed offer hints, and the
// next pagination token out of a rendered listing page. Listing cards
// carry less data than product pages; only the fields shown on the card
// are filled in.
func ParseListing(pageHTML string) (ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ListingPage{}, NewError(KindUnknown, "", fmt.Errorf("parse listing: %w", err))
	}

	var page ListingPage
	doc.Find("[data-product-id]").Each(func(_ int, card *goquery.Selection) {
		id, _ := card.Attr("data-product-id")
		if id == "" {
			return
		}
		item := models.TaskAttrs{ID: id}
		if group, ok := card.Attr("data-group"); ok {
			item.GroupKey = group
		}
		if text := strings.TrimSpace(card.Find(".price").First().Text()); text != "" {
			if price, ok := parsePrice(text); ok {
				item.Price = price
			}
		}
		if text := strings.TrimSpace(card.Find(".price-was").First().Text()); text != "" {
			if price, ok := parsePrice(text); ok {
				item.OriginalPrice = price
				item.HasDiscount = item.Price > 0 && item.Price < price
			}
		}
		if text := strings.TrimSpace(card.Find(".discount-badge").First().Text()); text != "" {
			if pct, ok := parsePrice(text); ok {
				item.DiscountPct = pct
				item.HasDiscount = true
			}
		}
		if code, ok := card.Attr("data-coupon-code"); ok {
			item.CouponCode = strings.TrimSpace(code)
		}
		if card.Find(".promo-badge").Length() > 0 {
			item.PromoBadge = true
		}
		page.Items = append(page.Items, item)
	})

	if page.Items == nil && doc.Find(".listing, [data-listing]").Length() == 0 {
		return ListingPage{}, NewError(KindElementNotFound, "", ErrElementNotFound)
	}

	if token, ok := doc.Find("[data-next-cursor]").First().Attr("data-next-cursor"); ok {
		page.NextCursor = strings.TrimSpace(token)
	}
	return page, nil
}
