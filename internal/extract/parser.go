package extract

import (
	"fmt"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/dealhound/crawler/pkg/models"
)

// Field names produced by the parser. Stable: the stats aggregator and
// the product store key on them.
const (
	FieldPrice         = "price"
	FieldOriginalPrice = "original_price"
	FieldDiscountPct   = "discount_pct"
	FieldCouponCode    = "coupon_code"
	FieldPromoBadge    = "promo_badge"
	FieldCouponTerms   = "coupon_terms"
)

var termsConverter = md.NewConverter("", true, nil)

// ParseOffer pulls the offer fields out of a rendered product page.
// The second result reports a page that rendered fine but carries no
// offer at all. Selector misses fall through to the page's embedded
// state object, then to a raw attribute walk, before giving up.
func ParseOffer(pageHTML string) (models.FieldSet, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, false, NewError(KindUnknown, "", fmt.Errorf("parse page: %w", err))
	}

	if doc.Find(".product-detail, [data-product-id], #product").Length() == 0 {
		return nil, false, NewError(KindElementNotFound, "", ErrElementNotFound)
	}

	fields := models.FieldSet{}

	if text := firstText(doc, ".offer-price, .price-current, [data-price], .price"); text != "" {
		if price, ok := parsePrice(text); ok {
			fields[FieldPrice] = formatPrice(price)
		}
	}
	if text := firstText(doc, ".price-original, .price-was, del.price, s.price"); text != "" {
		if price, ok := parsePrice(text); ok {
			fields[FieldOriginalPrice] = formatPrice(price)
		}
	}
	if text := firstText(doc, ".discount-badge, [data-discount-pct]"); text != "" {
		if pct, ok := parsePrice(text); ok {
			fields[FieldDiscountPct] = formatPrice(pct)
		}
	}
	if code := firstAttrOrText(doc, "[data-coupon-code]", "data-coupon-code", ".coupon-code"); code != "" {
		fields[FieldCouponCode] = strings.TrimSpace(code)
	}
	if doc.Find(".promo-badge, [data-promo]").Length() > 0 {
		fields[FieldPromoBadge] = "true"
	}
	if sel := doc.Find(".coupon-terms").First(); sel.Length() > 0 {
		if inner, err := sel.Html(); err == nil {
			if terms, err := termsConverter.ConvertString(inner); err == nil {
				fields[FieldCouponTerms] = strings.TrimSpace(terms)
			}
		}
	}

	// The storefront renders prices client-side on some templates; the
	// data still sits in an embedded state object.
	if _, ok := fields[FieldPrice]; !ok {
		mergeStateObject(doc, fields)
	}
	if _, ok := fields[FieldPrice]; !ok {
		mergeAttributeWalk(pageHTML, fields)
	}

	if _, ok := fields[FieldPrice]; !ok {
		return nil, false, NewError(KindElementNotFound, "", ErrElementNotFound)
	}

	_, hasDiscount := fields[FieldDiscountPct]
	_, hasCoupon := fields[FieldCouponCode]
	_, hasOriginal := fields[FieldOriginalPrice]
	noOffer := !hasDiscount && !hasCoupon && !hasOriginal

	return fields, noOffer, nil
}

// mergeStateObject evaluates the page's inline __OFFER_STATE__ script
// in a throwaway JS runtime and copies any fields the selectors missed.
func mergeStateObject(doc *goquery.Document, fields models.FieldSet) {
	var script string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if text := sel.Text(); strings.Contains(text, "__OFFER_STATE__") {
			script = text
			return false
		}
		return true
	})
	if script == "" {
		return
	}

	vm := goja.New()
	window := vm.NewObject()
	vm.Set("window", window)
	if _, err := vm.RunString(script); err != nil {
		return
	}
	state := window.Get("__OFFER_STATE__")
	if state == nil || goja.IsUndefined(state) || goja.IsNull(state) {
		return
	}
	obj := state.ToObject(vm)

	setNum := func(field, key string) {
		if _, ok := fields[field]; ok {
			return
		}
		if v := obj.Get(key); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			fields[field] = formatPrice(v.ToFloat())
		}
	}
	setNum(FieldPrice, "price")
	setNum(FieldOriginalPrice, "originalPrice")
	setNum(FieldDiscountPct, "discountPct")

	if _, ok := fields[FieldCouponCode]; !ok {
		if v := obj.Get("couponCode"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			if code := strings.TrimSpace(v.String()); code != "" {
				fields[FieldCouponCode] = code
			}
		}
	}
}

// mergeAttributeWalk is the last resort: a raw token walk looking for
// microdata price attributes that survive even heavily obfuscated
// markup.
func mergeAttributeWalk(pageHTML string, fields models.FieldSet) {
	tokenizer := html.NewTokenizer(strings.NewReader(pageHTML))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			var isPrice bool
			var content string
			for _, attr := range token.Attr {
				switch attr.Key {
				case "itemprop":
					if attr.Val == "price" {
						isPrice = true
					}
				case "content":
					content = attr.Val
				}
			}
			if isPrice && content != "" {
				if price, ok := parsePrice(content); ok {
					fields[FieldPrice] = formatPrice(price)
					return
				}
			}
		}
	}
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func firstAttrOrText(doc *goquery.Document, attrSelector, attrName, textSelector string) string {
	if v, ok := doc.Find(attrSelector).First().Attr(attrName); ok {
		return v
	}
	return strings.TrimSpace(doc.Find(textSelector).First().Text())
}

// parsePrice extracts a number from storefront price text like
// "$1,299.99", "1.299,99 €", or "-20%".
func parsePrice(text string) (float64, bool) {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		}
	}
	raw := b.String()
	if raw == "" {
		return 0, false
	}

	// Whichever separator comes last is the decimal point.
	lastDot := strings.LastIndexByte(raw, '.')
	lastComma := strings.LastIndexByte(raw, ',')
	if lastComma > lastDot {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	} else {
		raw = strings.ReplaceAll(raw, ",", "")
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
