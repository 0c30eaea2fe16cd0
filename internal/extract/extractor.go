// Package extract renders catalog pages in a pooled browser session and
// parses offer data out of them.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/internal/browser"
	"github.com/dealhound/crawler/internal/ratelimit"
	"github.com/dealhound/crawler/pkg/models"
)

// ChromeExtractor renders pages through a pooled Chrome session. It
// holds no session itself; the caller passes the handle it owns.
type ChromeExtractor struct {
	baseURL string
	limiter *ratelimit.Limiter
	timeout time.Duration
}

// NewChromeExtractor builds an extractor for the storefront at baseURL.
func NewChromeExtractor(baseURL string, limiter *ratelimit.Limiter, timeout time.Duration) *ChromeExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromeExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		timeout: timeout,
	}
}

// Extract renders the product page for taskID and parses its offer
// fields. The second result reports a rendered page with no offer.
func (e *ChromeExtractor) Extract(ctx context.Context, taskID string, h *browser.Handle) (models.FieldSet, bool, error) {
	pageURL := e.productURL(taskID)
	if err := e.limiter.Wait(ctx, ratelimit.ScopeProduct, pageURL); err != nil {
		return nil, false, NewError(KindUnknown, taskID, err)
	}

	pageHTML, err := e.render(ctx, h, pageURL)
	if err != nil {
		return nil, false, e.classify(taskID, err)
	}
	if blocked(pageHTML) {
		return nil, false, NewError(KindBlocked, taskID, ErrBlocked)
	}

	fields, noOffer, err := ParseOffer(pageHTML)
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) {
			ee.TaskID = taskID
		}
		return nil, false, err
	}
	log.Debug().
		Str("task_id", taskID).
		Int("fields", len(fields)).
		Bool("no_offer", noOffer).
		Msg("Extracted product page")
	return fields, noOffer, nil
}

// FetchListing renders one page of the paginated catalog identified by
// the opaque cursor token ("" is page one) and parses its candidates.
func (e *ChromeExtractor) FetchListing(ctx context.Context, h *browser.Handle, cursorToken string) (ListingPage, error) {
	pageURL := e.listingURL(cursorToken)
	if err := e.limiter.Wait(ctx, ratelimit.ScopeListing, pageURL); err != nil {
		return ListingPage{}, NewError(KindUnknown, "", err)
	}

	pageHTML, err := e.render(ctx, h, pageURL)
	if err != nil {
		return ListingPage{}, e.classify("", err)
	}
	if blocked(pageHTML) {
		return ListingPage{}, NewError(KindBlocked, "", ErrBlocked)
	}
	return ParseListing(pageHTML)
}

// render navigates the session to pageURL and returns the settled DOM.
func (e *ChromeExtractor) render(ctx context.Context, h *browser.Handle, pageURL string) (string, error) {
	runCtx, cancel := context.WithTimeout(h.Context(), e.timeout)
	defer cancel()

	// Stop early when the orchestrator shuts down mid-navigation.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pageHTML string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &pageHTML),
	)
	if err != nil {
		return "", err
	}
	return pageHTML, nil
}

func (e *ChromeExtractor) classify(taskID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, taskID, err)
	}
	return NewError(KindUnknown, taskID, err)
}

// blocked sniffs captcha walls and access-denied interstitials in the
// rendered page.
func blocked(pageHTML string) bool {
	lower := strings.ToLower(pageHTML)
	for _, marker := range []string{
		"g-recaptcha",
		"cf-challenge",
		"are you a robot",
		"access denied",
		"unusual traffic",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (e *ChromeExtractor) productURL(taskID string) string {
	return fmt.Sprintf("%s/p/%s", e.baseURL, url.PathEscape(taskID))
}

func (e *ChromeExtractor) listingURL(cursorToken string) string {
	if cursorToken == "" {
		return e.baseURL + "/deals"
	}
	return e.baseURL + "/deals?cursor=" + url.QueryEscape(cursorToken)
}
