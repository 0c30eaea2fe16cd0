package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// SessionOptions configure the shared Chrome process and each session
// spawned from it.
type SessionOptions struct {
	Headless  bool
	UserAgent string
	Proxy     string
	Language  string
	// Headers are sent with every request on top of Accept-Language,
	// e.g. the storefront API key.
	Headers   map[string]string
	ExtraArgs []chromedp.ExecAllocatorOption
}

// NewChromePool starts a shared Chrome allocator and returns a pool
// whose factory spawns warmed tabs from it.
func NewChromePool(size int, opts SessionOptions) *Pool {
	allocOpts := allocatorOptions(opts)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	p := NewPool(size, chromeFactory(allocCtx, opts))
	p.cleanup = allocCancel
	return p
}

// chromeFactory builds one tab context, hardens its network identity,
// and warms it up on a blank page so the first real navigation is fast.
func chromeFactory(allocCtx context.Context, opts SessionOptions) Factory {
	return func(id int) (*Handle, error) {
		ctx, cancel := chromedp.NewContext(allocCtx)

		lang := opts.Language
		if lang == "" {
			lang = "en-US"
		}
		headers := network.Headers{"Accept-Language": lang}
		for name, value := range opts.Headers {
			headers[name] = value
		}
		warmup := chromedp.Tasks{
			network.Enable(),
			emulation.SetUserAgentOverride(opts.UserAgent).
				WithAcceptLanguage(lang),
			network.SetExtraHTTPHeaders(headers),
			chromedp.Navigate("about:blank"),
		}
		if err := chromedp.Run(ctx, warmup); err != nil {
			cancel()
			return nil, fmt.Errorf("warm up browser session %d: %w", id, err)
		}

		log.Debug().Int("session_id", id).Msg("Browser session ready")
		return &Handle{id: id, ctx: ctx, cancel: cancel}, nil
	}
}

func allocatorOptions(opts SessionOptions) []chromedp.ExecAllocatorOption {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.Flag("disk-cache-size", "0"),
		chromedp.UserAgent(opts.UserAgent),
	}

	if path := FindChrome(); path != "" {
		allocOpts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(path)}, allocOpts...)
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	return append(allocOpts, opts.ExtraArgs...)
}
