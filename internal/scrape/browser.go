package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	appLog "eventletter/internal/log"
)

// Default browser parameters.
const (
	DefaultTimeout     = 90 * time.Second
	DefaultSettleDelay = 2 * time.Second
	DefaultWaitTimeout = 30 * time.Second

	viewportWidth  = 1920
	viewportHeight = 1080
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// BrowserOptions configures a headless Chromium session.
type BrowserOptions struct {
	// Timeout bounds a single page load including waits.
	Timeout time.Duration
	// SettleDelay is slept after the page is ready so late scripts can render.
	SettleDelay time.Duration
	// WaitTimeout bounds the wait for a page's ready selector. A page whose
	// selector never appears is still returned as it is.
	WaitTimeout time.Duration
}

// Browser renders pages in one headless Chromium process, one tab per page.
type Browser struct {
	opts        BrowserOptions
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelCtx   context.CancelFunc

	start    sync.Once
	startErr error
}

// NewBrowser starts Chromium lazily on the first Fetch. Close releases it.
func NewBrowser(parent context.Context, opts BrowserOptions) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(viewportWidth, viewportHeight),
		chromedp.UserAgent(userAgent),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	return &Browser{opts: opts, ctx: ctx, cancelAlloc: cancelAlloc, cancelCtx: cancelCtx}
}

// Fetch navigates a new tab to url, waits for waitFor (a CSS selector, may be
// empty) and returns the rendered document HTML.
func (b *Browser) Fetch(ctx context.Context, url, waitFor string) (string, error) {
	// Tabs share the browser only once it runs on the long-lived context.
	b.start.Do(func() { b.startErr = chromedp.Run(b.ctx) })
	if b.startErr != nil {
		return "", fmt.Errorf("scrape: start browser: %w", b.startErr)
	}

	tab, cancelTab := chromedp.NewContext(b.ctx)
	defer cancelTab()

	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	tab, cancelTimeout := context.WithTimeout(tab, b.opts.Timeout)
	defer cancelTimeout()

	if err := chromedp.Run(tab,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("scrape: load %s: %w", url, err)
	}

	if waitFor != "" {
		waitCtx, cancelWait := context.WithTimeout(tab, b.opts.WaitTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(waitFor, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("scrape: wait for %s: %w", waitFor, err)
			}
			appLog.Warn("ready selector did not appear", "url", url, "selector", waitFor)
		}
	}

	var html string
	if err := chromedp.Run(tab,
		chromedp.Sleep(b.opts.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("scrape: read %s: %w", url, err)
	}
	return html, nil
}

// Close shuts the browser down.
func (b *Browser) Close() {
	b.cancelCtx()
	b.cancelAlloc()
}
