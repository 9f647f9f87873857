package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/billing"
	"github.com/jmmfcoutinho/idealista-web-scraper/utils"
)

const (
	pageLoadTimeout = 90 * time.Second
	selectorTimeout = 15 * time.Second

	brightDataHost = "brd.superproxy.io:9222"
)

// Options configures a BrowserClient.
type Options struct {
	// BrightDataUser/Pass select the remote scraping browser. When
	// empty the client drives a locally installed Chrome instead.
	BrightDataUser string
	BrightDataPass string

	// ChromeBin overrides local browser binary discovery.
	ChromeBin string

	// Delay is the pause between consecutive requests. A jitter of
	// ±25% is applied so the traffic pattern is not perfectly regular.
	Delay time.Duration

	MaxRetries int
}

// BrowserClient fetches pages through a headless Chrome session, either
// a remote scraping browser over CDP or a local binary.
type BrowserClient struct {
	allocCtx    context.Context
	cancelFuncs []context.CancelFunc

	delay   time.Duration
	retry   *utils.RetryConfig
	logger  *zap.SugaredLogger
	tracker *billing.BandwidthTracker

	mu          sync.Mutex
	lastRequest time.Time
}

// NewBrowserClient builds a client and its browser allocator. Close must
// be called to release the browser.
func NewBrowserClient(opts Options, logger *zap.SugaredLogger, tracker *billing.BandwidthTracker) (*BrowserClient, error) {
	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	c := &BrowserClient{
		delay:   opts.Delay,
		logger:  logger,
		tracker: tracker,
		retry: &utils.RetryConfig{
			MaxAttempts: attempts,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
			Logger:      logger,
		},
	}

	if opts.BrightDataUser != "" && opts.BrightDataPass != "" {
		wsURL := fmt.Sprintf("wss://%s@%s",
			url.UserPassword(opts.BrightDataUser, opts.BrightDataPass).String(), brightDataHost)
		logger.Infow("Using remote scraping browser", "host", brightDataHost)

		allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
		c.allocCtx = allocCtx
		c.cancelFuncs = append(c.cancelFuncs, cancel)
	} else {
		chromeBin := opts.ChromeBin
		if chromeBin == "" {
			chromeBin = findChromeBinary()
		}
		logger.Infow("Using local browser binary", "path", chromeBin)

		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
				"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		)
		if chromeBin != "" {
			execOpts = append(execOpts, chromedp.ExecPath(chromeBin))
		}

		allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
		c.allocCtx = allocCtx
		c.cancelFuncs = append(c.cancelFuncs, cancel)
	}

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(c.allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))
	c.allocCtx = silentCtx
	c.cancelFuncs = append(c.cancelFuncs, cancelSilent)

	return c, nil
}

// GetHTML navigates to url in a fresh tab and returns the rendered HTML.
// When waitSelector is non-empty the client waits for it to become
// visible; a timeout on the selector alone is logged and tolerated,
// since some pages render without it (empty result pages, redirects).
func (c *BrowserClient) GetHTML(ctx context.Context, pageURL, waitSelector string) (string, error) {
	c.pause()

	var html string
	start := time.Now()

	err := c.retry.Do(ctx, "get-html", func() error {
		tabCtx, cancelTab := chromedp.NewContext(c.allocCtx)
		defer cancelTab()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, pageLoadTimeout)
		defer cancelTimeout()

		if err := chromedp.Run(tabCtx, chromedp.Navigate(pageURL)); err != nil {
			return fmt.Errorf("navigate %s: %w", pageURL, err)
		}

		if waitSelector != "" {
			waitCtx, cancelWait := context.WithTimeout(tabCtx, selectorTimeout)
			err := chromedp.Run(waitCtx, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
			cancelWait()
			if err != nil {
				c.logger.Debugw("Wait selector missed, reading page anyway",
					"url", pageURL, "selector", waitSelector)
			}
		}

		if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("read html %s: %w", pageURL, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if c.tracker != nil {
		stats := c.tracker.Record(pageURL, len(html), time.Since(start))
		c.logger.Debugw("Fetched page",
			"url", pageURL, "kb", stats.BytesReceived/1024, "elapsed", stats.Duration)
	}
	return html, nil
}

// Close tears down the browser allocator.
func (c *BrowserClient) Close() error {
	for i := len(c.cancelFuncs) - 1; i >= 0; i-- {
		c.cancelFuncs[i]()
	}
	return nil
}

// pause enforces the inter-request delay with jitter. Safe for
// concurrent callers; each request pushes the shared clock forward.
func (c *BrowserClient) pause() {
	if c.delay <= 0 {
		return
	}

	c.mu.Lock()
	wait := time.Duration(0)
	if !c.lastRequest.IsZero() {
		next := c.lastRequest.Add(utils.JitterDuration(c.delay))
		wait = time.Until(next)
	}
	if wait > 0 {
		c.lastRequest = time.Now().Add(wait)
	} else {
		c.lastRequest = time.Now()
	}
	c.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
	}
	for _, p := range paths {
		if _, err := exec.LookPath(p); err == nil {
			return p
		}
	}
	return ""
}
