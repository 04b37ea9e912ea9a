package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/iaros/pricewatch/internal/obs/logging"
)

// BrowserFetcherConfig governs BrowserFetcher.
type BrowserFetcherConfig struct {
	Timeout time.Duration
}

// BrowserFetcher is the fallback tier of the two-tier Fetcher: a headless
// Chrome context per invocation, generalizing seongil99-stock-bot-go's
// fetchPrice (which waits for one selector) into full-page HTML capture,
// since price adapters need the whole DOM. It waits for <body> to be ready
// plus a fixed 500ms settle delay; it does not wait for network idle.
type BrowserFetcher struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	cfg      BrowserFetcherConfig
	log      *logging.Logger
}

// NewBrowserFetcher starts the shared headless allocator. Call Close when
// the process shuts down.
func NewBrowserFetcher(cfg BrowserFetcherConfig, log *logging.Logger) *BrowserFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Headless,
		chromedp.NoSandbox,
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &BrowserFetcher{allocCtx: allocCtx, cancel: cancel, cfg: cfg, log: log}
}

// Close releases the shared allocator and any browser process it started.
func (f *BrowserFetcher) Close() {
	f.cancel()
}

func (f *BrowserFetcher) Tier() Tier { return TierBrowser }

// Fetch navigates a fresh tab context to url, waits for the document to
// settle, and returns the fully-rendered HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, url, userAgent string) (FetchResult, error) {
	tabCtx, tabCancel := chromedp.NewContext(f.allocCtx)
	defer tabCancel()

	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, f.cfg.Timeout)
	defer timeoutCancel()

	var html string

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if userAgent != "" {
				return network.SetUserAgentOverride(userAgent).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond), // lets late async price widgets settle
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}

	start := time.Now()
	err := chromedp.Run(tabCtx, tasks)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return FetchResult{}, &FetchError{Kind: FailTimeout, Message: err.Error()}
		}
		return FetchResult{}, &FetchError{Kind: FailBrowserError, Message: err.Error()}
	}

	if html == "" {
		return FetchResult{}, &FetchError{Kind: FailBrowserError, Message: "empty document after render"}
	}

	return FetchResult{
		StatusCode:  200,
		Body:        []byte(html),
		ContentType: "text/html",
		FinalURL:    url,
		Elapsed:     elapsed,
		Tier:        TierBrowser,
	}, nil
}
