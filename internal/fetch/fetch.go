// Package fetch implements the two-tier Fetcher (spec.md §4.3): a fast
// HTTP-only tier and a headless-browser fallback tier, both returning a
// uniform FetchResult the Scrape Executor classifies into a model.ScrapeOutcome.
package fetch

import (
	"context"
	"time"
)

// Tier identifies which fetch tier produced a result.
type Tier string

const (
	TierHTTP    Tier = "HTTP"
	TierBrowser Tier = "BROWSER"
)

// FetchResult is the raw output of one successful fetch attempt.
type FetchResult struct {
	StatusCode  int
	Body        []byte
	ContentType string
	FinalURL    string
	Elapsed     time.Duration
	Tier        Tier
}

// FailureKind classifies why a fetch did not produce a usable FetchResult,
// matching the vocabulary spec.md §4.3 names for fetcher-level failures so
// the Scrape Executor can map these directly to a model.OutcomeKind without
// this package importing the domain model.
type FailureKind string

const (
	FailTimeout      FailureKind = "TIMEOUT"
	FailRateLimited  FailureKind = "RATE_LIMITED"
	FailBlocked      FailureKind = "BLOCKED"
	FailNetworkError FailureKind = "NETWORK_ERROR"
	FailHTTPStatus   FailureKind = "HTTP_STATUS"
	FailBrowserError FailureKind = "BROWSER_ERROR"
)

// FetchError carries enough detail for the executor and logs without
// depending on *http.Response or chromedp internals.
type FetchError struct {
	Kind       FailureKind
	Message    string
	StatusCode int
}

func (e *FetchError) Error() string { return string(e.Kind) + ": " + e.Message }

// Fetcher retrieves a single page. Implementations must not perform the
// two-tier escalation themselves; that is the Scrape Executor's job.
type Fetcher interface {
	Fetch(ctx context.Context, url string, userAgent string) (FetchResult, error)
	Tier() Tier
}
