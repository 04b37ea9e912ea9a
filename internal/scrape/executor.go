// Package scrape implements the Scrape Executor (spec.md §4.4): runs a
// single job end-to-end within a deadline, producing exactly one
// model.ScrapeOutcome.
package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/iaros/pricewatch/internal/canonical"
	"github.com/iaros/pricewatch/internal/extract"
	"github.com/iaros/pricewatch/internal/fetch"
	"github.com/iaros/pricewatch/internal/model"
	"github.com/iaros/pricewatch/internal/obs/logging"
	"github.com/iaros/pricewatch/internal/obs/metrics"
)

// minConfidence is the floor named in spec.md §4.4 step 2: a signal below
// this is treated the same as PARSE_MISS.
const minConfidence = 0.4

// AllowlistChecker reports whether a host may be scraped, backing the
// policy in spec.md §6.
type AllowlistChecker interface {
	Allowed(host string) bool
}

// Executor wires the canonicalizer, extractor registry and two-tier
// fetcher together into the step-by-step procedure spec.md §4.4 describes.
type Executor struct {
	http      fetch.Fetcher
	browser   fetch.Fetcher
	extractor *extract.Registry
	allowlist AllowlistChecker
	log       *logging.Logger
	metrics   *metrics.Registry // nil-safe; a nil Registry disables instrumentation
}

func NewExecutor(httpFetcher, browserFetcher fetch.Fetcher, extractor *extract.Registry, allowlist AllowlistChecker, log *logging.Logger, m *metrics.Registry) *Executor {
	return &Executor{http: httpFetcher, browser: browserFetcher, extractor: extractor, allowlist: allowlist, log: log, metrics: m}
}

// Run executes rawURL end-to-end. allowBrowserFallback gates step 3.
func (e *Executor) Run(ctx context.Context, rawURL string, allowBrowserFallback bool) model.ScrapeOutcome {
	start := time.Now()
	outcome := e.run(ctx, rawURL, allowBrowserFallback)
	if e.metrics != nil {
		e.metrics.ScrapeDuration.Observe(time.Since(start).Seconds())
		e.metrics.ScrapeOutcomes.WithLabelValues(string(outcome.Kind), string(tierFor(outcome))).Inc()
		if outcome.Success() {
			e.metrics.ExtractConfidence.Observe(outcome.Signal.Confidence)
		}
	}
	return outcome
}

func (e *Executor) run(ctx context.Context, rawURL string, allowBrowserFallback bool) model.ScrapeOutcome {
	canonURL, err := canonical.Canonicalize(rawURL)
	if err != nil {
		return model.ScrapeOutcome{Kind: model.KindInvalidURL, Detail: err.Error(), Hard: true}
	}

	if e.allowlist != nil && !e.allowlist.Allowed(hostOf(canonURL)) {
		return model.ScrapeOutcome{Kind: model.KindDomainBlocked, Detail: "host not in allowlist", Hard: true}
	}

	result, err := e.http.Fetch(ctx, canonURL, "")
	if err != nil {
		return outcomeFromFetchError(err)
	}

	outcome := e.extractAndScore(result, canonURL, model.FromHTTP)
	if outcome.Success() {
		return outcome
	}

	if outcome.Kind == model.KindParseMiss && allowBrowserFallback {
		return e.runBrowser(ctx, canonURL)
	}
	return outcome
}

func (e *Executor) runBrowser(ctx context.Context, canonURL string) model.ScrapeOutcome {
	result, err := e.browser.Fetch(ctx, canonURL, "")
	if err != nil {
		return outcomeFromFetchError(err)
	}
	return e.extractAndScore(result, canonURL, model.FromBrowser)
}

func (e *Executor) extractAndScore(result fetch.FetchResult, canonURL string, from model.ExtractedFrom) model.ScrapeOutcome {
	out := e.extractor.Extract(extract.Page{URL: canonURL, ContentType: result.ContentType, Body: result.Body})
	if out.ParseMiss || out.Signal.Confidence < minConfidence {
		return model.ScrapeOutcome{Kind: model.KindParseMiss, Detail: out.Detail, Hard: true}
	}
	signal := out.Signal
	signal.ExtractedFrom = from
	return model.ScrapeOutcome{Kind: model.KindSuccess, Signal: signal}
}

// tierFor reports which fetch tier produced outcome, for the
// scrape_outcomes_total{tier} label. A successful run carries its own
// ExtractedFrom; a failed run before any extraction is tierless.
func tierFor(outcome model.ScrapeOutcome) model.ExtractedFrom {
	if outcome.Success() {
		return outcome.Signal.ExtractedFrom
	}
	return ""
}

func outcomeFromFetchError(err error) model.ScrapeOutcome {
	ferr, ok := err.(*fetch.FetchError)
	if !ok {
		return model.ScrapeOutcome{Kind: model.KindNetworkError, Detail: err.Error(), Hard: false}
	}

	switch ferr.Kind {
	case fetch.FailTimeout:
		return model.ScrapeOutcome{Kind: model.KindTimeout, Detail: ferr.Message, Hard: false}
	case fetch.FailRateLimited:
		return model.ScrapeOutcome{Kind: model.KindRateLimited, Detail: ferr.Message, Hard: false}
	case fetch.FailBlocked:
		return model.ScrapeOutcome{Kind: model.KindBlocked, Detail: ferr.Message, Hard: true}
	case fetch.FailNetworkError:
		return model.ScrapeOutcome{Kind: model.KindNetworkError, Detail: ferr.Message, Hard: false}
	case fetch.FailBrowserError:
		return model.ScrapeOutcome{Kind: model.KindBrowserError, Detail: ferr.Message, Hard: false}
	case fetch.FailHTTPStatus:
		return model.ScrapeOutcome{Kind: model.KindHTTPStatus, Detail: ferr.Message, Hard: true}
	default:
		return model.ScrapeOutcome{Kind: model.KindNetworkError, Detail: ferr.Message, Hard: false}
	}
}

func hostOf(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	return s
}
