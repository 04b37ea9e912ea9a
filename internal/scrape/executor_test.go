package scrape_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/pricewatch/internal/extract"
	"github.com/iaros/pricewatch/internal/fetch"
	"github.com/iaros/pricewatch/internal/model"
	"github.com/iaros/pricewatch/internal/scrape"
)

type stubFetcher struct {
	tier   fetch.Tier
	result fetch.FetchResult
	err    *fetch.FetchError
	calls  int
}

func (s *stubFetcher) Tier() fetch.Tier { return s.tier }
func (s *stubFetcher) Fetch(ctx context.Context, url, userAgent string) (fetch.FetchResult, error) {
	s.calls++
	if s.err != nil {
		return fetch.FetchResult{}, s.err
	}
	return s.result, nil
}

type stubAdapter struct {
	signal    model.PriceSignal
	parseMiss bool
}

func (a stubAdapter) ID() string                      { return "stub" }
func (a stubAdapter) Claims(host string) bool         { return true }
func (a stubAdapter) Extract(page extract.Page) extract.Outcome {
	if a.parseMiss {
		return extract.Outcome{ParseMiss: true, Detail: "no price"}
	}
	return extract.Outcome{Signal: a.signal}
}

type allowAll struct{}

func (allowAll) Allowed(host string) bool { return true }

type denyAll struct{}

func (denyAll) Allowed(host string) bool { return false }

func TestExecutor_HappyPath(t *testing.T) {
	httpFetcher := &stubFetcher{tier: fetch.TierHTTP, result: fetch.FetchResult{StatusCode: 200, Body: []byte("<html></html>")}}
	browserFetcher := &stubFetcher{tier: fetch.TierBrowser}
	adapter := stubAdapter{signal: model.PriceSignal{Confidence: 1.0}}
	reg := extract.NewRegistry(adapter)

	exec := scrape.NewExecutor(httpFetcher, browserFetcher, reg, allowAll{}, nil, nil)
	out := exec.Run(context.Background(), "https://shop.example.com/p/1", true)

	require.True(t, out.Success())
	assert.Equal(t, 0, browserFetcher.calls)
	assert.Equal(t, model.FromHTTP, out.Signal.ExtractedFrom)
}

func TestExecutor_EscalatesToBrowserOnParseMiss(t *testing.T) {
	httpFetcher := &stubFetcher{tier: fetch.TierHTTP, result: fetch.FetchResult{StatusCode: 200, Body: []byte("<html></html>")}}
	browserResult := fetch.FetchResult{StatusCode: 200, Body: []byte("<html></html>")}
	browserFetcher := &stubFetcher{tier: fetch.TierBrowser, result: browserResult}

	misser := stubAdapter{parseMiss: true}
	reg := extract.NewRegistry(misser)

	exec := scrape.NewExecutor(httpFetcher, browserFetcher, reg, allowAll{}, nil, nil)
	out := exec.Run(context.Background(), "https://shop.example.com/p/2", true)

	// Both tiers use the same adapter which always misses, so the final
	// outcome is still a PARSE_MISS, but the browser tier must have run.
	assert.Equal(t, model.KindParseMiss, out.Kind)
	assert.Equal(t, 1, browserFetcher.calls)
}

func TestExecutor_NoBrowserFallbackWhenJobDisallows(t *testing.T) {
	httpFetcher := &stubFetcher{tier: fetch.TierHTTP, result: fetch.FetchResult{StatusCode: 200, Body: []byte("<html></html>")}}
	browserFetcher := &stubFetcher{tier: fetch.TierBrowser}
	misser := stubAdapter{parseMiss: true}
	reg := extract.NewRegistry(misser)

	exec := scrape.NewExecutor(httpFetcher, browserFetcher, reg, allowAll{}, nil, nil)
	out := exec.Run(context.Background(), "https://shop.example.com/p/3", false)

	assert.Equal(t, model.KindParseMiss, out.Kind)
	assert.True(t, out.Hard)
	assert.Equal(t, 0, browserFetcher.calls)
}

func TestExecutor_DomainBlockedByAllowlist(t *testing.T) {
	httpFetcher := &stubFetcher{tier: fetch.TierHTTP}
	browserFetcher := &stubFetcher{tier: fetch.TierBrowser}
	reg := extract.NewRegistry(stubAdapter{})

	exec := scrape.NewExecutor(httpFetcher, browserFetcher, reg, denyAll{}, nil, nil)
	out := exec.Run(context.Background(), "https://shop.example.com/p/4", true)

	assert.Equal(t, model.KindDomainBlocked, out.Kind)
	assert.True(t, out.Hard)
	assert.False(t, out.Retryable())
	assert.Equal(t, 0, httpFetcher.calls)
}

func TestExecutor_InvalidURLNeverRetryable(t *testing.T) {
	reg := extract.NewRegistry(stubAdapter{})
	exec := scrape.NewExecutor(&stubFetcher{}, &stubFetcher{}, reg, allowAll{}, nil, nil)

	out := exec.Run(context.Background(), "not a url", true)
	assert.Equal(t, model.KindInvalidURL, out.Kind)
	assert.False(t, out.Retryable())
}

func TestExecutor_TimeoutIsSoftFailAndRetryable(t *testing.T) {
	httpFetcher := &stubFetcher{tier: fetch.TierHTTP, err: &fetch.FetchError{Kind: fetch.FailTimeout, Message: "deadline exceeded"}}
	reg := extract.NewRegistry(stubAdapter{})

	exec := scrape.NewExecutor(httpFetcher, &stubFetcher{}, reg, allowAll{}, nil, nil)
	out := exec.Run(context.Background(), "https://shop.example.com/p/5", false)

	assert.Equal(t, model.KindTimeout, out.Kind)
	assert.False(t, out.Hard)
	assert.True(t, out.Retryable())
}

func TestExecutor_RateLimitedEscalatesNeverToBrowser(t *testing.T) {
	httpFetcher := &stubFetcher{tier: fetch.TierHTTP, err: &fetch.FetchError{Kind: fetch.FailRateLimited, Message: "429"}}
	browserFetcher := &stubFetcher{tier: fetch.TierBrowser}
	reg := extract.NewRegistry(stubAdapter{})

	exec := scrape.NewExecutor(httpFetcher, browserFetcher, reg, allowAll{}, nil, nil)
	out := exec.Run(context.Background(), "https://shop.example.com/p/6", true)

	assert.Equal(t, model.KindRateLimited, out.Kind)
	assert.Equal(t, 0, browserFetcher.calls)
}
