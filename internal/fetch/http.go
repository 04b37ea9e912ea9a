package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/iaros/pricewatch/internal/obs/logging"
)

// HttpFetcherConfig governs HttpFetcher, grounded on the teacher's
// client.Config (common/libraries/go/iaros-core/client.go).
type HttpFetcherConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgents   []string
}

// HttpFetcher is the fast tier of the two-tier Fetcher (spec.md §4.3): a
// resty client wrapping a per-host circuit breaker, following the teacher's
// HTTPClient pattern of resty (client.go here used net/http directly, this
// generalizes to resty as distribution_service/src/services/gds_service.go
// does for outbound airline GDS calls).
type HttpFetcher struct {
	client  *resty.Client
	cfg     HttpFetcherConfig
	log     *logging.Logger
	uaIndex uint64

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHttpFetcher builds an HttpFetcher. log may be nil.
func NewHttpFetcher(cfg HttpFetcherConfig, log *logging.Logger) *HttpFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 5
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = []string{"pricewatch-bot/1.0"}
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.MaxRedirects))

	return &HttpFetcher{
		client:   client,
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (f *HttpFetcher) Tier() Tier { return TierHTTP }

// Fetch issues one GET, dispatched through a per-host circuit breaker so a
// domain that is consistently failing stops being hammered (spec.md §4.7
// names the rate governor as the admission control; the breaker here is a
// complementary fast-fail for domains actively erroring, following the
// teacher's HTTPClient circuit-breaker wiring).
func (f *HttpFetcher) Fetch(ctx context.Context, url, userAgentOverride string) (FetchResult, error) {
	host := hostOf(url)
	breaker := f.breakerFor(host)

	ua := userAgentOverride
	if ua == "" {
		ua = f.nextUserAgent()
	}

	start := time.Now()
	result, err := breaker.Execute(func() (interface{}, error) {
		resp, err := f.client.R().
			SetContext(ctx).
			SetHeader("User-Agent", ua).
			SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
			Get(url)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		return resp, nil
	})

	elapsed := time.Since(start)

	if err != nil {
		if fe, ok := err.(*FetchError); ok {
			return FetchResult{}, fe
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return FetchResult{}, &FetchError{Kind: FailNetworkError, Message: "circuit open for " + host}
		}
		return FetchResult{}, &FetchError{Kind: FailNetworkError, Message: err.Error()}
	}

	resp := result.(*resty.Response)
	status := resp.StatusCode()

	switch {
	case status >= 200 && status < 300:
		return FetchResult{
			StatusCode:  status,
			Body:        resp.Body(),
			ContentType: resp.Header().Get("Content-Type"),
			FinalURL:    resp.Request.URL,
			Elapsed:     elapsed,
			Tier:        TierHTTP,
		}, nil
	case status == http.StatusTooManyRequests:
		return FetchResult{}, &FetchError{Kind: FailRateLimited, Message: "429 too many requests", StatusCode: status}
	case status == http.StatusForbidden || status == 451:
		return FetchResult{}, &FetchError{Kind: FailBlocked, Message: fmt.Sprintf("%d blocked", status), StatusCode: status}
	case status >= 500:
		return FetchResult{}, &FetchError{Kind: FailNetworkError, Message: fmt.Sprintf("%d server error", status), StatusCode: status}
	default:
		return FetchResult{}, &FetchError{Kind: FailHTTPStatus, Message: fmt.Sprintf("unexpected status %d", status), StatusCode: status}
	}
}

func (f *HttpFetcher) breakerFor(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "http-fetch:" + host,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 4
		},
	})
	f.breakers[host] = b
	return b
}

func (f *HttpFetcher) nextUserAgent() string {
	i := atomic.AddUint64(&f.uaIndex, 1)
	return f.cfg.UserAgents[int(i-1)%len(f.cfg.UserAgents)]
}

func classifyTransportError(err error) *FetchError {
	// resty surfaces context.DeadlineExceeded directly on a client timeout;
	// everything else is treated as a transport-level NETWORK_ERROR,
	// matching the teacher's coarse "retry on any transport error" handling
	// in client.go.
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FailTimeout, Message: err.Error()}
	}
	return &FetchError{Kind: FailNetworkError, Message: err.Error()}
}

func hostOf(rawURL string) string {
	s := rawURL
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			s = s[i+3:]
			break
		}
	}
	for i, c := range s {
		if c == '/' || c == '?' || c == '#' {
			return s[:i]
		}
	}
	return s
}
