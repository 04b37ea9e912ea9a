// Package extract implements the Price Extractors (spec.md §4.2): a
// dispatcher holding per-domain adapters plus a generic fallback, turning a
// raw fetched page into a model.PriceSignal.
package extract

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/iaros/pricewatch/internal/model"
)

// Page is the raw fetched content handed to an Adapter.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// Outcome is an Adapter's result: either a signal, or a PARSE_MISS detail.
type Outcome struct {
	Signal    model.PriceSignal
	ParseMiss bool
	Detail    string
}

// Adapter is the capability-set every per-domain extractor implements,
// following spec.md §9's guidance to dispatch via an explicit registry
// rather than reflection or duck-typing.
type Adapter interface {
	// ID identifies this adapter; it is recorded as PriceSignal.AdapterID.
	ID() string
	// Claims reports whether this adapter handles pages from host.
	Claims(host string) bool
	// Extract must not perform I/O.
	Extract(page Page) Outcome
}

// Registry dispatches a Page to the first Adapter whose Claims(host)
// returns true, falling back to the generic adapter.
type Registry struct {
	adapters []Adapter
	generic  Adapter
	cache    hostCache
}

// hostCache memoizes host -> adapter lookups. Adapters are immutable and
// registered once at startup, so entries never need active invalidation;
// the TTL exists only to bound memory for registries that see a long tail
// of one-off hosts (spec.md §4.2, generic-adapter fallback hosts).
type hostCache interface {
	Get(host string) (Adapter, bool)
	Set(host string, a Adapter)
}

// hostCacheTTL is long relative to a scheduler tick: adapter assignment for
// a host is effectively permanent, this just reclaims cold entries.
const hostCacheTTL = 24 * time.Hour

// NewRegistry builds a dispatcher. adapters are tried in order; the first
// claiming one wins. generic is used when none claims the host.
func NewRegistry(generic Adapter, adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters, generic: generic, cache: newAdapterCache()}
}

// Select returns the adapter that would handle pages from host.
func (r *Registry) Select(rawURL string) Adapter {
	host := hostOf(rawURL)
	if a, ok := r.cache.Get(host); ok {
		return a
	}
	for _, a := range r.adapters {
		if a.Claims(host) {
			r.cache.Set(host, a)
			return a
		}
	}
	r.cache.Set(host, r.generic)
	return r.generic
}

// Extract selects the claiming adapter for page.URL and runs it.
func (r *Registry) Extract(page Page) Outcome {
	return r.Select(page.URL).Extract(page)
}

func hostOf(rawURL string) string {
	// Avoid importing net/url here to keep this a pure string op; the
	// canonicalizer is the authority on URL structure and callers are
	// expected to pass already-canonicalized URLs.
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 && !strings.Contains(s[i:], "]") {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// adapterCache is a patrickmn/go-cache-backed hostCache, matching the
// teacher's process-local TTL memoization idiom (pricing_service recommendation
// cache) rather than a hand-rolled map with no eviction.
type adapterCache struct {
	c *gocache.Cache
}

func newAdapterCache() *adapterCache {
	return &adapterCache{c: gocache.New(hostCacheTTL, hostCacheTTL/2)}
}

func (c *adapterCache) Get(host string) (Adapter, bool) {
	v, ok := c.c.Get(host)
	if !ok {
		return nil, false
	}
	a, ok := v.(Adapter)
	return a, ok
}

func (c *adapterCache) Set(host string, a Adapter) {
	c.c.SetDefault(host, a)
}
