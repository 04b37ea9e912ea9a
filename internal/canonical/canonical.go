// Package canonical implements the URL Canonicalizer (spec.md §4.1): a pure,
// deterministic function from a competitor URL to the canonical form used as
// the (product, competitor URL) dedupe key.
package canonical

import (
	"net/url"
	"sort"
	"strings"

	"github.com/iaros/pricewatch/internal/apperr"
)

// trackingParamPrefixes and trackingParams are the default stripped set
// named in spec.md §4.1 step 4.
var trackingParamPrefixes = []string{"utm_", "mc_"}
var trackingParams = map[string]bool{
	"gclid":  true,
	"fbclid": true,
	"ref":    true,
}

// defaultPorts maps scheme to the port that is implicit and therefore
// stripped during canonicalization.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize reduces a raw competitor URL to its canonical form.
// It fails with an apperr InvalidInput error when the URL is empty or
// unparseable, the scheme is not http/https, or the host is empty.
func Canonicalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperr.NewInvalidInput("canonicalize", "empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.NewInvalidInput("canonicalize", "unparseable url: "+err.Error())
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", apperr.NewInvalidInput("canonicalize", "unsupported scheme: "+u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", apperr.NewInvalidInput("canonicalize", "empty host")
	}

	port := u.Port()
	hostport := host
	if port != "" && port != defaultPorts[scheme] {
		hostport = host + ":" + port
	}

	// The path keeps the escaped form url.Parse preserved: percent-encoded
	// sequences are not decoded or case-normalized, so "/%41" and "/A" (or
	// "%2f" and "%2F") yield different canonical URLs.
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	query := canonicalizeQuery(u.Query())

	result := scheme + "://" + hostport + path
	if query != "" {
		result += "?" + query
	}
	return result, nil
}

// canonicalizeQuery sorts parameters by name and drops tracking parameters.
func canonicalizeQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if isTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for j, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
			_ = i
			_ = j
		}
	}
	return b.String()
}

func isTrackingParam(name string) bool {
	lname := strings.ToLower(name)
	if trackingParams[lname] {
		return true
	}
	for _, prefix := range trackingParamPrefixes {
		if strings.HasPrefix(lname, prefix) {
			return true
		}
	}
	return false
}
