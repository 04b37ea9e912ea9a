package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/pricewatch/internal/fetch"
)

func TestHttpFetcher_SuccessReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := fetch.NewHttpFetcher(fetch.HttpFetcherConfig{UserAgents: []string{"test-agent/1.0"}}, nil)
	result, err := f.Fetch(context.Background(), srv.URL, "")

	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Contains(t, string(result.Body), "ok")
	assert.Equal(t, fetch.TierHTTP, result.Tier)
}

func TestHttpFetcher_ClassifiesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := fetch.NewHttpFetcher(fetch.HttpFetcherConfig{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL, "")

	require.Error(t, err)
	fe, ok := err.(*fetch.FetchError)
	require.True(t, ok)
	assert.Equal(t, fetch.FailRateLimited, fe.Kind)
}

func TestHttpFetcher_ClassifiesBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := fetch.NewHttpFetcher(fetch.HttpFetcherConfig{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL, "")

	require.Error(t, err)
	fe, ok := err.(*fetch.FetchError)
	require.True(t, ok)
	assert.Equal(t, fetch.FailBlocked, fe.Kind)
}

func TestHttpFetcher_ClassifiesServerErrorAsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := fetch.NewHttpFetcher(fetch.HttpFetcherConfig{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL, "")

	require.Error(t, err)
	fe, ok := err.(*fetch.FetchError)
	require.True(t, ok)
	assert.Equal(t, fetch.FailNetworkError, fe.Kind)
}

func TestHttpFetcher_ClassifiesOtherStatusAsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := fetch.NewHttpFetcher(fetch.HttpFetcherConfig{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL, "")

	require.Error(t, err)
	fe, ok := err.(*fetch.FetchError)
	require.True(t, ok)
	assert.Equal(t, fetch.FailHTTPStatus, fe.Kind)
}

func TestHttpFetcher_RotatesUserAgentsWhenNoOverride(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := fetch.NewHttpFetcher(fetch.HttpFetcherConfig{UserAgents: []string{"ua-a", "ua-b"}}, nil)
	for i := 0; i < 4; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, "")
		require.NoError(t, err)
	}

	require.Len(t, seen, 4)
	assert.Equal(t, []string{"ua-a", "ua-b", "ua-a", "ua-b"}, seen)
}
