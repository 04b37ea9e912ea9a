package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/pricewatch/internal/canonical"
)

func TestCanonicalize_DedupScenario(t *testing.T) {
	c1, err := canonical.Canonicalize("https://Shop.example.com/p/42?utm_source=x&ref=a")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/p/42", c1)

	c2, err := canonical.Canonicalize("https://shop.example.com/p/42/?ref=b")
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"https://Example.COM:443/Path/?b=2&a=1&utm_campaign=x",
		"http://example.com:80/",
		"https://example.com/a/b/c?z=1",
	}
	for _, in := range inputs {
		once, err := canonical.Canonicalize(in)
		require.NoError(t, err)
		twice, err := canonical.Canonicalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "canonicalize should be idempotent for %q", in)
	}
}

func TestCanonicalize_CollapsesVariants(t *testing.T) {
	variants := []string{
		"https://example.com/item?b=2&a=1",
		"https://EXAMPLE.com/item?a=1&b=2",
		"https://example.com/item/?a=1&b=2",
		"https://example.com/item?a=1&b=2#section",
		"https://example.com/item?a=1&b=2&utm_source=newsletter&gclid=123",
	}
	var canonicalForm string
	for i, v := range variants {
		got, err := canonical.Canonicalize(v)
		require.NoError(t, err)
		if i == 0 {
			canonicalForm = got
			continue
		}
		assert.Equal(t, canonicalForm, got, "variant %q should collapse", v)
	}
}

func TestCanonicalize_StripsDefaultPort(t *testing.T) {
	got, err := canonical.Canonicalize("https://example.com:443/p")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/p", got)

	got, err = canonical.Canonicalize("https://example.com:8443/p")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443/p", got)
}

func TestCanonicalize_RejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"ftp://example.com/file",
		"mailto:someone@example.com",
		"https:///no-host",
	}
	for _, in := range cases {
		_, err := canonical.Canonicalize(in)
		assert.Error(t, err, "expected error for %q", in)
	}
}

func TestCanonicalize_RootPathKeepsSlash(t *testing.T) {
	got, err := canonical.Canonicalize("https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", got)
}
