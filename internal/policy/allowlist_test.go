package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iaros/pricewatch/internal/policy"
)

func TestAllowlist_DisabledPermitsEverything(t *testing.T) {
	a := policy.NewAllowlist(false, []string{"shop.example.com"})
	assert.True(t, a.Allowed("anything.example.com"))
}

func TestAllowlist_EnabledRejectsUnlistedHost(t *testing.T) {
	a := policy.NewAllowlist(true, []string{"shop.example.com"})
	assert.False(t, a.Allowed("other.example.com"))
}

func TestAllowlist_EnabledIsCaseInsensitive(t *testing.T) {
	a := policy.NewAllowlist(true, []string{"Shop.Example.com"})
	assert.True(t, a.Allowed("shop.example.com"))
}
