package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBillingCycle(t *testing.T) {
	cases := map[string]BillingCycle{
		"month":    BillingCycleMonthly,
		"Monthly":  BillingCycleMonthly,
		"year":     BillingCycleYearly,
		"yearly":   BillingCycleYearly,
		" annual ": BillingCycleYearly,
	}
	for raw, want := range cases {
		got, ok := NormalizeBillingCycle(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := NormalizeBillingCycle("weekly")
	assert.False(t, ok)
}

func TestLookupAppleProduct(t *testing.T) {
	p, known := LookupAppleProduct("subtrack.premium.annual")
	require.True(t, known)
	assert.Equal(t, TierPremium, p.Tier)
	assert.Equal(t, BillingCycleYearly, p.Cycle)

	p, known = LookupAppleProduct("subtrack.pro.yearly.v2")
	assert.False(t, known)
	assert.Equal(t, TierPremium, p.Tier)
	assert.Equal(t, BillingCycleYearly, p.Cycle)

	p, known = LookupAppleProduct("something.new")
	assert.False(t, known)
	assert.Equal(t, BillingCycleMonthly, p.Cycle)
}
