package domain

import "strings"

// AppleProduct maps a store product id to an internal tier and cycle.
type AppleProduct struct {
	Tier  string
	Cycle BillingCycle
}

var appleProducts = map[string]AppleProduct{
	"subtrack.premium.monthly": {Tier: TierPremium, Cycle: BillingCycleMonthly},
	"subtrack.premium.yearly":  {Tier: TierPremium, Cycle: BillingCycleYearly},
	"subtrack.premium.annual":  {Tier: TierPremium, Cycle: BillingCycleYearly},
}

// LookupAppleProduct never fails: product ids can ship before this table is
// updated, so unknown ids resolve to premium with a cycle guessed from the id.
func LookupAppleProduct(productID string) (AppleProduct, bool) {
	id := strings.ToLower(strings.TrimSpace(productID))
	if p, ok := appleProducts[id]; ok {
		return p, true
	}

	cycle := BillingCycleMonthly
	if strings.Contains(id, "year") || strings.Contains(id, "annual") {
		cycle = BillingCycleYearly
	}
	return AppleProduct{Tier: TierPremium, Cycle: cycle}, false
}
