package domain

import "strings"

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// NormalizeBillingCycle translates provider vocabulary (Stripe "month"/"year",
// store "annual") into the internal cycle names.
func NormalizeBillingCycle(raw string) (BillingCycle, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "month", "monthly", "p1m":
		return BillingCycleMonthly, true
	case "year", "yearly", "annual", "annually", "p1y":
		return BillingCycleYearly, true
	default:
		return "", false
	}
}

func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}
