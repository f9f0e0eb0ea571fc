package billing

import (
	"math"

	"github.com/acme/pbx-autodialer/internal/domain"
)

// DefaultCurrency is used when the tenant config carries none.
const DefaultCurrency = "USD"

const defaultIncrementSeconds = 60

// Charge is the result of rating one call leg. Pure data, no side
// effects anywhere in this package.
type Charge struct {
	Cost          float64
	Currency      string
	RatePerMinute float64
	BilledSeconds int
}

// Quote rates billSeconds against the tenant's billing policy.
//
// full_block charges whole increments rounded up; block_plus_one
// charges at least one increment, then per second. A non-positive rate
// or bill duration yields the setup fee only. Missing or invalid
// config values fall back to safe defaults.
func Quote(cfg domain.BillingConfig, billSeconds int) Charge {
	currency := cfg.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	increment := cfg.IncrementSeconds
	if increment <= 0 {
		increment = defaultIncrementSeconds
	}

	rate := cfg.RatePerMinute
	if rate < 0 {
		rate = 0
	}
	setupFee := cfg.SetupFee
	if setupFee < 0 {
		setupFee = 0
	}

	charge := Charge{Currency: currency, RatePerMinute: rate}

	if billSeconds <= 0 || rate <= 0 {
		charge.Cost = round4(setupFee)
		return charge
	}

	ratePerSecond := rate / 60

	switch cfg.IncrementMode {
	case domain.IncrementBlockPlusOne:
		billed := billSeconds
		if billed < increment {
			billed = increment
		}
		charge.BilledSeconds = billed
		charge.Cost = round4(setupFee + float64(billed)*ratePerSecond)
	default:
		// full_block, also the fallback for unknown modes
		units := int(math.Ceil(float64(billSeconds) / float64(increment)))
		charge.BilledSeconds = units * increment
		charge.Cost = round4(setupFee + float64(units*increment)*ratePerSecond)
	}

	return charge
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
