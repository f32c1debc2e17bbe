// Package risk implements the Risk Manager (C4): tick/step rounding,
// liquidation-price and margin math, averaging-order pricing, and the
// stepped trailing-stop level function. It never opens a network
// connection — callers pass in SymbolRules and balances fetched through
// the Exchange Gateway.
package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"scalper/pkg/types"
)

// RoundToTick rounds price to the nearest multiple of tick, eliminating the
// float artefacts that plain float64 arithmetic accumulates (§4.4,
// property 4: round-trip rounding is idempotent).
func RoundToTick(price, tick float64) float64 {
	return roundToMultiple(price, tick)
}

// RoundToStep rounds qty to the nearest multiple of step.
func RoundToStep(qty, step float64) float64 {
	return roundToMultiple(qty, step)
}

func roundToMultiple(value, unit float64) float64 {
	if unit <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	u := decimal.NewFromFloat(unit)
	quotient := v.Div(u).Round(0)
	result, _ := quotient.Mul(u).Float64()
	return result
}

// EnforceNotional increases qty by the smallest number of steps until
// price*qty >= minNotional and qty >= minQty, per §4.4.
func EnforceNotional(price, qty float64, rules types.SymbolRules) float64 {
	qty = RoundToStep(qty, rules.StepSize)
	if qty < rules.MinQty {
		qty = RoundToStep(rules.MinQty, rules.StepSize)
	}
	if rules.MinNotional <= 0 || rules.StepSize <= 0 {
		return qty
	}
	for price*qty < rules.MinNotional {
		qty = RoundToStep(qty+rules.StepSize, rules.StepSize)
	}
	return qty
}

// MinMargin computes the minimum margin required to open a position at
// price with the given leverage, per §4.4:
// min_qty_effective = max(min_qty, ceil(min_notional/price, step));
// min_margin = price * min_qty_effective / leverage.
func MinMargin(rules types.SymbolRules, price float64, leverage int) float64 {
	if leverage <= 0 || price <= 0 {
		return 0
	}
	minQtyEffective := rules.MinQty
	if rules.MinNotional > 0 {
		needed := ceilToStep(rules.MinNotional/price, rules.StepSize)
		if needed > minQtyEffective {
			minQtyEffective = needed
		}
	}
	return price * minQtyEffective / float64(leverage)
}

func ceilToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Ceil(value/step) * step
}
