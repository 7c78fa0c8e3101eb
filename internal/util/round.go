// Package util provides common helpers for price and quantity rounding.
package util

import "github.com/shopspring/decimal"

// FloorToStep rounds x down to the nearest multiple of step.
// For example, with step=0.001, 0.06789 becomes 0.067.
func FloorToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}

// CeilToStep rounds x up to the nearest multiple of step.
func CeilToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return x
	}
	return x.Div(step).Ceil().Mul(step)
}

// ClampInt constrains n to the inclusive range [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
