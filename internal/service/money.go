package service

import (
	"math"

	"github.com/shopspring/decimal"
)

// round2 rounds half away from zero to cents.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}

// roundUnit rounds to a whole currency unit.
func roundUnit(v float64) float64 {
	return decimal.NewFromFloat(v).Round(0).InexactFloat64()
}

// splitCommission returns the platform commission and the mechanic's net for
// amount, computed in decimal so that the two parts always sum to amount.
func splitCommission(amount, rate float64) (commission, net float64) {
	a := decimal.NewFromFloat(amount)
	c := a.Mul(decimal.NewFromFloat(rate)).Round(2)
	return c.InexactFloat64(), a.Sub(c).Round(2).InexactFloat64()
}

// validAmount reports whether v is a finite positive amount, or zero when
// allowZero is set.
func validAmount(v float64, allowZero bool) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if allowZero {
		return v >= 0
	}
	return v > 0
}
