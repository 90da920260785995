// Package energy holds the balance arithmetic shared by the drain tick and the stores.
package energy

import "math"

// Balance is the funding state of one claim.
type Balance struct {
	EnergyTime     int64
	EconomyBalance float64
	InitialGrace   int64
}

func (b Balance) Funded() bool {
	return b.EnergyTime > 0 || b.EconomyBalance > 0 || b.InitialGrace > 0
}

func (b Balance) Exhausted() bool { return !b.Funded() }

// Seconds is the total funded time left at the given price.
func (b Balance) Seconds(pricePerSecond float64) float64 {
	s := float64(b.EnergyTime) + float64(b.InitialGrace)
	if pricePerSecond > 0 {
		s += b.EconomyBalance / pricePerSecond
	}
	return s
}

// Drain consumes seconds from energy time, then from the economy balance
// converted at pricePerSecond, then from the grace time. Nothing goes below zero.
func Drain(b Balance, seconds int64, pricePerSecond float64) Balance {
	b = b.clamped()
	if seconds <= 0 || !b.Funded() {
		return b
	}
	if b.EnergyTime >= seconds {
		b.EnergyTime -= seconds
		return b
	}
	remaining := float64(seconds - b.EnergyTime)
	b.EnergyTime = 0

	if b.EconomyBalance > 0 && pricePerSecond > 0 {
		cost := remaining * pricePerSecond
		if b.EconomyBalance >= cost {
			b.EconomyBalance -= cost
			return b
		}
		remaining -= b.EconomyBalance / pricePerSecond
		b.EconomyBalance = 0
	}

	if remaining > 0 && b.InitialGrace > 0 {
		b.InitialGrace -= int64(math.Ceil(remaining - 1e-9))
		if b.InitialGrace < 0 {
			b.InitialGrace = 0
		}
	}
	return b
}

// ApplyDelta adds a signed energy delta, flooring at zero.
func ApplyDelta(energyTime, delta int64) int64 {
	v := energyTime + delta
	if v < 0 {
		return 0
	}
	return v
}

func (b Balance) clamped() Balance {
	if b.EnergyTime < 0 {
		b.EnergyTime = 0
	}
	if b.EconomyBalance < 0 || math.IsNaN(b.EconomyBalance) {
		b.EconomyBalance = 0
	}
	if b.InitialGrace < 0 {
		b.InitialGrace = 0
	}
	return b
}
