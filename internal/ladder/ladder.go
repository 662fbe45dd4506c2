// Package ladder computes legal bid increments from a tiered step table.
package ladder

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// precision is the number of decimal places bids are rounded to (0.01 lakh).
const precision int32 = 2

// ErrInvalidLadder is returned when a tier table is malformed.
var ErrInvalidLadder = errors.New("invalid bid ladder")

// Multiplier scales the ladder step. The operator toggles between 1, 2 and 5.
type Multiplier int

const (
	X1 Multiplier = 1
	X2 Multiplier = 2
	X5 Multiplier = 5
)

// Valid reports whether m is one of the supported multipliers.
func (m Multiplier) Valid() bool {
	return m == X1 || m == X2 || m == X5
}

// Toggle returns the multiplier after pressing the toggle for target: the
// active target switches back to X1, anything else switches to target.
func (m Multiplier) Toggle(target Multiplier) Multiplier {
	if m == target {
		return X1
	}
	return target
}

// Tier applies Step to bids strictly below Below. A zero Below marks the
// final, unbounded tier.
type Tier struct {
	Below decimal.Decimal
	Step  decimal.Decimal
}

// Ladder is an ordered, validated tier table.
type Ladder struct {
	tiers []Tier
}

// Default returns the standard table: 0.1 below 5, 0.25 below 10, 0.5 below
// 20 and 1 from 20 upwards.
func Default() Ladder {
	return Ladder{tiers: []Tier{
		{Below: decimal.NewFromInt(5), Step: decimal.RequireFromString("0.1")},
		{Below: decimal.NewFromInt(10), Step: decimal.RequireFromString("0.25")},
		{Below: decimal.NewFromInt(20), Step: decimal.RequireFromString("0.5")},
		{Step: decimal.NewFromInt(1)},
	}}
}

// New validates tiers and returns a Ladder. Bounds must ascend, steps must
// be positive and the last tier must be unbounded.
func New(tiers []Tier) (Ladder, error) {
	if len(tiers) == 0 {
		return Ladder{}, fmt.Errorf("%w: no tiers", ErrInvalidLadder)
	}
	prev := decimal.Zero
	for i, t := range tiers {
		if !t.Step.IsPositive() {
			return Ladder{}, fmt.Errorf("%w: tier %d step must be positive", ErrInvalidLadder, i)
		}
		last := i == len(tiers)-1
		switch {
		case last && !t.Below.IsZero():
			return Ladder{}, fmt.Errorf("%w: last tier must be unbounded", ErrInvalidLadder)
		case !last && !t.Below.GreaterThan(prev):
			return Ladder{}, fmt.Errorf("%w: tier %d bound %s must exceed %s", ErrInvalidLadder, i, t.Below, prev)
		}
		prev = t.Below
	}
	return Ladder{tiers: append([]Tier(nil), tiers...)}, nil
}

// Tiers returns a copy of the tier table.
func (l Ladder) Tiers() []Tier {
	return append([]Tier(nil), l.tiers...)
}

// Step returns the increment for the tier containing current.
func (l Ladder) Step(current decimal.Decimal) decimal.Decimal {
	for _, t := range l.tiers {
		if t.Below.IsZero() || current.LessThan(t.Below) {
			return t.Step
		}
	}
	// Unreachable for a validated ladder; the zero Ladder has no tiers.
	return decimal.Zero
}

// Next returns the next legal bid: current plus the tier step times m,
// rounded half away from zero to two places. Invalid multipliers count as X1.
func (l Ladder) Next(current decimal.Decimal, m Multiplier) decimal.Decimal {
	if !m.Valid() {
		m = X1
	}
	inc := l.Step(current).Mul(decimal.NewFromInt(int64(m)))
	return current.Add(inc).Round(precision)
}

// Prev lowers current by one tier step, never below floor.
func (l Ladder) Prev(current, floor decimal.Decimal) decimal.Decimal {
	next := current.Sub(l.Step(current)).Round(precision)
	if next.LessThan(floor) {
		return floor
	}
	return next
}
