// Package eligibility decides whether a team may bid and how much it may bid.
// Everything here is a pure function of the team record and whether a player
// is currently up for auction.
package eligibility

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/domain"
)

var (
	ErrTeamIneligible = errors.New("team cannot bid")
	ErrExceedsMaxBid  = errors.New("bid exceeds team's maximum")
)

// Policy tunes the bid limit. The zero Policy lets a team spend its entire
// remaining budget on one player.
type Policy struct {
	// SlotReserve is held back for every empty roster slot other than the
	// one being bid for.
	SlotReserve decimal.Decimal
}

// IsEligible reports whether team may take part in bidding: it needs a free
// roster slot, a positive remaining budget and a player on the block.
func IsEligible(team domain.Team, hasCurrentPlayer bool) bool {
	if !hasCurrentPlayer {
		return false
	}
	if len(team.Roster) >= team.Config.MaxPlayers {
		return false
	}
	return team.RemainingBudget.IsPositive()
}

// MaxBid is the most team could legally bid right now. It is zero when the
// team is ineligible; callers treat any non-positive value as "cannot bid".
func (p Policy) MaxBid(team domain.Team, hasCurrentPlayer bool) decimal.Decimal {
	if !IsEligible(team, hasCurrentPlayer) {
		return decimal.Zero
	}
	reserved := p.SlotReserve.Mul(decimal.NewFromInt(int64(team.SlotsLeft() - 1)))
	max := team.RemainingBudget.Sub(reserved)
	if max.IsNegative() {
		return decimal.Zero
	}
	return max
}

// Check validates amount for team and returns a wrapped ErrTeamIneligible or
// ErrExceedsMaxBid when it cannot be accepted.
func (p Policy) Check(team domain.Team, hasCurrentPlayer bool, amount decimal.Decimal) error {
	max := p.MaxBid(team, hasCurrentPlayer)
	if !max.IsPositive() {
		return fmt.Errorf("%w: %s", ErrTeamIneligible, team.Name)
	}
	if amount.GreaterThan(max) {
		return fmt.Errorf("%w: %s can bid at most %s", ErrExceedsMaxBid, team.Name, max)
	}
	return nil
}

// MaxBid applies the default Policy.
func MaxBid(team domain.Team, hasCurrentPlayer bool) decimal.Decimal {
	return Policy{}.MaxBid(team, hasCurrentPlayer)
}
