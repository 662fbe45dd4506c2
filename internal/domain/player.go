// Package domain defines the auction entities and the invariants they carry.
// It has no behaviour beyond validation; all mutation happens in the auction
// session.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvariantViolation marks a state that must never be reachable. It
// indicates a defect, not an operator mistake.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrInvalidRoster is returned when the inbound roster feed breaks its contract.
var ErrInvalidRoster = errors.New("invalid roster")

// Role is a player's playing role.
type Role string

const (
	RoleUnknown             Role = ""
	RoleBatsman             Role = "Batsman"
	RoleBowler              Role = "Bowler"
	RoleAllRounder          Role = "All-Rounder"
	RoleWicketKeeper        Role = "Wicket-Keeper"
	RoleWicketKeeperBatsman Role = "Wicket-Keeper-Batsman"
)

// ParseRole maps loosely formatted feed values ("all rounder", "WK-Batsman")
// onto a Role. Unrecognised values map to RoleUnknown.
func ParseRole(s string) Role {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(norm)
	switch norm {
	case "batsman", "batter":
		return RoleBatsman
	case "bowler":
		return RoleBowler
	case "allrounder":
		return RoleAllRounder
	case "wicketkeeper", "wk", "keeper":
		return RoleWicketKeeper
	case "wicketkeeperbatsman", "wkbatsman", "wicketkeeperbatter", "wkbatter":
		return RoleWicketKeeperBatsman
	default:
		return RoleUnknown
	}
}

// Stats is the career statistics block shown on the player card. Every
// field is optional.
type Stats struct {
	Matches      *int   `json:"matches,omitempty" yaml:"matches,omitempty"`
	Runs         *int   `json:"runs,omitempty" yaml:"runs,omitempty"`
	Wickets      *int   `json:"wickets,omitempty" yaml:"wickets,omitempty"`
	HighestScore string `json:"highestScore,omitempty" yaml:"highest_score,omitempty"`
	BestBowling  string `json:"bestBowling,omitempty" yaml:"best_bowling,omitempty"`
}

// Player holds the fields shared by every classification of a player.
type Player struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	Role      Role            `json:"role" yaml:"role"`
	BasePrice decimal.Decimal `json:"basePrice" yaml:"base_price"`
	Age       *int            `json:"age,omitempty" yaml:"age,omitempty"`
	ImageURL  string          `json:"imageUrl,omitempty" yaml:"image_url,omitempty"`
	Stats     Stats           `json:"stats" yaml:"stats"`
}

// Base returns the shared player record.
func (p Player) Base() Player { return p }

// Status names a player's classification.
type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
	StatusUnsold    Status = "unsold"
)

// Lot is a player in exactly one classification. Consumers type-switch on
// Available, Sold and Unsold.
type Lot interface {
	Base() Player
	Status() Status
}

// Available is a player that can be put up for bidding.
type Available struct {
	Player
}

// Status implements Lot.
func (Available) Status() Status { return StatusAvailable }

// Sold is a player bought by a team.
type Sold struct {
	Player
	TeamID   string          `json:"teamId"`
	TeamName string          `json:"teamName"`
	Amount   decimal.Decimal `json:"soldAmount"`
	Round    int             `json:"round"`
}

// Status implements Lot.
func (Sold) Status() Status { return StatusSold }

// Unsold is a player that received no accepted sale.
type Unsold struct {
	Player
	CanRetry bool `json:"canRetry"`
}

// Status implements Lot.
func (Unsold) Status() Status { return StatusUnsold }

// Bid is one accepted bid on the current player.
type Bid struct {
	TeamID   string          `json:"teamId"`
	TeamName string          `json:"teamName"`
	Amount   decimal.Decimal `json:"amount"`
}

// ValidatePlayers checks the feed contract for players: non-empty unique ids
// and non-negative base prices.
func ValidatePlayers(players []Player) error {
	seen := make(map[string]struct{}, len(players))
	for i, p := range players {
		if p.ID == "" {
			return fmt.Errorf("%w: player at index %d has no id", ErrInvalidRoster, i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate player id %q", ErrInvalidRoster, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.BasePrice.IsNegative() {
			return fmt.Errorf("%w: player %q has negative base price %s", ErrInvalidRoster, p.ID, p.BasePrice)
		}
	}
	return nil
}
