package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TeamConfig holds the per-team auction limits.
type TeamConfig struct {
	TotalBudget decimal.Decimal `json:"totalBudget" yaml:"total_budget"`
	MaxPlayers  int             `json:"maxPlayers" yaml:"max_players"`
}

// Team is a bidding franchise and the squad it has bought so far.
type Team struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	ShortName       string          `json:"shortName" yaml:"short_name"`
	PrimaryColor    string          `json:"primaryColor,omitempty" yaml:"primary_color,omitempty"`
	SecondaryColor  string          `json:"secondaryColor,omitempty" yaml:"secondary_color,omitempty"`
	LogoURL         string          `json:"logoUrl,omitempty" yaml:"logo_url,omitempty"`
	Captain         string          `json:"captain,omitempty" yaml:"captain,omitempty"`
	Config          TeamConfig      `json:"config" yaml:"config"`
	RemainingBudget decimal.Decimal `json:"remainingBudget" yaml:"-"`
	Roster          []Sold          `json:"roster" yaml:"-"`
}

// NewTeam returns a team with a full budget and an empty roster.
func NewTeam(id, name, shortName string, cfg TeamConfig) Team {
	return Team{
		ID:              id,
		Name:            name,
		ShortName:       shortName,
		Config:          cfg,
		RemainingBudget: cfg.TotalBudget,
	}
}

// Spent is the sum of sold amounts on the roster.
func (t Team) Spent() decimal.Decimal {
	total := decimal.Zero
	for _, p := range t.Roster {
		total = total.Add(p.Amount)
	}
	return total
}

// SlotsLeft is the number of players the team can still buy.
func (t Team) SlotsLeft() int {
	return t.Config.MaxPlayers - len(t.Roster)
}

// Clone returns a copy whose roster can be mutated independently.
func (t Team) Clone() Team {
	c := t
	c.Roster = append([]Sold(nil), t.Roster...)
	return c
}

// Validate reports ErrInvariantViolation when the budget or roster
// invariants do not hold.
func (t Team) Validate() error {
	if len(t.Roster) > t.Config.MaxPlayers {
		return fmt.Errorf("%w: team %q roster has %d players, max %d",
			ErrInvariantViolation, t.ID, len(t.Roster), t.Config.MaxPlayers)
	}
	if t.RemainingBudget.IsNegative() || t.RemainingBudget.GreaterThan(t.Config.TotalBudget) {
		return fmt.Errorf("%w: team %q remaining budget %s outside [0, %s]",
			ErrInvariantViolation, t.ID, t.RemainingBudget, t.Config.TotalBudget)
	}
	if want := t.Config.TotalBudget.Sub(t.Spent()); !t.RemainingBudget.Equal(want) {
		return fmt.Errorf("%w: team %q remaining budget %s, expected %s",
			ErrInvariantViolation, t.ID, t.RemainingBudget, want)
	}
	return nil
}

// ValidateTeams checks the feed contract for teams: unique ids, positive
// limits and a remaining budget consistent with the roster.
func ValidateTeams(teams []Team) error {
	seen := make(map[string]struct{}, len(teams))
	for i, t := range teams {
		if t.ID == "" {
			return fmt.Errorf("%w: team at index %d has no id", ErrInvalidRoster, i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate team id %q", ErrInvalidRoster, t.ID)
		}
		seen[t.ID] = struct{}{}
		if !t.Config.TotalBudget.IsPositive() {
			return fmt.Errorf("%w: team %q total budget must be positive", ErrInvalidRoster, t.ID)
		}
		if t.Config.MaxPlayers <= 0 {
			return fmt.Errorf("%w: team %q max players must be positive", ErrInvalidRoster, t.ID)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRoster, err)
		}
	}
	return nil
}
