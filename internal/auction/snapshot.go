package auction

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/actionlog"
	"github.com/jensholdgaard/auctiond/internal/domain"
	"github.com/jensholdgaard/auctiond/internal/eligibility"
	"github.com/jensholdgaard/auctiond/internal/ladder"
	"github.com/jensholdgaard/auctiond/internal/notify"
)

// TeamView is a team plus its bidding position for the current player.
type TeamView struct {
	domain.Team
	Eligible bool            `json:"eligible"`
	MaxBid   decimal.Decimal `json:"maxBid"`
}

// Summary counts players by outcome.
type Summary struct {
	Total  int `json:"total"`
	Sold   int `json:"sold"`
	Unsold int `json:"unsold"`
}

// Snapshot is a deep copy of the session's read model.
type Snapshot struct {
	SessionID      string                `json:"sessionId"`
	Name           string                `json:"name"`
	Phase          Phase                 `json:"phase"`
	Round          int                   `json:"round"`
	Overlay        Overlay               `json:"overlay"`
	ViewingTeamID  string                `json:"viewingTeamId,omitempty"`
	CurrentPlayer  *domain.Player        `json:"currentPlayer,omitempty"`
	SelectedTeamID string                `json:"selectedTeamId,omitempty"`
	CurrentBid     decimal.Decimal       `json:"currentBid"`
	NextBid        decimal.Decimal       `json:"nextBid"`
	Multiplier     ladder.Multiplier     `json:"multiplier"`
	History        []domain.Bid          `json:"bidHistory"`
	Available      []domain.Available    `json:"availablePlayers"`
	Sold           []domain.Sold         `json:"soldPlayers"`
	Unsold         []domain.Unsold       `json:"unsoldPlayers"`
	Teams          []TeamView            `json:"teams"`
	Notifications  []notify.Notification `json:"notifications"`
	Actions        []actionlog.Entry     `json:"actions"`
	Summary        Summary               `json:"summary"`
	CanStartRound2 bool                  `json:"canStartRound2"`
	Version        int                   `json:"version"`
}

// Team returns the view of the team with id.
func (s Snapshot) Team(id string) (TeamView, bool) {
	i := slices.IndexFunc(s.Teams, func(t TeamView) bool { return t.ID == id })
	if i < 0 {
		return TeamView{}, false
	}
	return s.Teams[i], true
}

// Lot returns the player with id in whichever classification holds it.
func (s Snapshot) Lot(id string) (domain.Lot, error) {
	if i := slices.IndexFunc(s.Available, func(p domain.Available) bool { return p.ID == id }); i >= 0 {
		return s.Available[i], nil
	}
	if i := slices.IndexFunc(s.Sold, func(p domain.Sold) bool { return p.ID == id }); i >= 0 {
		return s.Sold[i], nil
	}
	if i := slices.IndexFunc(s.Unsold, func(p domain.Unsold) bool { return p.ID == id }); i >= 0 {
		return s.Unsold[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
}

// Snapshot returns the current read model.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every operation. fn is
// called outside the session lock and must not block for long. The returned
// function removes the subscription.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Session) snapshotLocked() Snapshot {
	hasCurrent := s.phase == PhaseBidding
	snap := Snapshot{
		SessionID:      s.id,
		Name:           s.name,
		Phase:          s.phase,
		Round:          s.round,
		Overlay:        s.overlay,
		ViewingTeamID:  s.viewingID,
		SelectedTeamID: s.selected,
		CurrentBid:     s.currentBid,
		Multiplier:     s.multiplier,
		History:        slices.Clone(s.history),
		Available:      slices.Clone(s.available),
		Sold:           slices.Clone(s.sold),
		Unsold:         slices.Clone(s.unsold),
		Teams:          make([]TeamView, 0, len(s.teams)),
		Notifications:  s.notes.List(),
		Actions:        s.log.Entries(),
		Summary:        s.summaryLocked(),
		CanStartRound2: s.current == nil && len(s.available) == 0 && s.round < 2 && s.retryableLocked() > 0,
		Version:        s.version,
	}
	if s.current != nil {
		p := *s.current
		snap.CurrentPlayer = &p
	}
	if hasCurrent {
		snap.NextBid = s.askingPriceLocked()
	}
	for _, t := range s.teams {
		snap.Teams = append(snap.Teams, TeamView{
			Team:     t.Clone(),
			Eligible: eligibility.IsEligible(t, hasCurrent),
			MaxBid:   s.policy.MaxBid(t, hasCurrent),
		})
	}
	return snap
}

func (s *Session) summaryLocked() Summary {
	return Summary{
		Total:  len(s.available) + len(s.sold) + len(s.unsold),
		Sold:   len(s.sold),
		Unsold: len(s.unsold),
	}
}
