package auction

import (
	"encoding/json"
	"fmt"

	"github.com/jensholdgaard/auctiond/internal/event"
)

// Replay applies journaled outcomes to a freshly seeded session: sales,
// passes, round changes and the end of the auction. Bids are not replayed;
// a player that was mid-bidding when the journal stopped is available again.
// Replay discards pending events and continues numbering after the last
// replayed version.
func (s *Session) Replay(events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.AggregateID != s.id {
			return fmt.Errorf("replaying event %d: belongs to session %q, not %q", e.Version, e.AggregateID, s.id)
		}
		if err := s.applyLocked(e); err != nil {
			return fmt.Errorf("replaying %s event %d: %w", e.Type, e.Version, err)
		}
		s.version = e.Version
	}
	s.events = nil
	return nil
}

func (s *Session) applyLocked(e event.Event) error {
	switch e.Type {
	case event.PlayerSold:
		var d event.PlayerSoldData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Errorf("unmarshalling sold event: %w", err)
		}
		ai := s.availableIndex(d.PlayerID)
		if ai < 0 {
			return fmt.Errorf("player %q is not in the roster", d.PlayerID)
		}
		ti := s.teamIndex(d.TeamID)
		if ti < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownTeam, d.TeamID)
		}
		if _, err := s.sellLocked(s.available[ai].Player, ti, d.Amount, d.Round); err != nil {
			return err
		}

	case event.PlayerUnsold:
		var d event.PlayerUnsoldData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Errorf("unmarshalling unsold event: %w", err)
		}
		ai := s.availableIndex(d.PlayerID)
		if ai < 0 {
			return fmt.Errorf("player %q is not in the roster", d.PlayerID)
		}
		if _, err := s.unsellLocked(s.available[ai].Player, d.CanRetry); err != nil {
			return err
		}

	case event.RoundStarted:
		s.startRound2Locked()

	case event.AuctionEnded:
		// Players merged after the end are already in the seeded pool and
		// keep the session open.
		s.resetLocked()
		if s.exhaustedLocked() {
			s.phase = PhaseEnded
			s.overlay = OverlayEnd
		}

	case event.SessionStarted, event.BidPlaced, event.BidUndone:
		// Nothing durable to restore.
	}
	return nil
}
