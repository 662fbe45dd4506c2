package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/actionlog"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/domain"
	"github.com/jensholdgaard/auctiond/internal/eligibility"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ladder"
	"github.com/jensholdgaard/auctiond/internal/notify"
	"github.com/jensholdgaard/auctiond/internal/telemetry"
)

const instrumentationName = "github.com/jensholdgaard/auctiond/internal/auction"

// Errors returned by session operations. Every one of them except a wrapped
// domain.ErrInvariantViolation is an operator mistake and is also surfaced
// as a notification.
var (
	ErrInvalidBid          = errors.New("invalid bid")
	ErrNoCurrentPlayer     = errors.New("no player is up for auction")
	ErrNoSelectedTeam      = errors.New("no team selected")
	ErrNoPlayersAvailable  = errors.New("no players available")
	ErrUnsupportedUndo     = errors.New("undo is not supported for this action")
	ErrNothingToUndo       = errors.New("nothing to undo")
	ErrPlayerInProgress    = errors.New("a player is already up for auction")
	ErrPlayerResolved      = errors.New("player has already been resolved")
	ErrUnknownTeam         = errors.New("unknown team")
	ErrRoundTwoUnavailable = errors.New("round 2 cannot start")
	ErrAuctionOver         = errors.New("auction is over")
	ErrRosterLocked        = errors.New("teams cannot change once the auction has started")
	ErrUnknownNotification = errors.New("unknown notification")
	ErrUnknownPlayer       = errors.New("unknown player")
)

// Phase is the coarse session state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseBidding  Phase = "bidding"
	PhaseResolved Phase = "resolved"
	PhaseEnded    Phase = "ended"
)

// Overlay is the full-screen view the display is showing.
type Overlay string

const (
	OverlayNone      Overlay = "none"
	OverlaySold      Overlay = "sold"
	OverlayUnsold    Overlay = "unsold"
	OverlayEnd       Overlay = "end"
	OverlayTeamSquad Overlay = "team_squad"
)

// SessionConfig holds the tunables of a session.
type SessionConfig struct {
	// ID identifies the session in the journal. A random UUID is used when empty.
	ID     string
	Name   string
	Ladder ladder.Ladder
	Policy eligibility.Policy
	// Seed makes random player selection reproducible. Zero means unseeded.
	Seed uint64
}

// Session is the auction aggregate: the current lot, the bidding state,
// the teams and the classification of every player. All methods are safe
// for concurrent use and serialize on one mutex.
type Session struct {
	mu sync.Mutex

	id   string
	name string

	available []domain.Available
	sold      []domain.Sold
	unsold    []domain.Unsold
	teams     []domain.Team

	phase      Phase
	round      int
	current    *domain.Player
	selected   string
	currentBid decimal.Decimal
	multiplier ladder.Multiplier
	history    []domain.Bid

	overlay   Overlay
	underlay  Overlay
	viewingID string

	notes *notify.Queue
	log   *actionlog.Log

	ladder ladder.Ladder
	policy eligibility.Policy
	rng    *rand.Rand

	version int
	events  []event.Event

	observers map[int]func(Snapshot)
	nextObs   int

	clock  clock.Clock
	tracer trace.Tracer
	logger *slog.Logger
}

// NewSession seeds a session from a roster snapshot. Players keep their
// source order; teams must satisfy the feed contract.
func NewSession(cfg SessionConfig, players []domain.Player, teams []domain.Team, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) (*Session, error) {
	if err := domain.ValidatePlayers(players); err != nil {
		return nil, err
	}
	if err := domain.ValidateTeams(teams); err != nil {
		return nil, err
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	l := cfg.Ladder
	if len(l.Tiers()) == 0 {
		l = ladder.Default()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	s := &Session{
		id:         id,
		name:       cfg.Name,
		phase:      PhaseIdle,
		round:      1,
		multiplier: ladder.X1,
		overlay:    OverlayNone,
		notes:      notify.NewQueue(clk),
		log:        actionlog.New(),
		ladder:     l,
		policy:     cfg.Policy,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		observers:  make(map[int]func(Snapshot)),
		clock:      clk,
		tracer:     tp.Tracer(instrumentationName),
		logger:     logger.With(slog.String(telemetry.FieldSessionID, id)),
	}
	for _, p := range players {
		s.available = append(s.available, domain.Available{Player: p})
	}
	for _, t := range teams {
		s.teams = append(s.teams, t.Clone())
	}

	teamIDs := make([]string, len(teams))
	for i, t := range teams {
		teamIDs[i] = t.ID
	}
	s.recordEvent(event.SessionStarted, event.SessionStartedData{
		Name:    cfg.Name,
		Players: len(players),
		TeamIDs: teamIDs,
	})
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// TeamAt returns the id of the team in the 1-based display slot.
func (s *Session) TeamAt(slot int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 1 || slot > len(s.teams) {
		return "", fmt.Errorf("%w: slot %d", ErrUnknownTeam, slot)
	}
	return s.teams[slot-1].ID, nil
}

// SelectNextPlayer puts the head of the available pool up for bidding.
func (s *Session) SelectNextPlayer(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.SelectNextPlayer")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		return s.selectPlayer(ctx, func(int) int { return 0 })
	})
}

// SelectRandomPlayer puts a uniformly random available player up for bidding.
func (s *Session) SelectRandomPlayer(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.SelectRandomPlayer")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		return s.selectPlayer(ctx, s.rng.IntN)
	})
}

// selectPlayer makes available[pick(len)] current. The player stays in the
// available pool until it is resolved.
func (s *Session) selectPlayer(ctx context.Context, pick func(n int) int) error {
	switch s.phase {
	case PhaseEnded:
		return s.reject(notify.Info, "Auction complete", ErrAuctionOver)
	case PhaseBidding:
		return s.reject(notify.Warning, "Player in progress",
			fmt.Errorf("%w: %s", ErrPlayerInProgress, s.current.Name))
	}

	if len(s.available) == 0 {
		if s.round < 2 && s.retryableLocked() > 0 {
			return s.reject(notify.Warning, "No players available",
				fmt.Errorf("%w: start round 2 to re-auction unsold players", ErrNoPlayersAvailable))
		}
		s.resetLocked()
		s.evaluateEndLocked(ctx)
		return ErrNoPlayersAvailable
	}
	if s.phase == PhaseResolved {
		s.resetLocked()
	}

	p := s.available[pick(len(s.available))].Player
	s.current = &p
	s.currentBid = p.BasePrice
	s.history = nil
	s.selected = ""
	s.phase = PhaseBidding
	s.overlay = OverlayNone
	s.viewingID = ""

	s.logger.InfoContext(ctx, "player up for auction",
		slog.String(telemetry.FieldPlayerID, p.ID),
		slog.String("player_name", p.Name),
		slog.String("base_price", p.BasePrice.String()),
	)
	return nil
}

// SelectTeam marks teamID as the team the operator is pointing at.
// Eligibility is checked when the team bids, not here.
func (s *Session) SelectTeam(ctx context.Context, teamID string) error {
	ctx, span := s.tracer.Start(ctx, "Session.SelectTeam",
		trace.WithAttributes(attribute.String("team.id", teamID)),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if s.teamIndex(teamID) < 0 {
			return s.reject(notify.Error, "Unknown team", fmt.Errorf("%w: %s", ErrUnknownTeam, teamID))
		}
		s.selected = teamID
		return nil
	})
}

// PlaceBid accepts amount from teamID for the current player. The bid must be
// at least the base price, strictly above the previous accepted bid and
// within the team's current bid limit.
func (s *Session) PlaceBid(ctx context.Context, teamID string, amount decimal.Decimal) error {
	ctx, span := s.tracer.Start(ctx, "Session.PlaceBid",
		trace.WithAttributes(
			attribute.String("team.id", teamID),
			attribute.String("bid.amount", amount.String()),
		),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		return s.placeBid(ctx, teamID, amount)
	})
}

// BidNext places the next ladder bid for teamID. The opening bid is the
// asking price itself; later bids climb the ladder from the current bid.
func (s *Session) BidNext(ctx context.Context, teamID string) error {
	ctx, span := s.tracer.Start(ctx, "Session.BidNext",
		trace.WithAttributes(attribute.String("team.id", teamID)),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if err := s.requireBidding(); err != nil {
			return err
		}
		return s.placeBid(ctx, teamID, s.askingPriceLocked())
	})
}

// askingPriceLocked is the amount the next digit-key bid would be placed at.
func (s *Session) askingPriceLocked() decimal.Decimal {
	if len(s.history) == 0 {
		return s.currentBid
	}
	if last := s.history[len(s.history)-1].Amount; s.currentBid.GreaterThan(last) {
		return s.currentBid
	}
	return s.ladder.Next(s.currentBid, s.multiplier)
}

func (s *Session) placeBid(ctx context.Context, teamID string, amount decimal.Decimal) error {
	if err := s.requireBidding(); err != nil {
		return err
	}
	i := s.teamIndex(teamID)
	if i < 0 {
		return s.reject(notify.Error, "Unknown team", fmt.Errorf("%w: %s", ErrUnknownTeam, teamID))
	}
	team := s.teams[i]

	switch {
	case !amount.IsPositive():
		return s.reject(notify.Error, "Invalid bid",
			fmt.Errorf("%w: amount %s must be positive", ErrInvalidBid, amount))
	case amount.LessThan(s.current.BasePrice):
		return s.reject(notify.Error, "Invalid bid",
			fmt.Errorf("%w: %s is below the base price %s", ErrInvalidBid, amount, s.current.BasePrice))
	case len(s.history) > 0 && !amount.GreaterThan(s.history[len(s.history)-1].Amount):
		return s.reject(notify.Error, "Invalid bid",
			fmt.Errorf("%w: %s does not beat %s", ErrInvalidBid, amount, s.history[len(s.history)-1].Amount))
	}
	if err := s.policy.Check(team, true, amount); err != nil {
		return s.reject(notify.Error, "Invalid bid", fmt.Errorf("%w: %w", ErrInvalidBid, err))
	}

	s.log.Push(actionlog.Entry{
		Kind:           actionlog.BidPlaced,
		PlayerID:       s.current.ID,
		PlayerName:     s.current.Name,
		TeamID:         team.ID,
		Amount:         amount,
		PreviousBid:    s.currentBid,
		PreviousTeamID: s.selected,
		At:             s.clock.Now(),
	})
	s.currentBid = amount
	s.history = append(s.history, domain.Bid{TeamID: team.ID, TeamName: team.Name, Amount: amount})
	s.selected = team.ID
	s.recordEvent(event.BidPlaced, event.BidPlacedData{
		PlayerID: s.current.ID,
		TeamID:   team.ID,
		Amount:   amount,
	})

	s.logger.InfoContext(ctx, "bid placed",
		slog.String(telemetry.FieldPlayerID, s.current.ID),
		slog.String(telemetry.FieldTeamID, team.ID),
		slog.String(telemetry.FieldAmount, amount.String()),
	)
	return nil
}

// IncrementBid raises the current bid by one ladder step times the multiplier.
func (s *Session) IncrementBid(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.IncrementBid")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if err := s.requireBidding(); err != nil {
			return err
		}
		s.currentBid = s.ladder.Next(s.currentBid, s.multiplier)
		return nil
	})
}

// DecrementBid lowers the current bid by one ladder step, never below the
// current player's base price.
func (s *Session) DecrementBid(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.DecrementBid")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if err := s.requireBidding(); err != nil {
			return err
		}
		s.currentBid = s.ladder.Prev(s.currentBid, s.current.BasePrice)
		return nil
	})
}

// SetMultiplier sets the ladder multiplier.
func (s *Session) SetMultiplier(ctx context.Context, m ladder.Multiplier) error {
	ctx, span := s.tracer.Start(ctx, "Session.SetMultiplier",
		trace.WithAttributes(attribute.Int("multiplier", int(m))),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if !m.Valid() {
			return s.reject(notify.Error, "Invalid multiplier",
				fmt.Errorf("%w: multiplier %d", ErrInvalidBid, m))
		}
		s.multiplier = m
		return nil
	})
}

// ToggleMultiplier switches to m, or back to 1x when m is already active.
func (s *Session) ToggleMultiplier(ctx context.Context, m ladder.Multiplier) error {
	ctx, span := s.tracer.Start(ctx, "Session.ToggleMultiplier",
		trace.WithAttributes(attribute.Int("multiplier", int(m))),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if !m.Valid() {
			return s.reject(notify.Error, "Invalid multiplier",
				fmt.Errorf("%w: multiplier %d", ErrInvalidBid, m))
		}
		s.multiplier = s.multiplier.Toggle(m)
		return nil
	})
}

// MarkSold sells the current player to the selected team at the current bid.
func (s *Session) MarkSold(ctx context.Context) (domain.Sold, error) {
	ctx, span := s.tracer.Start(ctx, "Session.MarkSold")
	defer span.End()

	var sold domain.Sold
	err := s.mutate(ctx, span, func() error {
		if err := s.requireBidding(); err != nil {
			return err
		}
		if s.selected == "" {
			return s.reject(notify.Error, "No team selected", ErrNoSelectedTeam)
		}
		i := s.teamIndex(s.selected)
		if i < 0 {
			return s.reject(notify.Error, "Unknown team", fmt.Errorf("%w: %s", ErrUnknownTeam, s.selected))
		}
		if err := s.policy.Check(s.teams[i], true, s.currentBid); err != nil {
			return s.reject(notify.Error, "Cannot sell", fmt.Errorf("%w: %w", ErrInvalidBid, err))
		}

		var err error
		sold, err = s.sellLocked(*s.current, i, s.currentBid, s.round)
		if err != nil {
			return err
		}

		s.log.Push(actionlog.Entry{
			Kind:       actionlog.PlayerSold,
			PlayerID:   sold.ID,
			PlayerName: sold.Name,
			TeamID:     sold.TeamID,
			Amount:     sold.Amount,
			At:         s.clock.Now(),
		})
		s.recordEvent(event.PlayerSold, event.PlayerSoldData{
			PlayerID: sold.ID,
			TeamID:   sold.TeamID,
			Amount:   sold.Amount,
			Round:    sold.Round,
		})
		s.history = nil
		s.phase = PhaseResolved
		s.overlay = OverlaySold
		s.viewingID = ""
		s.notes.Add(notify.Success, "Sold",
			fmt.Sprintf("%s sold to %s for %s", sold.Name, sold.TeamName, sold.Amount))

		s.logger.InfoContext(ctx, "player sold",
			slog.String(telemetry.FieldPlayerID, sold.ID),
			slog.String(telemetry.FieldTeamID, sold.TeamID),
			slog.String(telemetry.FieldAmount, sold.Amount.String()),
			slog.Int(telemetry.FieldRound, sold.Round),
		)
		return nil
	})
	if err != nil {
		return domain.Sold{}, err
	}
	return sold, nil
}

// sellLocked moves p from the available pool onto team i's roster. The
// team's post-state is validated before anything is committed.
func (s *Session) sellLocked(p domain.Player, i int, amount decimal.Decimal, round int) (domain.Sold, error) {
	if err := s.checkUnresolvedLocked(p.ID); err != nil {
		return domain.Sold{}, err
	}
	ai := s.availableIndex(p.ID)
	if ai < 0 {
		return domain.Sold{}, fmt.Errorf("%w: player %q is not available", domain.ErrInvariantViolation, p.ID)
	}

	team := s.teams[i].Clone()
	sold := domain.Sold{
		Player:   p,
		TeamID:   team.ID,
		TeamName: team.Name,
		Amount:   amount,
		Round:    round,
	}
	team.Roster = append(team.Roster, sold)
	team.RemainingBudget = team.RemainingBudget.Sub(amount)
	if err := team.Validate(); err != nil {
		return domain.Sold{}, err
	}

	s.teams[i] = team
	s.available = slices.Delete(s.available, ai, ai+1)
	s.sold = append(s.sold, sold)
	return sold, nil
}

// MarkUnsold passes on the current player. Players passed in round 1 may be
// re-auctioned in round 2.
func (s *Session) MarkUnsold(ctx context.Context) (domain.Unsold, error) {
	ctx, span := s.tracer.Start(ctx, "Session.MarkUnsold")
	defer span.End()

	var unsold domain.Unsold
	err := s.mutate(ctx, span, func() error {
		if err := s.requireBidding(); err != nil {
			return err
		}
		var err error
		unsold, err = s.unsellLocked(*s.current, s.round == 1)
		if err != nil {
			return err
		}

		s.log.Push(actionlog.Entry{
			Kind:       actionlog.PlayerUnsold,
			PlayerID:   unsold.ID,
			PlayerName: unsold.Name,
			At:         s.clock.Now(),
		})
		s.recordEvent(event.PlayerUnsold, event.PlayerUnsoldData{
			PlayerID: unsold.ID,
			CanRetry: unsold.CanRetry,
		})
		s.history = nil
		s.selected = ""
		s.phase = PhaseResolved
		s.overlay = OverlayUnsold
		s.viewingID = ""
		s.notes.Add(notify.Info, "Unsold", fmt.Sprintf("%s went unsold", unsold.Name))

		s.logger.InfoContext(ctx, "player unsold",
			slog.String(telemetry.FieldPlayerID, unsold.ID),
			slog.Bool("can_retry", unsold.CanRetry),
		)
		return nil
	})
	if err != nil {
		return domain.Unsold{}, err
	}
	return unsold, nil
}

func (s *Session) unsellLocked(p domain.Player, canRetry bool) (domain.Unsold, error) {
	if err := s.checkUnresolvedLocked(p.ID); err != nil {
		return domain.Unsold{}, err
	}
	ai := s.availableIndex(p.ID)
	if ai < 0 {
		return domain.Unsold{}, fmt.Errorf("%w: player %q is not available", domain.ErrInvariantViolation, p.ID)
	}
	u := domain.Unsold{Player: p, CanRetry: canRetry}
	s.available = slices.Delete(s.available, ai, ai+1)
	s.unsold = append(s.unsold, u)
	return u, nil
}

// UndoAction pops the most recent action log entry without reversing it.
// ok is false when there is nothing to undo.
func (s *Session) UndoAction() (actionlog.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undoActionLocked()
}

func (s *Session) undoActionLocked() (actionlog.Entry, bool) {
	return s.log.Pop()
}

// Undo pops the most recent action and reverses it when it is a bid on the
// current player. Sales and passes cannot be reversed; their entry is
// consumed and ErrUnsupportedUndo is returned with state untouched.
func (s *Session) Undo(ctx context.Context) (actionlog.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "Session.Undo")
	defer span.End()

	var entry actionlog.Entry
	err := s.mutate(ctx, span, func() error {
		var ok bool
		entry, ok = s.undoActionLocked()
		if !ok {
			return s.reject(notify.Info, "Nothing to undo", ErrNothingToUndo)
		}
		span.SetAttributes(attribute.String("undo.kind", string(entry.Kind)))

		switch entry.Kind {
		case actionlog.BidPlaced:
			if s.phase != PhaseBidding || s.current.ID != entry.PlayerID || len(s.history) == 0 {
				return s.reject(notify.Warning, "Undo not supported",
					fmt.Errorf("%w: bid on %s is no longer live", ErrUnsupportedUndo, entry.PlayerName))
			}
			s.history = s.history[:len(s.history)-1]
			if len(s.history) == 0 {
				s.currentBid = s.current.BasePrice
			} else {
				s.currentBid = entry.PreviousBid
			}
			s.selected = entry.PreviousTeamID
			s.recordEvent(event.BidUndone, event.BidUndoneData{
				PlayerID: entry.PlayerID,
				Amount:   s.currentBid,
			})
			s.notes.Add(notify.Info, "Bid undone",
				fmt.Sprintf("Current bid is back to %s", s.currentBid))
			s.logger.InfoContext(ctx, "bid undone",
				slog.String(telemetry.FieldPlayerID, entry.PlayerID),
				slog.String(telemetry.FieldAmount, s.currentBid.String()),
			)
			return nil
		case actionlog.PlayerSold, actionlog.PlayerUnsold:
			return s.reject(notify.Warning, "Undo not supported",
				fmt.Errorf("%w: %s of %s", ErrUnsupportedUndo, entry.Kind, entry.PlayerName))
		default:
			return fmt.Errorf("%w: unknown action kind %q", domain.ErrInvariantViolation, entry.Kind)
		}
	})
	return entry, err
}

// StartRound2 returns every retry-eligible unsold player to the available
// pool, in the order they went unsold, and moves the auction to round 2.
func (s *Session) StartRound2(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.StartRound2")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		switch {
		case s.current != nil:
			return s.reject(notify.Warning, "Round 2 unavailable",
				fmt.Errorf("%w: %w", ErrRoundTwoUnavailable, ErrPlayerInProgress))
		case len(s.available) > 0:
			return s.reject(notify.Warning, "Round 2 unavailable",
				fmt.Errorf("%w: %d players still available", ErrRoundTwoUnavailable, len(s.available)))
		case s.round >= 2:
			return s.reject(notify.Warning, "Round 2 unavailable",
				fmt.Errorf("%w: already in round %d", ErrRoundTwoUnavailable, s.round))
		case s.retryableLocked() == 0:
			return s.reject(notify.Warning, "Round 2 unavailable",
				fmt.Errorf("%w: no unsold players can be retried", ErrRoundTwoUnavailable))
		}

		moved := s.startRound2Locked()
		s.recordEvent(event.RoundStarted, event.RoundStartedData{Round: s.round, PlayerIDs: moved})
		s.notes.Add(notify.Success, "Round 2", fmt.Sprintf("%d players back in the pool", len(moved)))
		s.logger.InfoContext(ctx, "round started",
			slog.Int(telemetry.FieldRound, s.round),
			slog.Int("players", len(moved)),
		)
		return nil
	})
}

func (s *Session) startRound2Locked() []string {
	var moved []string
	kept := s.unsold[:0:0]
	for _, u := range s.unsold {
		if u.CanRetry {
			s.available = append(s.available, domain.Available{Player: u.Player})
			moved = append(moved, u.ID)
			continue
		}
		kept = append(kept, u)
	}
	s.unsold = kept
	s.round = 2
	s.resetLocked()
	if s.phase == PhaseEnded {
		s.phase = PhaseIdle
	}
	return moved
}

func (s *Session) retryableLocked() int {
	n := 0
	for _, u := range s.unsold {
		if u.CanRetry {
			n++
		}
	}
	return n
}

// SetOverlay switches the display overlay. The viewed team is cleared for
// anything other than the team squad view.
func (s *Session) SetOverlay(ctx context.Context, o Overlay) error {
	ctx, span := s.tracer.Start(ctx, "Session.SetOverlay",
		trace.WithAttributes(attribute.String("overlay", string(o))),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		switch o {
		case OverlayNone, OverlaySold, OverlayUnsold, OverlayEnd:
			s.overlay = o
			s.viewingID = ""
		case OverlayTeamSquad:
			if s.viewingID == "" {
				return s.reject(notify.Error, "No team to show", ErrUnknownTeam)
			}
			s.overlay = o
		default:
			return fmt.Errorf("unknown overlay %q", o)
		}
		return nil
	})
}

// ShowTeamSquad opens the squad view for teamID on top of whatever is showing.
func (s *Session) ShowTeamSquad(ctx context.Context, teamID string) error {
	ctx, span := s.tracer.Start(ctx, "Session.ShowTeamSquad",
		trace.WithAttributes(attribute.String("team.id", teamID)),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if s.teamIndex(teamID) < 0 {
			return s.reject(notify.Error, "Unknown team", fmt.Errorf("%w: %s", ErrUnknownTeam, teamID))
		}
		if s.overlay != OverlayTeamSquad {
			s.underlay = s.overlay
		}
		s.overlay = OverlayTeamSquad
		s.viewingID = teamID
		return nil
	})
}

// CloseOverlay dismisses the squad view back to what was underneath it.
// Any other overlay is closed with a neutral reset: no current player, no
// selected team, no bid.
func (s *Session) CloseOverlay(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.CloseOverlay")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if s.overlay == OverlayTeamSquad {
			s.overlay = s.underlay
			s.underlay = OverlayNone
			s.viewingID = ""
			return nil
		}
		s.resetLocked()
		return nil
	})
}

// resetLocked returns to a neutral state between players. An ended auction
// stays ended.
func (s *Session) resetLocked() {
	s.current = nil
	s.selected = ""
	s.currentBid = decimal.Zero
	s.history = nil
	s.overlay = OverlayNone
	s.underlay = OverlayNone
	s.viewingID = ""
	if s.phase != PhaseEnded {
		s.phase = PhaseIdle
	}
}

// evaluateEndLocked ends the auction when nothing is left to sell and round 2
// has nothing to offer. It reports whether the auction is over.
func (s *Session) evaluateEndLocked(ctx context.Context) bool {
	if !s.exhaustedLocked() {
		return false
	}
	if s.phase == PhaseEnded {
		return true
	}
	s.phase = PhaseEnded
	s.overlay = OverlayEnd
	s.underlay = OverlayNone
	s.viewingID = ""

	sum := s.summaryLocked()
	s.recordEvent(event.AuctionEnded, event.AuctionEndedData{Total: sum.Total, Sold: sum.Sold, Unsold: sum.Unsold})
	s.notes.Add(notify.Info, "Auction complete",
		fmt.Sprintf("%d players: %d sold, %d unsold", sum.Total, sum.Sold, sum.Unsold))
	s.logger.InfoContext(ctx, "auction ended",
		slog.Int("total", sum.Total),
		slog.Int("sold", sum.Sold),
		slog.Int("unsold", sum.Unsold),
	)
	return true
}

// exhaustedLocked reports whether nothing is left to sell and round 2 has
// nothing to offer.
func (s *Session) exhaustedLocked() bool {
	if len(s.available) > 0 || s.current != nil {
		return false
	}
	return s.round >= 2 || s.retryableLocked() == 0
}

// SetTeams replaces the team list. It is only allowed before any player has
// been put up or sold.
func (s *Session) SetTeams(ctx context.Context, teams []domain.Team) error {
	ctx, span := s.tracer.Start(ctx, "Session.SetTeams",
		trace.WithAttributes(attribute.Int("teams", len(teams))),
	)
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if s.phase != PhaseIdle || len(s.sold) > 0 || s.log.Len() > 0 {
			return s.reject(notify.Error, "Teams locked", ErrRosterLocked)
		}
		if err := domain.ValidateTeams(teams); err != nil {
			return s.reject(notify.Error, "Invalid teams", err)
		}
		s.teams = s.teams[:0]
		for _, t := range teams {
			s.teams = append(s.teams, t.Clone())
		}
		return nil
	})
}

// MergePlayers appends players whose ids the session has not seen before to
// the available pool and returns how many were added. An ended auction
// reopens when new players arrive.
func (s *Session) MergePlayers(ctx context.Context, players []domain.Player) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Session.MergePlayers",
		trace.WithAttributes(attribute.Int("players", len(players))),
	)
	defer span.End()

	var added int
	err := s.mutate(ctx, span, func() error {
		if err := domain.ValidatePlayers(players); err != nil {
			return s.reject(notify.Error, "Invalid players", err)
		}
		known := s.knownIDsLocked()
		for _, p := range players {
			if _, ok := known[p.ID]; ok {
				continue
			}
			s.available = append(s.available, domain.Available{Player: p})
			added++
		}
		if added == 0 {
			return nil
		}
		if s.phase == PhaseEnded {
			s.phase = PhaseIdle
			s.overlay = OverlayNone
		}
		s.notes.Add(notify.Info, "Roster updated", fmt.Sprintf("%d new players available", added))
		return nil
	})
	return added, err
}

// DismissNotification removes the notification with id.
func (s *Session) DismissNotification(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "Session.DismissNotification")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		if !s.notes.Remove(id) {
			return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
		}
		return nil
	})
}

// ClearNotifications empties the notification queue.
func (s *Session) ClearNotifications(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.ClearNotifications")
	defer span.End()
	return s.mutate(ctx, span, func() error {
		s.notes.Clear()
		return nil
	})
}

// Notify adds an operator notification on behalf of an input layer.
func (s *Session) Notify(ctx context.Context, sev notify.Severity, title, message string) {
	ctx, span := s.tracer.Start(ctx, "Session.Notify")
	defer span.End()
	_ = s.mutate(ctx, span, func() error {
		s.notes.Add(sev, title, message)
		return nil
	})
}

// PendingEvents returns uncommitted events and clears the buffer.
func (s *Session) PendingEvents() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

func (s *Session) recordEvent(t event.Type, payload any) {
	data, _ := json.Marshal(payload)
	s.version++
	s.events = append(s.events, event.Event{
		ID:          uuid.NewString(),
		AggregateID: s.id,
		Type:        t,
		Data:        data,
		Version:     s.version,
		CreatedAt:   s.clock.Now().UTC(),
	})
}

// mutate runs fn under the lock, then hands a fresh snapshot to observers.
// Invariant violations are logged and recorded on the span.
func (s *Session) mutate(ctx context.Context, span trace.Span, fn func() error) error {
	s.mu.Lock()
	err := fn()
	snap := s.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrInvariantViolation) {
			span.SetStatus(codes.Error, err.Error())
			telemetry.LogWithTrace(ctx, s.logger).ErrorContext(ctx, "invariant violation", slog.Any("error", err))
		}
	}
	for _, o := range observers {
		o(snap)
	}
	return err
}

// reject records one notification for a refused operation and returns err.
func (s *Session) reject(sev notify.Severity, title string, err error) error {
	s.notes.Add(sev, title, err.Error())
	return err
}

func (s *Session) requireBidding() error {
	switch s.phase {
	case PhaseBidding:
		return nil
	case PhaseResolved:
		return s.reject(notify.Warning, "Player resolved", ErrPlayerResolved)
	case PhaseEnded:
		return s.reject(notify.Info, "Auction complete", ErrAuctionOver)
	default:
		return s.reject(notify.Error, "No current player", ErrNoCurrentPlayer)
	}
}

// checkUnresolvedLocked guards classification exclusivity.
func (s *Session) checkUnresolvedLocked(playerID string) error {
	for _, p := range s.sold {
		if p.ID == playerID {
			return fmt.Errorf("%w: player %q is already sold", domain.ErrInvariantViolation, playerID)
		}
	}
	for _, p := range s.unsold {
		if p.ID == playerID {
			return fmt.Errorf("%w: player %q is already unsold", domain.ErrInvariantViolation, playerID)
		}
	}
	return nil
}

func (s *Session) knownIDsLocked() map[string]struct{} {
	known := make(map[string]struct{}, len(s.available)+len(s.sold)+len(s.unsold))
	for _, p := range s.available {
		known[p.ID] = struct{}{}
	}
	for _, p := range s.sold {
		known[p.ID] = struct{}{}
	}
	for _, p := range s.unsold {
		known[p.ID] = struct{}{}
	}
	return known
}

func (s *Session) teamIndex(id string) int {
	return slices.IndexFunc(s.teams, func(t domain.Team) bool { return t.ID == id })
}

func (s *Session) availableIndex(id string) int {
	return slices.IndexFunc(s.available, func(p domain.Available) bool { return p.ID == id })
}
