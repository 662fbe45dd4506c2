package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/notify"
	"github.com/jensholdgaard/auctiond/internal/store"
	"github.com/jensholdgaard/auctiond/internal/telemetry"
)

var (
	// ErrNotLoaded is returned when a command arrives before a session exists.
	ErrNotLoaded = errors.New("no auction session loaded")
	// ErrNothingToRecover is returned by Recover when the journal holds no session.
	ErrNothingToRecover = errors.New("no journaled session to recover")
)

// Manager owns the process's auction session: it seeds it from the roster
// store, dispatches commands onto it and journals what happened.
type Manager struct {
	mu        sync.RWMutex
	session   *Session
	unwatch   func()
	observers map[int]func(Snapshot)
	nextObs   int

	cfg     SessionConfig
	events  event.Store
	roster  store.RosterRepository
	metrics *Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	tp      trace.TracerProvider
	clock   clock.Clock
}

// NewManager creates a new auction Manager. metrics may be nil.
func NewManager(cfg SessionConfig, events event.Store, roster store.RosterRepository, metrics *Metrics, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		observers: make(map[int]func(Snapshot)),
		cfg:       cfg,
		events:    events,
		roster:    roster,
		metrics:   metrics,
		logger:    logger,
		tracer:    tp.Tracer(instrumentationName),
		tp:        tp,
		clock:     clk,
	}
}

// Session returns the live session, or nil before Load.
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Snapshot returns the live session's read model.
func (m *Manager) Snapshot() (Snapshot, error) {
	s := m.Session()
	if s == nil {
		return Snapshot{}, ErrNotLoaded
	}
	return s.Snapshot(), nil
}

// Load seeds a new session from the roster store and journals its start.
func (m *Manager) Load(ctx context.Context) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Load")
	defer span.End()

	s, err := m.newSession(ctx, m.cfg)
	if err != nil {
		return nil, err
	}
	if err := m.events.Append(ctx, s.PendingEvents()...); err != nil {
		return nil, fmt.Errorf("persisting session started event: %w", err)
	}
	m.swap(s)

	snap := s.Snapshot()
	m.logger.InfoContext(ctx, "auction session loaded",
		slog.String(telemetry.FieldSessionID, s.ID()),
		slog.Int("players", len(snap.Available)),
		slog.Int("teams", len(snap.Teams)),
	)
	return s, nil
}

// Recover reseeds sessionID from the roster store and replays its journaled
// outcomes. An empty sessionID recovers the most recently started session.
func (m *Manager) Recover(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Recover",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	if sessionID == "" {
		started, err := m.events.LoadByType(ctx, event.SessionStarted)
		if err != nil {
			return nil, fmt.Errorf("loading session started events: %w", err)
		}
		if len(started) == 0 {
			return nil, ErrNothingToRecover
		}
		sessionID = started[len(started)-1].AggregateID
	}

	events, err := m.events.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events for session %s", ErrNothingToRecover, sessionID)
	}

	cfg := m.cfg
	cfg.ID = sessionID
	s, err := m.newSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Replay(events); err != nil {
		return nil, err
	}
	m.swap(s)

	snap := s.Snapshot()
	m.logger.InfoContext(ctx, "auction session recovered",
		slog.String(telemetry.FieldSessionID, sessionID),
		slog.Int("events", len(events)),
		slog.Int("sold", snap.Summary.Sold),
		slog.Int("unsold", snap.Summary.Unsold),
		slog.Int(telemetry.FieldRound, snap.Round),
	)
	return s, nil
}

// ReloadRoster merges players published since the session was loaded. Team
// changes are picked up too until the first player goes up for auction.
func (m *Manager) ReloadRoster(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ReloadRoster")
	defer span.End()

	s := m.Session()
	if s == nil {
		return 0, ErrNotLoaded
	}
	if snap := s.Snapshot(); snap.Phase == PhaseIdle && len(snap.Sold) == 0 && len(snap.Actions) == 0 {
		teams, err := m.roster.ListTeams(ctx)
		if err != nil {
			return 0, fmt.Errorf("listing teams: %w", err)
		}
		if err := s.SetTeams(ctx, teams); err != nil && !errors.Is(err, ErrRosterLocked) {
			return 0, err
		}
	}
	players, err := m.roster.ListPlayers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing players: %w", err)
	}
	added, err := s.MergePlayers(ctx, players)
	if err != nil {
		return 0, err
	}
	if added > 0 {
		m.logger.InfoContext(ctx, "roster reloaded", slog.Int("added", added))
	}
	return added, nil
}

// Dispatch applies cmd to the session. Journal failures are logged, not
// returned: the session stays authoritative.
func (m *Manager) Dispatch(ctx context.Context, cmd command.Command) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Dispatch",
		trace.WithAttributes(attribute.String("command", string(cmd.Type()))),
	)
	defer span.End()

	s := m.Session()
	if s == nil {
		return ErrNotLoaded
	}

	err := m.apply(ctx, s, cmd)
	m.metrics.recordCommand(ctx, cmd.Type(), err)

	if pending := s.PendingEvents(); len(pending) > 0 {
		if perr := m.events.Append(ctx, pending...); perr != nil {
			m.logger.ErrorContext(ctx, "failed to persist session events",
				slog.String(telemetry.FieldSessionID, s.ID()),
				slog.String(telemetry.FieldCommand, string(cmd.Type())),
				slog.Any("error", perr),
			)
		}
	}
	if err != nil {
		m.logger.DebugContext(ctx, "command rejected",
			slog.String(telemetry.FieldCommand, string(cmd.Type())),
			slog.Any("error", err),
		)
	}
	return err
}

func (m *Manager) apply(ctx context.Context, s *Session, cmd command.Command) error {
	switch c := cmd.(type) {
	case command.NextPlayer:
		return s.SelectNextPlayer(ctx)
	case command.RandomPlayer:
		return s.SelectRandomPlayer(ctx)
	case command.SelectTeam:
		id, err := m.resolveTeam(ctx, s, c.Team)
		if err != nil {
			return err
		}
		return s.SelectTeam(ctx, id)
	case command.BidNext:
		id, err := m.resolveTeam(ctx, s, c.Team)
		if err != nil {
			return err
		}
		return s.BidNext(ctx, id)
	case command.PlaceBid:
		id, err := m.resolveTeam(ctx, s, c.Team)
		if err != nil {
			return err
		}
		return s.PlaceBid(ctx, id, c.Amount)
	case command.IncrementBid:
		return s.IncrementBid(ctx)
	case command.DecrementBid:
		return s.DecrementBid(ctx)
	case command.SetMultiplier:
		return s.SetMultiplier(ctx, c.Multiplier)
	case command.ToggleMultiplier:
		return s.ToggleMultiplier(ctx, c.Multiplier)
	case command.MarkSold:
		sold, err := s.MarkSold(ctx)
		if err == nil {
			m.metrics.recordSale(ctx, sold)
		}
		return err
	case command.MarkUnsold:
		_, err := s.MarkUnsold(ctx)
		return err
	case command.Undo:
		_, err := s.Undo(ctx)
		return err
	case command.StartRound2:
		return s.StartRound2(ctx)
	case command.OpenTeamSquad:
		id, err := m.resolveTeam(ctx, s, c.Team)
		if err != nil {
			return err
		}
		return s.ShowTeamSquad(ctx, id)
	case command.CloseOverlay:
		return s.CloseOverlay(ctx)
	case command.DismissNotification:
		return s.DismissNotification(ctx, c.ID)
	case command.ClearNotifications:
		return s.ClearNotifications(ctx)
	default:
		return fmt.Errorf("%w: %T", command.ErrUnknownCommand, cmd)
	}
}

// resolveTeam turns a slot reference into a team id. Unknown ids pass
// through so the session reports them itself.
func (m *Manager) resolveTeam(ctx context.Context, s *Session, ref command.TeamRef) (string, error) {
	if ref.ID != "" {
		return ref.ID, nil
	}
	id, err := s.TeamAt(ref.Slot)
	if err != nil {
		s.Notify(ctx, notify.Error, "Unknown team", err.Error())
		return "", err
	}
	return id, nil
}

func (m *Manager) newSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	players, err := m.roster.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	teams, err := m.roster.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	s, err := NewSession(cfg, players, teams, m.logger, m.tp, m.clock)
	if err != nil {
		return nil, fmt.Errorf("building session: %w", err)
	}
	return s, nil
}

// Subscribe registers fn for snapshots of whichever session is live, across
// Load and Recover. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) broadcast(snap Snapshot) {
	m.mu.RLock()
	observers := make([]func(Snapshot), 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.RUnlock()
	for _, o := range observers {
		o(snap)
	}
}

func (m *Manager) swap(s *Session) {
	m.mu.Lock()
	if m.unwatch != nil {
		m.unwatch()
	}
	m.session = s
	m.unwatch = s.Subscribe(m.broadcast)
	m.mu.Unlock()
	m.broadcast(s.Snapshot())
}
