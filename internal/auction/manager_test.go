package auction_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/domain"
	"github.com/jensholdgaard/auctiond/internal/event"
)

// --- mock helpers ---

type mockEventStore struct {
	mu       sync.Mutex
	events   []event.Event
	appendFn func(events ...event.Event) error
}

func (m *mockEventStore) Append(_ context.Context, events ...event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendFn != nil {
		return m.appendFn(events...)
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []event.Event
	for _, e := range m.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockEventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []event.Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockEventStore) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Type, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type mockRoster struct {
	players []domain.Player
	teams   []domain.Team
	err     error
}

func (m *mockRoster) ListPlayers(context.Context) ([]domain.Player, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.Player(nil), m.players...), nil
}

func (m *mockRoster) ListTeams(context.Context) ([]domain.Team, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.Team(nil), m.teams...), nil
}

func (m *mockRoster) ImportRoster(_ context.Context, players []domain.Player, teams []domain.Team) error {
	m.players, m.teams = players, teams
	return nil
}

func newRoster() *mockRoster {
	return &mockRoster{
		players: []domain.Player{player("p1", "2"), player("p2", "1"), player("p3", "0.5")},
		teams:   []domain.Team{team("t1", "100", 4), team("t2", "100", 4)},
	}
}

func newManager(events event.Store, roster *mockRoster, metrics *auction.Metrics) *auction.Manager {
	return auction.NewManager(auction.SessionConfig{Name: "Test Draft", Seed: 3}, events, roster, metrics, testLogger, testTP, testClk)
}

func TestManager_DispatchBeforeLoad(t *testing.T) {
	m := newManager(&mockEventStore{}, newRoster(), nil)

	if err := m.Dispatch(context.Background(), command.NextPlayer{}); !errors.Is(err, auction.ErrNotLoaded) {
		t.Fatalf("Dispatch() error = %v, want ErrNotLoaded", err)
	}
	if _, err := m.ReloadRoster(context.Background()); !errors.Is(err, auction.ErrNotLoaded) {
		t.Fatalf("ReloadRoster() error = %v, want ErrNotLoaded", err)
	}
	if m.Session() != nil {
		t.Error("Session() is not nil before Load")
	}
	if _, err := m.Snapshot(); !errors.Is(err, auction.ErrNotLoaded) {
		t.Fatalf("Snapshot() error = %v, want ErrNotLoaded", err)
	}
}

func TestManager_Load(t *testing.T) {
	events := &mockEventStore{}
	m := newManager(events, newRoster(), nil)

	s, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Session() != s {
		t.Error("Session() does not return the loaded session")
	}
	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.SessionID != s.ID() {
		t.Errorf("Snapshot() session = %q, want %q", snap.SessionID, s.ID())
	}
	if len(snap.Available) != 3 || len(snap.Teams) != 2 || snap.Name != "Test Draft" {
		t.Errorf("snapshot = %d players, %d teams, name %q", len(snap.Available), len(snap.Teams), snap.Name)
	}
	if got := events.types(); len(got) != 1 || got[0] != event.SessionStarted {
		t.Errorf("journal = %v, want [session.started]", got)
	}
}

func TestManager_Load_Errors(t *testing.T) {
	t.Run("roster unavailable", func(t *testing.T) {
		roster := newRoster()
		roster.err = errors.New("connection refused")
		if _, err := newManager(&mockEventStore{}, roster, nil).Load(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("invalid roster", func(t *testing.T) {
		roster := newRoster()
		roster.players = append(roster.players, player("p1", "1"))
		_, err := newManager(&mockEventStore{}, roster, nil).Load(context.Background())
		if !errors.Is(err, domain.ErrInvalidRoster) {
			t.Fatalf("Load() error = %v, want ErrInvalidRoster", err)
		}
	})
	t.Run("journal unavailable", func(t *testing.T) {
		events := &mockEventStore{appendFn: func(...event.Event) error { return errors.New("disk full") }}
		if _, err := newManager(events, newRoster(), nil).Load(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestManager_Dispatch_JournalsOutcomes(t *testing.T) {
	ctx := context.Background()
	events := &mockEventStore{}
	m := newManager(events, newRoster(), nil)
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}

	for _, cmd := range []command.Command{
		command.NextPlayer{},
		command.BidNext{Team: command.Slot(1)},
		command.PlaceBid{Team: command.ID("t2"), Amount: lakh("3")},
		command.MarkSold{},
		command.CloseOverlay{},
		command.NextPlayer{},
		command.MarkUnsold{},
	} {
		if err := m.Dispatch(ctx, cmd); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", cmd.Type(), err)
		}
	}

	want := []event.Type{event.SessionStarted, event.BidPlaced, event.BidPlaced, event.PlayerSold, event.PlayerUnsold}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	snap := m.Session().Snapshot()
	tv := teamView(t, snap, "t2")
	if !tv.RemainingBudget.Equal(lakh("97")) {
		t.Errorf("t2 remaining = %s, want 97", tv.RemainingBudget)
	}
}

func TestManager_Dispatch_UnknownSlot(t *testing.T) {
	ctx := context.Background()
	m := newManager(&mockEventStore{}, newRoster(), nil)
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Dispatch(ctx, command.NextPlayer{}); err != nil {
		t.Fatal(err)
	}

	err := m.Dispatch(ctx, command.BidNext{Team: command.Slot(7)})
	if !errors.Is(err, auction.ErrUnknownTeam) {
		t.Fatalf("Dispatch() error = %v, want ErrUnknownTeam", err)
	}
	snap := m.Session().Snapshot()
	if len(snap.History) != 0 {
		t.Errorf("history = %+v, want empty", snap.History)
	}
	if len(snap.Notifications) != 1 || snap.Notifications[0].Title != "Unknown team" {
		t.Errorf("notifications = %+v, want one unknown team", snap.Notifications)
	}
}

func TestManager_Dispatch_JournalFailureIsNotReturned(t *testing.T) {
	ctx := context.Background()
	events := &mockEventStore{}
	m := newManager(events, newRoster(), nil)
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}

	events.appendFn = func(...event.Event) error { return errors.New("db down") }
	if err := m.Dispatch(ctx, command.NextPlayer{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Dispatch(ctx, command.BidNext{Team: command.Slot(1)}); err != nil {
		t.Fatalf("Dispatch() error = %v, want nil despite journal failure", err)
	}
	if got := m.Session().Snapshot().History; len(got) != 1 {
		t.Errorf("history = %+v, want one bid", got)
	}
}

func TestManager_Recover(t *testing.T) {
	ctx := context.Background()
	events := &mockEventStore{}
	roster := newRoster()

	first := newManager(events, roster, nil)
	if _, err := first.Load(ctx); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []command.Command{
		command.NextPlayer{},
		command.BidNext{Team: command.Slot(2)},
		command.MarkSold{},
		command.CloseOverlay{},
		command.NextPlayer{},
		command.MarkUnsold{},
	} {
		if err := first.Dispatch(ctx, cmd); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", cmd.Type(), err)
		}
	}
	want := first.Session().Snapshot()

	second := newManager(events, roster, nil)
	s, err := second.Recover(ctx, "")
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	got := s.Snapshot()
	if got.SessionID != want.SessionID {
		t.Errorf("session id = %s, want %s", got.SessionID, want.SessionID)
	}
	if got.Summary != want.Summary {
		t.Errorf("summary = %+v, want %+v", got.Summary, want.Summary)
	}
	if !teamView(t, got, "t2").RemainingBudget.Equal(teamView(t, want, "t2").RemainingBudget) {
		t.Error("t2 budget not restored")
	}
	if got.Version != want.Version {
		t.Errorf("version = %d, want %d", got.Version, want.Version)
	}

	// The recovered session keeps appending to the same journal.
	if err := second.Dispatch(ctx, command.NextPlayer{}); err != nil {
		t.Fatal(err)
	}
	if err := second.Dispatch(ctx, command.BidNext{Team: command.Slot(1)}); err != nil {
		t.Fatal(err)
	}
	journal, _ := events.Load(ctx, want.SessionID)
	if last := journal[len(journal)-1]; last.Version != want.Version+1 {
		t.Errorf("last version = %d, want %d", last.Version, want.Version+1)
	}
}

func TestManager_Recover_Errors(t *testing.T) {
	ctx := context.Background()
	m := newManager(&mockEventStore{}, newRoster(), nil)

	if _, err := m.Recover(ctx, ""); !errors.Is(err, auction.ErrNothingToRecover) {
		t.Errorf("Recover() with an empty journal error = %v, want ErrNothingToRecover", err)
	}
	if _, err := m.Recover(ctx, "missing"); !errors.Is(err, auction.ErrNothingToRecover) {
		t.Errorf("Recover() of an unknown session error = %v, want ErrNothingToRecover", err)
	}
}

func TestManager_ReloadRoster(t *testing.T) {
	ctx := context.Background()
	roster := newRoster()
	m := newManager(&mockEventStore{}, roster, nil)
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}

	roster.players = append(roster.players, player("p4", "1"))
	added, err := m.ReloadRoster(ctx)
	if err != nil {
		t.Fatalf("ReloadRoster() error = %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if added, _ := m.ReloadRoster(ctx); added != 0 {
		t.Errorf("second reload added = %d, want 0", added)
	}
	if got := len(m.Session().Snapshot().Available); got != 4 {
		t.Errorf("available = %d, want 4", got)
	}
}

func TestManager_ReloadRoster_TeamsBeforeStart(t *testing.T) {
	ctx := context.Background()
	roster := newRoster()
	m := newManager(&mockEventStore{}, roster, nil)
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}

	roster.teams = append(roster.teams, team("t3", "80", 4))
	if _, err := m.ReloadRoster(ctx); err != nil {
		t.Fatalf("ReloadRoster() error = %v", err)
	}
	if got := len(m.Session().Snapshot().Teams); got != 3 {
		t.Fatalf("teams = %d, want 3", got)
	}

	// Once a player is up the team list is frozen, without extra notifications.
	if err := m.Dispatch(ctx, command.NextPlayer{}); err != nil {
		t.Fatal(err)
	}
	notes := len(m.Session().Snapshot().Notifications)
	roster.teams = roster.teams[:1]
	if _, err := m.ReloadRoster(ctx); err != nil {
		t.Fatalf("ReloadRoster() after start error = %v", err)
	}
	snap := m.Session().Snapshot()
	if len(snap.Teams) != 3 || len(snap.Notifications) != notes {
		t.Errorf("teams %d notifications %d, want 3 and %d", len(snap.Teams), len(snap.Notifications), notes)
	}
}

// Players merged after the end reopen the auction, and a restart keeps it open.
func TestManager_Recover_ReopenedAuction(t *testing.T) {
	ctx := context.Background()
	events := &mockEventStore{}
	roster := &mockRoster{
		players: []domain.Player{player("p1", "1")},
		teams:   []domain.Team{team("t1", "100", 4)},
	}

	first := newManager(events, roster, nil)
	if _, err := first.Load(ctx); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []command.Command{
		command.NextPlayer{},
		command.BidNext{Team: command.Slot(1)},
		command.MarkSold{},
	} {
		if err := first.Dispatch(ctx, cmd); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", cmd.Type(), err)
		}
	}
	if err := first.Dispatch(ctx, command.NextPlayer{}); !errors.Is(err, auction.ErrNoPlayersAvailable) {
		t.Fatalf("NextPlayer on an empty pool error = %v, want ErrNoPlayersAvailable", err)
	}
	if first.Session().Snapshot().Phase != auction.PhaseEnded {
		t.Fatal("auction did not end")
	}

	roster.players = append(roster.players, player("p2", "1"))
	if added, err := first.ReloadRoster(ctx); err != nil || added != 1 {
		t.Fatalf("ReloadRoster() = %d, %v; want 1, nil", added, err)
	}

	second := newManager(events, roster, nil)
	s, err := second.Recover(ctx, "")
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	snap := s.Snapshot()
	if snap.Phase == auction.PhaseEnded || len(snap.Available) != 1 {
		t.Fatalf("recovered phase %s with %d available, want open with 1", snap.Phase, len(snap.Available))
	}
	if err := second.Dispatch(ctx, command.NextPlayer{}); err != nil {
		t.Fatalf("NextPlayer after recovery error = %v", err)
	}
	if cur := second.Session().Snapshot().CurrentPlayer; cur == nil || cur.ID != "p2" {
		t.Errorf("current player = %+v, want p2", cur)
	}
}

func TestManager_SubscribeFollowsSessionSwap(t *testing.T) {
	ctx := context.Background()
	events := &mockEventStore{}
	m := newManager(events, newRoster(), nil)

	var (
		mu   sync.Mutex
		seen []string
	)
	cancel := m.Subscribe(func(s auction.Snapshot) {
		mu.Lock()
		seen = append(seen, s.SessionID)
		mu.Unlock()
	})
	defer cancel()

	loaded, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Dispatch(ctx, command.NextPlayer{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Recover(ctx, loaded.ID()); err != nil {
		t.Fatal(err)
	}
	if err := m.Dispatch(ctx, command.NextPlayer{}); err != nil {
		t.Fatal(err)
	}

	// The replaced session no longer reaches subscribers.
	_ = loaded.IncrementBid(ctx)

	// Load, dispatch, recover, dispatch on the recovered session.
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 {
		t.Fatalf("observed %d snapshots, want 4", len(seen))
	}
	for _, id := range seen {
		if id != loaded.ID() {
			t.Errorf("snapshot for session %s, want %s", id, loaded.ID())
		}
	}
}

func TestManager_Metrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := auction.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m := newManager(&mockEventStore{}, newRoster(), metrics)
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	_ = m.Dispatch(ctx, command.MarkSold{}) // rejected: no current player
	_ = m.Dispatch(ctx, command.NextPlayer{})
	_ = m.Dispatch(ctx, command.BidNext{Team: command.Slot(1)})
	_ = m.Dispatch(ctx, command.MarkSold{})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	sums := map[string]int64{}
	var sales uint64
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			switch data := mm.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[mm.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					sales += dp.Count
				}
			}
		}
	}
	if sums["auction.commands"] != 4 {
		t.Errorf("auction.commands = %d, want 4", sums["auction.commands"])
	}
	if sums["auction.rejections"] != 1 {
		t.Errorf("auction.rejections = %d, want 1", sums["auction.rejections"])
	}
	if sales != 1 {
		t.Errorf("auction.sold_amount count = %d, want 1", sales)
	}
}

func TestManager_ConcurrentDispatch(t *testing.T) {
	ctx := context.Background()
	roster := newRoster()
	for i := range 20 {
		roster.players = append(roster.players, player("x"+string(rune('a'+i)), "1"))
	}
	m := newManager(&mockEventStore{}, roster, nil)
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}

	cmds := []command.Command{
		command.NextPlayer{},
		command.BidNext{Team: command.Slot(1)},
		command.BidNext{Team: command.Slot(2)},
		command.IncrementBid{},
		command.MarkSold{},
		command.MarkUnsold{},
		command.Undo{},
		command.CloseOverlay{},
	}

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				err := m.Dispatch(ctx, cmds[(g+i)%len(cmds)])
				if errors.Is(err, domain.ErrInvariantViolation) {
					t.Errorf("invariant violation: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	snap := m.Session().Snapshot()
	if got := len(snap.Available) + len(snap.Sold) + len(snap.Unsold); got != len(roster.players) {
		t.Errorf("classified players = %d, want %d", got, len(roster.players))
	}
	for _, tv := range snap.Teams {
		if err := tv.Validate(); err != nil {
			t.Errorf("team invariant: %v", err)
		}
	}
}
