package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/domain"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/httpapi"
	"github.com/jensholdgaard/auctiond/internal/keymap"
	"github.com/jensholdgaard/auctiond/internal/leader"
)

// --- mock helpers ---

type stubAuction struct {
	mu         sync.Mutex
	loaded     bool
	snap       auction.Snapshot
	dispatchFn func(cmd command.Command) error
	dispatched []command.Command
	subs       map[int]func(auction.Snapshot)
	nextSub    int
}

func newStub() *stubAuction {
	return &stubAuction{
		loaded: true,
		snap:   auction.Snapshot{SessionID: "s-1", Name: "Test Auction", Round: 1},
		subs:   make(map[int]func(auction.Snapshot)),
	}
}

func (s *stubAuction) Snapshot() (auction.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return auction.Snapshot{}, auction.ErrNotLoaded
	}
	return s.snap, nil
}

func (s *stubAuction) Dispatch(_ context.Context, cmd command.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched = append(s.dispatched, cmd)
	if s.dispatchFn != nil {
		return s.dispatchFn(cmd)
	}
	s.snap.Version++
	return nil
}

func (s *stubAuction) Subscribe(fn func(auction.Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *stubAuction) publish(snap auction.Snapshot) {
	s.mu.Lock()
	subs := make([]func(auction.Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (s *stubAuction) commands() []command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command.Command(nil), s.dispatched...)
}

func newRouter(a *stubAuction, gate *leader.Gate) http.Handler {
	clk := clock.NewMock(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	return httpapi.NewRouter(httpapi.Deps{
		Auction:        a,
		Keys:           keymap.New(clk, time.Second),
		Leader:         gate,
		Health:         health.NewHandler(clk),
		Metrics:        http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TracerProvider: noop.NewTracerProvider(),
	})
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

// --- tests ---

func TestHealthAndMetrics(t *testing.T) {
	h := newRouter(newStub(), leader.NewGate(true))

	if rr := serve(h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d, want 503", rr.Code)
	}
	rr := serve(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Errorf("/metrics = %d %q", rr.Code, rr.Body.String())
	}
}

func TestGetState(t *testing.T) {
	h := newRouter(newStub(), leader.NewGate(true))

	rr := serve(h, http.MethodGet, "/api/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	snap := decode[auction.Snapshot](t, rr)
	if snap.SessionID != "s-1" || snap.Name != "Test Auction" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetState_NotLoaded(t *testing.T) {
	a := newStub()
	a.loaded = false
	h := newRouter(a, leader.NewGate(true))

	rr := serve(h, http.MethodGet, "/api/state", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	body := decode[map[string]string](t, rr)
	if body["error"] == "" || body["requestId"] == "" {
		t.Errorf("error body = %v", body)
	}
}

func TestPostCommand(t *testing.T) {
	a := newStub()
	h := newRouter(a, leader.NewGate(true))

	rr := serve(h, http.MethodPost, "/api/commands", `{"type":"place_bid","team":2,"amount":"1.5"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	res := decode[httpapi.Result](t, rr)
	if res.Command != command.TypePlaceBid {
		t.Errorf("command = %q, want %q", res.Command, command.TypePlaceBid)
	}
	if res.Snapshot.Version != 1 {
		t.Errorf("snapshot version = %d, want 1", res.Snapshot.Version)
	}

	got := a.commands()
	if len(got) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(got))
	}
	bid, ok := got[0].(command.PlaceBid)
	if !ok {
		t.Fatalf("dispatched %T, want PlaceBid", got[0])
	}
	if bid.Team.Slot != 2 || bid.Amount.String() != "1.5" {
		t.Errorf("bid = %+v", bid)
	}
}

func TestPostCommand_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"type":`},
		{name: "unknown type", body: `{"type":"teleport"}`},
		{name: "bad team", body: `{"type":"bid_next","team":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newStub()
			h := newRouter(a, leader.NewGate(true))

			rr := serve(h, http.MethodPost, "/api/commands", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
			if n := len(a.commands()); n != 0 {
				t.Errorf("dispatched %d commands, want 0", n)
			}
		})
	}
}

func TestPostCommand_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: auction.ErrInvalidBid, want: http.StatusUnprocessableEntity},
		{err: auction.ErrNoCurrentPlayer, want: http.StatusUnprocessableEntity},
		{err: auction.ErrNoSelectedTeam, want: http.StatusUnprocessableEntity},
		{err: auction.ErrUnknownTeam, want: http.StatusNotFound},
		{err: auction.ErrUnknownNotification, want: http.StatusNotFound},
		{err: auction.ErrPlayerInProgress, want: http.StatusConflict},
		{err: auction.ErrPlayerResolved, want: http.StatusConflict},
		{err: auction.ErrAuctionOver, want: http.StatusConflict},
		{err: auction.ErrRoundTwoUnavailable, want: http.StatusConflict},
		{err: auction.ErrNothingToUndo, want: http.StatusConflict},
		{err: auction.ErrUnsupportedUndo, want: http.StatusConflict},
		{err: auction.ErrNoPlayersAvailable, want: http.StatusConflict},
		{err: auction.ErrNotLoaded, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			a := newStub()
			a.dispatchFn = func(command.Command) error { return fmt.Errorf("wrapped: %w", tt.err) }
			h := newRouter(a, leader.NewGate(true))

			rr := serve(h, http.MethodPost, "/api/commands", `{"type":"mark_sold"}`)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestMutations_RequireLeader(t *testing.T) {
	a := newStub()
	h := newRouter(a, leader.NewGate(false))

	for _, req := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/commands", `{"type":"next_player"}`},
		{http.MethodPost, "/api/keys", `{"key":"n"}`},
		{http.MethodDelete, "/api/notifications/abc", ""},
	} {
		rr := serve(h, req.method, req.path, req.body)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", req.method, req.path, rr.Code)
		}
	}
	if n := len(a.commands()); n != 0 {
		t.Errorf("dispatched %d commands on a standby replica", n)
	}

	if rr := serve(h, http.MethodGet, "/api/state", ""); rr.Code != http.StatusOK {
		t.Errorf("GET /api/state on standby = %d, want 200", rr.Code)
	}
}

func TestPostKey(t *testing.T) {
	a := newStub()
	h := newRouter(a, leader.NewGate(true))

	rr := serve(h, http.MethodPost, "/api/keys", `{"key":"3"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("digit key = %d, body %s", rr.Code, rr.Body.String())
	}

	// "t" arms the squad chord and dispatches nothing.
	if rr := serve(h, http.MethodPost, "/api/keys", `{"key":"t"}`); rr.Code != http.StatusNoContent {
		t.Fatalf("t = %d, want 204", rr.Code)
	}
	if rr := serve(h, http.MethodPost, "/api/keys", `{"key":"2"}`); rr.Code != http.StatusOK {
		t.Fatalf("chorded digit = %d, want 200", rr.Code)
	}
	if rr := serve(h, http.MethodPost, "/api/keys", `{"key":"F12"}`); rr.Code != http.StatusNoContent {
		t.Fatalf("unmapped key = %d, want 204", rr.Code)
	}
	if rr := serve(h, http.MethodPost, "/api/keys", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty key = %d, want 400", rr.Code)
	}

	got := a.commands()
	want := []command.Command{
		command.BidNext{Team: command.Slot(3)},
		command.OpenTeamSquad{Team: command.Slot(2)},
	}
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestDeleteNotification(t *testing.T) {
	a := newStub()
	h := newRouter(a, leader.NewGate(true))

	rr := serve(h, http.MethodDelete, "/api/notifications/n-42", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	got := a.commands()
	if len(got) != 1 || got[0] != (command.DismissNotification{ID: "n-42"}) {
		t.Errorf("dispatched %v", got)
	}
}

func TestClearNotifications(t *testing.T) {
	a := newStub()
	h := newRouter(a, leader.NewGate(true))

	rr := serve(h, http.MethodDelete, "/api/notifications", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if res := decode[httpapi.Result](t, rr); res.Command != command.TypeClearNotifications {
		t.Errorf("command = %q, want %q", res.Command, command.TypeClearNotifications)
	}
	if rr := serve(newRouter(a, leader.NewGate(false)), http.MethodDelete, "/api/notifications", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("standby status = %d, want 503", rr.Code)
	}
	if got := a.commands(); len(got) != 1 {
		t.Errorf("dispatched %v, want one clear", got)
	}
}

func TestGetPlayer(t *testing.T) {
	a := newStub()
	kohli := domain.Player{ID: "p1", Name: "Virat Kohli", Role: domain.RoleBatsman, BasePrice: decimal.RequireFromString("2")}
	a.snap.CurrentPlayer = &kohli
	a.snap.Available = []domain.Available{{Player: kohli}}
	a.snap.Sold = []domain.Sold{{
		Player: domain.Player{ID: "p2", Name: "Jasprit Bumrah", Role: domain.RoleBowler},
		TeamID: "mi", TeamName: "Mumbai", Amount: decimal.RequireFromString("9.5"), Round: 1,
	}}
	a.snap.Unsold = []domain.Unsold{{Player: domain.Player{ID: "p3", Name: "Ishant Sharma"}, CanRetry: true}}
	h := newRouter(a, leader.NewGate(false))

	tests := []struct {
		id   string
		want func(t *testing.T, ps httpapi.PlayerStatus)
	}{
		{"p1", func(t *testing.T, ps httpapi.PlayerStatus) {
			if ps.Status != domain.StatusAvailable || !ps.OnTheBlock || ps.Name != "Virat Kohli" {
				t.Errorf("p1 = %+v", ps)
			}
		}},
		{"p2", func(t *testing.T, ps httpapi.PlayerStatus) {
			if ps.Status != domain.StatusSold || ps.TeamID != "mi" || ps.Amount == nil || !ps.Amount.Equal(decimal.RequireFromString("9.5")) {
				t.Errorf("p2 = %+v", ps)
			}
		}},
		{"p3", func(t *testing.T, ps httpapi.PlayerStatus) {
			if ps.Status != domain.StatusUnsold || !ps.CanRetry || ps.OnTheBlock {
				t.Errorf("p3 = %+v", ps)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rr := serve(h, http.MethodGet, "/api/players/"+tt.id, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rr.Code)
			}
			tt.want(t, decode[httpapi.PlayerStatus](t, rr))
		})
	}

	if rr := serve(h, http.MethodGet, "/api/players/p9", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown player status = %d, want 404", rr.Code)
	}
}

func TestWebsocket_StreamsSnapshotsAndCommands(t *testing.T) {
	a := newStub()
	srv := httptest.NewServer(newRouter(a, leader.NewGate(true)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	read := func() httpapi.Message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg httpapi.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	}

	first := read()
	if first.Type != "snapshot" || first.Snapshot == nil || first.Snapshot.SessionID != "s-1" {
		t.Fatalf("first frame = %+v", first)
	}

	a.publish(auction.Snapshot{SessionID: "s-1", Version: 7})
	next := read()
	if next.Snapshot == nil || next.Snapshot.Version != 7 {
		t.Fatalf("pushed frame = %+v", next)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"teleport"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Type != "error" || msg.Error == "" {
		t.Fatalf("error frame = %+v", msg)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"undo"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(a.commands()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := a.commands(); len(got) != 1 || got[0] != (command.Undo{}) {
		t.Errorf("dispatched %v, want [Undo]", got)
	}
}
