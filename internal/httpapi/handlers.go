package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/domain"
	"github.com/jensholdgaard/auctiond/internal/leader"
)

// maxBody bounds command and key payloads.
const maxBody = 64 << 10

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// Result is the body of a successful mutation.
type Result struct {
	Command  command.Type     `json:"command,omitempty"`
	Snapshot auction.Snapshot `json:"snapshot"`
}

// PlayerStatus is the body of GET /api/players/{id}.
type PlayerStatus struct {
	domain.Player
	Status     domain.Status    `json:"status"`
	OnTheBlock bool             `json:"onTheBlock,omitempty"`
	TeamID     string           `json:"teamId,omitempty"`
	Amount     *decimal.Decimal `json:"soldAmount,omitempty"`
	Round      int              `json:"round,omitempty"`
	CanRetry   bool             `json:"canRetry,omitempty"`
}

// KeyPress is the body of POST /api/keys.
type KeyPress struct {
	Key string `json:"key"`
}

func (a *api) getState(w http.ResponseWriter, r *http.Request) {
	snap, err := a.auction.Snapshot()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, snap)
}

func (a *api) getPlayer(w http.ResponseWriter, r *http.Request) {
	snap, err := a.auction.Snapshot()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	lot, err := snap.Lot(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ps := PlayerStatus{Player: lot.Base(), Status: lot.Status()}
	switch l := lot.(type) {
	case domain.Available:
		ps.OnTheBlock = snap.CurrentPlayer != nil && snap.CurrentPlayer.ID == l.ID
	case domain.Sold:
		ps.TeamID = l.TeamID
		ps.Amount = &l.Amount
		ps.Round = l.Round
	case domain.Unsold:
		ps.CanRetry = l.CanRetry
	}
	a.writeJSON(w, r, http.StatusOK, ps)
}

func (a *api) postCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: reading body: %v", errBadRequest, err))
		return
	}
	cmd, err := command.Decode(body)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	a.dispatch(w, r, cmd)
}

func (a *api) postKey(w http.ResponseWriter, r *http.Request) {
	var kp KeyPress
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&kp); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: decoding key: %w", errBadRequest, err))
		return
	}
	if kp.Key == "" {
		a.writeError(w, r, fmt.Errorf("%w: key is required", errBadRequest))
		return
	}
	cmd, ok := a.keys.Press(kp.Key)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.dispatch(w, r, cmd)
}

func (a *api) deleteNotification(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, command.DismissNotification{ID: chi.URLParam(r, "id")})
}

func (a *api) clearNotifications(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, command.ClearNotifications{})
}

// dispatch runs cmd and answers with the resulting snapshot.
func (a *api) dispatch(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	if err := a.auction.Dispatch(r.Context(), cmd); err != nil {
		a.writeError(w, r, err)
		return
	}
	snap, err := a.auction.Snapshot()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, Result{Command: cmd.Type(), Snapshot: snap})
}

func (a *api) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.ErrorContext(r.Context(), "failed to encode response", slog.Any("error", err))
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.logger.ErrorContext(r.Context(), "request failed", slog.Any("error", err))
	}
	body := map[string]string{"error": err.Error()}
	if id := middleware.GetReqID(r.Context()); id != "" {
		body["requestId"] = id
	}
	a.writeJSON(w, r, status, body)
}

// statusFor maps session and input errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, command.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrNotLoaded), errors.Is(err, leader.ErrNotLeader):
		return http.StatusServiceUnavailable
	case errors.Is(err, auction.ErrUnknownTeam),
		errors.Is(err, auction.ErrUnknownNotification),
		errors.Is(err, auction.ErrUnknownPlayer):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrInvalidBid),
		errors.Is(err, auction.ErrNoCurrentPlayer),
		errors.Is(err, auction.ErrNoSelectedTeam):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auction.ErrPlayerInProgress),
		errors.Is(err, auction.ErrPlayerResolved),
		errors.Is(err, auction.ErrAuctionOver),
		errors.Is(err, auction.ErrRoundTwoUnavailable),
		errors.Is(err, auction.ErrRosterLocked),
		errors.Is(err, auction.ErrNothingToUndo),
		errors.Is(err, auction.ErrUnsupportedUndo),
		errors.Is(err, auction.ErrNoPlayersAvailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
