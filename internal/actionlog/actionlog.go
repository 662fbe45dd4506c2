// Package actionlog records the undo-relevant actions taken during an
// auction session, most recent last.
package actionlog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates log entries.
type Kind string

const (
	BidPlaced    Kind = "BID_PLACED"
	PlayerSold   Kind = "PLAYER_SOLD"
	PlayerUnsold Kind = "PLAYER_UNSOLD"
)

// Entry is one recorded action. Which fields are set depends on Kind:
// BidPlaced carries TeamID and Amount plus the bid and team it replaced,
// PlayerSold carries the player, team and amount, PlayerUnsold only the player.
type Entry struct {
	Kind       Kind            `json:"kind"`
	PlayerID   string          `json:"playerId,omitempty"`
	PlayerName string          `json:"playerName,omitempty"`
	TeamID     string          `json:"teamId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`

	PreviousBid    decimal.Decimal `json:"previousBid"`
	PreviousTeamID string          `json:"previousTeamId,omitempty"`

	At time.Time `json:"at"`
}

// Log is an append-only stack. Entries leave only through Pop.
// A Log is not safe for concurrent use; the owning session serializes access.
type Log struct {
	entries []Entry
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Push appends e.
func (l *Log) Push(e Entry) {
	l.entries = append(l.entries, e)
}

// Pop removes and returns the most recent entry. ok is false when the log is empty.
func (l *Log) Pop() (e Entry, ok bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	last := len(l.entries) - 1
	e = l.entries[last]
	l.entries = l.entries[:last]
	return e, true
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}
