package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	SessionStarted Type = "session.started"
	BidPlaced      Type = "session.bid_placed"
	BidUndone      Type = "session.bid_undone"
	PlayerSold     Type = "session.player_sold"
	PlayerUnsold   Type = "session.player_unsold"
	RoundStarted   Type = "session.round_started"
	AuctionEnded   Type = "session.ended"
)

// Event represents a single session event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// SessionStartedData is the payload for SessionStarted events.
type SessionStartedData struct {
	Name    string   `json:"name"`
	Players int      `json:"players"`
	TeamIDs []string `json:"team_ids"`
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	PlayerID string          `json:"player_id"`
	TeamID   string          `json:"team_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// BidUndoneData is the payload for BidUndone events. Amount is the bid that
// is current again after the undo.
type BidUndoneData struct {
	PlayerID string          `json:"player_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// PlayerSoldData is the payload for PlayerSold events.
type PlayerSoldData struct {
	PlayerID string          `json:"player_id"`
	TeamID   string          `json:"team_id"`
	Amount   decimal.Decimal `json:"amount"`
	Round    int             `json:"round"`
}

// PlayerUnsoldData is the payload for PlayerUnsold events.
type PlayerUnsoldData struct {
	PlayerID string `json:"player_id"`
	CanRetry bool   `json:"can_retry"`
}

// RoundStartedData is the payload for RoundStarted events.
type RoundStartedData struct {
	Round     int      `json:"round"`
	PlayerIDs []string `json:"player_ids"`
}

// AuctionEndedData is the payload for AuctionEnded events.
type AuctionEndedData struct {
	Total  int `json:"total"`
	Sold   int `json:"sold"`
	Unsold int `json:"unsold"`
}
