// Package command defines the operator commands that drive an auction
// session. Input layers (keyboard, HTTP, Discord) produce them; the auction
// manager consumes them with one exhaustive type switch.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/ladder"
)

// ErrUnknownCommand is returned by Decode for an unrecognised type.
var ErrUnknownCommand = errors.New("unknown command")

// Type names a command on the wire.
type Type string

const (
	TypeNextPlayer          Type = "next_player"
	TypeRandomPlayer        Type = "random_player"
	TypeSelectTeam          Type = "select_team"
	TypeBidNext             Type = "bid_next"
	TypePlaceBid            Type = "place_bid"
	TypeIncrementBid        Type = "increment_bid"
	TypeDecrementBid        Type = "decrement_bid"
	TypeSetMultiplier       Type = "set_multiplier"
	TypeToggleMultiplier    Type = "toggle_multiplier"
	TypeMarkSold            Type = "mark_sold"
	TypeMarkUnsold          Type = "mark_unsold"
	TypeUndo                Type = "undo"
	TypeStartRound2         Type = "start_round2"
	TypeOpenTeamSquad       Type = "open_team_squad"
	TypeCloseOverlay        Type = "close_overlay"
	TypeDismissNotification Type = "dismiss_notification"
	TypeClearNotifications  Type = "clear_notifications"
)

// Command is implemented by every command variant and nothing else.
type Command interface {
	Type() Type
	isCommand()
}

// TeamRef points at a team either by 1-based display slot or by id. On the
// wire a number is a slot and a string is an id.
type TeamRef struct {
	Slot int
	ID   string
}

// Slot refers to the team in display position n.
func Slot(n int) TeamRef { return TeamRef{Slot: n} }

// ID refers to the team with id.
func ID(id string) TeamRef { return TeamRef{ID: id} }

func (r TeamRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return "#" + strconv.Itoa(r.Slot)
}

// MarshalJSON implements json.Marshaler.
func (r TeamRef) MarshalJSON() ([]byte, error) {
	if r.ID != "" {
		return json.Marshal(r.ID)
	}
	return json.Marshal(r.Slot)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *TeamRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = TeamRef{ID: id}
		return nil
	}
	var slot int
	if err := json.Unmarshal(b, &slot); err != nil {
		return fmt.Errorf("team must be a slot number or an id: %w", err)
	}
	*r = TeamRef{Slot: slot}
	return nil
}

type (
	NextPlayer   struct{}
	RandomPlayer struct{}
	SelectTeam   struct {
		Team TeamRef `json:"team"`
	}
	// BidNext places the next ladder bid for Team.
	BidNext struct {
		Team TeamRef `json:"team"`
	}
	// PlaceBid places an explicit amount.
	PlaceBid struct {
		Team   TeamRef         `json:"team"`
		Amount decimal.Decimal `json:"amount"`
	}
	IncrementBid  struct{}
	DecrementBid  struct{}
	SetMultiplier struct {
		Multiplier ladder.Multiplier `json:"multiplier"`
	}
	ToggleMultiplier struct {
		Multiplier ladder.Multiplier `json:"multiplier"`
	}
	MarkSold      struct{}
	MarkUnsold    struct{}
	Undo          struct{}
	StartRound2   struct{}
	OpenTeamSquad struct {
		Team TeamRef `json:"team"`
	}
	CloseOverlay        struct{}
	DismissNotification struct {
		ID string `json:"id"`
	}
	ClearNotifications struct{}
)

func (NextPlayer) Type() Type          { return TypeNextPlayer }
func (RandomPlayer) Type() Type        { return TypeRandomPlayer }
func (SelectTeam) Type() Type          { return TypeSelectTeam }
func (BidNext) Type() Type             { return TypeBidNext }
func (PlaceBid) Type() Type            { return TypePlaceBid }
func (IncrementBid) Type() Type        { return TypeIncrementBid }
func (DecrementBid) Type() Type        { return TypeDecrementBid }
func (SetMultiplier) Type() Type       { return TypeSetMultiplier }
func (ToggleMultiplier) Type() Type    { return TypeToggleMultiplier }
func (MarkSold) Type() Type            { return TypeMarkSold }
func (MarkUnsold) Type() Type          { return TypeMarkUnsold }
func (Undo) Type() Type                { return TypeUndo }
func (StartRound2) Type() Type         { return TypeStartRound2 }
func (OpenTeamSquad) Type() Type       { return TypeOpenTeamSquad }
func (CloseOverlay) Type() Type        { return TypeCloseOverlay }
func (DismissNotification) Type() Type { return TypeDismissNotification }
func (ClearNotifications) Type() Type  { return TypeClearNotifications }

func (NextPlayer) isCommand()          {}
func (RandomPlayer) isCommand()        {}
func (SelectTeam) isCommand()          {}
func (BidNext) isCommand()             {}
func (PlaceBid) isCommand()            {}
func (IncrementBid) isCommand()        {}
func (DecrementBid) isCommand()        {}
func (SetMultiplier) isCommand()       {}
func (ToggleMultiplier) isCommand()    {}
func (MarkSold) isCommand()            {}
func (MarkUnsold) isCommand()          {}
func (Undo) isCommand()                {}
func (StartRound2) isCommand()         {}
func (OpenTeamSquad) isCommand()       {}
func (CloseOverlay) isCommand()        {}
func (DismissNotification) isCommand() {}
func (ClearNotifications) isCommand()  {}

// Decode parses a JSON envelope of the form {"type": "...", ...fields}.
func Decode(data []byte) (Command, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding command envelope: %w", err)
	}

	var (
		cmd Command
		err error
	)
	switch env.Type {
	case TypeNextPlayer:
		return NextPlayer{}, nil
	case TypeRandomPlayer:
		return RandomPlayer{}, nil
	case TypeIncrementBid:
		return IncrementBid{}, nil
	case TypeDecrementBid:
		return DecrementBid{}, nil
	case TypeMarkSold:
		return MarkSold{}, nil
	case TypeMarkUnsold:
		return MarkUnsold{}, nil
	case TypeUndo:
		return Undo{}, nil
	case TypeStartRound2:
		return StartRound2{}, nil
	case TypeCloseOverlay:
		return CloseOverlay{}, nil
	case TypeClearNotifications:
		return ClearNotifications{}, nil
	case TypeSelectTeam:
		cmd, err = decodeInto[SelectTeam](data)
	case TypeBidNext:
		cmd, err = decodeInto[BidNext](data)
	case TypePlaceBid:
		cmd, err = decodeInto[PlaceBid](data)
	case TypeSetMultiplier:
		cmd, err = decodeInto[SetMultiplier](data)
	case TypeToggleMultiplier:
		cmd, err = decodeInto[ToggleMultiplier](data)
	case TypeOpenTeamSquad:
		cmd, err = decodeInto[OpenTeamSquad](data)
	case TypeDismissNotification:
		cmd, err = decodeInto[DismissNotification](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return cmd, nil
}

// Encode renders cmd as a JSON envelope that Decode accepts.
func Encode(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(cmd.Type())
	return json.Marshal(fields)
}

func decodeInto[T Command](data []byte) (Command, error) {
	var c T
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c, nil
}
