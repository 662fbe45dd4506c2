package command_test

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/ladder"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want command.Type
	}{
		{"next", `{"type":"next_player"}`, command.TypeNextPlayer},
		{"random", `{"type":"random_player"}`, command.TypeRandomPlayer},
		{"sold", `{"type":"mark_sold"}`, command.TypeMarkSold},
		{"unsold", `{"type":"mark_unsold"}`, command.TypeMarkUnsold},
		{"undo", `{"type":"undo"}`, command.TypeUndo},
		{"round 2", `{"type":"start_round2"}`, command.TypeStartRound2},
		{"close", `{"type":"close_overlay"}`, command.TypeCloseOverlay},
		{"increment", `{"type":"increment_bid"}`, command.TypeIncrementBid},
		{"decrement", `{"type":"decrement_bid"}`, command.TypeDecrementBid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := command.Decode([]byte(tt.in))
			check.NoError(t, err)
			check.Equal(t, tt.want, cmd.Type())
		})
	}
}

func TestDecode_TeamRef(t *testing.T) {
	cmd, err := command.Decode([]byte(`{"type":"bid_next","team":3}`))
	check.NoError(t, err)
	bid, ok := cmd.(command.BidNext)
	check.True(t, ok)
	check.Equal(t, 3, bid.Team.Slot)
	check.Equal(t, "", bid.Team.ID)

	cmd, err = command.Decode([]byte(`{"type":"open_team_squad","team":"mi"}`))
	check.NoError(t, err)
	sq, ok := cmd.(command.OpenTeamSquad)
	check.True(t, ok)
	check.Equal(t, "mi", sq.Team.ID)
}

func TestDecode_PlaceBid(t *testing.T) {
	cmd, err := command.Decode([]byte(`{"type":"place_bid","team":"csk","amount":"12.5"}`))
	check.NoError(t, err)
	bid, ok := cmd.(command.PlaceBid)
	check.True(t, ok)
	check.Equal(t, "csk", bid.Team.ID)
	check.Equal(t, "12.5", bid.Amount.String())

	cmd, err = command.Decode([]byte(`{"type":"toggle_multiplier","multiplier":5}`))
	check.NoError(t, err)
	check.Equal(t, ladder.X5, cmd.(command.ToggleMultiplier).Multiplier)
}

func TestDecode_Errors(t *testing.T) {
	_, err := command.Decode([]byte(`{"type":"launch_rockets"}`))
	check.True(t, errors.Is(err, command.ErrUnknownCommand))

	_, err = command.Decode([]byte(`not json`))
	check.Error(t, err)

	_, err = command.Decode([]byte(`{"type":"bid_next","team":true}`))
	check.Error(t, err)
}

func TestEncode_RoundTrip(t *testing.T) {
	cmds := []command.Command{
		command.NextPlayer{},
		command.BidNext{Team: command.Slot(2)},
		command.OpenTeamSquad{Team: command.ID("rcb")},
		command.DismissNotification{ID: "abc"},
		command.ClearNotifications{},
	}
	for _, c := range cmds {
		data, err := command.Encode(c)
		check.NoError(t, err)
		got, err := command.Decode(data)
		check.NoError(t, err)
		check.Equal(t, c.Type(), got.Type())
	}

	data, err := command.Encode(command.OpenTeamSquad{Team: command.ID("rcb")})
	check.NoError(t, err)
	got, err := command.Decode(data)
	check.NoError(t, err)
	check.Equal(t, "rcb", got.(command.OpenTeamSquad).Team.ID)
}
