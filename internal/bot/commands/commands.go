package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/command"
)

// Slash command names.
const (
	CmdNext   = "auction-next"
	CmdRandom = "auction-random"
	CmdBid    = "auction-bid"
	CmdSold   = "auction-sold"
	CmdUnsold = "auction-unsold"
	CmdUndo   = "auction-undo"
	CmdRound2 = "auction-round2"
	CmdStatus = "auction-status"
	CmdSquad  = "auction-squad"
)

// ErrMissingOption is returned when a required slash command option is absent.
var ErrMissingOption = errors.New("missing option")

// Auction is the part of auction.Manager the bot drives.
type Auction interface {
	Snapshot() (auction.Snapshot, error)
	Dispatch(ctx context.Context, cmd command.Command) error
}

// Leadership reports whether this replica may mutate the session.
type Leadership interface {
	IsLeader() bool
}

// Handlers process Discord interactions.
type Handlers struct {
	auction Auction
	leader  Leadership
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(a Auction, leader Leadership, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		auction: a,
		leader:  leader,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/auctiond/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	team := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "team",
		Description: "Team slot number, id or short name",
		Required:    true,
	}
	return []*discordgo.ApplicationCommand{
		{Name: CmdNext, Description: "Bring up the next player in roster order"},
		{Name: CmdRandom, Description: "Bring up a random available player"},
		{
			Name:        CmdBid,
			Description: "Place a bid for a team on the current player",
			Options: []*discordgo.ApplicationCommandOption{
				team,
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "amount",
					Description: "Bid in lakh, e.g. 2.5 (default: next ladder step)",
					Required:    false,
				},
			},
		},
		{Name: CmdSold, Description: "Sell the current player to the leading team"},
		{Name: CmdUnsold, Description: "Mark the current player unsold"},
		{Name: CmdUndo, Description: "Undo the last sale or unsold decision"},
		{Name: CmdRound2, Description: "Start round 2 with the unsold players"},
		{Name: CmdStatus, Description: "Show the auction status"},
		{
			Name:        CmdSquad,
			Description: "Show a team's squad and purse",
			Options:     []*discordgo.ApplicationCommandOption{team},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", data.Name)),
	)
	defer span.End()

	respond(s, i, h.Handle(ctx, data.Name, data.Options))
}

// Handle runs one slash command and returns the reply text.
func (h *Handlers) Handle(ctx context.Context, name string, opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	snap, err := h.auction.Snapshot()
	if err != nil {
		return fmt.Sprintf("Auction unavailable: %s", err)
	}

	switch name {
	case CmdStatus:
		return FormatStatus(snap)
	case CmdSquad:
		ref, err := teamOption(snap, opts)
		if err != nil {
			return err.Error()
		}
		t, ok := snap.Team(ref.ID)
		if !ok {
			return fmt.Sprintf("Unknown team %s.", ref)
		}
		return FormatSquad(t)
	}

	cmd, err := BuildCommand(snap, name, opts)
	if err != nil {
		return err.Error()
	}
	if h.leader != nil && !h.leader.IsLeader() {
		return "This replica is on standby; try again shortly."
	}
	if err := h.auction.Dispatch(ctx, cmd); err != nil {
		h.logger.DebugContext(ctx, "slash command rejected",
			slog.String("command", name),
			slog.Any("error", err),
		)
		return fmt.Sprintf("Rejected: %s", err)
	}

	after, err := h.auction.Snapshot()
	if err != nil {
		return "Done."
	}
	return confirmation(cmd, after)
}

// BuildCommand maps a mutating slash command onto an auction command. Team
// options are resolved against snap so operators can use short names.
func BuildCommand(snap auction.Snapshot, name string, opts []*discordgo.ApplicationCommandInteractionDataOption) (command.Command, error) {
	switch name {
	case CmdNext:
		return command.NextPlayer{}, nil
	case CmdRandom:
		return command.RandomPlayer{}, nil
	case CmdSold:
		return command.MarkSold{}, nil
	case CmdUnsold:
		return command.MarkUnsold{}, nil
	case CmdUndo:
		return command.Undo{}, nil
	case CmdRound2:
		return command.StartRound2{}, nil
	case CmdBid:
		ref, err := teamOption(snap, opts)
		if err != nil {
			return nil, err
		}
		raw, ok := option(opts, "amount")
		if !ok {
			return command.BidNext{Team: ref}, nil
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(raw.StringValue()))
		if err != nil {
			return nil, fmt.Errorf("amount %q is not a number", raw.StringValue())
		}
		return command.PlaceBid{Team: ref, Amount: amount}, nil
	default:
		return nil, fmt.Errorf("%w: %s", command.ErrUnknownCommand, name)
	}
}

// teamOption resolves the "team" option. A number is a display slot; any
// other value matches a team id or short name, case-insensitively.
func teamOption(snap auction.Snapshot, opts []*discordgo.ApplicationCommandInteractionDataOption) (command.TeamRef, error) {
	opt, ok := option(opts, "team")
	if !ok {
		return command.TeamRef{}, fmt.Errorf("%w: team", ErrMissingOption)
	}
	v := strings.TrimSpace(opt.StringValue())
	if n, err := strconv.Atoi(v); err == nil {
		if n < 1 || n > len(snap.Teams) {
			return command.TeamRef{}, fmt.Errorf("no team in slot %d", n)
		}
		return command.ID(snap.Teams[n-1].ID), nil
	}
	for _, t := range snap.Teams {
		if strings.EqualFold(t.ID, v) || strings.EqualFold(t.ShortName, v) {
			return command.ID(t.ID), nil
		}
	}
	return command.ID(v), nil
}

func option(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) (*discordgo.ApplicationCommandInteractionDataOption, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
