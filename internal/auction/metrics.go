package auction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/domain"
)

// Metrics are the auction's OTel instruments.
type Metrics struct {
	commands            metric.Int64Counter
	rejections          metric.Int64Counter
	invariantViolations metric.Int64Counter
	soldAmount          metric.Float64Histogram
}

// NewMetrics creates the auction instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	commands, err := meter.Int64Counter("auction.commands",
		metric.WithDescription("Commands dispatched to the auction session."))
	if err != nil {
		return nil, fmt.Errorf("creating commands counter: %w", err)
	}
	rejections, err := meter.Int64Counter("auction.rejections",
		metric.WithDescription("Commands rejected by auction rules."))
	if err != nil {
		return nil, fmt.Errorf("creating rejections counter: %w", err)
	}
	violations, err := meter.Int64Counter("auction.invariant_violations",
		metric.WithDescription("Operations aborted because they would break a session invariant."))
	if err != nil {
		return nil, fmt.Errorf("creating invariant violations counter: %w", err)
	}
	sold, err := meter.Float64Histogram("auction.sold_amount",
		metric.WithDescription("Sale prices of players."),
		metric.WithUnit("{lakh}"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 20, 50, 100, 200))
	if err != nil {
		return nil, fmt.Errorf("creating sold amount histogram: %w", err)
	}

	return &Metrics{
		commands:            commands,
		rejections:          rejections,
		invariantViolations: violations,
		soldAmount:          sold,
	}, nil
}

func (m *Metrics) recordCommand(ctx context.Context, t command.Type, err error) {
	if m == nil {
		return
	}
	typ := attribute.String("command", string(t))
	m.commands.Add(ctx, 1, metric.WithAttributes(typ))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvariantViolation):
		m.invariantViolations.Add(ctx, 1, metric.WithAttributes(typ))
	default:
		m.rejections.Add(ctx, 1, metric.WithAttributes(typ, attribute.String("reason", reason(err))))
	}
}

func (m *Metrics) recordSale(ctx context.Context, s domain.Sold) {
	if m == nil {
		return
	}
	amount, _ := s.Amount.Float64()
	m.soldAmount.Record(ctx, amount, metric.WithAttributes(
		attribute.String("team.id", s.TeamID),
		attribute.Int("round", s.Round),
	))
}

// reason maps an error onto a low-cardinality label.
func reason(err error) string {
	for _, r := range []struct {
		err   error
		label string
	}{
		{ErrInvalidBid, "invalid_bid"},
		{ErrNoCurrentPlayer, "no_current_player"},
		{ErrNoSelectedTeam, "no_selected_team"},
		{ErrNoPlayersAvailable, "no_players_available"},
		{ErrUnsupportedUndo, "unsupported_undo"},
		{ErrNothingToUndo, "nothing_to_undo"},
		{ErrPlayerInProgress, "player_in_progress"},
		{ErrPlayerResolved, "player_resolved"},
		{ErrUnknownTeam, "unknown_team"},
		{ErrRoundTwoUnavailable, "round_two_unavailable"},
		{ErrAuctionOver, "auction_over"},
		{ErrRosterLocked, "roster_locked"},
		{ErrUnknownNotification, "unknown_notification"},
	} {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
