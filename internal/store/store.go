package store

import (
	"context"
	"errors"

	"github.com/jensholdgaard/auctiond/internal/domain"
)

// ErrReadOnly is returned by drivers that cannot import a roster.
var ErrReadOnly = errors.New("roster store is read-only")

// RosterRepository is the inbound data feed: the players and teams an
// auction is seeded from.
type RosterRepository interface {
	// ListPlayers returns players in publication order.
	ListPlayers(ctx context.Context) ([]domain.Player, error)
	// ListTeams returns teams in display order with full budgets and empty rosters.
	ListTeams(ctx context.Context) ([]domain.Team, error)
	// ImportRoster upserts players and teams.
	ImportRoster(ctx context.Context, players []domain.Player, teams []domain.Team) error
}
