package entstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/domain"
)

// RosterRepo implements store.RosterRepository using database/sql.
type RosterRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewRosterRepo returns a new RosterRepo.
func NewRosterRepo(db *sql.DB, clk clock.Clock) *RosterRepo {
	return &RosterRepo{db: db, clock: clk}
}

func (r *RosterRepo) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, role, base_price, age, image_url, stats FROM players ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		var (
			p     domain.Player
			role  string
			age   sql.NullInt64
			stats []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &role, &p.BasePrice, &age, &p.ImageURL, &stats); err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		p.Role = domain.Role(role)
		if age.Valid {
			n := int(age.Int64)
			p.Age = &n
		}
		if err := json.Unmarshal(stats, &p.Stats); err != nil {
			return nil, fmt.Errorf("decoding stats for player %s: %w", p.ID, err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *RosterRepo) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, short_name, primary_color, secondary_color, logo_url, captain, total_budget, max_players
		 FROM teams ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	var teams []domain.Team
	for rows.Next() {
		var (
			t          domain.Team
			budget     decimal.Decimal
			maxPlayers int
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.ShortName, &t.PrimaryColor, &t.SecondaryColor,
			&t.LogoURL, &t.Captain, &budget, &maxPlayers); err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		t.Config = domain.TeamConfig{TotalBudget: budget, MaxPlayers: maxPlayers}
		t.RemainingBudget = budget
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// ImportRoster upserts players and teams in one transaction.
func (r *RosterRepo) ImportRoster(ctx context.Context, players []domain.Player, teams []domain.Team) error {
	if err := domain.ValidatePlayers(players); err != nil {
		return err
	}
	if err := domain.ValidateTeams(teams); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.clock.Now().UTC()
	for _, p := range players {
		stats, err := json.Marshal(p.Stats)
		if err != nil {
			return fmt.Errorf("encoding stats for player %s: %w", p.ID, err)
		}
		var age sql.NullInt64
		if p.Age != nil {
			age = sql.NullInt64{Int64: int64(*p.Age), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO players (id, name, role, base_price, age, image_url, stats, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name, role = EXCLUDED.role, base_price = EXCLUDED.base_price,
			   age = EXCLUDED.age, image_url = EXCLUDED.image_url, stats = EXCLUDED.stats,
			   updated_at = EXCLUDED.updated_at`,
			p.ID, p.Name, string(p.Role), p.BasePrice, age, p.ImageURL, stats, now,
		); err != nil {
			return fmt.Errorf("upserting player %s: %w", p.ID, err)
		}
	}
	for _, t := range teams {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO teams (id, name, short_name, primary_color, secondary_color, logo_url, captain,
			                    total_budget, max_players, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name, short_name = EXCLUDED.short_name,
			   primary_color = EXCLUDED.primary_color, secondary_color = EXCLUDED.secondary_color,
			   logo_url = EXCLUDED.logo_url, captain = EXCLUDED.captain,
			   total_budget = EXCLUDED.total_budget, max_players = EXCLUDED.max_players,
			   updated_at = EXCLUDED.updated_at`,
			t.ID, t.Name, t.ShortName, t.PrimaryColor, t.SecondaryColor, t.LogoURL, t.Captain,
			t.Config.TotalBudget, t.Config.MaxPlayers, now,
		); err != nil {
			return fmt.Errorf("upserting team %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}
