package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/domain"
)

// RosterRepo implements store.RosterRepository with sqlx.
type RosterRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewRosterRepo returns a new RosterRepo.
func NewRosterRepo(db *sqlx.DB, clk clock.Clock) *RosterRepo {
	return &RosterRepo{db: db, clock: clk}
}

type playerRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Role      string          `db:"role"`
	BasePrice decimal.Decimal `db:"base_price"`
	Age       *int            `db:"age"`
	ImageURL  string          `db:"image_url"`
	Stats     []byte          `db:"stats"`
}

type teamRow struct {
	ID             string          `db:"id"`
	Name           string          `db:"name"`
	ShortName      string          `db:"short_name"`
	PrimaryColor   string          `db:"primary_color"`
	SecondaryColor string          `db:"secondary_color"`
	LogoURL        string          `db:"logo_url"`
	Captain        string          `db:"captain"`
	TotalBudget    decimal.Decimal `db:"total_budget"`
	MaxPlayers     int             `db:"max_players"`
}

func (r *RosterRepo) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	var rows []playerRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, name, role, base_price, age, image_url, stats FROM players ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}

	players := make([]domain.Player, 0, len(rows))
	for _, row := range rows {
		p := domain.Player{
			ID:        row.ID,
			Name:      row.Name,
			Role:      domain.Role(row.Role),
			BasePrice: row.BasePrice,
			Age:       row.Age,
			ImageURL:  row.ImageURL,
		}
		if err := json.Unmarshal(row.Stats, &p.Stats); err != nil {
			return nil, fmt.Errorf("decoding stats for player %s: %w", row.ID, err)
		}
		players = append(players, p)
	}
	return players, nil
}

func (r *RosterRepo) ListTeams(ctx context.Context) ([]domain.Team, error) {
	var rows []teamRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, name, short_name, primary_color, secondary_color, logo_url, captain, total_budget, max_players
		 FROM teams ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}

	teams := make([]domain.Team, 0, len(rows))
	for _, row := range rows {
		t := domain.NewTeam(row.ID, row.Name, row.ShortName, domain.TeamConfig{
			TotalBudget: row.TotalBudget,
			MaxPlayers:  row.MaxPlayers,
		})
		t.PrimaryColor = row.PrimaryColor
		t.SecondaryColor = row.SecondaryColor
		t.LogoURL = row.LogoURL
		t.Captain = row.Captain
		teams = append(teams, t)
	}
	return teams, nil
}

// ImportRoster upserts players and teams in one transaction. Existing rows
// keep their position in publication order.
func (r *RosterRepo) ImportRoster(ctx context.Context, players []domain.Player, teams []domain.Team) error {
	if err := domain.ValidatePlayers(players); err != nil {
		return err
	}
	if err := domain.ValidateTeams(teams); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
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
		_, err = tx.ExecContext(ctx,
			`INSERT INTO players (id, name, role, base_price, age, image_url, stats, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name, role = EXCLUDED.role, base_price = EXCLUDED.base_price,
			   age = EXCLUDED.age, image_url = EXCLUDED.image_url, stats = EXCLUDED.stats,
			   updated_at = EXCLUDED.updated_at`,
			p.ID, p.Name, string(p.Role), p.BasePrice, p.Age, p.ImageURL, stats, now)
		if err != nil {
			return fmt.Errorf("upserting player %s: %w", p.ID, err)
		}
	}
	for _, t := range teams {
		_, err := tx.ExecContext(ctx,
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
			t.Config.TotalBudget, t.Config.MaxPlayers, now)
		if err != nil {
			return fmt.Errorf("upserting team %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}
