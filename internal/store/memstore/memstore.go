// Package memstore is the "file" store driver: the roster is read from a YAML
// file on every call and the session journal lives in memory. It suits a
// single laptop at the venue with no database.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/domain"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/store"
)

func init() {
	store.Register("file", open)
}

func open(_ context.Context, cfg config.DatabaseConfig, _ clock.Clock) (*store.Repositories, error) {
	if cfg.RosterFile == "" {
		return nil, fmt.Errorf("file driver: no roster file configured")
	}
	roster := NewRosterFile(cfg.RosterFile)
	if _, _, err := ReadRoster(cfg.RosterFile); err != nil {
		return nil, err
	}
	return &store.Repositories{
		Roster: roster,
		Events: NewEventStore(),
		Closer: nopCloser{},
		Ping: func(context.Context) error {
			_, err := os.Stat(cfg.RosterFile)
			return err
		},
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// document is the YAML layout of a roster file.
type document struct {
	Teams   []domain.Team   `yaml:"teams"`
	Players []domain.Player `yaml:"players"`
}

// ReadRoster parses a roster file. Loosely spelled roles are normalized and
// teams start with a full budget and an empty roster.
func ReadRoster(path string) ([]domain.Player, []domain.Team, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("reading roster file: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing roster file: %w", err)
	}

	for i := range doc.Players {
		if doc.Players[i].Role != domain.RoleUnknown {
			doc.Players[i].Role = domain.ParseRole(string(doc.Players[i].Role))
		}
	}
	for i, t := range doc.Teams {
		doc.Teams[i] = domain.NewTeam(t.ID, t.Name, t.ShortName, t.Config)
		doc.Teams[i].PrimaryColor = t.PrimaryColor
		doc.Teams[i].SecondaryColor = t.SecondaryColor
		doc.Teams[i].LogoURL = t.LogoURL
		doc.Teams[i].Captain = t.Captain
	}

	if err := domain.ValidatePlayers(doc.Players); err != nil {
		return nil, nil, fmt.Errorf("roster file %s: %w", path, err)
	}
	if err := domain.ValidateTeams(doc.Teams); err != nil {
		return nil, nil, fmt.Errorf("roster file %s: %w", path, err)
	}
	return doc.Players, doc.Teams, nil
}

// RosterFile implements store.RosterRepository over a YAML file.
type RosterFile struct {
	mu   sync.Mutex
	path string
}

// NewRosterFile returns a repository reading path.
func NewRosterFile(path string) *RosterFile {
	return &RosterFile{path: path}
}

func (r *RosterFile) ListPlayers(context.Context) ([]domain.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	players, _, err := ReadRoster(r.path)
	return players, err
}

func (r *RosterFile) ListTeams(context.Context) ([]domain.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, teams, err := ReadRoster(r.path)
	return teams, err
}

// ImportRoster rewrites the file with players and teams. Existing players
// keep their position; new ones are appended.
func (r *RosterFile) ImportRoster(_ context.Context, players []domain.Player, teams []domain.Team) error {
	if err := domain.ValidatePlayers(players); err != nil {
		return err
	}
	if err := domain.ValidateTeams(teams); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var doc document
	if existing, _, err := ReadRoster(r.path); err == nil {
		doc.Players = existing
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, p := range players {
		if i := slices.IndexFunc(doc.Players, func(e domain.Player) bool { return e.ID == p.ID }); i >= 0 {
			doc.Players[i] = p
			continue
		}
		doc.Players = append(doc.Players, p)
	}
	doc.Teams = teams

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding roster: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing roster file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replacing roster file: %w", err)
	}
	return nil
}

// EventStore is an in-memory event.Store. Events are lost on restart.
type EventStore struct {
	mu     sync.RWMutex
	events []event.Event
}

// NewEventStore returns an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Append(_ context.Context, events ...event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range events {
		dup := slices.ContainsFunc(s.events, func(x event.Event) bool {
			return x.AggregateID == e.AggregateID && x.Version == e.Version
		}) || slices.ContainsFunc(events[:i], func(x event.Event) bool {
			return x.AggregateID == e.AggregateID && x.Version == e.Version
		})
		if dup {
			return fmt.Errorf("%w: aggregate %s version %d", event.ErrVersionConflict, e.AggregateID, e.Version)
		}
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *EventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b event.Event) int { return a.Version - b.Version })
	return out, nil
}

func (s *EventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}
