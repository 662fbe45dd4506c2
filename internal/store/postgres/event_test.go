package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/store/postgres"
)

func TestEventStore_AppendAndLoad(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	at := time.Date(2024, 3, 22, 19, 30, 0, 0, time.UTC)
	events := []event.Event{
		{ID: uuid.NewString(), AggregateID: "s1", Type: event.SessionStarted, Data: json.RawMessage(`{"name":"Draft"}`), Version: 1, CreatedAt: at},
		{ID: uuid.NewString(), AggregateID: "s1", Type: event.BidPlaced, Data: json.RawMessage(`{"amount":"2.5"}`), Version: 2, CreatedAt: at},
		{AggregateID: "s1", Type: event.PlayerSold, Data: json.RawMessage(`{}`), Version: 3},
	}

	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := es.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d events, want 3", len(loaded))
	}
	for i, e := range loaded {
		if e.Version != i+1 {
			t.Errorf("event[%d].Version = %d, want %d", i, e.Version, i+1)
		}
		if e.ID == "" {
			t.Errorf("event[%d] has no id", i)
		}
	}
	if loaded[0].ID != events[0].ID {
		t.Errorf("id = %s, want %s", loaded[0].ID, events[0].ID)
	}
	if !loaded[0].CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", loaded[0].CreatedAt, at)
	}

	var data event.SessionStartedData
	if err := json.Unmarshal(loaded[0].Data, &data); err != nil {
		t.Fatalf("unmarshalling data: %v", err)
	}
	if data.Name != "Draft" {
		t.Errorf("name = %q, want Draft", data.Name)
	}
}

func TestEventStore_LoadByType(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 22, 0, 0, 0, 0, time.UTC)
	events := []event.Event{
		{AggregateID: "s1", Type: event.SessionStarted, Data: json.RawMessage(`{}`), Version: 1, CreatedAt: base},
		{AggregateID: "s1", Type: event.BidPlaced, Data: json.RawMessage(`{}`), Version: 2, CreatedAt: base},
		{AggregateID: "s2", Type: event.SessionStarted, Data: json.RawMessage(`{}`), Version: 1, CreatedAt: base.Add(time.Hour)},
	}
	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	started, err := es.LoadByType(ctx, event.SessionStarted)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(started) != 2 {
		t.Fatalf("LoadByType(SessionStarted) returned %d, want 2", len(started))
	}
	if started[1].AggregateID != "s2" {
		t.Errorf("latest session = %s, want s2", started[1].AggregateID)
	}
}

func TestEventStore_VersionConflict(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	e := event.Event{AggregateID: "dup", Type: event.SessionStarted, Data: json.RawMessage(`{}`), Version: 1}
	if err := es.Append(ctx, e); err != nil {
		t.Fatalf("first Append: %v", err)
	}

	err := es.Append(ctx, e)
	if !errors.Is(err, event.ErrVersionConflict) {
		t.Fatalf("Append() error = %v, want ErrVersionConflict", err)
	}
}

func TestEventStore_LoadEmpty(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)

	loaded, err := es.Load(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty slice, got %d events", len(loaded))
	}
}
