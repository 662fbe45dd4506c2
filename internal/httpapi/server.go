// Package httpapi serves the presenter's HTTP surface: health, metrics, the
// session read model, command and key endpoints, and a websocket stream of
// snapshots.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/keymap"
)

const instrumentationName = "github.com/jensholdgaard/auctiond/internal/httpapi"

// Auction is the part of auction.Manager the API drives.
type Auction interface {
	Snapshot() (auction.Snapshot, error)
	Dispatch(ctx context.Context, cmd command.Command) error
	Subscribe(fn func(auction.Snapshot)) (cancel func())
}

// Leadership reports whether this replica may mutate the session.
type Leadership interface {
	IsLeader() bool
}

// Deps wires the router.
type Deps struct {
	Auction Auction
	Keys    *keymap.Translator
	Leader  Leadership
	Health  *health.Handler
	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

type api struct {
	auction Auction
	keys    *keymap.Translator
	leader  Leadership
	origins []string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	a := &api{
		auction: d.Auction,
		keys:    d.Keys,
		leader:  d.Leader,
		origins: d.AllowedOrigins,
		logger:  d.Logger,
		tracer:  d.TracerProvider.Tracer(instrumentationName),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.Health.LivenessHandler())
	r.Get("/readyz", d.Health.ReadinessHandler())
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(a.logRequests)
		r.Get("/state", a.getState)
		r.Get("/players/{id}", a.getPlayer)
		r.Get("/ws", a.streamSnapshots)

		r.Group(func(r chi.Router) {
			r.Use(a.requireLeader)
			r.Post("/commands", a.postCommand)
			r.Post("/keys", a.postKey)
			r.Delete("/notifications", a.clearNotifications)
			r.Delete("/notifications/{id}", a.deleteNotification)
		})
	})
	return r
}
