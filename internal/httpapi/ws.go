package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/leader"
)

const writeTimeout = 3 * time.Second

// Message is a server-to-client websocket frame.
type Message struct {
	Type     string            `json:"type"`
	Snapshot *auction.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// streamSnapshots pushes every snapshot to the client. Clients may send
// command envelopes back; they are dispatched like POST /api/commands.
func (a *api) streamSnapshots(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.origins,
	})
	if err != nil {
		a.logger.WarnContext(r.Context(), "websocket accept failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// Only the latest snapshot matters to a slow client.
	latest := make(chan auction.Snapshot, 1)
	push := func(snap auction.Snapshot) {
		select {
		case latest <- snap:
			return
		default:
		}
		select {
		case <-latest:
		default:
		}
		select {
		case latest <- snap:
		default:
		}
	}
	cancel := a.auction.Subscribe(push)
	defer cancel()
	if snap, err := a.auction.Snapshot(); err == nil {
		push(snap)
	}

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-latest:
				if err := write(ctx, conn, Message{Type: "snapshot", Snapshot: &snap}); err != nil {
					stop()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					a.logger.DebugContext(ctx, "websocket read failed", slog.Any("error", err))
				}
			}
			return
		}
		if err := a.handleFrame(ctx, data); err != nil {
			_ = write(ctx, conn, Message{Type: "error", Error: err.Error()})
		}
	}
}

func (a *api) handleFrame(ctx context.Context, data []byte) error {
	if a.leader != nil && !a.leader.IsLeader() {
		return leader.ErrNotLeader
	}
	cmd, err := command.Decode(data)
	if err != nil {
		return err
	}
	return a.auction.Dispatch(ctx, cmd)
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
