package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/bot/commands"
	"github.com/jensholdgaard/auctiond/internal/domain"
)

// announceBuffer bounds the messages waiting for Discord.
const announceBuffer = 64

// Sender posts a message to a channel. *discordgo.Session satisfies it.
type Sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer posts sale results to a channel. Observe is fed every session
// snapshot; Run delivers the resulting messages.
type Announcer struct {
	sender    Sender
	channelID string
	logger    *slog.Logger

	mu   sync.Mutex
	prev *auction.Snapshot
	out  chan string
}

// NewAnnouncer creates an Announcer posting to channelID.
func NewAnnouncer(sender Sender, channelID string, logger *slog.Logger) *Announcer {
	return &Announcer{
		sender:    sender,
		channelID: channelID,
		logger:    logger,
		out:       make(chan string, announceBuffer),
	}
}

// Observe diffs snap against the previous snapshot and queues announcements.
// It never blocks; messages are dropped when the queue is full.
func (a *Announcer) Observe(snap auction.Snapshot) {
	a.mu.Lock()
	prev := a.prev
	a.prev = &snap
	a.mu.Unlock()

	if prev == nil || prev.SessionID != snap.SessionID {
		return
	}
	for _, msg := range Announcements(*prev, snap) {
		select {
		case a.out <- msg:
		default:
			a.logger.Warn("announcement dropped", slog.String("message", msg))
		}
	}
}

// Run sends queued messages until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.out:
			if _, err := a.sender.ChannelMessageSend(a.channelID, msg); err != nil {
				a.logger.ErrorContext(ctx, "failed to post announcement",
					slog.String("channel_id", a.channelID),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Announcements lists what changed between two snapshots of one session:
// new sales, new unsold decisions, undone decisions, the start of round 2
// and the end of the auction.
func Announcements(prev, next auction.Snapshot) []string {
	var msgs []string

	for _, s := range added(prev.Sold, next.Sold, soldID) {
		msgs = append(msgs, fmt.Sprintf("SOLD: **%s** (%s) to **%s** for %s",
			s.Name, s.Role, s.TeamName, commands.Lakh(s.Amount)))
	}
	for _, u := range added(prev.Unsold, next.Unsold, unsoldID) {
		if prev.Round != next.Round {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("UNSOLD: **%s** (%s)", u.Name, u.Role))
	}
	for _, s := range added(next.Sold, prev.Sold, soldID) {
		msgs = append(msgs, fmt.Sprintf("Sale reversed: **%s** returns to the pool", s.Name))
	}
	if prev.Round == next.Round {
		for _, u := range added(next.Unsold, prev.Unsold, unsoldID) {
			msgs = append(msgs, fmt.Sprintf("Unsold reversed: **%s** returns to the pool", u.Name))
		}
	}
	if next.Round > prev.Round {
		msgs = append(msgs, fmt.Sprintf("Round %d begins with %d players.", next.Round, len(next.Available)))
	}
	if next.Phase == auction.PhaseEnded && prev.Phase != auction.PhaseEnded {
		msgs = append(msgs, fmt.Sprintf("**%s** is complete: %d sold, %d unsold.",
			next.Name, next.Summary.Sold, next.Summary.Unsold))
	}
	return msgs
}

func soldID(s domain.Sold) string     { return s.ID }
func unsoldID(u domain.Unsold) string { return u.ID }

// added returns the entries of next whose id is absent from prev.
func added[T any](prev, next []T, id func(T) string) []T {
	seen := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		seen[id(p)] = struct{}{}
	}
	var out []T
	for _, n := range next {
		if _, ok := seen[id(n)]; !ok {
			out = append(out, n)
		}
	}
	return out
}
