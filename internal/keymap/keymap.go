// Package keymap turns presenter key presses into auction commands.
//
// Physical key identities and chord timing stay here; the auction only ever
// sees resolved commands.
package keymap

import (
	"strings"
	"sync"
	"time"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/command"
	"github.com/jensholdgaard/auctiond/internal/ladder"
)

// DefaultChordWindow is how long a pending "t" waits for a team digit.
const DefaultChordWindow = 800 * time.Millisecond

// MaxSlot is the highest team digit.
const MaxSlot = 8

// Translator maps key names (as reported by KeyboardEvent.key) to commands.
// It is safe for concurrent use.
type Translator struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	pending bool
	armedAt time.Time
}

// New returns a Translator with the given chord window. A non-positive
// window selects DefaultChordWindow.
func New(clk clock.Clock, window time.Duration) *Translator {
	if window <= 0 {
		window = DefaultChordWindow
	}
	return &Translator{clock: clk, window: window}
}

// Press handles one key. ok is false when the key maps to nothing, which
// includes arming the team-squad modifier.
func (t *Translator) Press(key string) (cmd command.Command, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	chord := t.pending && now.Sub(t.armedAt) <= t.window
	t.pending = false

	if slot, isDigit := digit(key); isDigit {
		if chord {
			return command.OpenTeamSquad{Team: command.Slot(slot)}, true
		}
		return command.BidNext{Team: command.Slot(slot)}, true
	}

	switch key {
	case " ", "Spacebar", "Escape", "Esc":
		return command.CloseOverlay{}, true
	case "ArrowUp", "Up":
		return command.IncrementBid{}, true
	case "ArrowDown", "Down":
		return command.DecrementBid{}, true
	}

	switch strings.ToLower(key) {
	case "t":
		t.pending = true
		t.armedAt = now
		return nil, false
	case "n":
		return command.NextPlayer{}, true
	case "r":
		return command.RandomPlayer{}, true
	case "s":
		return command.MarkSold{}, true
	case "u":
		return command.MarkUnsold{}, true
	case "z":
		return command.Undo{}, true
	case "q":
		return command.ToggleMultiplier{Multiplier: ladder.X2}, true
	case "w":
		return command.ToggleMultiplier{Multiplier: ladder.X5}, true
	}
	return nil, false
}

// Pending reports whether the team-squad modifier is armed and unexpired.
func (t *Translator) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending && t.clock.Now().Sub(t.armedAt) <= t.window
}

func digit(key string) (int, bool) {
	if len(key) != 1 || key[0] < '1' || key[0] > '0'+MaxSlot {
		return 0, false
	}
	return int(key[0] - '0'), true
}
