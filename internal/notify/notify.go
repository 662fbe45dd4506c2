// Package notify holds the operator-facing notification queue.
package notify

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/auctiond/internal/clock"
)

// Severity classifies a notification.
type Severity string

const (
	Success Severity = "success"
	Error   Severity = "error"
	Warning Severity = "warning"
	Info    Severity = "info"
)

// Notification is one dismissible message.
type Notification struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Queue is an ordered set of notifications keyed by id. Expiry is left to
// whoever renders them. A Queue is not safe for concurrent use.
type Queue struct {
	items []Notification
	clock clock.Clock
}

// NewQueue returns an empty queue stamping notifications with clk.
func NewQueue(clk clock.Clock) *Queue {
	return &Queue{clock: clk}
}

// Add appends a notification with a fresh id and returns it.
func (q *Queue) Add(sev Severity, title, message string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Severity:  sev,
		Title:     title,
		Message:   message,
		CreatedAt: q.clock.Now(),
	}
	q.items = append(q.items, n)
	return n
}

// Remove drops the notification with id and reports whether it existed.
func (q *Queue) Remove(id string) bool {
	i := slices.IndexFunc(q.items, func(n Notification) bool { return n.ID == id })
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.items = nil
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	return len(q.items)
}

// List returns a copy of the queue in insertion order.
func (q *Queue) List() []Notification {
	return slices.Clone(q.items)
}
