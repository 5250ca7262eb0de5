// Package events defines the notifications the core emits after a state change commits.
// Delivery to side systems happens out of process.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event.
type Type string

const (
	StreamStarted  Type = "stream.started"
	StreamStopped  Type = "stream.stopped"
	SessionStarted Type = "session.started"
	SessionEnded   Type = "session.ended"

	// Alerts for operators.
	StreamHighViewers Type = "stream.high_viewers"
	StreamFailed      Type = "stream.error"
)

// Event is one committed state change.
type Event struct {
	Type      Type           `json:"type"`
	StreamID  uuid.UUID      `json:"stream_id"`
	StreamKey string         `json:"stream_key,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher hands events to whatever delivers them.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
