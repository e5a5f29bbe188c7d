// Package events defines the progress envelopes streamed to a caller while a
// scan pipeline runs, and the ordered stream they are pushed through.
package events

import (
	"log/slog"
	"sync"

	"github.com/xploytlabs/xployt/internal/types"
)

// Status is the caller-visible phase carried by a progress envelope
type Status string

const (
	// StatusSettingUp is sent once before the first stage starts
	StatusSettingUp Status = "setting_up"
	// StatusScanning is sent for every heartbeat and checkpoint envelope
	StatusScanning Status = "scanning"
	// StatusCompleted is the terminal status of a successful run
	StatusCompleted Status = "completed"
	// StatusFailed is the terminal status of a failed run
	StatusFailed Status = "failed"
)

// IsTerminal reports whether no further envelopes may follow this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Envelope is one progress update. Payload is empty on every envelope except
// the terminal completed one, which carries the full aggregated finding list.
// Envelopes are values: constructed, emitted, never touched again.
type Envelope struct {
	Progress int             `json:"progress"`
	Status   Status          `json:"status"`
	Message  string          `json:"message"`
	Payload  []types.Finding `json:"payload"`
}

// NewProgress builds a non-terminal scanning envelope.
func NewProgress(progress int, message string) Envelope {
	return Envelope{Progress: progress, Status: StatusScanning, Message: message, Payload: []types.Finding{}}
}

// NewSetup builds the initial setting_up envelope.
func NewSetup(message string) Envelope {
	return Envelope{Progress: 0, Status: StatusSettingUp, Message: message, Payload: []types.Finding{}}
}

// NewCompleted builds the terminal envelope carrying the aggregated findings.
func NewCompleted(findings []types.Finding) Envelope {
	if findings == nil {
		findings = []types.Finding{}
	}
	return Envelope{Progress: 100, Status: StatusCompleted, Message: "scan completed", Payload: findings}
}

// NewFailed builds the terminal envelope for a failed run. progress is the
// last checkpoint the run actually reached.
func NewFailed(progress int, message string) Envelope {
	return Envelope{Progress: progress, Status: StatusFailed, Message: message, Payload: []types.Finding{}}
}

// Stream is a single-producer, strictly ordered push channel of envelopes.
// Exactly one terminal envelope is ever delivered; anything emitted after it
// is discarded. Sends never block the producer: a caller that stops reading
// loses heartbeats rather than stalling the run, which is why the stage work
// itself is not cancellable from the consumer side.
type Stream struct {
	ch chan Envelope

	mu       sync.Mutex
	terminal bool
	dropped  int
}

// DefaultBuffer is sized so a well-behaved consumer never drops an envelope:
// runs emit roughly one envelope per heartbeat tick.
const DefaultBuffer = 256

// NewStream creates a stream with the given channel buffer (0 means DefaultBuffer).
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{ch: make(chan Envelope, buffer)}
}

// Events returns the receive side of the stream. The channel is closed after
// the terminal envelope is delivered.
func (s *Stream) Events() <-chan Envelope {
	return s.ch
}

// Emit pushes an envelope to the consumer. It returns false when the
// envelope was discarded, either because a terminal envelope was already
// sent or because the consumer fell too far behind.
func (s *Stream) Emit(e Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		slog.Warn("event stream: envelope after terminal discarded", "status", e.Status, "progress", e.Progress)
		return false
	}

	select {
	case s.ch <- e:
	default:
		s.dropped++
		slog.Warn("event stream: consumer behind, envelope dropped", "status", e.Status, "progress", e.Progress, "dropped", s.dropped)
		if !e.Status.IsTerminal() {
			return false
		}
		// A terminal envelope must not be lost; evict the oldest buffered
		// heartbeat to make room for it.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- e
	}

	if e.Status.IsTerminal() {
		s.terminal = true
		close(s.ch)
	}
	return true
}

// Dropped returns how many envelopes were discarded because the consumer
// fell behind.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
