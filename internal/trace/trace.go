// Package trace implements the optional diagnostics sinks of the dispatch
// core: append-only streams of specialization, first-dispatch and
// invalidation events. Each sink writes under its own lock; write failures
// after a successful open are non-fatal.
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates trace events.
type Kind int

const (
	KindSpecialize Kind = iota
	KindDispatch
	KindInvalidate
	KindOverwrite
)

func (k Kind) String() string {
	switch k {
	case KindSpecialize:
		return "specialize"
	case KindDispatch:
		return "dispatch"
	case KindInvalidate:
		return "invalidate"
	case KindOverwrite:
		return "overwrite"
	}
	return "unknown"
}

// Event is one diagnostics record. Sig is the printed signature the event is
// about; Reason and Depth are filled for invalidation events.
type Event struct {
	ID        uuid.UUID
	Time      time.Time
	Kind      Kind
	Sig       string
	Reason    string
	Depth     int
	Elapsed   time.Duration
	Recompile bool
	World     uint64
}

// NewEvent stamps a fresh event with identity and wall time.
func NewEvent(kind Kind, sig string) Event {
	return Event{ID: uuid.New(), Time: time.Now(), Kind: kind, Sig: sig}
}

// Sink consumes trace events. Record must be safe for concurrent use.
type Sink interface {
	Record(ev Event)
	Close() error
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Record(ev Event) {
	for _, s := range m {
		s.Record(ev)
	}
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards all events.
type Nop struct{}

func (Nop) Record(Event) {}

func (Nop) Close() error { return nil }
