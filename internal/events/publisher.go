// internal/events/publisher.go
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"netbill-service/internal/domain/event"

	"github.com/oklog/ulid/v2"
)

// Publisher delivers domain events. Publishing is best effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// New stamps an id and timestamp on a fresh event.
func New(typ event.Type, username string) event.Event {
	return event.Event{
		ID:         ulid.Make().String(),
		Type:       typ,
		Username:   username,
		OccurredAt: time.Now().UTC(),
	}
}

type nop struct{}

func (nop) Publish(context.Context, event.Event) error { return nil }

// Nop discards every event.
var Nop Publisher = nop{}

type multi []Publisher

// Multi fans an event out to several publishers and joins their errors.
func Multi(publishers ...Publisher) Publisher {
	var m multi
	for _, p := range publishers {
		if p != nil {
			m = append(m, p)
		}
	}
	return m
}

func (m multi) Publish(ctx context.Context, ev event.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// OfType filters recorded events.
func (r *Recorder) OfType(typ event.Type) []event.Event {
	var out []event.Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
