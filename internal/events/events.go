// Package events provides the ordered, replayable progress stream emitted by
// the diagnostics, discovery and service scanning engines.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types published by the engines.
const (
	StepStarted         = "diagnostics.step.started"
	StepFinished        = "diagnostics.step.finished"
	DiagnosticsComplete = "diagnostics.completed"

	DiscoveryStarted  = "discovery.started"
	HostFound         = "discovery.host.found"
	HostEnriched      = "discovery.host.enriched"
	DiscoveryComplete = "discovery.completed"

	ServiceDetected   = "services.detected"
	HostScanComplete  = "services.host.completed"
	ServiceScanFinish = "services.completed"

	RunFinished = "run.finished"
)

// Event is a single progress record. Seq starts at 1 and increases by one
// for every event published to a Log.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Publisher is what engines emit progress through.
type Publisher interface {
	Publish(eventType string, data any)
}

type discard struct{}

func (discard) Publish(string, any) {}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard
	}
	return p
}

// Log is an append-only event sequence. Subscribers may join at any time and
// replay from any sequence number.
type Log struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
	closed bool
	now    func() time.Time
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{
		notify: make(chan struct{}),
		now:    time.Now,
	}
}

// Publish appends an event. Events published after Close are dropped.
func (l *Log) Publish(eventType string, data any) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.events = append(l.events, Event{
		Seq:  uint64(len(l.events)) + 1,
		Type: eventType,
		Time: l.now(),
		Data: data,
	})
	wake := l.notify
	l.notify = make(chan struct{})
	l.mu.Unlock()

	close(wake)
}

// Close marks the log finished. Subscribers drain what is left and stop.
func (l *Log) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	wake := l.notify
	l.mu.Unlock()

	close(wake)
}

// Closed reports whether Close has been called.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Len returns the number of events published so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Events returns a copy of the events with Seq >= from.
func (l *Log) Events(from uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sliceFrom(from)
}

func (l *Log) sliceFrom(from uint64) []Event {
	start := 0
	if from > 1 {
		start = int(from - 1)
	}
	if start >= len(l.events) {
		return nil
	}
	out := make([]Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// Subscribe streams every event with Seq >= from, then follows new events
// until the log is closed or ctx ends. The returned channel is closed when
// the subscription finishes.
func (l *Log) Subscribe(ctx context.Context, from uint64) <-chan Event {
	out := make(chan Event, 16)
	if from == 0 {
		from = 1
	}

	go func() {
		defer close(out)
		next := from
		for {
			l.mu.Lock()
			batch := l.sliceFrom(next)
			wake := l.notify
			closed := l.closed
			l.mu.Unlock()

			for _, ev := range batch {
				select {
				case out <- ev:
					next = ev.Seq + 1
				case <-ctx.Done():
					return
				}
			}

			if len(batch) > 0 {
				continue
			}
			if closed {
				return
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Recorder is a Publisher that keeps events in memory, for callers that only
// need the final sequence.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		Seq:  uint64(len(r.events)) + 1,
		Type: eventType,
		Time: time.Now(),
		Data: data,
	})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
