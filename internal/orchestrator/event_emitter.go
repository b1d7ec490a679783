package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EventEmitter fans validation events out to a buffered channel.
// A nil *EventEmitter discards events.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	closeOnce    sync.Once
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the buffer stays full for 100ms the event is
// dropped.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[orchestrator] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the receive side of the event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Emit must not be called afterwards.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() { close(e.events) })
}
