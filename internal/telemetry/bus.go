// Package telemetry provides a publish/subscribe event bus for
// operational observability of a running auction house: task lifecycle
// transitions, scheduler decisions, and bid outcomes. Events flow from
// components (the scheduler, auction tasks, the coordinator) to
// subscribers (the live dashboard, the optional MQTT export bridge).
//
// The bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks when telemetry is unconfigured.
package telemetry

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	SourceScheduler = "scheduler"
	SourceTask      = "task"
	SourceSession   = "session"
	SourceCoordinator = "coordinator"
)

// Kind constants describe the type of event within a source.
const (
	// KindTaskStarted signals a task left NEW for RUNNING.
	// Data: task_id, session_id.
	KindTaskStarted = "task_started"
	// KindTaskEndable signals a task became ENDABLE.
	// Data: task_id.
	KindTaskEndable = "task_endable"
	// KindTaskResumed signals a task returned to RUNNING from ENDABLE.
	// Data: task_id.
	KindTaskResumed = "task_resumed"
	// KindTaskEnding signals the scheduler moved a task to ENDING.
	// Data: task_id.
	KindTaskEnding = "task_ending"
	// KindTaskEnded signals a task reached the terminal ENDED state.
	// Data: task_id.
	KindTaskEnded = "task_ended"

	// KindBidAccepted signals a bid became the new high bid.
	// Data: task_id, bidder, bid.
	KindBidAccepted = "bid_accepted"
	// KindBidRejected signals a message handler returned an error (for a
	// bid: missing or non-integer fields). Equal or lower bids are dropped
	// without this event.
	// Data: task_id, reason.
	KindBidRejected = "bid_rejected"

	// KindClientConnected signals a bidder connection was accepted.
	// Data: client_id.
	KindClientConnected = "client_connected"
	// KindClientDisconnected signals a bidder connection closed.
	// Data: client_id.
	KindClientDisconnected = "client_disconnected"

	// KindScheduleStarted signals the scheduler's execute loop began.
	KindScheduleStarted = "schedule_started"
	// KindScheduleFinished signals the scheduler's execute loop returned.
	KindScheduleFinished = "schedule_finished"
)

// Event represents a single operational event published by a component.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[chan Event]struct{}
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call with an already-unsubscribed channel (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers. Safe to call
// on a nil receiver (returns 0).
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
