// Package events provides an in-process publish/subscribe bus for job
// lifecycle events. Subscribers receive events on bounded channels; a
// subscriber that falls behind is unregistered rather than blocking the
// publisher or receiving a gapped stream.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the worker and queue operations.
const (
	TypeJobQueued        = "job_queued"
	TypeJobStarted       = "job_started"
	TypeChapterStarted   = "chapter_started"
	TypeChapterCompleted = "chapter_completed"
	TypeJobCompleted     = "job_completed"
	TypeJobFailed        = "job_failed"
	TypeJobCancelled     = "job_cancelled"
	TypeQueuePaused      = "queue_paused"
	TypeQueueResumed     = "queue_resumed"
)

// Event is a single job lifecycle notification.
type Event struct {
	Type      string         `json:"type"`
	JobID     int64          `json:"job_id,omitempty"`
	BookID    string         `json:"book_id,omitempty"`
	Title     string         `json:"title,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. Publishers never block;
// a subscriber whose buffer is full is disconnected on the next send.
const subscriberBuffer = 100

// Bus fans events out to all current subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel is closed by Unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
// Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers an event to every subscriber without blocking.
// Subscribers whose buffer is full are unregistered and their channel
// closed. The timestamp is set here if the caller left it zero.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Stalled subscriber; disconnect it rather than stall the
			// worker or deliver an arbitrary subset of later events.
			delete(b.subs, id)
			close(ch)
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
