package events

import (
	"testing"
	"time"
)

func TestBus_Fanout(t *testing.T) {
	b := NewBus()

	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	if n := b.SubscriberCount(); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	b.Publish(Event{Type: TypeJobQueued, JobID: 7, Title: "A Book"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != TypeJobQueued || ev.JobID != 7 {
				t.Fatalf("subscriber %d got unexpected event %+v", i, ev)
			}
			if ev.Timestamp.IsZero() {
				t.Fatalf("subscriber %d got zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()

	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}

	// Unknown ids and double unsubscribes are ignored.
	b.Unsubscribe(id)
	b.Unsubscribe("no-such-id")

	// Publishing with no subscribers is a no-op.
	b.Publish(Event{Type: TypeJobStarted})
}

func TestBus_SlowSubscriberDisconnected(t *testing.T) {
	b := NewBus()
	id, ch := b.Subscribe()

	// Fill the buffer and then some; the publisher must never block, and
	// a subscriber that cannot keep up is unregistered instead of
	// receiving an arbitrary subset of later events.
	for i := 0; i < subscriberBuffer+50; i++ {
		b.Publish(Event{Type: TypeChapterCompleted, JobID: int64(i)})
	}

	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("expected stalled subscriber unregistered, got %d subscribers", n)
	}

	// The buffered prefix is still delivered in order, then the channel
	// closes.
	var received int64
	for ev := range ch {
		if ev.JobID != received {
			t.Fatalf("event %d out of order: %#v", received, ev)
		}
		received++
	}
	if received != subscriberBuffer {
		t.Fatalf("expected %d buffered events before close, got %d", subscriberBuffer, received)
	}

	// Unsubscribing after the disconnect is a no-op.
	b.Unsubscribe(id)
}

func TestBus_PreservesCallerTimestamp(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(Event{Type: TypeJobCompleted, Timestamp: ts})

	ev := <-ch
	if !ev.Timestamp.Equal(ts) {
		t.Fatalf("timestamp rewritten: %v", ev.Timestamp)
	}
}
