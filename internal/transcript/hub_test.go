package transcript

import (
	"fmt"
	"testing"
	"time"
)

func TestPublishReachesSubscribersInOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Publish("s1", "user", "hello")
	hub.Publish("s1", "assistant", "hi, how can I help?")

	for name, sub := range map[string]*Subscription{"a": a, "b": b} {
		first := <-sub.C
		second := <-sub.C
		if first.Text != "hello" || second.Text != "hi, how can I help?" {
			t.Errorf("subscriber %s got %q then %q", name, first.Text, second.Text)
		}
		if first.Role != "user" || first.SessionID != "s1" {
			t.Errorf("subscriber %s entry fields: %+v", name, first)
		}
	}
}

func TestBacklogAccumulates(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	for i := 0; i < 5; i++ {
		hub.Publish("s1", "user", fmt.Sprintf("turn %d", i))
	}

	backlog := hub.Backlog()
	if len(backlog) != 5 {
		t.Fatalf("backlog has %d entries, want 5", len(backlog))
	}
	for i, e := range backlog {
		if want := fmt.Sprintf("turn %d", i); e.Text != want {
			t.Errorf("entry %d: %q, want %q", i, e.Text, want)
		}
	}

	// The returned slice is a copy.
	backlog[0].Text = "mutated"
	if hub.Backlog()[0].Text != "turn 0" {
		t.Error("backlog mutation leaked into the hub")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	sub := hub.Subscribe()
	hub.Unsubscribe(sub.ID)
	hub.Unsubscribe(sub.ID)
	hub.Unsubscribe("never-registered")

	if _, ok := <-sub.C; ok {
		t.Error("channel still open after unsubscribe")
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("subscriber count %d after unsubscribe", hub.SubscriberCount())
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	t.Parallel()

	hub := NewHub(2)
	slow := hub.Subscribe()

	// Overflow the subscriber's queue. Publish must never block.
	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 4; i++ {
			hub.Publish("s1", "user", fmt.Sprintf("turn %d", i))
		}
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if hub.SubscriberCount() != 0 {
		t.Fatalf("subscriber count %d, want 0 after overload", hub.SubscriberCount())
	}

	// The channel delivers what was queued, then closes.
	var got int
	for range slow.C {
		got++
	}
	if got != 2 {
		t.Errorf("slow subscriber received %d entries before disconnect, want 2", got)
	}

	// Unsubscribing the already-disconnected subscriber is a no-op.
	hub.Unsubscribe(slow.ID)

	// Publishing keeps working, and new subscribers are delivered to.
	fresh := hub.Subscribe()
	hub.Publish("s1", "user", "after overload")
	if entry := <-fresh.C; entry.Text != "after overload" {
		t.Errorf("fresh subscriber got %q", entry.Text)
	}
	if len(hub.Backlog()) != 5 {
		t.Errorf("backlog has %d entries, want 5", len(hub.Backlog()))
	}
}
