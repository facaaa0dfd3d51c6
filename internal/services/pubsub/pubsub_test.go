package pubsub

import (
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ps := New()
	if ps == nil {
		t.Fatal("New() returned nil")
	}
	if ps.subscribers == nil {
		t.Error("subscribers map should be initialized")
	}
}

func TestSubscribe(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicSnapshotApplied, 10)
	if sub == nil {
		t.Fatal("Subscribe() returned nil")
	}
	if sub.Topic != TopicSnapshotApplied {
		t.Errorf("Expected topic %s, got %s", TopicSnapshotApplied, sub.Topic)
	}
	if cap(sub.Channel) != 10 {
		t.Errorf("Expected channel buffer size 10, got %d", cap(sub.Channel))
	}
	if count := ps.SubscriberCount(TopicSnapshotApplied); count != 1 {
		t.Errorf("Expected 1 subscriber, got %d", count)
	}
}

func TestSubscribe_UniqueIDs(t *testing.T) {
	ps := New()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		sub := ps.Subscribe(TopicLocalStateChanged, 1)
		if seen[sub.ID] {
			t.Fatalf("duplicate subscriber ID %q", sub.ID)
		}
		seen[sub.ID] = true
	}
}

func TestPublish(t *testing.T) {
	ps := New()
	snap := ps.Subscribe(TopicSnapshotApplied, 1)
	conn := ps.Subscribe(TopicConnectionChanged, 1)

	ps.Publish(TopicSnapshotApplied, "hello")

	select {
	case msg := <-snap.Channel:
		if msg != "hello" {
			t.Errorf("Expected 'hello', got %v", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for message")
	}

	select {
	case msg := <-conn.Channel:
		t.Errorf("Subscriber on another topic should not receive message, got %v", msg)
	default:
	}
}

func TestPublish_FullBufferDoesNotBlock(t *testing.T) {
	ps := New()
	sub := ps.Subscribe(TopicSnapshotApplied, 1)

	done := make(chan struct{})
	go func() {
		ps.Publish(TopicSnapshotApplied, 1)
		ps.Publish(TopicSnapshotApplied, 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if msg := <-sub.Channel; msg != 1 {
		t.Errorf("Expected first message to be kept, got %v", msg)
	}
}

func TestUnsubscribe(t *testing.T) {
	ps := New()
	sub1 := ps.Subscribe(TopicSnapshotApplied, 1)
	sub2 := ps.Subscribe(TopicSnapshotApplied, 1)

	ps.Unsubscribe(sub1)

	if count := ps.SubscriberCount(TopicSnapshotApplied); count != 1 {
		t.Errorf("Expected 1 subscriber after unsubscribe, got %d", count)
	}
	if _, ok := <-sub1.Channel; ok {
		t.Error("Unsubscribed channel should be closed")
	}

	ps.Publish(TopicSnapshotApplied, "still here")
	if msg := <-sub2.Channel; msg != "still here" {
		t.Errorf("Remaining subscriber should receive messages, got %v", msg)
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	ps := New()
	subs := make([]*Subscriber, 20)
	for i := range subs {
		subs[i] = ps.Subscribe(TopicConnectionChanged, 4)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			ps.Publish(TopicConnectionChanged, i)
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range subs {
			ps.Unsubscribe(s)
		}
	}()
	wg.Wait()

	if count := ps.SubscriberCount(TopicConnectionChanged); count != 0 {
		t.Errorf("Expected 0 subscribers, got %d", count)
	}
}
