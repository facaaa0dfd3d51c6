// Package pubsub provides a simple publish-subscribe mechanism for client state change
// notifications.
package pubsub

import (
	"strconv"
	"sync"
)

// Topic represents a subscription topic.
type Topic string

const (
	TopicSnapshotApplied   Topic = "SNAPSHOT_APPLIED"
	TopicLocalStateChanged Topic = "LOCAL_STATE_CHANGED"
	TopicConnectionChanged Topic = "CONNECTION_CHANGED"
	TopicServerLog         Topic = "SERVER_LOG"
	TopicHistoryReceived   Topic = "HISTORY_RECEIVED"
	TopicStagesChanged     Topic = "STAGES_CHANGED"
)

// Subscriber represents a subscription channel.
type Subscriber struct {
	ID      string
	Topic   Topic
	Channel chan interface{}
}

// PubSub manages subscriptions and message distribution.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
	nextID      int
}

// New creates a new PubSub instance.
func New() *PubSub {
	return &PubSub{
		subscribers: make(map[Topic][]*Subscriber),
	}
}

// Subscribe creates a new subscription for a topic.
func (ps *PubSub) Subscribe(topic Topic, bufferSize int) *Subscriber {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.nextID++
	sub := &Subscriber{
		ID:      strconv.Itoa(ps.nextID),
		Topic:   topic,
		Channel: make(chan interface{}, bufferSize),
	}

	ps.subscribers[topic] = append(ps.subscribers[topic], sub)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (ps *PubSub) Unsubscribe(sub *Subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.subscribers[sub.Topic]
	for i, s := range subs {
		if s.ID == sub.ID {
			close(s.Channel)
			ps.subscribers[sub.Topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish sends a message to all subscribers of a topic. Subscribers whose buffer is full
// miss the message; notifications are change signals and the latest state is always
// readable from its owner.
func (ps *PubSub) Publish(topic Topic, message interface{}) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, sub := range ps.subscribers[topic] {
		select {
		case sub.Channel <- message:
		default:
		}
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (ps *PubSub) SubscriberCount(topic Topic) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}
