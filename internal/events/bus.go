// Package events is an in-process publish/subscribe bus used to invalidate
// read caches after writes. Events carry no payload; subscribers re-fetch.
package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/hearth/internal/model"
)

// Topic names a coarse change notification.
type Topic string

// Topics, one per entity kind, plus sync status.
const (
	TopicAccounts     Topic = "accounts changed"
	TopicTransactions Topic = "transactions changed"
	TopicCategories   Topic = "categories changed"
	TopicCreditCards  Topic = "credit cards changed"
	TopicLoans        Topic = "loans changed"
	TopicBudgets      Topic = "budgets changed"
	TopicRecurring    Topic = "recurring changed"
	TopicShared       Topic = "shared changed"
	TopicSyncStatus   Topic = "sync status changed"
)

var collectionTopics = map[string]Topic{
	model.CollectionAccounts:     TopicAccounts,
	model.CollectionTransactions: TopicTransactions,
	model.CollectionCategories:   TopicCategories,
	model.CollectionCreditCards:  TopicCreditCards,
	model.CollectionLoans:        TopicLoans,
	model.CollectionBudgets:      TopicBudgets,
	model.CollectionRecurring:    TopicRecurring,
	model.CollectionShared:       TopicShared,
}

// TopicFor returns the change topic of a collection.
func TopicFor(collection string) Topic {
	if t, ok := collectionTopics[collection]; ok {
		return t
	}
	return Topic(collection + " changed")
}

type subscriber struct {
	fn func()
	id int
}

// Bus delivers topics to subscribers synchronously, in no particular order.
// The zero value is ready to use.
type Bus struct {
	subs   map[Topic][]subscriber
	nextID int
	mu     sync.Mutex
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// On subscribes fn to topic and returns a function that unsubscribes it.
// Calling the returned function more than once is harmless.
func (b *Bus) On(topic Topic, fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[Topic][]subscriber)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every subscriber of topic. A panicking subscriber is logged and
// does not stop the rest.
func (b *Bus) Emit(topic Topic) {
	if b == nil {
		return
	}

	b.mu.Lock()
	subs := make([]subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, s := range subs {
		deliver(topic, s.fn)
	}
}

func deliver(topic Topic, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked", "topic", string(topic), "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
