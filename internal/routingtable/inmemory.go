package routingtable

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

// ErrRegistryClosed is returned by operations on a closed registry
var ErrRegistryClosed = errors.New("registry is closed")

type subscriberEntry struct {
	sub    routingtable.Subscription
	cursor eventlog.Index
}

type topicEntry struct {
	order       []string // subscriber ids in subscription order
	subscribers map[string]*subscriberEntry
}

// InMemoryRegistry implements routingtable.Registry with in-memory maps.
// It is safe for concurrent use.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	topics map[string]*topicEntry
	closed bool
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		topics: make(map[string]*topicEntry),
	}
}

// AddTopic registers an empty subscription set for topic.
func (r *InMemoryRegistry) AddTopic(topic eventlog.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[topic.Name]; ok {
		return
	}
	r.topics[topic.Name] = &topicEntry{
		subscribers: make(map[string]*subscriberEntry),
	}
}

// HasTopic reports whether topic was registered.
func (r *InMemoryRegistry) HasTopic(topic eventlog.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.topics[topic.Name]
	return ok
}

// Subscribe adds or replaces a subscription.
func (r *InMemoryRegistry) Subscribe(sub routingtable.Subscription, start eventlog.Index) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.topicLocked(sub.Topic)
	if err != nil {
		return err
	}

	if existing, ok := entry.subscribers[sub.SubscriberID]; ok {
		existing.sub = sub
		return nil
	}

	entry.subscribers[sub.SubscriberID] = &subscriberEntry{sub: sub, cursor: start}
	entry.order = append(entry.order, sub.SubscriberID)
	return nil
}

// Unsubscribe removes a subscriber and its cursor.
func (r *InMemoryRegistry) Unsubscribe(topic eventlog.Topic, subscriberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.topicLocked(topic)
	if err != nil {
		return err
	}
	if _, ok := entry.subscribers[subscriberID]; !ok {
		return fmt.Errorf("%w: %s on %s", routingtable.ErrUnknownSubscriber, subscriberID, topic.Name)
	}

	delete(entry.subscribers, subscriberID)
	for i, id := range entry.order {
		if id == subscriberID {
			entry.order = append(entry.order[:i], entry.order[i+1:]...)
			break
		}
	}
	return nil
}

// Subscription returns the subscription of subscriberID on topic.
func (r *InMemoryRegistry) Subscription(topic eventlog.Topic, subscriberID string) (routingtable.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.subscriberLocked(topic, subscriberID)
	if err != nil {
		return routingtable.Subscription{}, err
	}
	return s.sub, nil
}

// Subscriptions returns a snapshot of topic's subscriptions in subscription order.
func (r *InMemoryRegistry) Subscriptions(topic eventlog.Topic) ([]routingtable.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, err := r.topicLocked(topic)
	if err != nil {
		return nil, err
	}

	result := make([]routingtable.Subscription, 0, len(entry.order))
	for _, id := range entry.order {
		result = append(result, entry.subscribers[id].sub)
	}
	return result, nil
}

// Cursor returns the read position of subscriberID on topic.
func (r *InMemoryRegistry) Cursor(topic eventlog.Topic, subscriberID string) (eventlog.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.subscriberLocked(topic, subscriberID)
	if err != nil {
		return eventlog.Index{}, err
	}
	return s.cursor, nil
}

// SetCursor moves the read position of subscriberID on topic.
func (r *InMemoryRegistry) SetCursor(topic eventlog.Topic, subscriberID string, idx eventlog.Index) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.subscriberLocked(topic, subscriberID)
	if err != nil {
		return err
	}
	s.cursor = idx
	return nil
}

// Topics returns all registered topics sorted by name.
func (r *InMemoryRegistry) Topics() []eventlog.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]eventlog.Topic, 0, len(r.topics))
	for name := range r.topics {
		topics = append(topics, eventlog.NewTopic(name))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics
}

// SubscriberCount returns the number of subscriptions across all topics.
func (r *InMemoryRegistry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.topics {
		count += len(entry.subscribers)
	}
	return count
}

// Close clears all topics and subscriptions.
func (r *InMemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil // Already closed, idempotent
	}
	r.topics = make(map[string]*topicEntry)
	r.closed = true
	return nil
}

func (r *InMemoryRegistry) topicLocked(topic eventlog.Topic) (*topicEntry, error) {
	if r.closed {
		return nil, ErrRegistryClosed
	}
	entry, ok := r.topics[topic.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", routingtable.ErrUnknownTopic, topic.Name)
	}
	return entry, nil
}

func (r *InMemoryRegistry) subscriberLocked(topic eventlog.Topic, subscriberID string) (*subscriberEntry, error) {
	entry, err := r.topicLocked(topic)
	if err != nil {
		return nil, err
	}
	s, ok := entry.subscribers[subscriberID]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", routingtable.ErrUnknownSubscriber, subscriberID, topic.Name)
	}
	return s, nil
}

// Verify that InMemoryRegistry implements the Registry interface at compile time
var _ routingtable.Registry = (*InMemoryRegistry)(nil)
