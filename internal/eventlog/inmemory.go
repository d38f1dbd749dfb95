package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

var (
	// ErrEmptyEventID is returned when an event without an id is appended
	ErrEmptyEventID = errors.New("event id cannot be empty")
)

type timestampEntry struct {
	ts  time.Time
	idx eventlog.Index
}

// InMemoryTopicLog implements eventlog.TopicLog for a single topic.
//
// Writes (Append) must only happen from the task keyed on the topic name; that key
// discipline is what orders appends. The RWMutex exists so that pull lanes running on
// other workers observe a fully updated log: all three structures change under one lock.
type InMemoryTopicLog struct {
	topic eventlog.Topic

	mu         sync.RWMutex
	events     []eventlog.Event
	eventIndex map[string]eventlog.Index // event id -> position
	timestamps []timestampEntry          // sorted by timestamp, stable for ties
	inOrder    bool                      // true while timestamps were appended non-decreasing
}

// NewInMemoryTopicLog creates an empty log for topic.
func NewInMemoryTopicLog(topic eventlog.Topic) *InMemoryTopicLog {
	return &InMemoryTopicLog{
		topic:      topic,
		events:     make([]eventlog.Event, 0),
		eventIndex: make(map[string]eventlog.Index),
		inOrder:    true,
	}
}

// Topic returns the topic this log belongs to.
func (l *InMemoryTopicLog) Topic() eventlog.Topic {
	return l.topic
}

// Append stores event at the end of the log and returns its index.
// A duplicate id silently repoints the id index at the newer event.
func (l *InMemoryTopicLog) Append(event eventlog.Event) (eventlog.Index, error) {
	if event.ID == "" {
		return eventlog.Index{}, ErrEmptyEventID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := eventlog.NewIndex(int64(len(l.events)))
	stored := event.Copy()

	l.insertTimestamp(stored.Timestamp, idx)
	l.eventIndex[stored.ID] = idx
	l.events = append(l.events, stored)

	return idx, nil
}

func (l *InMemoryTopicLog) insertTimestamp(ts time.Time, idx eventlog.Index) {
	n := len(l.timestamps)
	if n == 0 || !ts.Before(l.timestamps[n-1].ts) {
		l.timestamps = append(l.timestamps, timestampEntry{ts: ts, idx: idx})
		return
	}

	// Out of order: place after every entry with a timestamp <= ts
	l.inOrder = false
	pos := sort.Search(n, func(i int) bool { return l.timestamps[i].ts.After(ts) })
	l.timestamps = append(l.timestamps, timestampEntry{})
	copy(l.timestamps[pos+1:], l.timestamps[pos:])
	l.timestamps[pos] = timestampEntry{ts: ts, idx: idx}
}

// At returns a copy of the event at idx.
func (l *InMemoryTopicLog) At(idx eventlog.Index) (eventlog.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos := idx.Position()
	if pos >= int64(len(l.events)) {
		return eventlog.Event{}, false
	}
	return l.events[pos].Copy(), true
}

// ByID returns a copy of the event with the given id.
func (l *InMemoryTopicLog) ByID(id string) (eventlog.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.eventIndex[id]
	if !ok {
		return eventlog.Event{}, fmt.Errorf("%w: %s", eventlog.ErrEventNotFound, id)
	}
	return l.events[idx.Position()].Copy(), nil
}

// IndexOf returns the position of the event with the given id.
func (l *InMemoryTopicLog) IndexOf(id string) (eventlog.Index, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.eventIndex[id]
	if !ok {
		return eventlog.Index{}, fmt.Errorf("%w: %s", eventlog.ErrEventNotFound, id)
	}
	return idx, nil
}

// IndexAfterTimestamp returns the index of the earliest event with a timestamp strictly
// after ts, or End() when no such event exists.
func (l *InMemoryTopicLog) IndexAfterTimestamp(ts time.Time) eventlog.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.timestamps)
	pos := sort.Search(n, func(i int) bool { return l.timestamps[i].ts.After(ts) })
	if pos == n {
		return eventlog.NewIndex(int64(len(l.events)))
	}
	if l.inOrder {
		return l.timestamps[pos].idx
	}

	best := l.timestamps[pos].idx
	for _, entry := range l.timestamps[pos+1:] {
		if entry.idx.Before(best) {
			best = entry.idx
		}
	}
	return best
}

// Read returns up to maxCount events starting at from.
func (l *InMemoryTopicLog) Read(from eventlog.Index, maxCount int) ([]eventlog.Event, error) {
	if maxCount < 0 {
		return nil, eventlog.ErrNegativeMaxCount
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := from.Position()
	if maxCount == 0 || start >= int64(len(l.events)) {
		return make([]eventlog.Event, 0), nil
	}

	end := start + int64(maxCount)
	if end > int64(len(l.events)) {
		end = int64(len(l.events))
	}

	results := make([]eventlog.Event, 0, end-start)
	for _, event := range l.events[start:end] {
		results = append(results, event.Copy())
	}
	return results, nil
}

// End returns the index the next appended event will receive.
func (l *InMemoryTopicLog) End() eventlog.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return eventlog.NewIndex(int64(len(l.events)))
}

// Len returns the number of events in the log.
func (l *InMemoryTopicLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Replay streams events starting at from via a channel.
// The channel is closed when all events present at call time are sent or ctx is cancelled.
func Replay(ctx context.Context, log eventlog.TopicLog, from eventlog.Index) (<-chan eventlog.Event, <-chan error) {
	eventChan := make(chan eventlog.Event)
	errChan := make(chan error, 1) // Buffered to prevent blocking

	go func() {
		defer close(eventChan)
		defer close(errChan)

		end := log.End()
		for idx := from; idx.Before(end); idx = idx.Increment() {
			event, ok := log.At(idx)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			case eventChan <- event:
			}
		}
	}()

	return eventChan, errChan
}

// Verify that InMemoryTopicLog implements the TopicLog interface at compile time
var _ eventlog.TopicLog = (*InMemoryTopicLog)(nil)
