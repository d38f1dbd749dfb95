package eventlog

import (
	"errors"
	"time"
)

var (
	// ErrEventNotFound is returned when an event id is not present in a topic log
	ErrEventNotFound = errors.New("event not found")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
)

// TopicLog is the append-only event sequence of a single topic together with its
// lookup indexes. Appends are expected from a single writer at a time (the task keyed
// on the topic name); reads may come from any goroutine.
type TopicLog interface {
	// Topic returns the topic this log belongs to.
	Topic() Topic

	// Append stores the event at the end of the log, updates the id and timestamp
	// indexes and returns the index assigned to it.
	Append(event Event) (Index, error)

	// At returns the event stored at idx, or false if idx is at or past the end.
	At(idx Index) (Event, bool)

	// ByID returns the event with the given id.
	ByID(id string) (Event, error)

	// IndexOf returns the index of the event with the given id.
	IndexOf(id string) (Index, error)

	// IndexAfterTimestamp returns the index of the first event whose timestamp is
	// strictly after ts, or End() if there is none.
	IndexAfterTimestamp(ts time.Time) Index

	// Read returns up to maxCount events starting at from.
	Read(from Index, maxCount int) ([]Event, error)

	// End returns the index the next appended event will receive (the log length).
	End() Index

	// Len returns the number of events in the log.
	Len() int
}

// Statistics provides aggregate statistics about a set of topic logs
type Statistics struct {
	TotalEvents int64            // Total number of events across all topics
	TopicCounts map[string]int64 // Number of events per topic
	TopicCount  int              // Number of distinct topics
}
