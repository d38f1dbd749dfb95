// Package eventlog provides the value types and interfaces for per-topic event logs.
//
// This package defines the core abstractions of the EventBus event log component:
//   - Event: an immutable record with an id, a name, string attributes and a timestamp
//   - Failure: the dead-letter variant of an Event, produced when a push delivery gives up
//   - Index: an immutable position into one topic's log
//   - Topic: a name-only topic identifier
//   - TopicLog: the append-only log of one topic plus its id and timestamp indexes
//
// Example usage:
//
//	// Append an event and look it up again
//	idx, err := log.Append(event)
//	if err != nil {
//		return err
//	}
//	stored, err := log.ByID(event.ID)
//
//	// Resume after an outage: first event strictly after t
//	next := log.IndexAfterTimestamp(t)
//	events := log.Read(next, 100)
//
// Indexes are only ever produced by the log itself. Index.Increment returns a new value and
// never mutates the receiver, so an Index can be shared freely between goroutines.
package eventlog
