package eventlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

func event(id string, ts int64) eventlog.Event {
	return eventlog.NewEventWithID(id, "order.created", map[string]string{"id": id}, time.Unix(ts, 0))
}

// TestTopicLog_Append tests that appends receive consecutive indexes
func TestTopicLog_Append(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))

	for i := 0; i < 3; i++ {
		idx, err := log.Append(event(fmt.Sprint(i), int64(100*i)))
		if err != nil {
			t.Fatalf("Error appending: %v", err)
		}
		if idx.Position() != int64(i) {
			t.Errorf("Expected index %d, got %d", i, idx.Position())
		}
	}

	if log.Len() != 3 {
		t.Errorf("Expected length 3, got %d", log.Len())
	}
	if log.End().Position() != 3 {
		t.Errorf("Expected end 3, got %d", log.End().Position())
	}
}

func TestTopicLog_Append_EmptyID(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))

	_, err := log.Append(eventlog.Event{Name: "x"})
	if !errors.Is(err, ErrEmptyEventID) {
		t.Fatalf("Expected ErrEmptyEventID, got %v", err)
	}
	if log.Len() != 0 {
		t.Error("Rejected event must not be appended")
	}
}

// TestTopicLog_IndexConsistency verifies the id index matches log positions
func TestTopicLog_IndexConsistency(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))

	for i := 0; i < 10; i++ {
		if _, err := log.Append(event(fmt.Sprintf("e%d", i), int64(i))); err != nil {
			t.Fatalf("Error appending: %v", err)
		}
	}

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("e%d", i)
		idx, err := log.IndexOf(id)
		if err != nil {
			t.Fatalf("IndexOf(%s) failed: %v", id, err)
		}
		stored, ok := log.At(idx)
		if !ok {
			t.Fatalf("At(%d) returned nothing", idx.Position())
		}
		if stored.ID != id {
			t.Errorf("Index for %s points at %s", id, stored.ID)
		}
		byID, err := log.ByID(id)
		if err != nil || byID.ID != id {
			t.Errorf("ByID(%s) = %v, %v", id, byID.ID, err)
		}
	}
}

func TestTopicLog_ByID_Unknown(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))

	_, err := log.ByID("missing")
	if !errors.Is(err, eventlog.ErrEventNotFound) {
		t.Fatalf("Expected ErrEventNotFound, got %v", err)
	}
	_, err = log.IndexOf("missing")
	if !errors.Is(err, eventlog.ErrEventNotFound) {
		t.Fatalf("Expected ErrEventNotFound, got %v", err)
	}
}

func TestTopicLog_DuplicateIDOverwritesIndex(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))

	log.Append(event("dup", 1))
	log.Append(event("dup", 2))

	idx, err := log.IndexOf("dup")
	if err != nil {
		t.Fatalf("IndexOf failed: %v", err)
	}
	if idx.Position() != 1 {
		t.Errorf("Expected duplicate id to point at latest event, got %d", idx.Position())
	}
	if log.Len() != 2 {
		t.Errorf("Both events should be in the log, got %d", log.Len())
	}
}

func TestTopicLog_IndexAfterTimestamp(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))
	log.Append(event("1", 100))
	log.Append(event("2", 200))
	log.Append(event("3", 200))
	log.Append(event("4", 300))

	tests := []struct {
		name string
		ts   int64
		want int64
	}{
		{"before everything", 50, 0},
		{"exactly first", 100, 1},
		{"between", 150, 1},
		{"ties are skipped", 200, 3},
		{"exactly last", 300, 4},
		{"after everything", 999, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := log.IndexAfterTimestamp(time.Unix(tt.ts, 0))
			if got.Position() != tt.want {
				t.Errorf("IndexAfterTimestamp(%d) = %d, want %d", tt.ts, got.Position(), tt.want)
			}
		})
	}
}

func TestTopicLog_IndexAfterTimestamp_OutOfOrder(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))
	log.Append(event("1", 100))
	log.Append(event("2", 300))
	log.Append(event("3", 200))

	got := log.IndexAfterTimestamp(time.Unix(150, 0))
	if got.Position() != 1 {
		t.Errorf("Expected earliest matching position 1, got %d", got.Position())
	}
	got = log.IndexAfterTimestamp(time.Unix(250, 0))
	if got.Position() != 1 {
		t.Errorf("Expected position 1 for ts 250, got %d", got.Position())
	}
}

func TestTopicLog_IndexAfterTimestamp_Empty(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))

	if got := log.IndexAfterTimestamp(time.Unix(0, 0)); got.Position() != 0 {
		t.Errorf("Expected end of empty log, got %d", got.Position())
	}
}

func TestTopicLog_Read(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))
	for i := 0; i < 5; i++ {
		log.Append(event(fmt.Sprint(i), int64(i)))
	}

	results, err := log.Read(eventlog.NewIndex(1), 2)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "1" || results[1].ID != "2" {
		t.Errorf("Unexpected read result: %+v", results)
	}

	results, err = log.Read(eventlog.NewIndex(4), 10)
	if err != nil || len(results) != 1 {
		t.Errorf("Expected 1 trailing event, got %d (%v)", len(results), err)
	}

	results, err = log.Read(eventlog.NewIndex(10), 10)
	if err != nil || len(results) != 0 {
		t.Errorf("Expected empty read past end, got %d (%v)", len(results), err)
	}

	if _, err := log.Read(eventlog.NewIndex(0), -1); !errors.Is(err, eventlog.ErrNegativeMaxCount) {
		t.Errorf("Expected ErrNegativeMaxCount, got %v", err)
	}
}

func TestTopicLog_ReadReturnsCopies(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))
	log.Append(event("1", 1))

	results, _ := log.Read(eventlog.NewIndex(0), 1)
	results[0].Attributes["id"] = "tampered"

	stored, _ := log.ByID("1")
	if stored.Attributes["id"] != "1" {
		t.Error("Stored event was mutated through a read result")
	}
}

func TestReplay(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))
	for i := 0; i < 4; i++ {
		log.Append(event(fmt.Sprint(i), int64(i)))
	}

	ctx := context.Background()
	eventChan, errChan := Replay(ctx, log, eventlog.NewIndex(1))

	var ids []string
	for e := range eventChan {
		ids = append(ids, e.ID)
	}
	if err := <-errChan; err != nil {
		t.Fatalf("Unexpected replay error: %v", err)
	}
	if fmt.Sprint(ids) != "[1 2 3]" {
		t.Errorf("Expected [1 2 3], got %v", ids)
	}
}

func TestReplay_Cancelled(t *testing.T) {
	log := NewInMemoryTopicLog(eventlog.NewTopic("orders"))
	for i := 0; i < 4; i++ {
		log.Append(event(fmt.Sprint(i), int64(i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	eventChan, errChan := Replay(ctx, log, eventlog.NewIndex(0))

	<-eventChan
	cancel()

	// Drain remaining events; the producer stops once it sees the cancellation
	for range eventChan {
	}
	if err := <-errChan; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled or nil, got %v", err)
	}
}
