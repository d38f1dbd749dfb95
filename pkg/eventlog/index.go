package eventlog

import "strconv"

// Index is an immutable position in a topic log.
// The zero value is the position of the first event.
type Index struct {
	pos int64
}

// NewIndex returns the index at position pos. It panics if pos is negative.
func NewIndex(pos int64) Index {
	if pos < 0 {
		panic("eventlog: negative index")
	}
	return Index{pos: pos}
}

// Position returns the zero based position.
func (i Index) Position() int64 {
	return i.pos
}

// Increment returns the index one past i.
func (i Index) Increment() Index {
	return Index{pos: i.pos + 1}
}

// Before reports whether i is strictly before other.
func (i Index) Before(other Index) bool {
	return i.pos < other.pos
}

func (i Index) String() string {
	return strconv.FormatInt(i.pos, 10)
}
