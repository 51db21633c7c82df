package persist

import "sync"

type event int

const (
	eventNone event = iota
	eventMutation
	eventStop
)

func (e event) String() string {
	switch e {
	case eventMutation:
		return "mutation"
	case eventStop:
		return "stop"
	default:
		return "none"
	}
}

// eventQueue is an unbounded FIFO with its own lock so enqueuing never waits
// on the document's content lock.
type eventQueue struct {
	mu     sync.Mutex
	events []event
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// poll removes and returns the head, or eventNone when empty.
func (q *eventQueue) poll() event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return eventNone
	}
	e := q.events[0]
	q.events[0] = eventNone
	q.events = q.events[1:]
	return e
}

// dropLeading removes consecutive e events from the head and reports how
// many were removed.
func (q *eventQueue) dropLeading(e event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for n < len(q.events) && q.events[n] == e {
		n++
	}
	q.events = q.events[n:]
	return n
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
