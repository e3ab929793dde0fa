// Package deck implements the processing stages the Guide dispatches
// routing entries to (spec.md §3 "Deck", §4.3). Every deck shares the same
// shape — a name, a prefix, a bounded FIFO of pending entries, and a
// Process method — mirroring the uniform deck_interface.h contract the
// original's five decks (execution/operations/storage/hardware/network)
// all implement.
package deck

import (
	"sync"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/routing"
)

// Prefix re-exports routing's deck-prefix constants so callers of this
// package don't need to import routing just to name a deck.
const (
	PrefixExecution  = routing.PrefixExecution
	PrefixOperations = routing.PrefixOperations
	PrefixStorage    = routing.PrefixStorage
	PrefixHardware   = routing.PrefixHardware
	PrefixNetwork    = routing.PrefixNetwork
)

// Suspend is returned by Process when a deck parks an entry awaiting an
// external event (e.g. hardware_deck.c's EVENT_TIMER_SLEEP, which suspends
// the entry until timer_check_expired completes it out of band). The Guide
// must not requeue a suspended entry itself.
type Suspend struct{ Reason string }

func (s *Suspend) Error() string { return "suspended: " + s.Reason }

// Stats mirrors each original deck's run_once counters.
type Stats struct {
	Processed uint64
	Errors    uint64
	Suspended uint64
}

// Deck is the uniform processing-stage contract (spec.md §4.3).
type Deck interface {
	Name() string
	Prefix() uint8
	// Process advances entry by exactly one step: it calls
	// entry.RecordResult and returns nil, or calls entry.RecordError and
	// returns the error, or returns a *Suspend to park the entry without
	// advancing it.
	Process(entry *routing.Entry) error
	Stats() Stats
}

// Queue is a deck's bounded FIFO of pending entries (spec.md §4.3: each
// deck owns its own queue so one slow deck can't starve another).
type Queue struct {
	mu      sync.Mutex
	items   []*routing.Entry
	maxSize int
}

// NewQueue builds a Queue with the given bound (0 means unbounded).
func NewQueue(maxSize int) *Queue {
	return &Queue{maxSize: maxSize}
}

// Push enqueues entry; it returns false if the queue is at maxSize.
func (q *Queue) Push(entry *routing.Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return false
	}
	q.items = append(q.items, entry)
	return true
}

// Pop dequeues the oldest entry, or returns nil if empty.
func (q *Queue) Pop() *routing.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue has no pending entries.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// base bundles the Queue and Stats every concrete deck embeds, matching
// the common DeckContext struct every original *_deck.c file fills in at
// init time.
type base struct {
	name    string
	prefix  uint8
	queue   *Queue
	mu      sync.Mutex
	stats   Stats
}

func newBase(name string, prefix uint8, queueBound int) base {
	return base{name: name, prefix: prefix, queue: NewQueue(queueBound)}
}

func (b *base) Name() string    { return b.name }
func (b *base) Prefix() uint8   { return b.prefix }
func (b *base) Queue() *Queue   { return b.queue }
func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
func (b *base) recordOK() {
	b.mu.Lock()
	b.stats.Processed++
	b.mu.Unlock()
}
func (b *base) recordErr() {
	b.mu.Lock()
	b.stats.Processed++
	b.stats.Errors++
	b.mu.Unlock()
}
func (b *base) recordSuspend() {
	b.mu.Lock()
	b.stats.Suspended++
	b.mu.Unlock()
}

// fail is the shared helper every concrete deck's Process uses to record a
// transient or permanent error and stop, matching deck_error_detailed's
// role in the original.
func fail(entry *routing.Entry, b *base, code kerr.Code) error {
	entry.RecordError(code)
	b.recordErr()
	return kerr.Wrap(code, "deck "+b.name+" failed")
}
