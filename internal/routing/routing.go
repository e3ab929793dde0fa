// Package routing implements the bucketed hash table of in-flight events
// (spec.md §3 "Routing table", §4.2) that the Guide drains and the syscall
// ingest path inserts into.
package routing

import (
	"sync"
	"sync/atomic"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/ring"
)

// State is a RoutingEntry's lifecycle state (spec.md §3).
type State int

const (
	Processing State = iota
	Suspended
	Completed
	Aborted
)

// ResultType tags how the Execution stage must dispose of a deck's result
// (spec.md §4.3). It is a plain int enum; the compiler does not check that
// the switch sites consuming it cover every value.
type ResultType int

const (
	ResultNone ResultType = iota
	ResultValue
	ResultStatic
	ResultKernelHeap
	ResultMemoryMapped
)

// MaxRouteSteps matches ring.MaxRouteSteps; kept as its own constant so this
// package doesn't need to import ring just for the size (it does anyway, for
// Event, but the duplication documents the invariant at the point of use).
const MaxRouteSteps = ring.MaxRouteSteps

// Deck prefixes (spec.md §4.3).
const (
	PrefixExecution  uint8 = 0
	PrefixOperations uint8 = 1
	PrefixStorage    uint8 = 2
	PrefixHardware   uint8 = 3
	PrefixNetwork    uint8 = 4
)

// EventCopy is the kernel-owned copy of the originating event's identity and
// payload, deep-copied out of user memory the moment it crosses into the
// routing table (spec.md §4.2: "the one and only point where user-supplied
// memory crosses into kernel ownership").
type EventCopy struct {
	Type        uint32
	Payload     [ring.MaxPayload]byte
	PayloadSize uint32
}

// Entry is one record per in-flight event (spec.md §3 "RoutingEntry").
type Entry struct {
	EventID      uint64
	WorkflowID   uint64
	Event        EventCopy
	Route        [MaxRouteSteps]uint8
	CurrentIndex int

	DeckResults    [MaxRouteSteps][]byte
	ResultTypes    [MaxRouteSteps]ResultType
	DeckTimestamps [MaxRouteSteps]uint64

	State     State
	ErrorCode kerr.Code
	Abort     bool

	CreatedAt uint64
}

// NextPrefix returns the deck prefix CurrentIndex points at, or
// PrefixExecution (0) if the route is exhausted.
func (e *Entry) NextPrefix() uint8 {
	if e.CurrentIndex < 0 || e.CurrentIndex >= MaxRouteSteps {
		return PrefixExecution
	}
	return e.Route[e.CurrentIndex]
}

// RouteExhausted reports whether the current route position is the
// zero-terminator.
func (e *Entry) RouteExhausted() bool {
	return e.NextPrefix() == PrefixExecution
}

// RecordResult stores a deck's result at the current route position and
// advances CurrentIndex, per spec.md §4.4: "The deck stores its result at
// deck_results[current_index]... and increments current_index." A step's
// result may only be written once (spec.md §3 invariant).
func (e *Entry) RecordResult(result []byte, rtype ResultType, timestamp uint64) {
	i := e.CurrentIndex
	if i < 0 || i >= MaxRouteSteps {
		return
	}
	e.DeckResults[i] = result
	e.ResultTypes[i] = rtype
	e.DeckTimestamps[i] = timestamp
	e.CurrentIndex++
}

// RecordError marks the entry aborted with the given code; the Guide routes
// an aborted entry straight to the Execution queue regardless of route
// position (spec.md §4.4).
func (e *Entry) RecordError(code kerr.Code) {
	e.ErrorCode = code
	e.Abort = true
	e.State = Aborted
}

// LastResult returns the most recent non-empty deck result, searching from
// the end of the route backward, matching execution_deck.c's
// collect_results loop.
func (e *Entry) LastResult() (data []byte, idx int, ok bool) {
	for i := MaxRouteSteps - 1; i >= 0; i-- {
		if e.ResultTypes[i] != ResultNone {
			return e.DeckResults[i], i, true
		}
	}
	return nil, -1, false
}

// bucket is one hash-table chain with its own lock, so insert/lookup/remove
// on different buckets never contend (spec.md §4.2: "no global lock is held
// across buckets").
type bucket struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
}

// Stats mirrors routing_table_print_stats's counters (SPEC_FULL.md §7.2).
type Stats struct {
	TotalEntries uint64
	Collisions   uint64
}

// Table is the bucketed hash map of in-flight routing entries.
type Table struct {
	buckets      []bucket
	totalEntries atomic.Uint64
	collisions   atomic.Uint64
	nextEventID  atomic.Uint64
}

// New builds a Table with the given bucket count (spec.md §4.2: "≥ 64").
func New(bucketCount int) *Table {
	if bucketCount < 1 {
		bucketCount = 64
	}
	t := &Table{buckets: make([]bucket, bucketCount)}
	for i := range t.buckets {
		t.buckets[i].entries = make(map[uint64]*Entry)
	}
	t.nextEventID.Store(1)
	return t
}

func (t *Table) bucketFor(id uint64) *bucket {
	return &t.buckets[id%uint64(len(t.buckets))]
}

// Insert adds entry, keyed by entry.EventID. The table owns entry from this
// point; callers must not retain a writable alias expecting external
// synchronization beyond what Entry's own fields already document.
func (t *Table) Insert(entry *Entry) {
	b := t.bucketFor(entry.EventID)
	b.mu.Lock()
	if len(b.entries) > 0 {
		t.collisions.Add(1)
	}
	b.entries[entry.EventID] = entry
	b.mu.Unlock()
	t.totalEntries.Add(1)
}

// Lookup returns the entry for id, or nil if absent.
func (t *Table) Lookup(id uint64) *Entry {
	b := t.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[id]
}

// Remove deletes the entry for id. The table frees it exactly once — a
// second Remove for the same id is a no-op, matching spec.md §3's
// "removal frees exactly once."
func (t *Table) Remove(id uint64) bool {
	b := t.bucketFor(id)
	b.mu.Lock()
	_, ok := b.entries[id]
	if ok {
		delete(b.entries, id)
	}
	b.mu.Unlock()
	if ok {
		t.totalEntries.Add(^uint64(0)) // -1
	}
	return ok
}

// Range calls fn for every entry currently in the table. fn must not call
// back into Insert/Remove/Lookup on the same bucket; the Guide's scan uses
// this only to read state and enqueue into deck queues.
func (t *Table) Range(fn func(*Entry)) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		for _, e := range b.entries {
			fn(e)
		}
		b.mu.Unlock()
	}
}

// Stats returns the table's running counters.
func (t *Table) Stats() Stats {
	return Stats{TotalEntries: t.totalEntries.Load(), Collisions: t.collisions.Load()}
}

// AddFromRingEvent assigns a monotonic event id, stamps timestamp, deep
// copies the user payload, copies the route, and inserts the resulting
// Entry — the single crossing point from user-owned to kernel-owned memory
// (spec.md §4.2). The entry's WorkflowID is taken from ev.WorkflowID; any
// check of it against the syscall's argument (spec.md §4.7) is the
// caller's, made before this call.
func (t *Table) AddFromRingEvent(ev *ring.Event, timestamp uint64) *Entry {
	id := t.nextEventID.Add(1) - 1
	if id == 0 {
		id = t.nextEventID.Add(1) - 1
	}

	entry := &Entry{
		EventID:    id,
		WorkflowID: ev.WorkflowID,
		CreatedAt:  timestamp,
		State:      Processing,
	}
	copy(entry.Route[:], ev.Route[:])

	size := ev.PayloadSize
	if size > uint32(len(ev.Payload)) {
		size = uint32(len(ev.Payload))
	}
	entry.Event.Type = ev.Type
	entry.Event.PayloadSize = size
	copy(entry.Event.Payload[:size], ev.Payload[:size])

	ev.ID = id
	ev.Timestamp = timestamp

	t.Insert(entry)
	return entry
}
