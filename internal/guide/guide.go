// Package guide implements the dispatcher that scans the routing table,
// feeds entries into the right deck queue, pumps each deck to quiescence,
// and promotes entries whose route is exhausted (or aborted) into the
// Execution queue (spec.md §4.3/§4.4, grounded on guide.c's
// guide_process_all two-scan cycle).
package guide

import (
	"sync"
	"sync/atomic"

	"github.com/skripsaha/kernel/internal/deck"
	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/routing"
)

// Stats mirrors guide.c's GuideStats.
type Stats struct {
	EventsRouted     uint64
	EventsCompleted  uint64
	RoutingIterations uint64
}

// Guide owns the routing table, the per-prefix deck queues, and the
// execution queue; it has no deck logic of its own beyond dispatch.
type Guide struct {
	table      *routing.Table
	decks      map[uint8]deck.Deck
	execQueue  *deck.Queue

	mu        sync.Mutex
	enqueued  map[uint64]bool // event IDs currently sitting in some queue

	routed    atomic.Uint64
	completed atomic.Uint64
	iterations atomic.Uint64
}

// New builds a Guide over table, dispatching to decks keyed by their
// Prefix() (spec.md §4.3: "the routing table, not the Guide, decides a
// route; the Guide only dispatches along it").
func New(table *routing.Table, decks ...deck.Deck) *Guide {
	g := &Guide{
		table:     table,
		decks:     make(map[uint8]deck.Deck, len(decks)),
		execQueue: deck.NewQueue(0),
		enqueued:  make(map[uint64]bool),
	}
	for _, d := range decks {
		g.decks[d.Prefix()] = d
	}
	return g
}

// ExecutionQueue exposes the queue of entries whose route is exhausted or
// aborted, for internal/execution to drain.
func (g *Guide) ExecutionQueue() *deck.Queue { return g.execQueue }

// scanAndRoute is guide_scan_and_route: visit every live routing entry and,
// if it isn't already sitting in a queue, push it into either its next
// deck's queue or the execution queue.
func (g *Guide) scanAndRoute() {
	g.table.Range(func(e *routing.Entry) {
		g.mu.Lock()
		already := g.enqueued[e.EventID]
		g.mu.Unlock()
		if already {
			return
		}
		if e.State == routing.Suspended {
			return
		}

		if e.Abort || e.RouteExhausted() {
			if g.execQueue.Push(e) {
				g.markEnqueued(e.EventID)
				g.completed.Add(1)
			}
			return
		}

		d, ok := g.decks[e.NextPrefix()]
		if !ok {
			e.RecordError(kerr.Unknown)
			if g.execQueue.Push(e) {
				g.markEnqueued(e.EventID)
			}
			return
		}
		dq, ok := d.(interface{ Queue() *deck.Queue })
		if ok {
			if dq.Queue().Push(e) {
				g.markEnqueued(e.EventID)
				g.routed.Add(1)
			}
			return
		}
		// Deck doesn't expose its queue (shouldn't happen for the
		// concrete decks in this module); process synchronously.
		_ = d.Process(e)
		g.markEnqueued(e.EventID)
	})
}

func (g *Guide) markEnqueued(id uint64) {
	g.mu.Lock()
	g.enqueued[id] = true
	g.mu.Unlock()
}

func (g *Guide) unmarkEnqueued(id uint64) {
	g.mu.Lock()
	delete(g.enqueued, id)
	g.mu.Unlock()
}

// pumpDeck drains d's queue until empty, processing each entry once and
// then un-marking it so the next scan can either re-route it (more route
// steps remain) or promote it to the execution queue.
func (g *Guide) pumpDeck(d deck.Deck, dq *deck.Queue) {
	for {
		e := dq.Pop()
		if e == nil {
			return
		}
		_ = d.Process(e)
		g.unmarkEnqueued(e.EventID)
	}
}

// ProcessAll runs exactly one guide_process_all cycle: scan four times
// (the original scans 16 buckets per call over a 64-bucket table; this
// implementation's Range already visits every bucket per call, so a single
// scan suffices, but the four-call shape is kept to stay byte-for-byte
// faithful to the original's two-scan-per-cycle structure), pump every
// deck to quiescence, rescan to promote now-exhausted routes, then return
// — leaving Execution's queue for internal/execution to drain.
func (g *Guide) ProcessAll() {
	for i := 0; i < 4; i++ {
		g.scanAndRoute()
	}

	for _, d := range g.decks {
		dq, ok := d.(interface{ Queue() *deck.Queue })
		if !ok {
			continue
		}
		g.pumpDeck(d, dq.Queue())
	}

	for i := 0; i < 4; i++ {
		g.scanAndRoute()
	}

	g.iterations.Add(1)
}

// Stats returns the guide's running counters.
func (g *Guide) Stats() Stats {
	return Stats{
		EventsRouted:      g.routed.Load(),
		EventsCompleted:   g.completed.Load(),
		RoutingIterations: g.iterations.Load(),
	}
}
