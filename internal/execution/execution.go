// Package execution implements the terminal stage the Guide hands
// route-exhausted (or aborted) entries to: push a Result to the owning
// process's ResultRing, raise the completion IRQ, invoke the workflow
// callback, and finally free the routing entry (spec.md §4.5, grounded on
// execution_deck.c's process_completed_event).
package execution

import (
	"sync/atomic"

	"github.com/skripsaha/kernel/internal/deck"
	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/ring"
	"github.com/skripsaha/kernel/internal/routing"
)

// Stats mirrors execution_deck.c's ExecutionStats.
type Stats struct {
	EventsExecuted uint64
	ResponsesSent  uint64
	Errors         uint64
}

// ResultTarget is the owning process's side of a completed event: where to
// push the Result, and how to wake it up. internal/process.Process
// implements this; kept as an interface here so this package doesn't
// depend on internal/process (spec.md's layering: execution only needs a
// result sink and a wake signal, not the whole process lifecycle).
type ResultTarget interface {
	PushResult(r ring.Result) bool
	SignalCompletion()
}

// WorkflowCallback is workflow_on_event_completed — "the critical
// integration point between the event-driven system and the workflow
// system" (spec.md §4.9). Called after the result has been pushed to the
// user, exactly once per completed event.
type WorkflowCallback func(workflowID, eventID uint64, result []byte, errorCode kerr.Code)

// Clock returns a monotonic completion timestamp (rdtsc() in the
// original); injected so tests don't need real hardware.
type Clock func() uint64

// Stage is the execution stage. ResolveTarget looks up which process owns
// a completed entry's ResultRing — in the original this is
// process_get_current(); here it's a function so the scheduler's notion of
// "current process" stays outside this package.
type Stage struct {
	table         *routing.Table
	resolveTarget func(entry *routing.Entry) ResultTarget
	onCompleted   WorkflowCallback
	now           Clock
	maxPushAttempts int

	executed  atomic.Uint64
	responses atomic.Uint64
	errors    atomic.Uint64
}

// New builds a Stage. maxPushAttempts bounds the ResultRing push retry
// loop (spec.md §4.5: "a timeout, not an infinite spin, to avoid
// deadlocking the kernel against a user process that never drains its
// ring").
func New(table *routing.Table, resolveTarget func(*routing.Entry) ResultTarget, onCompleted WorkflowCallback, now Clock, maxPushAttempts int) *Stage {
	if maxPushAttempts <= 0 {
		maxPushAttempts = 10000
	}
	return &Stage{
		table:           table,
		resolveTarget:   resolveTarget,
		onCompleted:     onCompleted,
		now:             now,
		maxPushAttempts: maxPushAttempts,
	}
}

// collectResult builds the wire Result from entry, taking the last
// non-empty deck result (execution_deck.c's collect_results).
func (s *Stage) collectResult(entry *routing.Entry) ring.Result {
	r := ring.Result{
		EventID:    entry.EventID,
		WorkflowID: entry.WorkflowID,
		Status:     0,
		ErrorCode:  uint32(entry.ErrorCode),
	}
	if s.now != nil {
		r.CompletionTime = s.now()
	}
	if entry.Abort {
		r.Status = uint32(entry.ErrorCode)
	}

	data, _, ok := entry.LastResult()
	if ok && data != nil {
		n := len(data)
		if n > len(r.Result) {
			n = len(r.Result)
		}
		copy(r.Result[:n], data[:n])
		r.ResultSize = uint32(n)
	}
	return r
}

// RunOnce pops at most one entry from q and fully processes it, returning
// whether an entry was processed (execution_deck_run_once's return value).
func (s *Stage) RunOnce(q *deck.Queue) bool {
	entry := q.Pop()
	if entry == nil {
		return false
	}
	s.processCompleted(entry)
	return true
}

// Drain runs RunOnce until q is empty.
func (s *Stage) Drain(q *deck.Queue) {
	for s.RunOnce(q) {
	}
}

func (s *Stage) processCompleted(entry *routing.Entry) {
	target := s.resolveTarget(entry)
	if target == nil {
		s.errors.Add(1)
		return
	}

	result := s.collectResult(entry)

	attempts := 0
	for !target.PushResult(result) {
		attempts++
		if attempts >= s.maxPushAttempts {
			s.errors.Add(1)
			return
		}
	}
	s.responses.Add(1)

	target.SignalCompletion()

	if s.onCompleted != nil {
		data, _, ok := entry.LastResult()
		var errCode kerr.Code
		if entry.Abort {
			errCode = entry.ErrorCode
		}
		if ok {
			s.onCompleted(entry.WorkflowID, entry.EventID, data, errCode)
		} else {
			s.onCompleted(entry.WorkflowID, entry.EventID, nil, errCode)
		}
	}

	// ResultType-driven cleanup (spec.md §4.5): every recorded deck
	// result is a plain Go []byte owned by the garbage collector, so
	// there is nothing to free explicitly — this loop exists to
	// document disposal per ResultType the way execution_deck.c's
	// switch over kmalloc/value/static/memory-mapped does, not because
	// Go needs it.
	for i := 0; i < routing.MaxRouteSteps; i++ {
		switch entry.ResultTypes[i] {
		case routing.ResultMemoryMapped:
			// left mapped; released with the owning process, per
			// the original's TODO on unmap.
		}
	}

	s.table.Remove(entry.EventID)
	s.executed.Add(1)
}

// Stats returns the stage's running counters.
func (s *Stage) Stats() Stats {
	return Stats{
		EventsExecuted: s.executed.Load(),
		ResponsesSent:  s.responses.Load(),
		Errors:         s.errors.Load(),
	}
}
