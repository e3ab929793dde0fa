// Package syscall implements the single syscall surface the kernel
// exposes to user processes — one INT 0x80 entry point dispatched by a
// flag bitmask, plus the completion-IRQ wake-all handler (spec.md
// §4.7/§4.8, grounded on idt.c's syscall_handler/completion_irq_handler).
package syscall

import (
	"github.com/skripsaha/kernel/internal/process"
	"github.com/skripsaha/kernel/internal/ring"
	"github.com/skripsaha/kernel/internal/routing"
)

// Flag is a kernel_notify() mode bit (idt.c's NOTIFY_* defines).
type Flag uint32

const (
	Submit Flag = 0x01
	Wait   Flag = 0x02
	Poll   Flag = 0x04
	Yield  Flag = 0x08
	Exit   Flag = 0x10

	validFlagsMask = Submit | Wait | Poll | Yield | Exit
)

// Status is kernel_notify()'s return value.
type Status int32

const (
	StatusOK               Status = 0
	StatusInvalidFlags     Status = -1
	StatusNoCurrentProcess Status = -2
	StatusWouldBlock       Status = -3 // POLL: not yet complete
	StatusNoWorkflow       Status = -4
)

// Scheduler is the subset of internal/sched's API the syscall layer
// drives directly — a narrow interface so this package doesn't import
// internal/sched (avoiding an import cycle, since sched doesn't need to
// know about syscalls at all).
type Scheduler interface {
	Yield()
	NoteSyscall(pid uint64)
}

// Ingest is the hook that turns a ring.Event sitting in a process's
// EventRing into a routing.Entry (routing.Table.AddFromRingEvent, wrapped
// so this package doesn't need the full Table type just to call one
// method).
type Ingest func(ev *ring.Event, timestamp uint64) *routing.Entry

// WorkflowStatus looks up a workflow by id without consuming any
// process-local state — found is false if workflowID names no registered
// workflow; completed is only meaningful when found is true. A func type
// so this package doesn't need to import internal/workflow just to call
// one method on its Registry (same narrow-collaborator pattern as Ingest).
type WorkflowStatus func(workflowID uint64) (completed bool, found bool)

// Handler implements kernel_notify()'s single entry point.
type Handler struct {
	sched     Scheduler
	ingest    Ingest
	workflows WorkflowStatus
	now       func() uint64
}

// New builds a syscall Handler.
func New(sched Scheduler, ingest Ingest, workflows WorkflowStatus, now func() uint64) *Handler {
	return &Handler{sched: sched, ingest: ingest, workflows: workflows, now: now}
}

func (h *Handler) timestamp() uint64 {
	if h.now == nil {
		return 0
	}
	return h.now()
}

// Notify is kernel_notify(flags, workflow_id): the one and only syscall
// entry point (spec.md §4.7). proc must be the calling process's table
// entry, already resolved by the trap handler.
func (h *Handler) Notify(proc *process.Process, flags Flag, workflowID uint64) Status {
	if proc == nil {
		return StatusNoCurrentProcess
	}
	if flags&^validFlagsMask != 0 || flags == 0 {
		return StatusInvalidFlags
	}

	proc.SyscallCount.Add(1)
	if h.sched != nil {
		h.sched.NoteSyscall(proc.PID)
	}

	if flags&Submit != 0 {
		h.handleSubmit(proc, workflowID)
	}

	status := StatusOK

	if flags&Wait != 0 {
		status = h.handleWait(proc, workflowID)
	}

	if flags&Poll != 0 {
		status = h.handlePoll(workflowID)
	}

	if flags&Yield != 0 {
		h.handleYield(proc)
	}

	if flags&Exit != 0 {
		h.handleExit(proc)
	}

	return status
}

// handleSubmit drains proc's EventRing into the routing table. Per
// SPEC_FULL.md's resolution of the "SUBMIT workflow_id mismatch" open
// question: an event whose WorkflowID disagrees with the syscall's own
// workflowID argument is skipped (not ingested) rather than aborting the
// whole SUBMIT call — the remaining events in the ring still get a
// chance (idt.c validates per-event but never documents what happens on
// mismatch; this is the documented decision, not a guess carried
// silently).
func (h *Handler) handleSubmit(proc *process.Process, workflowID uint64) {
	if proc.EventRing == nil {
		return
	}
	ts := h.timestamp()
	for {
		ev, ok := proc.EventRing.Pop()
		if !ok {
			return
		}
		if ev.WorkflowID != workflowID {
			continue
		}
		if h.ingest != nil {
			h.ingest(&ev, ts)
		}
	}
}

// handleWait implements the cooperative-yield-on-wait path: if the
// process's completion flag is already set (the IRQ arrived during
// SUBMIT), return immediately; otherwise mark the process Waiting and
// yield the CPU.
func (h *Handler) handleWait(proc *process.Process, workflowID uint64) Status {
	if proc.CompletionReady() {
		return StatusOK
	}

	proc.Lock()
	proc.State = process.StateWaiting
	proc.CurrentWorkflowID = workflowID
	proc.Unlock()

	if h.sched != nil {
		h.sched.Yield()
	}

	if proc.CompletionReady() {
		return StatusOK
	}
	return StatusWouldBlock
}

// handlePoll is the non-blocking completion check: 0 (StatusOK) if the
// named workflow is Completed, StatusWouldBlock if still in flight,
// StatusNoWorkflow if workflowID is unknown (spec.md §4.7). Queries the
// workflow registry directly rather than the process's one-shot completion
// flag, which handleWait already consumes — checking the flag here would
// make POLL racy against a prior WAIT (spec.md §8's "POLL after WAIT
// returns success returns 0" idempotence property).
func (h *Handler) handlePoll(workflowID uint64) Status {
	if h.workflows == nil {
		return StatusNoWorkflow
	}
	completed, found := h.workflows(workflowID)
	if !found {
		return StatusNoWorkflow
	}
	if completed {
		return StatusOK
	}
	return StatusWouldBlock
}

// handleYield is the explicit cooperative yield path.
func (h *Handler) handleYield(proc *process.Process) {
	proc.Lock()
	if proc.State == process.StateRunning {
		// left Running: the scheduler's Yield requeues it.
	}
	proc.Unlock()
	if h.sched != nil {
		h.sched.Yield()
	}
}

// handleExit transitions proc to Zombie; cleanup happens on the next
// scheduling decision (spec.md §4.8's "cleanup is deferred until the next
// scheduling decision reaches that process").
func (h *Handler) handleExit(proc *process.Process) {
	proc.Lock()
	proc.State = process.StateZombie
	proc.Unlock()
	if h.sched != nil {
		h.sched.Yield()
	}
}

// CompletionIRQ is the kernel-only (DPL=0) wake-all handler for INT 0x81:
// every process in process.StateWaiting is handed back to the scheduler's
// ready queue, unconditionally — spec.md §4.7 and the Glossary's
// "Completion signal" entry both say the handler "iterates the process
// table, returning every Waiting process to the ready queue," with no
// per-process flag gate (idt.c's completion_irq_handler wake-all fan-out).
// It must not consume a process's completion flag itself: that flag's one
// legitimate consumer is the later WAIT syscall (process.Process's
// CompletionReady doc comment); consuming it here would leave a woken
// process unable to observe its own completion and re-park in Waiting
// forever.
type AddProcess interface{ AddProcess(*process.Process) }

func CompletionIRQ(table *process.Table, sched AddProcess) {
	table.Range(func(p *process.Process) {
		p.Lock()
		waiting := p.State == process.StateWaiting
		p.Unlock()
		if !waiting {
			return
		}
		p.Lock()
		p.State = process.StateRunning
		p.Unlock()
		if sched != nil {
			sched.AddProcess(p)
		}
	})
}
