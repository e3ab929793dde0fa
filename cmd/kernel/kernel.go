// Package main is the kernel's boot entry: it wires every internal/*
// subsystem into one explicit context structure (spec.md §9's Design Notes
// direction — "model [global mutable state] as an explicit kernel-context
// structure passed to each operation, rather than as ambient module-level
// variables") and drives the boot sequence the teacher's main.go's KMain
// lays out (kmeminit → kvminit → kvminithart → trapinithart, one phase at
// a time with a printed OK), generalized to this kernel's own subsystem
// list.
package main

import (
	"github.com/skripsaha/kernel/internal/arch"
	"github.com/skripsaha/kernel/internal/deck"
	"github.com/skripsaha/kernel/internal/execution"
	"github.com/skripsaha/kernel/internal/guide"
	"github.com/skripsaha/kernel/internal/kconfig"
	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/klog"
	"github.com/skripsaha/kernel/internal/process"
	"github.com/skripsaha/kernel/internal/ring"
	"github.com/skripsaha/kernel/internal/routing"
	"github.com/skripsaha/kernel/internal/sched"
	"github.com/skripsaha/kernel/internal/syscall"
	"github.com/skripsaha/kernel/internal/workflow"
)

// Kernel bundles every subsystem singleton spec.md §9 says to stop treating
// as ambient module-level state. Every operation that used to reach for a
// global now takes a *Kernel (or one of its fields) explicitly.
type Kernel struct {
	Config kconfig.Config
	Log    *klog.Logger

	Processes *process.Table
	Routing   *routing.Table
	Decks     map[uint8]deck.Deck
	Guide     *guide.Guide
	Execution *execution.Stage
	Workflows *workflow.Registry
	Scheduler *sched.Scheduler
	Syscalls  *syscall.Handler

	IDT   arch.Table
	Fault *arch.FaultHandler

	ticks uint64
}

// New builds every subsystem and wires their collaborator hooks, but does
// not yet start the scheduler or load the IDT — that's KMain's job, kept
// separate so tests can construct a Kernel without touching hardware.
func New(cfg kconfig.Config, sink klog.Sink) *Kernel {
	k := &Kernel{
		Config: cfg,
		Log:    klog.New(sink, "[KERNEL]"),
	}

	k.Processes = process.New(cfg)
	k.Routing = routing.New(cfg.RoutingBuckets)

	k.Decks = map[uint8]deck.Deck{
		deck.PrefixOperations: deck.NewOperations(cfg.DeckQueueBound),
		deck.PrefixStorage:    deck.NewStorage(cfg.DeckQueueBound, cfg.StorageDiskQuotaBytes),
		deck.PrefixHardware:   deck.NewHardware(cfg.DeckQueueBound),
		deck.PrefixNetwork:    deck.NewNetwork(),
	}
	deckList := make([]deck.Deck, 0, len(k.Decks))
	for _, d := range k.Decks {
		deckList = append(deckList, d)
	}
	k.Guide = guide.New(k.Routing, deckList...)

	k.Execution = execution.New(k.Routing, k.resolveTarget, k.onWorkflowEventCompleted,
		k.now, cfg.ResultPushMaxAttempts)

	k.Workflows = workflow.New(k.now, k.submitWorkflowNode)

	frame := &arch.TrapFrame{}
	k.Scheduler = sched.New(k.Processes, frame, cfg.TimeSliceTicks, cfg.WatchdogPeriodTicks,
		cfg.WatchdogTimeoutTicks, cfg.TickHz)

	k.Syscalls = syscall.New(k.Scheduler, k.ingestEvent, k.workflowStatus, k.now)

	k.Fault = &arch.FaultHandler{
		Log:            klog.New(sink, "[ARCH]"),
		ZombifyCurrent: k.zombifyCurrentAndYield,
	}

	return k
}

// now stands in for rdtsc(): a monotonically increasing tick count, bumped
// once per Scheduler.Tick call (Step).
func (k *Kernel) now() uint64 { return k.ticks }

// workflowStatus implements syscall.WorkflowStatus: the POLL syscall's
// direct, non-destructive query of a named workflow's state, as opposed
// to the process completion flag that WAIT already consumes (spec.md
// §4.7).
func (k *Kernel) workflowStatus(workflowID uint64) (completed bool, found bool) {
	wf := k.Workflows.Get(workflowID)
	if wf == nil {
		return false, false
	}
	return wf.State == workflow.StateCompleted, true
}

// resolveTarget implements execution.Stage's indirection from a routing
// entry back to the process that owns it: the entry only carries a
// WorkflowID, so the owning PID is looked up through the workflow registry
// (Workflow.OwnerPID) rather than stored redundantly on every entry.
func (k *Kernel) resolveTarget(entry *routing.Entry) execution.ResultTarget {
	wf := k.Workflows.Get(entry.WorkflowID)
	if wf == nil {
		return nil
	}
	p := k.Processes.ByPID(wf.OwnerPID)
	if p == nil {
		return nil
	}
	return p
}

// onWorkflowEventCompleted is execution.WorkflowCallback's concrete
// binding: the integration point spec.md §4.9 calls "the critical
// integration point between the event-driven system and the workflow
// system."
func (k *Kernel) onWorkflowEventCompleted(workflowID, eventID uint64, result []byte, errorCode kerr.Code) {
	k.Workflows.OnEventCompleted(workflowID, eventID, result, errorCode)
}

// submitWorkflowNode implements workflow.Submitter: a DAG node ready to run
// is turned into a routing-table entry the same way a user syscall's
// SUBMIT does, except the "ring event" never touched user memory — it's
// built here directly from the node's own route/type/payload.
func (k *Kernel) submitWorkflowNode(workflowID uint64, route [ring.MaxRouteSteps]uint8, eventType uint32, payload []byte) (uint64, error) {
	var ev ring.Event
	ev.WorkflowID = workflowID
	ev.Type = eventType
	ev.Route = route
	n := copy(ev.Payload[:], payload)
	ev.PayloadSize = uint32(n)

	entry := k.Routing.AddFromRingEvent(&ev, k.now())
	return entry.EventID, nil
}

// ingestEvent implements syscall.Ingest: the one point where a process's
// EventRing record crosses into kernel ownership (spec.md §4.2).
func (k *Kernel) ingestEvent(ev *ring.Event, timestamp uint64) *routing.Entry {
	return k.Routing.AddFromRingEvent(ev, timestamp)
}

// zombifyCurrentAndYield is arch.FaultHandler's ZombifyCurrent hook: a
// user-mode exception marks the faulting process Zombie and cooperatively
// yields, matching spec.md §7's "transitions the faulting process to
// Zombie and cooperatively yields; the kernel survives."
func (k *Kernel) zombifyCurrentAndYield() {
	current := k.Processes.Current()
	if current == nil {
		return
	}
	current.Lock()
	current.State = process.StateZombie
	current.Unlock()
	k.Scheduler.Yield()
}

// HandleFault is the Go-side landing point an ISR stub calls for any
// exception vector (idt.c's exception_handler), forwarded to the
// FaultHandler this Kernel wired at construction time.
func (k *Kernel) HandleFault(f *arch.TrapFrame, ctxID uintptr) {
	k.Fault.Handle(f, ctxID)
}

// Step is one pass of the kernel's event loop: pump the Guide, drain
// anything the Guide promoted to the Execution queue, and resolve any
// hardware timers that have just expired — the Go-side equivalent of
// idt.c's IRQ_TIMER case running guide_process_all every 10 ticks.
func (k *Kernel) Step() {
	k.ticks++

	k.Guide.ProcessAll()
	k.Execution.Drain(k.Guide.ExecutionQueue())

	if hw, ok := k.Decks[deck.PrefixHardware].(*deck.Hardware); ok {
		// Expired sleep timers update their routing.Entry in place; the
		// Guide's next scan picks them up from the routing table itself.
		hw.Tick(k.now())
	}

	k.Workflows.CleanupCompleted(k.Config.WorkflowCleanupAgeTicks)
	k.Scheduler.Tick()
	syscall.CompletionIRQ(k.Processes, k.Scheduler)
}
