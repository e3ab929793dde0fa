// Package process implements the per-process table and lifecycle: a fixed
// slot array guarded by one lock per slot plus a table-wide lock for
// allocation and lookup, CPU-context save/restore around syscalls, and the
// EventRing/ResultRing pair that make a process a workflow client (spec.md
// §3/§4.6, grounded on process.h/process.c).
package process

import (
	"sync"
	"sync/atomic"

	"github.com/skripsaha/kernel/internal/kconfig"
	"github.com/skripsaha/kernel/internal/ring"
)

// State is a process's scheduling state (process.h's process_state_t).
type State int

const (
	StateReady State = iota
	StateRunning
	StateWaiting
	StateZombie
)

// Context is the saved CPU register state across a syscall/interrupt
// boundary (process.h's rip/rsp/rbp/rflags/cs/ss/ds group, generalized
// from RISC-V's callee-saved-register Context in the teacher's proc.go to
// the x86-64 registers the original models).
type Context struct {
	RIP, RSP, RBP, RFLAGS uint64
	CS, SS, DS            uint16
}

// MemoryMap is a process's fixed virtual-memory layout (spec.md §6:
// code/stack/rings at fixed virtual addresses, one physical mapping per
// process).
type MemoryMap struct {
	CR3 uint64 // physical address of this process's top-level page table

	StackBase, StackPhys uint64
	CodeBase, CodePhys   uint64
	CodeSize             uint64

	RingsPhys      uint64
	RingsUserVaddr uint64
	RingsPages     uint64
}

// Process is one process-table slot (process.h's process_t). Unexported
// fields that are only ever touched under Lock/Unlock mirror the
// teacher's "p->lock must be held when using these" convention from
// proc.go's KProc comment.
type Process struct {
	mu sync.Mutex

	PID   uint64
	State State

	Ctx Context
	Mem MemoryMap

	EventRing  *ring.EventRing
	ResultRing *ring.ResultRing

	CurrentWorkflowID uint64
	completionReady   atomic.Bool

	SyscallCount atomic.Uint64
	CreationTime uint64
}

// Lock/Unlock expose the slot's mutex directly so callers can hold it
// across a multi-field update, matching proc.go's acquire(&p.lock)/
// release(&p.lock) bracketing.
func (p *Process) Lock()   { p.mu.Lock() }
func (p *Process) Unlock() { p.mu.Unlock() }

// PushResult implements execution.ResultTarget.
func (p *Process) PushResult(r ring.Result) bool {
	if p.ResultRing == nil {
		return false
	}
	return p.ResultRing.Push(r)
}

// SignalCompletion implements execution.ResultTarget: sets the flag a
// WAIT syscall polls, standing in for the original's completion IRQ
// (INT 0x81) waking a process parked in hlt.
func (p *Process) SignalCompletion() { p.completionReady.Store(true) }

// CompletionReady reports and clears the flag SignalCompletion sets — a
// WAIT syscall consumes it exactly once.
func (p *Process) CompletionReady() bool {
	return p.completionReady.Swap(false)
}

// Table is the fixed-size process table (process.h's PROCESS_MAX_COUNT
// array of process_t, kept as a slice sized from kconfig rather than a
// compile-time array so tests can shrink it).
type Table struct {
	mu      sync.Mutex
	slots   []Process
	used    []bool
	current atomic.Int64 // index of the running process, -1 if none
	nextPID atomic.Uint64
}

// New builds a Table with cfg.MaxProcesses slots (process_init).
func New(cfg kconfig.Config) *Table {
	t := &Table{
		slots: make([]Process, cfg.MaxProcesses),
		used:  make([]bool, cfg.MaxProcesses),
	}
	t.current.Store(-1)
	t.nextPID.Store(1)
	return t
}

// Create allocates a free slot, assigns a PID, and wires its rings
// (process_create — minus the actual code-buffer/page-table population,
// which belongs to internal/arch; this layer only owns process
// bookkeeping).
func (t *Table) Create(ringCapacity int, mem MemoryMap, creationTime uint64) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.used[i] {
			continue
		}
		t.used[i] = true
		p := &t.slots[i]
		*p = Process{
			PID:          t.nextPID.Add(1) - 1,
			State:        StateReady,
			Mem:          mem,
			EventRing:    ring.NewEventRing(ringCapacity),
			ResultRing:   ring.NewResultRing(ringCapacity),
			CreationTime: creationTime,
		}
		return p
	}
	return nil
}

// Destroy frees proc's slot (process_destroy). It is the caller's
// responsibility to have already torn down proc.Mem's page tables via
// internal/arch before calling this — Destroy only releases the
// bookkeeping slot, matching the original's split between
// process_destroy and the VMM calls that precede it.
func (t *Table) Destroy(proc *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if &t.slots[i] == proc {
			t.used[i] = false
			t.slots[i] = Process{}
			if t.current.Load() == int64(i) {
				t.current.Store(-1)
			}
			return
		}
	}
}

// Current returns the currently running process, or nil.
func (t *Table) Current() *Process {
	idx := t.current.Load()
	if idx < 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.slots[idx]
}

// SetCurrent records which slot is running (process_set_current), used by
// internal/sched around a context switch.
func (t *Table) SetCurrent(proc *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if proc == nil {
		t.current.Store(-1)
		return
	}
	for i := range t.slots {
		if &t.slots[i] == proc {
			t.current.Store(int64(i))
			return
		}
	}
}

// Range calls fn for every allocated (used) slot, for iteration use cases
// like process_get_by_index/process_print_all and the scheduler's
// ready-queue scan.
func (t *Table) Range(fn func(*Process)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.used[i] {
			fn(&t.slots[i])
		}
	}
}

// ByPID looks up a process by PID, or returns nil.
func (t *Table) ByPID(pid uint64) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.used[i] && t.slots[i].PID == pid {
			return &t.slots[i]
		}
	}
	return nil
}
