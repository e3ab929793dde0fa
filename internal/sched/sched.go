// Package sched implements the hybrid scheduler: cooperative yield as the
// primary mechanism (driven by workflow WAIT/YIELD syscalls), timer-tick
// preemption as a liveness backstop, and a watchdog that kills processes
// that stop issuing syscalls (spec.md §4.8, grounded on scheduler.c's
// scheduler_yield_cooperative/scheduler_tick).
package sched

import (
	"sync"
	"sync/atomic"

	"github.com/skripsaha/kernel/internal/process"
)

// Stats mirrors scheduler.c's scheduler_stats_t.
type Stats struct {
	ContextSwitches uint64
	Preemptions     uint64
	VoluntaryYields uint64
	TotalTicks      uint64
	WatchdogKills   uint64
}

// SaveRestore abstracts process.Context save/restore into whatever trap
// frame representation internal/arch uses, so this package stays free of
// arch-specific types (spec.md's Design Notes direction: the scheduler's
// algorithm is arch-independent, only the frame format isn't).
type SaveRestore interface {
	Save(p *process.Process)
	Restore(p *process.Process)
}

// Scheduler owns the ready queue and the time-slice/watchdog bookkeeping.
// It holds no processes itself — process.Table is the source of truth for
// which processes exist; Scheduler only orders them.
type Scheduler struct {
	table *process.Table
	frame SaveRestore

	timeSliceTicks int
	watchdogPeriod int
	watchdogTimeout int
	tickHz         int

	mu        sync.Mutex
	ready     []*process.Process
	sliceLeft int

	lastSyscallTick map[uint64]uint64
	tickCounter     atomic.Uint64

	stats Stats
}

// New builds a Scheduler (scheduler_init).
func New(table *process.Table, frame SaveRestore, timeSliceTicks, watchdogPeriod, watchdogTimeout, tickHz int) *Scheduler {
	return &Scheduler{
		table:           table,
		frame:           frame,
		timeSliceTicks:  timeSliceTicks,
		watchdogPeriod:  watchdogPeriod,
		watchdogTimeout: watchdogTimeout,
		tickHz:          tickHz,
		sliceLeft:       timeSliceTicks,
		lastSyscallTick: make(map[uint64]uint64),
	}
}

// AddProcess appends proc to the ready queue (scheduler_add_process).
func (s *Scheduler) AddProcess(p *process.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Lock()
	p.State = process.StateReady
	p.Unlock()
	s.ready = append(s.ready, p)
}

// RemoveProcess deletes proc from the ready queue if present
// (scheduler_remove_process).
func (s *Scheduler) RemoveProcess(p *process.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.ready {
		if q == p {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
}

// pickNext pops the head of the ready queue (scheduler_pick_next).
func (s *Scheduler) pickNext() *process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	next := s.ready[0]
	s.ready = s.ready[1:]
	return next
}

// NoteSyscall records that pid just made a syscall, resetting the
// watchdog's hang-detection window (spec.md §4.8's last_syscall_tick).
func (s *Scheduler) NoteSyscall(pid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyscallTick[pid] = s.tickCounter.Load()
}

// switchTo performs the restore-next/bookkeeping sequence shared by Yield
// and Tick's preemption path; saving the outgoing context is done by the
// callers before they disposition current.
func (s *Scheduler) switchTo(next *process.Process) {
	next.Lock()
	next.State = process.StateRunning
	if s.frame != nil {
		s.frame.Restore(next)
	}
	next.Unlock()

	s.table.SetCurrent(next)
	s.stats.ContextSwitches++
	s.sliceLeft = s.timeSliceTicks
}

// destroyZombie tears down a zombie process and hands control to whatever
// runs next, returning the process that is now running (nil if the system
// has gone idle).
func (s *Scheduler) destroyZombie(current *process.Process) *process.Process {
	s.table.Destroy(current)
	s.table.SetCurrent(nil)

	s.mu.Lock()
	pid := current.PID
	delete(s.lastSyscallTick, pid)
	s.mu.Unlock()

	next := s.pickNext()
	if next == nil {
		return nil
	}
	s.switchTo(next)
	return next
}

// Yield is the cooperative path (scheduler_yield_cooperative): invoked
// when a process's syscall carries WAIT or YIELD. It saves current's
// context, dispositions current per its State, and switches to whatever
// runs next.
func (s *Scheduler) Yield() {
	current := s.table.Current()
	if current == nil {
		return
	}
	s.stats.VoluntaryYields++

	if s.frame != nil {
		current.Lock()
		s.frame.Save(current)
		current.Unlock()
	}

	current.Lock()
	state := current.State
	current.Unlock()

	switch state {
	case process.StateRunning:
		s.AddProcess(current)
	case process.StateZombie:
		s.destroyZombie(current)
		return
	case process.StateWaiting:
		// Do not requeue — syscall.Handler.CompletionIRQ is what puts
		// a Waiting process back on the ready queue.
	}

	next := s.pickNext()
	if next == nil {
		return
	}
	s.switchTo(next)
}

// Tick is the timer-IRQ entry point (scheduler_tick): advances the tick
// counter, runs the watchdog on its period, then decrements the current
// process's time slice and preempts if it has run out (spec.md §4.8).
func (s *Scheduler) Tick() {
	n := s.tickCounter.Add(1)
	s.stats.TotalTicks++

	if s.watchdogPeriod > 0 && n%uint64(s.watchdogPeriod) == 0 {
		s.runWatchdog(n)
	}

	current := s.table.Current()
	if current == nil {
		return
	}

	s.sliceLeft--
	if s.sliceLeft > 0 {
		return
	}
	s.stats.Preemptions++

	if s.frame != nil {
		current.Lock()
		s.frame.Save(current)
		current.Unlock()
	}

	current.Lock()
	state := current.State
	current.Unlock()

	switch state {
	case process.StateRunning:
		s.AddProcess(current)
	case process.StateZombie:
		s.destroyZombie(current)
		return
	case process.StateWaiting:
		// fall through to picking next below, without requeuing
	}

	next := s.pickNext()
	if next == nil {
		return
	}
	s.switchTo(next)
}

// runWatchdog marks any process whose last syscall is more than
// watchdogTimeout ticks behind now as Zombie (spec.md §4.8): "skip Zombie
// and Waiting and never-issued-a-syscall processes."
func (s *Scheduler) runWatchdog(now uint64) {
	s.table.Range(func(p *process.Process) {
		p.Lock()
		state := p.State
		p.Unlock()
		if state == process.StateZombie || state == process.StateWaiting {
			return
		}

		s.mu.Lock()
		last, ok := s.lastSyscallTick[p.PID]
		s.mu.Unlock()
		if !ok {
			return
		}

		if now-last > uint64(s.watchdogTimeout) {
			p.Lock()
			p.State = process.StateZombie
			p.Unlock()
			s.stats.WatchdogKills++
		}
	})
}

// Stats returns the scheduler's running counters.
func (s *Scheduler) Stats() Stats { return s.stats }
