package arch

import (
	_ "unsafe"

	"github.com/skripsaha/kernel/internal/klog"
	"github.com/skripsaha/kernel/internal/process"
)

// Exception and IRQ vectors, grounded on original_source/arch/x86-64/idt/
// idt.c's idt_init: exceptions 0-31, IRQs 32-47, then the two
// workflow-specific gates.
const (
	ExceptionDivideError      = 0x00
	ExceptionDebug            = 0x01
	ExceptionNMI              = 0x02
	ExceptionBreakpoint       = 0x03
	ExceptionInvalidOpcode    = 0x06
	ExceptionDoubleFault      = 0x08
	ExceptionGeneralProtection = 0x0D
	ExceptionPageFault        = 0x0E
	ExceptionMachineCheck     = 0x12

	IRQBase     = 0x20
	IRQTimer    = IRQBase + 0
	IRQKeyboard = IRQBase + 1

	// SyscallVector is INT 0x80, DPL=3 (user-callable) — idt.c's
	// "System call gate (INT 0x80) - USER-CALLABLE (DPL=3)!".
	SyscallVector = 0x80

	// CompletionIRQVector is INT 0x81, DPL=0 (kernel-only) — idt.c's
	// completion notification raised by internal/execution.
	CompletionIRQVector = 0x81
)

// TrapFrame is the register save area pushed by the ISR stub before the Go
// handler runs (idt.c's interrupt_frame_t). Field order matches what the
// (not-yet-written) assembly stub would push, the way the teacher's trap.go
// assumes a frame shape provided by its own asm entry point.
type TrapFrame struct {
	Vector    uint64
	ErrorCode uint64

	RAX, RBX, RCX, RDX uint64
	RSI, RDI           uint64
	RBP                uint64

	RIP, CS, RFLAGS, RSP, SS uint64
}

// Save copies the trap frame into p's saved Context — this is
// sched.SaveRestore.Save's amd64 implementation, replacing the teacher's
// RISC-V swtch(&cpu_context, &p.context) callee-saved-register copy with an
// explicit field-by-field copy of the interrupt frame.
func (f *TrapFrame) Save(p *process.Process) {
	p.Ctx = process.Context{
		RIP:    f.RIP,
		RSP:    f.RSP,
		RBP:    f.RBP,
		RFLAGS: f.RFLAGS,
		CS:     uint16(f.CS),
		SS:     uint16(f.SS),
	}
}

// Restore is the inverse of Save, applied before an IRET back into p.
func (f *TrapFrame) Restore(p *process.Process) {
	f.RIP = p.Ctx.RIP
	f.RSP = p.Ctx.RSP
	f.RBP = p.Ctx.RBP
	f.RFLAGS = p.Ctx.RFLAGS
	f.CS = uint64(p.Ctx.CS)
	f.SS = uint64(p.Ctx.SS)
}

// userMode reports whether a trap frame was taken from ring 3 (CS's low two
// bits are the CPL; 3 means user mode) — spec.md §7's "user-mode exception"
// vs. "kernel-mode exception" distinction.
func (f *TrapFrame) userMode() bool { return f.CS&0x3 == 3 }

// FaultHandler dispatches CPU exceptions the way idt.c's exception_handler
// does: page faults first try VMM.ResolvePageFault; everything else (or an
// unresolved page fault) is classified user-mode-exception vs.
// kernel-mode-exception per spec.md §7.
type FaultHandler struct {
	VMM   VMM
	Log   *klog.Logger
	// ZombifyCurrent is invoked for a recoverable user-mode exception — it
	// marks the faulting process Zombie and cooperatively yields (kept as a
	// function hook so this package doesn't import internal/sched).
	ZombifyCurrent func()
	ctxID          uintptr
}

// Handle is the Go-side entry point an ISR stub (not written here — it
// lives in assembly, as in the teacher's asm/*.S) calls for vector f.Vector.
func (h *FaultHandler) Handle(f *TrapFrame, ctxID uintptr) {
	if f.Vector == ExceptionPageFault {
		faultAddr := readCR2()
		if h.VMM != nil && h.VMM.ResolvePageFault(ctxID, faultAddr, f.ErrorCode) {
			return
		}
	}

	if f.userMode() {
		h.Log.Warn("user-mode exception, killing process", "vector", f.Vector,
			"error", f.ErrorCode, "rip", uintptr(f.RIP))
		if h.ZombifyCurrent != nil {
			h.ZombifyCurrent()
		}
		return
	}

	h.Log.Fatal("kernel-mode exception", "vector", f.Vector, "error", f.ErrorCode,
		"rip", uintptr(f.RIP))
}

//go:linkname readCR2ASM readCR2ASM
func readCR2ASM() uintptr

// readCR2 reads the faulting address out of CR2, the way idt.c's
// exception_handler does with an inline `mov %%cr2, %0`; kept as its own
// function so tests can't be linked against (they run in userspace and have
// no CR2 to read) without touching FaultHandler.Handle's logic.
var readCR2 = func() uintptr { return readCR2ASM() }
