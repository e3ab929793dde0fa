// Package arch is the x86-64 glue layer: page tables, the IDT/GDT/PIC/PIT
// vector wiring, the trap frame, and the collaborator interfaces spec.md §6
// lists as consumed-not-specified by the core (PMM, VMM, TSS, Timer, log
// sink, filesystem sync). Generalized from the teacher's riscv.go/vm.go/
// trap.go (RISC-V Sv39, M-mode) to amd64 4-level paging and IDT-style traps,
// with the page-table bit-twiddling idiom borrowed from aghosn-enclosures's
// ring0/pagetables package.
package arch

// AccessFlags selects the page-table permission bits VMM.MapPages applies
// (spec.md §6: "kernel-rw, user-code, user-rw").
type AccessFlags uint

const (
	AccessKernelRW AccessFlags = 1 << iota
	AccessUserCode
	AccessUserRW
)

// PMM is the physical-page allocator collaborator (spec.md §6).
type PMM interface {
	Alloc(pageCount int) (physAddr uintptr, ok bool)
	Free(physAddr uintptr, pageCount int)
}

// VMM is the virtual-memory collaborator (spec.md §6): address-space
// lifecycle, mapping, and page-fault resolution.
type VMM interface {
	CreateContext() (ctxID uintptr, ok bool)
	DestroyContext(ctxID uintptr)
	MapPages(ctxID uintptr, va, pa uintptr, pageCount int, flags AccessFlags) bool
	UnmapPages(ctxID uintptr, va uintptr, pageCount int)
	Switch(ctxID uintptr)
	// ResolvePageFault attempts to satisfy a page fault (e.g. lazily backing
	// a demand-paged region). ok is false if the fault is genuinely
	// unrecoverable and the caller must treat it as a user-mode exception.
	ResolvePageFault(ctxID uintptr, faultAddr uintptr, errorCode uint64) (ok bool)
}

// TSS is the privilege-transition helper (spec.md §6: "set kernel stack
// pointer used on privilege transitions"); the teacher's RISC-V M-mode boot
// needed no such thing — amd64's ring3→ring0 transition does.
type TSS interface {
	SetKernelStack(rsp0 uintptr)
}

// Timer is the PIT-at-100Hz collaborator driving the scheduler's tick
// (spec.md §4.8/§6).
type Timer interface {
	// OnTick registers the callback invoked from the timer IRQ.
	OnTick(fn func())
}

// FSSync is the filesystem-sync contract (spec.md §6); the tag-filesystem
// itself is out of scope (spec.md §1). Nothing in this module calls Sync:
// the scheduler's idle/shutdown path does not sync a filesystem.
type FSSync interface {
	Sync()
}
