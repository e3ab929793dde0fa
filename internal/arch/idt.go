package arch

import (
	"unsafe"
)

// GDT selectors, grounded on idt.c's GDT_KERNEL_CODE references (the
// teacher has no GDT at all — RISC-V M-mode needs none; amd64 protected/
// long mode does).
const (
	SelectorKernelCode = 0x08
	SelectorKernelData = 0x10
	SelectorUserCode   = 0x18 | 3
	SelectorUserData   = 0x20 | 3
)

// IDT gate types, idt.c's IDT_TYPE_* constants.
const (
	GateInterrupt     = 0x8E
	GateUserInterrupt = 0xEE // DPL=3, for SyscallVector
)

// idtEntries mirrors idt.c's IDT_ENTRIES (256: the full x86-64 vector space).
const idtEntries = 256

// Descriptor is one IDT gate descriptor (idt.c's idt_entry_t).
type Descriptor struct {
	OffsetLow    uint16
	Selector     uint16
	IST          uint8
	TypeAttr     uint8
	OffsetMiddle uint16
	OffsetHigh   uint32
	Reserved     uint32
}

// Table is the 256-entry IDT (idt.c's static `idt` array); it holds no lidt
// descriptor of its own.
type Table struct {
	entries [idtEntries]Descriptor
}

// SetEntry fills in one gate, matching idt_set_entry's field packing.
func (t *Table) SetEntry(vector int, handler uintptr, selector uint16, typeAttr uint8, ist uint8) {
	t.entries[vector] = Descriptor{
		OffsetLow:    uint16(handler),
		Selector:     selector,
		IST:          ist & 0x07,
		TypeAttr:     typeAttr,
		OffsetMiddle: uint16(handler >> 16),
		OffsetHigh:   uint32(handler >> 32),
	}
}

// Init wires every vector the way idt_init does: exceptions 0-31 (with IST
// slots for double-fault/NMI/machine-check/debug), IRQs 32-47, the
// user-callable syscall gate at 0x80, the kernel-only completion IRQ at
// 0x81, and every remaining slot routed to the general-protection stub so
// an unexpected vector faults loudly instead of jumping through garbage.
func (t *Table) Init(isrTable [idtEntries]uintptr) {
	for i := 0; i < 32; i++ {
		var ist uint8
		switch i {
		case ExceptionDoubleFault:
			ist = 1
		case ExceptionNMI:
			ist = 2
		case ExceptionMachineCheck:
			ist = 3
		case ExceptionDebug:
			ist = 4
		}
		t.SetEntry(i, isrTable[i], SelectorKernelCode, GateInterrupt, ist)
	}
	for i := 32; i < 48; i++ {
		t.SetEntry(i, isrTable[i], SelectorKernelCode, GateInterrupt, 0)
	}

	t.SetEntry(SyscallVector, isrTable[SyscallVector], SelectorKernelCode, GateUserInterrupt, 0)
	t.SetEntry(CompletionIRQVector, isrTable[CompletionIRQVector], SelectorKernelCode, GateInterrupt, 0)

	for i := 48; i < SyscallVector; i++ {
		t.SetEntry(i, isrTable[ExceptionGeneralProtection], SelectorKernelCode, GateInterrupt, 0)
	}
	for i := CompletionIRQVector + 1; i < idtEntries; i++ {
		t.SetEntry(i, isrTable[ExceptionGeneralProtection], SelectorKernelCode, GateInterrupt, 0)
	}
}

// Load installs this table via lidt — the amd64 counterpart to the
// teacher's trapinithart/kvminithart linkname'd asm calls.
//
//go:linkname idtLoadASM idtLoadASM
func idtLoadASM(descBase uintptr, descLimit uint16)

func (t *Table) Load() {
	idtLoadASM(uintptr(unsafe.Pointer(t)), uint16(len(t.entries)*16-1))
}
