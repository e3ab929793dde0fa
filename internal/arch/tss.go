package arch

// TSSEntry is the amd64 Task State Segment's fields the kernel actually
// uses: RSP0, the stack pointer loaded on a ring3→ring0 transition (spec.md
// §6's TSS helper contract). The teacher's RISC-V boot never needed one —
// M-mode traps don't switch privilege rings — so this has no teacher
// counterpart; it's built from idt.c's GDT_KERNEL_CODE/TSS references and
// the standard amd64 TSS layout.
type TSSEntry struct {
	reserved0 uint32
	RSP0      uint64
	rsp1      uint64
	rsp2      uint64
	reserved1 uint64
	ist       [7]uint64
	reserved2 uint64
	reserved3 uint16
	IOMapBase uint16
}

// SetKernelStack implements the TSS collaborator interface.
func (t *TSSEntry) SetKernelStack(rsp0 uintptr) { t.RSP0 = uint64(rsp0) }
