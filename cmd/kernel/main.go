package main

import (
	_ "unsafe"

	"github.com/skripsaha/kernel/internal/kconfig"
)

// uartSink implements klog.Sink over the teacher's own linkname'd UART
// write primitive (printf.go's uart_putc), the one piece of the teacher's
// hand-rolled logging library this kernel keeps verbatim rather than
// reimplementing: the wire to the serial port is still the right asm stub,
// only the formatting layer above it moved into internal/klog.
type uartSink struct{}

func (uartSink) WriteByte(c byte) { uartPutc(c) }

//go:linkname uartPutc uart_putc
func uartPutc(c byte)

// kernel is the single kernel-context instance boot creates — the teacher's
// main.go instead kept its Counter/addLimit globals; spec.md §9 asks for
// exactly one such singleton, not many, so this is it.
var kernel *Kernel

// KMain is the Go-side kernel entry point, called once by the bootloader
// handoff stub — the generalization of the teacher's own `//export KMain`
// boot routine (kmeminit → kvminit → kvminithart → trapinithart, one phase
// at a time with a printed OK) to this kernel's own subsystem list.
//
//export KMain
func KMain() {
	kernel = New(kconfig.Default(), uartSink{})

	kernel.Log.Info("process table initialized", "slots", kernel.Config.MaxProcesses)
	kernel.Log.Info("routing table initialized", "buckets", kernel.Config.RoutingBuckets)
	kernel.Log.Info("decks initialized", "count", len(kernel.Decks))
	kernel.Log.Info("guide initialized")
	kernel.Log.Info("execution stage initialized")
	kernel.Log.Info("workflow registry initialized")
	kernel.Log.Info("scheduler initialized", "time_slice_ticks", kernel.Config.TimeSliceTicks)

	kernel.IDT.Load()

	kernel.Log.Info("boot complete, entering event loop")
	Run()
}

// Run is the kernel's main loop: one Step per timer tick, forever. Real
// hardware drives this from the PIT IRQ (idt.c's IRQ_TIMER case calling
// scheduler_tick every interrupt and guide_process_all every tenth); here
// it is an explicit loop since nothing else pumps Step.
func Run() {
	for {
		kernel.Step()
	}
}

func main() {}
