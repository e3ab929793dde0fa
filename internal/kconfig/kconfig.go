// Package kconfig holds the kernel's compile-time tunables as an explicit
// struct rather than package-level constants. The teacher (and the original
// C kernel) hard-codes these as #define/const; we keep the same defaults
// but thread them through kernel.New(cfg) so tests can shrink ring/process
// table sizes without touching production defaults.
package kconfig

// Config bundles every tunable named in spec.md §3/§4/§6.
type Config struct {
	// Ring buffers (spec.md §3, §6).
	RingCapacity int // power of two, default 256

	// Routing table (spec.md §4.2).
	RoutingBuckets int // default 64

	// Process table (spec.md §4.6).
	MaxProcesses int // default 64
	UserStackSize int // bytes, default 16KiB

	// Workflow engine (spec.md §3, §4.9).
	MaxWorkflowNodes  int // default 16
	MaxRouteSteps     int // default 8
	MaxEventPayload   int // default 512
	DefaultMaxRetries uint8
	DefaultBaseDelayMS uint32
	WorkflowCleanupAgeTicks uint64 // default 100 (~1s @ 100Hz), spec.md §7 supplement

	// Scheduler (spec.md §4.8).
	TimeSliceTicks      int    // default 10 (100ms @ 100Hz)
	TickHz              int    // default 100
	WatchdogPeriodTicks int    // default 100 (every 100 ticks)
	WatchdogTimeoutTicks int   // default 1000 (10s)

	// Execution stage (spec.md §4.5).
	ResultPushMaxAttempts int // default 10000 (~10ms worst case with pause)

	// Storage deck (spec.md §4.3, "Disk-full → yes" transient error).
	StorageDiskQuotaBytes uint64 // default 64MiB, 0 disables the quota

	// Deck queues (spec.md §4.3/§4.4).
	DeckQueueBound int // default 256

	// Process memory map (spec.md §6).
	UserCodeBase  uint64
	UserStackBase uint64
	UserRingsBase uint64
}

// Default returns the configuration matching spec.md's stated defaults.
func Default() Config {
	return Config{
		RingCapacity:          256,
		RoutingBuckets:        64,
		MaxProcesses:          64,
		UserStackSize:         16 * 1024,
		MaxWorkflowNodes:      16,
		MaxRouteSteps:         8,
		MaxEventPayload:       512,
		DefaultMaxRetries:     3,
		DefaultBaseDelayMS:    100,
		WorkflowCleanupAgeTicks: 100,
		TimeSliceTicks:        10,
		TickHz:                100,
		WatchdogPeriodTicks:   100,
		WatchdogTimeoutTicks:  1000,
		ResultPushMaxAttempts: 10000,
		StorageDiskQuotaBytes: 64 * 1024 * 1024,
		DeckQueueBound:        256,
		UserCodeBase:          0x20000000,
		UserStackBase:         0x20100000,
		UserRingsBase:         0x20200000,
	}
}
