package ring

// MaxRouteSteps and MaxPayload mirror spec.md §6's RingEvent/RingResult
// layout constants (MAX_ROUTING_STEPS, EVENT_PAYLOAD_SIZE in the original).
const (
	MaxRouteSteps = 8
	MaxPayload    = 512
)

// Event is the record a user process pushes into an EventRing (spec.md §6).
// id and timestamp are zero on submit; the kernel assigns both when it
// ingests the record (routing.AddFromRingEvent).
type Event struct {
	ID         uint64
	WorkflowID uint64
	Type       uint32
	Timestamp  uint64
	Route      [MaxRouteSteps]uint8
	Payload    [MaxPayload]byte
	PayloadSize uint32
}

// Result is the record the kernel pushes into a ResultRing (spec.md §6).
// Status is 0 on success; ErrorCode carries the detailed kerr.Code when
// Status != 0. Result holds the bytes memcpy'd from the last non-empty deck
// result (see SPEC_FULL.md's resolution of the "ResultRing result field"
// open question); ResultSize is the real length, not sizeof(pointer).
type Result struct {
	EventID        uint64
	WorkflowID     uint64
	CompletionTime uint64
	Status         uint32
	ErrorCode      uint32
	Result         [MaxPayload]byte
	ResultSize     uint32
}

// EventRing is the user→kernel submission queue.
type EventRing = Ring[Event]

// ResultRing is the kernel→user completion queue.
type ResultRing = Ring[Result]

// NewEventRing and NewResultRing build rings at the capacity spec.md §3
// fixes at 256 slots by default, parameterized so tests can shrink it.
func NewEventRing(capacity int) *EventRing   { return New[Event](capacity) }
func NewResultRing(capacity int) *ResultRing { return New[Result](capacity) }
