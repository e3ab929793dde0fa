package deck

import (
	"encoding/binary"
	"sync"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/routing"
)

// Hardware event types (grounded on hardware_deck.c's EVENT_TIMER_*/
// EVENT_DEV_* range).
const (
	EventTimerCreate   uint32 = 300
	EventTimerCancel   uint32 = 301
	EventTimerSleep    uint32 = 302
	EventTimerGetTicks uint32 = 303
	EventDevOpen       uint32 = 310
	EventDevIoctl      uint32 = 311
	EventDevRead       uint32 = 312
	EventDevWrite      uint32 = 313
)

const maxTimerSlots = 32

type timerSlot struct {
	entry     *routing.Entry
	expiresAt uint64
	inUse     bool
}

// Hardware is the deck that models timers and a handful of simple devices.
// EventTimerSleep is the one case in this module where Process legitimately
// returns a *Suspend instead of completing the entry: the entry is parked
// in the deck's own timer table until a later Tick call observes the
// deadline has passed, matching hardware_deck.c's "do NOT call
// deck_complete() here — timer_check_expired() will do it" comment.
type Hardware struct {
	base

	mu      sync.Mutex
	ticks   uint64
	timers  [maxTimerSlots]timerSlot
	devices map[uint32]bool
}

// NewHardware builds the Hardware deck.
func NewHardware(queueBound int) *Hardware {
	return &Hardware{
		base:    newBase("hardware", PrefixHardware, queueBound),
		devices: make(map[uint32]bool),
	}
}

// Tick advances the deck's notion of current time and returns every entry
// whose sleep timer has now expired, ready for the Guide to re-route
// (spec.md §4.3's hardware deck / scheduler tick integration).
func (d *Hardware) Tick(now uint64) []*routing.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ticks = now

	var expired []*routing.Entry
	for i := range d.timers {
		t := &d.timers[i]
		if t.inUse && now >= t.expiresAt {
			t.entry.RecordResult(nil, routing.ResultNone, now)
			t.entry.State = routing.Processing
			expired = append(expired, t.entry)
			t.inUse = false
			t.entry = nil
		}
	}
	return expired
}

func (d *Hardware) allocSlot() int {
	for i := range d.timers {
		if !d.timers[i].inUse {
			return i
		}
	}
	return -1
}

func (d *Hardware) Process(entry *routing.Entry) error {
	ev := &entry.Event
	payload := ev.Payload[:ev.PayloadSize]

	switch ev.Type {
	case EventTimerCreate:
		d.mu.Lock()
		slot := d.allocSlot()
		d.mu.Unlock()
		if slot < 0 {
			return fail(entry, &d.base, kerr.HWTimerSlotsFull)
		}
		result := make([]byte, 4)
		binary.LittleEndian.PutUint32(result, uint32(slot))
		entry.RecordResult(result, routing.ResultStatic, 0)

	case EventTimerCancel:
		if len(payload) < 4 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		slot := binary.LittleEndian.Uint32(payload[:4])
		d.mu.Lock()
		ok := slot < maxTimerSlots && d.timers[slot].inUse
		if ok {
			d.timers[slot].inUse = false
			d.timers[slot].entry = nil
		}
		d.mu.Unlock()
		if !ok {
			return fail(entry, &d.base, kerr.HWTimerNotFound)
		}
		entry.RecordResult(nil, routing.ResultNone, 0)

	case EventTimerSleep:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		durationTicks := binary.LittleEndian.Uint64(payload[:8])
		d.mu.Lock()
		slot := d.allocSlot()
		if slot >= 0 {
			d.timers[slot] = timerSlot{entry: entry, expiresAt: d.ticks + durationTicks, inUse: true}
		}
		d.mu.Unlock()
		if slot < 0 {
			return fail(entry, &d.base, kerr.HWTimerSlotsFull)
		}
		entry.State = routing.Suspended
		d.recordSuspend()
		return &Suspend{Reason: "timer sleep"}

	case EventTimerGetTicks:
		d.mu.Lock()
		now := d.ticks
		d.mu.Unlock()
		result := make([]byte, 8)
		binary.LittleEndian.PutUint64(result, now)
		entry.RecordResult(result, routing.ResultValue, 0)

	case EventDevOpen:
		if len(payload) < 4 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		devID := binary.LittleEndian.Uint32(payload[:4])
		d.mu.Lock()
		d.devices[devID] = true
		d.mu.Unlock()
		result := make([]byte, 4)
		binary.LittleEndian.PutUint32(result, devID)
		entry.RecordResult(result, routing.ResultValue, 0)

	case EventDevIoctl:
		if len(payload) < 4 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		devID := binary.LittleEndian.Uint32(payload[:4])
		d.mu.Lock()
		open := d.devices[devID]
		d.mu.Unlock()
		if !open {
			return fail(entry, &d.base, kerr.HWDeviceNotFound)
		}
		entry.RecordResult(nil, routing.ResultNone, 0)

	case EventDevRead, EventDevWrite:
		if len(payload) < 4 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		devID := binary.LittleEndian.Uint32(payload[:4])
		d.mu.Lock()
		open := d.devices[devID]
		d.mu.Unlock()
		if !open {
			return fail(entry, &d.base, kerr.HWDeviceNotFound)
		}
		entry.RecordResult(nil, routing.ResultNone, 0)

	default:
		return fail(entry, &d.base, kerr.OpInvalidOperation)
	}

	d.recordOK()
	return nil
}
