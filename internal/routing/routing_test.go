package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/ring"
)

func TestNew_DefaultsBucketCountWhenInvalid(t *testing.T) {
	tbl := New(0)
	assert.NotNil(t, tbl)
}

func TestAddFromRingEvent_AssignsMonotonicIDsAndDeepCopiesPayload(t *testing.T) {
	tbl := New(4)
	ev := ring.Event{WorkflowID: 7, Type: 1, PayloadSize: 3}
	copy(ev.Payload[:], []byte{1, 2, 3})
	ev.Route[0] = PrefixOperations

	entry := tbl.AddFromRingEvent(&ev, 100)
	require.NotNil(t, entry)
	assert.Equal(t, ev.ID, entry.EventID)
	assert.Equal(t, uint64(7), entry.WorkflowID)
	assert.Equal(t, []byte{1, 2, 3}, entry.Event.Payload[:3])

	// Mutating the original event payload must not alter the stored copy.
	ev.Payload[0] = 99
	assert.Equal(t, byte(1), entry.Event.Payload[0])

	ev2 := ring.Event{WorkflowID: 7}
	entry2 := tbl.AddFromRingEvent(&ev2, 101)
	assert.NotEqual(t, entry.EventID, entry2.EventID)
}

func TestLookup_FindsInsertedEntryByID(t *testing.T) {
	tbl := New(4)
	ev := ring.Event{WorkflowID: 1}
	entry := tbl.AddFromRingEvent(&ev, 0)

	found := tbl.Lookup(entry.EventID)
	require.NotNil(t, found)
	assert.Equal(t, entry.EventID, found.EventID)
}

func TestLookup_MissingIDReturnsNil(t *testing.T) {
	tbl := New(4)
	assert.Nil(t, tbl.Lookup(12345))
}

func TestRemove_DeletesOnceAndIsIdempotent(t *testing.T) {
	tbl := New(4)
	ev := ring.Event{}
	entry := tbl.AddFromRingEvent(&ev, 0)

	assert.True(t, tbl.Remove(entry.EventID))
	assert.Nil(t, tbl.Lookup(entry.EventID))
	assert.False(t, tbl.Remove(entry.EventID))
}

func TestStats_TracksTotalEntries(t *testing.T) {
	tbl := New(4)
	ev1, ev2 := ring.Event{}, ring.Event{}
	e1 := tbl.AddFromRingEvent(&ev1, 0)
	tbl.AddFromRingEvent(&ev2, 0)

	assert.EqualValues(t, 2, tbl.Stats().TotalEntries)
	tbl.Remove(e1.EventID)
	assert.EqualValues(t, 1, tbl.Stats().TotalEntries)
}

func TestEntry_NextPrefixAndRouteExhausted(t *testing.T) {
	e := &Entry{Route: [MaxRouteSteps]uint8{PrefixOperations, PrefixStorage}}
	assert.Equal(t, uint8(PrefixOperations), e.NextPrefix())
	assert.False(t, e.RouteExhausted())

	e.CurrentIndex = 2
	assert.True(t, e.RouteExhausted())
}

func TestEntry_RecordResultAdvancesCurrentIndex(t *testing.T) {
	e := &Entry{Route: [MaxRouteSteps]uint8{PrefixOperations, PrefixStorage}}
	e.RecordResult([]byte("ok"), ResultValue, 1)
	assert.Equal(t, 1, e.CurrentIndex)
	assert.Equal(t, uint8(PrefixStorage), e.NextPrefix())
}

func TestEntry_RecordErrorMarksAborted(t *testing.T) {
	e := &Entry{}
	e.RecordError(kerr.StorageDiskFull)
	assert.True(t, e.Abort)
	assert.Equal(t, Aborted, e.State)
	assert.Equal(t, kerr.StorageDiskFull, e.ErrorCode)
}

func TestEntry_LastResultSearchesFromEndOfRoute(t *testing.T) {
	e := &Entry{}
	e.RecordResult([]byte("first"), ResultValue, 1)
	e.RecordResult([]byte("second"), ResultValue, 2)

	data, idx, ok := e.LastResult()
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []byte("second"), data)
}

func TestEntry_LastResultEmptyWhenNoResultsRecorded(t *testing.T) {
	e := &Entry{}
	_, _, ok := e.LastResult()
	assert.False(t, ok)
}

func TestRange_VisitsEveryInsertedEntry(t *testing.T) {
	tbl := New(4)
	for i := 0; i < 10; i++ {
		ev := ring.Event{}
		tbl.AddFromRingEvent(&ev, 0)
	}
	seen := 0
	tbl.Range(func(*Entry) { seen++ })
	assert.Equal(t, 10, seen)
}
