package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skripsaha/kernel/internal/deck"
	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/ring"
	"github.com/skripsaha/kernel/internal/routing"
)

type fakeTarget struct {
	pushed    []ring.Result
	full      bool
	signalled int
}

func (f *fakeTarget) PushResult(r ring.Result) bool {
	if f.full {
		f.full = false // accept on the next attempt
		return false
	}
	f.pushed = append(f.pushed, r)
	return true
}
func (f *fakeTarget) SignalCompletion() { f.signalled++ }

func TestProcessCompleted_PushesResultAndSignalsAndRemovesEntry(t *testing.T) {
	table := routing.New(4)
	ev := ring.Event{WorkflowID: 5}
	entry := table.AddFromRingEvent(&ev, 0)
	entry.RecordResult([]byte("done"), routing.ResultValue, 1)

	target := &fakeTarget{}
	var callbackWorkflow, callbackEvent uint64
	var callbackResult []byte

	stage := New(table, func(*routing.Entry) ResultTarget { return target },
		func(wfID, evID uint64, result []byte, _ kerr.Code) {
			callbackWorkflow, callbackEvent, callbackResult = wfID, evID, result
		}, func() uint64 { return 100 }, 10)

	q := deck.NewQueue(0)
	q.Push(entry)
	require.True(t, stage.RunOnce(q))

	require.Len(t, target.pushed, 1)
	assert.Equal(t, entry.EventID, target.pushed[0].EventID)
	assert.Equal(t, []byte("done"), target.pushed[0].Result[:4])
	assert.Equal(t, uint64(100), target.pushed[0].CompletionTime)
	assert.Equal(t, 1, target.signalled)

	assert.Equal(t, uint64(5), callbackWorkflow)
	assert.Equal(t, entry.EventID, callbackEvent)
	assert.Equal(t, []byte("done"), callbackResult)

	assert.Nil(t, table.Lookup(entry.EventID))
	assert.EqualValues(t, 1, stage.Stats().EventsExecuted)
	assert.EqualValues(t, 1, stage.Stats().ResponsesSent)
}

func TestProcessCompleted_RetriesOnFullRingThenSucceeds(t *testing.T) {
	table := routing.New(4)
	ev := ring.Event{}
	entry := table.AddFromRingEvent(&ev, 0)

	target := &fakeTarget{full: true}
	stage := New(table, func(*routing.Entry) ResultTarget { return target }, nil, nil, 10)

	q := deck.NewQueue(0)
	q.Push(entry)
	require.True(t, stage.RunOnce(q))
	assert.Len(t, target.pushed, 1)
}

func TestProcessCompleted_GivesUpAfterMaxAttemptsAndCountsError(t *testing.T) {
	table := routing.New(4)
	ev := ring.Event{}
	entry := table.AddFromRingEvent(&ev, 0)

	target := &foreverFullTarget{}
	stage := New(table, func(*routing.Entry) ResultTarget { return target }, nil, nil, 3)

	q := deck.NewQueue(0)
	q.Push(entry)
	require.True(t, stage.RunOnce(q))

	assert.EqualValues(t, 1, stage.Stats().Errors)
	// Entry is still in the table since it was never delivered.
	assert.NotNil(t, table.Lookup(entry.EventID))
}

type foreverFullTarget struct{}

func (foreverFullTarget) PushResult(ring.Result) bool { return false }
func (foreverFullTarget) SignalCompletion()           {}

func TestRunOnce_EmptyQueueReturnsFalse(t *testing.T) {
	table := routing.New(4)
	stage := New(table, nil, nil, nil, 10)
	q := deck.NewQueue(0)
	assert.False(t, stage.RunOnce(q))
}

func TestAbortedEntry_CarriesErrorCodeInResultStatus(t *testing.T) {
	table := routing.New(4)
	ev := ring.Event{}
	entry := table.AddFromRingEvent(&ev, 0)
	entry.RecordError(kerr.StorageDiskFull)

	target := &fakeTarget{}
	stage := New(table, func(*routing.Entry) ResultTarget { return target }, nil, nil, 10)

	q := deck.NewQueue(0)
	q.Push(entry)
	stage.RunOnce(q)

	require.Len(t, target.pushed, 1)
	assert.Equal(t, uint32(kerr.StorageDiskFull), target.pushed[0].Status)
}
