package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/ring"
)

type fakeBus struct {
	mu     sync.Mutex
	nextID uint64
	fail   map[uint32]bool
}

func newFakeBus() *fakeBus { return &fakeBus{nextID: 1, fail: map[uint32]bool{}} }

func (b *fakeBus) submit(workflowID uint64, route [ring.MaxRouteSteps]uint8, eventType uint32, payload []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[eventType] {
		return 0, kerr.New(kerr.InvalidParameter)
	}
	id := b.nextID
	b.nextID++
	return id, nil
}

func tick() func() uint64 {
	var n uint64
	return func() uint64 { n++; return n }
}

func TestRegister_RejectsCyclicDAG(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{
		{Dependencies: []int{1}},
		{Dependencies: []int{0}},
	}
	_, err := r.Register("cyclic", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	assert.Error(t, err)
}

func TestRegister_AcceptsValidDAG(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}, {Dependencies: []int{0}}}
	id, err := r.Register("valid", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestActivate_SubmitsOnlyRootNodes(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}, {Dependencies: []int{0}}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	assert.True(t, wf.Nodes[0].Ready)
	assert.False(t, wf.Nodes[1].Ready)
	assert.EqualValues(t, 1, wf.Context.RunningEvents)
}

func TestOnEventCompleted_SubmitsDependentAfterRootCompletes(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}, {Dependencies: []int{0}}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	rootEventID := wf.Nodes[0].EventID

	r.OnEventCompleted(id, rootEventID, []byte("r1"), kerr.None)

	assert.True(t, wf.Nodes[0].Completed)
	assert.True(t, wf.Nodes[1].Ready)
	assert.NotZero(t, wf.Nodes[1].EventID)
}

func TestOnEventCompleted_CompletesWorkflowWhenAllNodesDone(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	r.OnEventCompleted(id, wf.Nodes[0].EventID, nil, kerr.None)

	assert.Equal(t, StateCompleted, wf.State)
	assert.EqualValues(t, 1, r.Stats().WorkflowsCompleted)
}

func TestOnEventCompleted_AbortPolicyStopsWorkflowOnFailure(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}, {Dependencies: []int{0}}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	r.OnEventCompleted(id, wf.Nodes[0].EventID, nil, kerr.StorageFileNotFound)

	assert.Equal(t, StateError, wf.State)
	assert.False(t, wf.Nodes[1].Ready, "dependent must not be submitted after abort")
}

func TestOnEventCompleted_SkipPolicyMarksDependentsFailed(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}, {Dependencies: []int{0}}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicySkip, RetryConfig{})
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	r.OnEventCompleted(id, wf.Nodes[0].EventID, nil, kerr.StorageFileNotFound)

	assert.True(t, wf.Nodes[1].Error)
	assert.Equal(t, kerr.WorkflowDependencyFailed, wf.Nodes[1].LastErrorCode)
}

// spec.md §8 scenario 4: DAG A→B→C with policy Skip. A fails with a
// non-transient error; B and C must both be marked Error even though C's
// only listed dependency is B, not A, and the workflow must terminate.
func TestOnEventCompleted_SkipPolicyCascadesTransitively(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}, {Dependencies: []int{0}}, {Dependencies: []int{1}}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicySkip, RetryConfig{})
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	r.OnEventCompleted(id, wf.Nodes[0].EventID, nil, kerr.StorageFileNotFound)

	assert.True(t, wf.Nodes[1].Error)
	assert.Equal(t, kerr.WorkflowDependencyFailed, wf.Nodes[1].LastErrorCode)
	assert.True(t, wf.Nodes[2].Error, "C must be marked Error transitively through B, not just direct dependents of A")
	assert.Equal(t, kerr.WorkflowDependencyFailed, wf.Nodes[2].LastErrorCode)
	assert.Equal(t, StateError, wf.State, "workflow must terminate once every node is completed or errored")
}

func TestOnEventCompleted_TransientErrorRetriesUpToMax(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}}
	retry := RetryConfig{Enabled: true, MaxRetries: 2, BaseDelayMS: 100, ExponentialBackoff: true}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyRetry, retry)
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	firstEventID := wf.Nodes[0].EventID

	r.OnEventCompleted(id, firstEventID, nil, kerr.Timeout)
	assert.EqualValues(t, 1, wf.Nodes[0].RetryCount)
	assert.False(t, wf.Nodes[0].Error)
	assert.EqualValues(t, 100, wf.Nodes[0].LastRetryDelayMS, "first retry: base * 2^0")

	secondEventID := wf.Nodes[0].EventID
	assert.NotEqual(t, firstEventID, secondEventID)

	r.OnEventCompleted(id, secondEventID, nil, kerr.Timeout)
	assert.EqualValues(t, 2, wf.Nodes[0].RetryCount)

	thirdEventID := wf.Nodes[0].EventID
	r.OnEventCompleted(id, thirdEventID, nil, kerr.Timeout)
	assert.True(t, wf.Nodes[0].Error, "must stop retrying once max_retries is exhausted")
}

// spec.md §8 scenario 3's worked sequence: base=100ms, exponential
// backoff enabled, delays of 100, 200, 400ms for the first, second, third
// retry.
func TestBackoffDelayMS_MatchesWorkedExponentialSequence(t *testing.T) {
	cfg := RetryConfig{BaseDelayMS: 100, ExponentialBackoff: true}
	assert.EqualValues(t, 100, backoffDelayMS(cfg, 0))
	assert.EqualValues(t, 200, backoffDelayMS(cfg, 1))
	assert.EqualValues(t, 400, backoffDelayMS(cfg, 2))
}

func TestBackoffDelayMS_LinearWithoutExponentialBackoff(t *testing.T) {
	cfg := RetryConfig{BaseDelayMS: 100, ExponentialBackoff: false}
	assert.EqualValues(t, 0, backoffDelayMS(cfg, 0))
	assert.EqualValues(t, 100, backoffDelayMS(cfg, 1))
	assert.EqualValues(t, 200, backoffDelayMS(cfg, 2))
}

func TestOnEventCompleted_NonTransientErrorNeverRetries(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}}
	retry := RetryConfig{Enabled: true, MaxRetries: 3, BaseDelayMS: 100}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyContinue, retry)
	require.NoError(t, r.Activate(id))

	wf := r.Get(id)
	r.OnEventCompleted(id, wf.Nodes[0].EventID, nil, kerr.StorageFileNotFound)

	assert.True(t, wf.Nodes[0].Error)
	assert.EqualValues(t, 0, wf.Nodes[0].RetryCount)
}

func TestActivate_AlreadyRunningIsRejected(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, r.Activate(id))
	assert.Error(t, r.Activate(id))
}

func TestUnregister(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})

	assert.True(t, r.Unregister(id))
	assert.Nil(t, r.Get(id))
	assert.False(t, r.Unregister(id), "second unregister of the same id finds nothing")
}

// spec.md §7's supplemented workflow_cleanup_completed: a Completed
// workflow is reset to Registered (not deleted) once older than the age
// threshold — and must NOT be touched, and must still be found by a POLL,
// before that threshold is reached (the bug this guards against: cleanup
// ran every Step() with no age check at all, wiping a workflow from the
// registry the same tick it completed, before any POLL could observe it).
func TestCleanupCompleted_RespectsAgeThresholdAndResetsRatherThanDeletes(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, r.Activate(id))
	r.OnEventCompleted(id, r.Get(id).Nodes[0].EventID, nil, kerr.None)
	require.Equal(t, StateCompleted, r.Get(id).State)

	assert.Equal(t, 0, r.CleanupCompleted(1000), "still within the age threshold: must not be reset")
	assert.Equal(t, StateCompleted, r.Get(id).State, "must still be found as Completed by a POLL")

	assert.Equal(t, 1, r.CleanupCompleted(0), "past the age threshold: must be reset")
	wf := r.Get(id)
	require.NotNil(t, wf, "CleanupCompleted resets in place, it never deletes")
	assert.Equal(t, StateRegistered, wf.State)
	assert.Nil(t, wf.Context)
}

// A StateError workflow is never touched by CleanupCompleted, matching
// the original's workflow_cleanup_completed, which only inspects
// WORKFLOW_STATE_COMPLETED.
func TestCleanupCompleted_NeverTouchesErroredWorkflows(t *testing.T) {
	bus := newFakeBus()
	r := New(tick(), bus.submit)

	nodes := []Node{{}}
	id, _ := r.Register("wf", [ring.MaxRouteSteps]uint8{}, nodes, 1, PolicyAbort, RetryConfig{})
	require.NoError(t, r.Activate(id))
	r.OnEventCompleted(id, r.Get(id).Nodes[0].EventID, nil, kerr.StorageFileNotFound)
	require.Equal(t, StateError, r.Get(id).State)

	assert.Equal(t, 0, r.CleanupCompleted(0))
	assert.Equal(t, StateError, r.Get(id).State)
}

func TestDependenciesMet_NoDependenciesAlwaysReady(t *testing.T) {
	wf := &Workflow{Nodes: []Node{{}}}
	assert.True(t, wf.DependenciesMet(0))
}
