// Package workflow implements the DAG engine: registration, cycle
// validation, activation, dependency-driven event submission, and the
// completion callback that ties the event-driven system back into DAG
// progress (spec.md §3/§4.9, grounded on workflow.h/workflow.c).
package workflow

import (
	"sync"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/ring"
)

// MaxNodes and MaxDependencies mirror WORKFLOW_MAX_EVENTS /
// WORKFLOW_MAX_DEPENDENCIES.
const (
	MaxNodes        = 16
	MaxDependencies = 8
)

// State is a Workflow's lifecycle state (workflow.h's WorkflowState).
type State int

const (
	StateRegistered State = iota
	StateReady
	StateRunning
	StateWaiting
	StateCompleted
	StateError
)

// Policy is how a workflow reacts to a node failing (errors.h's
// ErrorPolicy).
type Policy int

const (
	PolicyAbort Policy = iota
	PolicyContinue
	PolicyRetry
	PolicySkip
)

// RetryConfig mirrors errors.h's RetryConfig.
type RetryConfig struct {
	Enabled            bool
	MaxRetries         uint8
	BaseDelayMS        uint32
	ExponentialBackoff bool
}

// Node is one DAG vertex (workflow.h's WorkflowNode).
type Node struct {
	Type        uint32
	Data        []byte
	Dependencies []int

	Ready     bool
	Completed bool
	Error     bool
	RetryCount uint8
	LastErrorCode kerr.Code
	LastRetryDelayMS uint32

	EventID    uint64
	Result     []byte
}

// Context tracks a running workflow's progress (workflow.h's
// ExecutionContext).
type Context struct {
	ActivationTime uint64
	TotalEvents    uint32
	CompletedEvents uint32
	RunningEvents  uint32
	ErrorCount     uint32
	FailedNodeIndex int
}

// Workflow is one registered DAG (workflow.h's Workflow, minus the
// intrusive linked-list pointer — the Registry below uses a map instead
// of the original's kmalloc'd linked list).
type Workflow struct {
	ID      uint64
	Name    string
	OwnerPID uint64
	Route   [ring.MaxRouteSteps]uint8

	Nodes []Node

	State   State
	Context *Context

	RegistrationTime uint64
	ActivationCount  uint64
	TotalExecutionTime uint64

	ParallelSafe bool

	ErrorPolicy Policy
	Retry       RetryConfig

	mu sync.Mutex
}

// DependenciesMet reports whether every dependency of Nodes[i] has
// completed without error (workflow_dependencies_met).
func (w *Workflow) DependenciesMet(i int) bool {
	n := &w.Nodes[i]
	if len(n.Dependencies) == 0 {
		return true
	}
	for _, dep := range n.Dependencies {
		if dep < 0 || dep >= len(w.Nodes) {
			return false
		}
		if !w.Nodes[dep].Completed || w.Nodes[dep].Error {
			return false
		}
	}
	return true
}

// IsComplete reports whether every node has completed (workflow_is_complete).
func (w *Workflow) IsComplete() bool {
	if w.Context == nil {
		return false
	}
	return w.Context.CompletedEvents >= w.Context.TotalEvents
}

// Result returns the final workflow result: the last DAG node's result,
// once the workflow has completed (workflow_get_result).
func (w *Workflow) Result() ([]byte, bool) {
	if !w.IsComplete() || len(w.Nodes) == 0 {
		return nil, false
	}
	last := &w.Nodes[len(w.Nodes)-1]
	return last.Result, true
}

// validateDAG runs a depth-first cycle check over Dependencies edges
// (spec.md §4.9: "registration must reject a cyclic dependency graph" —
// the original's workflow_analyze_dag only computes a parallelism hint and
// never actually checks for cycles; this closes that gap).
func validateDAG(nodes []Node) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		color[i] = gray
		for _, dep := range nodes[i].Dependencies {
			if dep < 0 || dep >= len(nodes) {
				return kerr.Wrap(kerr.InvalidParameter, "dependency index out of range")
			}
			switch color[dep] {
			case gray:
				return kerr.Wrap(kerr.InvalidParameter, "cyclic dependency graph")
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[i] = black
		return nil
	}

	for i := range nodes {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// analyzeDAG computes the parallel-safety hint (workflow_analyze_dag):
// true when more than one node has no dependencies.
func analyzeDAG(nodes []Node) bool {
	independent := 0
	for i := range nodes {
		if len(nodes[i].Dependencies) == 0 {
			independent++
		}
	}
	return independent > 1
}

// Registry is the set of all registered workflows (workflow.h's
// WorkflowRegistry, backed by a map + mutex rather than the original's
// kmalloc'd linked list).
type Registry struct {
	mu        sync.Mutex
	workflows map[uint64]*Workflow
	nextID    uint64

	now     func() uint64
	submit  func(workflowID uint64, route [ring.MaxRouteSteps]uint8, eventType uint32, payload []byte) (eventID uint64, err error)

	stats Stats
}

// Stats mirrors workflow_print_all's aggregate counters, supplemented per
// SPEC_FULL.md §7.
type Stats struct {
	WorkflowsRegistered uint64
	WorkflowsActivated  uint64
	WorkflowsCompleted  uint64
	NodesCompleted      uint64
	NodesFailed         uint64
	NodesRetried        uint64
}

// Submitter is the event-submission hook a Registry calls to push a DAG
// node into the event-driven system — normally routing.Table.AddFromRingEvent
// wrapped to build a ring.Event, kept as a function value so this package
// doesn't import routing directly (spec.md's layering: workflow drives
// submission, routing owns how an event enters the system).
type Submitter func(workflowID uint64, route [ring.MaxRouteSteps]uint8, eventType uint32, payload []byte) (eventID uint64, err error)

// New builds an empty Registry. now supplies RDTSC-equivalent timestamps;
// submit is the Submitter hook described above.
func New(now func() uint64, submit Submitter) *Registry {
	return &Registry{
		workflows: make(map[uint64]*Workflow),
		nextID:    1,
		now:       now,
		submit:    submit,
	}
}

// Register validates the DAG and adds workflow to the registry, assigning
// a fresh ID (workflow_register). Fails with InvalidParameter if the DAG
// is cyclic, too large, or references an out-of-range dependency.
func (r *Registry) Register(name string, route [ring.MaxRouteSteps]uint8, nodes []Node, ownerPID uint64, policy Policy, retry RetryConfig) (uint64, error) {
	if len(nodes) == 0 || len(nodes) > MaxNodes {
		return 0, kerr.Wrap(kerr.InvalidParameter, "event_count out of range")
	}
	if err := validateDAG(nodes); err != nil {
		return 0, err
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.mu.Unlock()

	wf := &Workflow{
		ID:          id,
		Name:        name,
		OwnerPID:    ownerPID,
		Route:       route,
		Nodes:       nodes,
		State:       StateRegistered,
		ErrorPolicy: policy,
		Retry:       retry,
		ParallelSafe: analyzeDAG(nodes),
	}
	if r.now != nil {
		wf.RegistrationTime = r.now()
	}

	r.mu.Lock()
	r.workflows[id] = wf
	r.stats.WorkflowsRegistered++
	r.mu.Unlock()

	return id, nil
}

// Get returns the workflow for id, or nil.
func (r *Registry) Get(id uint64) *Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workflows[id]
}

// Unregister removes a workflow (workflow_unregister; supplemented per
// SPEC_FULL.md §7).
func (r *Registry) Unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[id]; !ok {
		return false
	}
	delete(r.workflows, id)
	return true
}

// CleanupCompleted resets every StateCompleted workflow whose activation
// is older than ageTicks back to StateRegistered, freeing its Context
// (workflow_cleanup_completed). It does not delete the workflow from the
// registry and does not touch StateError — both match the original
// exactly: "Keep them for a while for result retrieval", and age-gate the
// reset on activation_time rather than sweeping indiscriminately, so a
// workflow that just completed this tick is still found (and reported
// Completed) by a POLL that hasn't run yet. Returns how many were reset.
func (r *Registry) CleanupCompleted(ageTicks uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var now uint64
	if r.now != nil {
		now = r.now()
	}
	n := 0
	for _, wf := range r.workflows {
		wf.mu.Lock()
		if wf.State == StateCompleted && wf.Context != nil && now-wf.Context.ActivationTime > ageTicks {
			wf.Context = nil
			wf.State = StateRegistered
			n++
		}
		wf.mu.Unlock()
	}
	return n
}

func (r *Registry) submitNode(wf *Workflow, i int) (uint64, error) {
	n := &wf.Nodes[i]
	if r.submit == nil {
		return 0, kerr.Wrap(kerr.NotImplemented, "no submitter configured")
	}
	return r.submit(wf.ID, wf.Route, n.Type, n.Data)
}

// Activate starts a workflow's execution (workflow_activate): builds its
// Context and submits every node whose dependencies are already met
// (i.e. every root node with no dependencies).
func (r *Registry) Activate(id uint64) error {
	wf := r.Get(id)
	if wf == nil {
		return kerr.New(kerr.WorkflowNotFound)
	}

	wf.mu.Lock()
	if wf.State == StateRunning {
		wf.mu.Unlock()
		return kerr.New(kerr.WorkflowAlreadyRunning)
	}
	var activationTime uint64
	if r.now != nil {
		activationTime = r.now()
	}
	wf.Context = &Context{
		ActivationTime:  activationTime,
		TotalEvents:     uint32(len(wf.Nodes)),
		FailedNodeIndex: -1,
	}
	wf.State = StateRunning
	wf.ActivationCount++
	wf.mu.Unlock()

	r.mu.Lock()
	r.stats.WorkflowsActivated++
	r.mu.Unlock()

	for i := range wf.Nodes {
		if wf.DependenciesMet(i) {
			wf.mu.Lock()
			wf.Nodes[i].Ready = true
			wf.mu.Unlock()

			eventID, err := r.submitNode(wf, i)
			wf.mu.Lock()
			if err != nil || eventID == 0 {
				wf.Nodes[i].Error = true
				wf.Context.ErrorCount++
			} else {
				wf.Nodes[i].EventID = eventID
				wf.Context.RunningEvents++
			}
			wf.mu.Unlock()
		}
	}
	return nil
}

// backoffDelayMS is spec.md §4.9's retry delay formula: "base × 2^retry_count
// with exponential backoff enabled, else base × retry_count." retryCount is
// the number of retries already spent — i.e. the value *before* this
// retry's increment (0 for the first retry, 1 for the second, ...), matching
// the prose's stated order ("compute the next delay..., increment
// retry_count") and spec.md §8 scenario 3's worked sequence for
// base=100ms: 100, 200, 400ms for the first, second, third retry.
func backoffDelayMS(cfg RetryConfig, retryCount uint8) uint32 {
	if cfg.ExponentialBackoff {
		delay := cfg.BaseDelayMS
		for i := uint8(0); i < retryCount; i++ {
			delay *= 2
		}
		return delay
	}
	return cfg.BaseDelayMS * uint32(retryCount)
}

// OnEventCompleted is workflow_on_event_completed — the single
// integration point between the event-driven system and the workflow
// engine. It is called exactly once per completed (or permanently failed)
// event, by internal/execution.
//
// Per SPEC_FULL.md's resolution of the "retry delay" open question: the
// computed backoff delay is recorded on the retried Node's
// LastRetryDelayMS (for observability) but the retry is resubmitted
// immediately rather than scheduled behind a timer, matching the
// original's own "TODO: schedule retry after delay, for now immediate
// retry" comment — this module does not add the timer scheduling the
// original itself left undone.
func (r *Registry) OnEventCompleted(workflowID, eventID uint64, result []byte, errorCode kerr.Code) {
	wf := r.Get(workflowID)
	if wf == nil {
		return
	}
	wf.mu.Lock()
	if wf.Context == nil {
		wf.mu.Unlock()
		return
	}

	idx := -1
	for i := range wf.Nodes {
		if wf.Nodes[i].EventID == eventID {
			idx = i
			break
		}
	}
	if idx < 0 {
		wf.mu.Unlock()
		return
	}
	node := &wf.Nodes[idx]

	if errorCode != kerr.None {
		node.LastErrorCode = errorCode

		shouldRetry := wf.Retry.Enabled && errorCode.Transient() && node.RetryCount < wf.Retry.MaxRetries
		if shouldRetry {
			node.LastRetryDelayMS = backoffDelayMS(wf.Retry, node.RetryCount)
			node.RetryCount++
			node.Error = false
			node.Ready = true
			wf.mu.Unlock()

			r.mu.Lock()
			r.stats.NodesRetried++
			r.mu.Unlock()

			newID, err := r.submitNode(wf, idx)
			wf.mu.Lock()
			if err != nil || newID == 0 {
				node.Error = true
				wf.Context.ErrorCount++
				wf.Context.FailedNodeIndex = idx
			} else {
				node.EventID = newID
			}
			wf.mu.Unlock()
			return
		}

		node.Error = true
		wf.Context.ErrorCount++
		wf.Context.FailedNodeIndex = idx
		r.mu.Lock()
		r.stats.NodesFailed++
		r.mu.Unlock()

		switch wf.ErrorPolicy {
		case PolicyAbort:
			wf.State = StateError
			wf.mu.Unlock()
			return
		case PolicySkip:
			// Recursively mark as Error every not-yet-completed node
			// depending on the failed node, and every node depending on
			// those, to a fixpoint (spec.md §4.9 / §8 scenario 4: A→B→C
			// with A failing must fail B and C both).
			failed := []int{idx}
			for len(failed) > 0 {
				cause := failed[0]
				failed = failed[1:]
				for i := range wf.Nodes {
					if wf.Nodes[i].Completed || wf.Nodes[i].Error {
						continue
					}
					for _, dep := range wf.Nodes[i].Dependencies {
						if dep == cause {
							wf.Nodes[i].Error = true
							wf.Nodes[i].LastErrorCode = kerr.WorkflowDependencyFailed
							failed = append(failed, i)
							break
						}
					}
				}
			}
		case PolicyContinue, PolicyRetry:
			// Continue is the no-op default; PolicyRetry's retry branch
			// already returned above when retryable.
		}
	} else {
		node.Completed = true
		node.Result = result
		wf.Context.CompletedEvents++
		r.mu.Lock()
		r.stats.NodesCompleted++
		r.mu.Unlock()
	}

	wf.Context.RunningEvents--

	for i := range wf.Nodes {
		if wf.Nodes[i].Completed || wf.Nodes[i].Error || wf.Nodes[i].Ready {
			continue
		}
		if !wf.DependenciesMet(i) {
			continue
		}
		wf.Nodes[i].Ready = true
		wf.mu.Unlock()

		newID, err := r.submitNode(wf, i)

		wf.mu.Lock()
		if err != nil || newID == 0 {
			wf.Nodes[i].Error = true
			wf.Context.ErrorCount++
		} else {
			wf.Nodes[i].EventID = newID
			wf.Context.RunningEvents++
		}
	}

	allTerminal := true
	for i := range wf.Nodes {
		if !wf.Nodes[i].Completed && !wf.Nodes[i].Error {
			allTerminal = false
			break
		}
	}
	if allTerminal {
		if wf.Context.ErrorCount > 0 {
			wf.State = StateError
		} else {
			wf.State = StateCompleted
			if r.now != nil {
				wf.TotalExecutionTime += r.now() - wf.Context.ActivationTime
			}
			r.mu.Lock()
			r.stats.WorkflowsCompleted++
			r.mu.Unlock()
		}
	}
	wf.mu.Unlock()
}

// Stats returns the registry's running counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
