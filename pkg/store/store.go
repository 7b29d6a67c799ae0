package store

import (
	"sort"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
)

// retiredLimit bounds how many superseded run ids each run slot remembers.
const retiredLimit = 32

// Target names the slot a Change touched.
type Target string

const (
	TargetWorkflow     Target = "workflow"
	TargetComponent    Target = "component"
	TargetEvaluation   Target = "evaluation"
	TargetOptimization Target = "optimization"
)

// Change is delivered to subscribers after every write.
type Change struct {
	Target      Target `json:"target"`
	ComponentID string `json:"component_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
}

// Snapshot is a detached copy of the store contents.
type Snapshot struct {
	Workflow     domain.ExecutionState            `json:"workflow"`
	Components   map[string]domain.ExecutionState `json:"components"`
	Evaluation   domain.RunState                  `json:"evaluation"`
	Optimization domain.RunState                  `json:"optimization"`

	retired map[Target][]string
}

// Retired reports whether runID has been superseded in the given run slot.
func (s Snapshot) Retired(target Target, runID string) bool {
	return contains(s.retired[target], runID)
}

// ComponentIDs returns the component ids in a stable order.
func (s Snapshot) ComponentIDs() []string {
	ids := make([]string, 0, len(s.Components))
	for id := range s.Components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store is the single owner of execution state. Writes go through the setters
// so that subscribers are always notified. Safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	workflow     domain.ExecutionState
	components   map[string]domain.ExecutionState
	evaluation   domain.RunState
	optimization domain.RunState
	retired      map[Target][]string

	subMu     sync.Mutex
	subs      map[int]func(Change)
	nextSubID int
}

// New returns a store with everything idle.
func New() *Store {
	return &Store{
		workflow:     domain.IdleExecution(),
		components:   make(map[string]domain.ExecutionState),
		evaluation:   domain.IdleRun(),
		optimization: domain.IdleRun(),
		retired:      make(map[Target][]string),
		subs:         make(map[int]func(Change)),
	}
}

// Workflow returns the workflow execution state.
func (s *Store) Workflow() domain.ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflow
}

// Component returns the state of one component.
func (s *Store) Component(id string) (domain.ExecutionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.components[id]
	return st, ok
}

// Components returns a copy of all component states.
func (s *Store) Components() map[string]domain.ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyComponents(s.components)
}

func (s *Store) Evaluation() domain.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluation
}

func (s *Store) Optimization() domain.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optimization
}

// Snapshot returns a consistent copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retired := make(map[Target][]string, len(s.retired))
	for k, v := range s.retired {
		retired[k] = append([]string(nil), v...)
	}
	return Snapshot{
		Workflow:     s.workflow,
		Components:   copyComponents(s.components),
		Evaluation:   s.evaluation,
		Optimization: s.optimization,
		retired:      retired,
	}
}

// SetWorkflowExecutionState replaces the workflow state.
func (s *Store) SetWorkflowExecutionState(st domain.ExecutionState) {
	s.mu.Lock()
	s.workflow = st
	s.mu.Unlock()
	s.notify(Change{Target: TargetWorkflow})
}

// SetComponentExecutionState upserts one component. Ids the store has never
// seen are stored as well; the graph may not have loaded that node yet.
func (s *Store) SetComponentExecutionState(id string, st domain.ExecutionState) {
	s.mu.Lock()
	s.components[id] = st
	s.mu.Unlock()
	s.notify(Change{Target: TargetComponent, ComponentID: id})
}

// SetEvaluationState replaces the evaluation run. A different run id retires
// the previous one.
func (s *Store) SetEvaluationState(st domain.RunState) {
	s.mu.Lock()
	s.retire(TargetEvaluation, s.evaluation.RunID, st.RunID)
	s.evaluation = st
	s.mu.Unlock()
	s.notify(Change{Target: TargetEvaluation, RunID: st.RunID})
}

// SetOptimizationState replaces the optimization run. A different run id
// retires the previous one.
func (s *Store) SetOptimizationState(st domain.RunState) {
	s.mu.Lock()
	s.retire(TargetOptimization, s.optimization.RunID, st.RunID)
	s.optimization = st
	s.mu.Unlock()
	s.notify(Change{Target: TargetOptimization, RunID: st.RunID})
}

// RetireRun marks runID superseded in a run slot so later updates for it are
// recognized as stale. The current run is unchanged and nobody is notified.
func (s *Store) RetireRun(target Target, runID string) {
	if target != TargetEvaluation && target != TargetOptimization {
		return
	}
	s.mu.Lock()
	s.retire(target, runID, "")
	s.mu.Unlock()
}

// Subscribe registers fn for every subsequent change and returns a function
// that removes it. fn runs on the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// must hold s.mu
func (s *Store) retire(target Target, prev, next string) {
	if prev == "" || prev == next {
		return
	}
	list := s.retired[target]
	if contains(list, prev) {
		return
	}
	list = append(list, prev)
	if len(list) > retiredLimit {
		list = list[len(list)-retiredLimit:]
	}
	s.retired[target] = list
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func copyComponents(in map[string]domain.ExecutionState) map[string]domain.ExecutionState {
	out := make(map[string]domain.ExecutionState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
