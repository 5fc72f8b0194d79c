package scheduler

import (
	"sync"

	"github.com/useVega/vega-protocol/internal/xerrors"
)

// RunStore is the narrow persistence interface the scheduler and engine
// depend on. The core requires no durable implementation; the default is
// the in-memory Store below, and internal/storage/postgres supplies a
// durable alternative behind the same interface.
type RunStore interface {
	Create(run Run) error
	Get(runID string) (Run, error)
	Update(run Run) error
	List() ([]Run, error)

	CreateNodeRun(nr NodeRun) error
	UpdateNodeRun(nr NodeRun) error
	NodeRunsForRun(runID string) ([]NodeRun, error)
}

// Store is the in-memory RunStore implementation: a pair of maps guarded by
// a single RWMutex, in the spirit of a conventional memory_store.go.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]Run
	nodeRuns map[string][]NodeRun // runID -> ordered node runs
}

// NewStore constructs an empty in-memory Store.
func NewStore() *Store {
	return &Store{
		runs:     make(map[string]Run),
		nodeRuns: make(map[string][]NodeRun),
	}
}

func (s *Store) Create(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return xerrors.New(xerrors.CodeState, "run already exists: "+run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) Get(runID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, xerrors.New(xerrors.CodeState, "run not found: "+runID)
	}
	return run, nil
}

func (s *Store) Update(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return xerrors.New(xerrors.CodeState, "run not found: "+run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) List() ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) CreateNodeRun(nr NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeRuns[nr.RunID] = append(s.nodeRuns[nr.RunID], nr)
	return nil
}

func (s *Store) UpdateNodeRun(nr NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.nodeRuns[nr.RunID]
	for i, existing := range runs {
		if existing.ID == nr.ID {
			runs[i] = nr
			return nil
		}
	}
	return xerrors.New(xerrors.CodeState, "node run not found: "+nr.ID)
}

func (s *Store) NodeRunsForRun(runID string) ([]NodeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeRun, len(s.nodeRuns[runID]))
	copy(out, s.nodeRuns[runID])
	return out, nil
}
