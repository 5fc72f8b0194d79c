package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/useVega/vega-protocol/internal/ledger"
	"github.com/useVega/vega-protocol/internal/money"
	"github.com/useVega/vega-protocol/internal/workflow"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

// Scheduler enqueues validated workflow runs, reserving budget up front and
// maintaining the run-status state machine.
type Scheduler struct {
	store  RunStore
	ledger *ledger.Ledger
	queue  *Queue
	now    func() time.Time
}

// New constructs a Scheduler.
func New(store RunStore, l *ledger.Ledger) *Scheduler {
	return &Scheduler{
		store:  store,
		ledger: l,
		queue:  NewQueue(),
		now:    time.Now,
	}
}

// Schedule creates a Run in queued status, reserves spec.MaxBudget from
// wallet, and pushes the run id onto the FIFO queue. Failure to reserve
// aborts scheduling: no run is created, no queue entry is made.
func (s *Scheduler) Schedule(spec workflow.Spec, wallet string, inputs map[string]any) (Run, error) {
	runID := uuid.NewString()

	if _, err := s.ledger.Reserve(runID, wallet, money.Atomic(spec.MaxBudget), spec.Token, spec.Chain); err != nil {
		return Run{}, err
	}

	run := Run{
		ID:             runID,
		WorkflowID:     spec.ID,
		OwnerUserID:    spec.OwnerUserID,
		UserWallet:     wallet,
		Status:         RunQueued,
		CreatedAt:      s.now(),
		Chain:          spec.Chain,
		Token:          spec.Token,
		ReservedBudget: money.Atomic(spec.MaxBudget),
	}

	if err := s.store.Create(run); err != nil {
		// Roll back the reservation: scheduling as a whole failed.
		_, _ = s.ledger.Release(runID, 0)
		return Run{}, err
	}

	s.queue.Push(runID)
	return run, nil
}

// Next pops the next queued run id for worker pickup.
func (s *Scheduler) Next() (string, bool) {
	return s.queue.Next()
}

// UpdateStatus transitions runID to status, applying patch fields, and
// enforces the Run state-machine invariants: startedAt set exactly on the
// first queued->running transition, endedAt set exactly on any transition
// into a terminal state.
func (s *Scheduler) UpdateStatus(runID string, status RunStatus, patch func(*Run)) (Run, error) {
	run, err := s.store.Get(runID)
	if err != nil {
		return Run{}, err
	}

	if run.Status.IsTerminal() {
		return Run{}, xerrors.New(xerrors.CodeState, "run already in terminal state: "+string(run.Status))
	}
	if !run.Status.CanTransition(status) {
		return Run{}, xerrors.New(xerrors.CodeState, "illegal run transition from "+string(run.Status)+" to "+string(status))
	}

	now := s.now()
	if run.Status == RunQueued && status == RunRunning {
		run.StartedAt = &now
	}
	run.Status = status
	if status.IsTerminal() {
		run.EndedAt = &now
	}
	if patch != nil {
		patch(&run)
	}

	if err := s.store.Update(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Cancel is valid while a run is queued or running: it drops the run from
// the queue if still queued, releases its full reservation, and marks it
// cancelled.
func (s *Scheduler) Cancel(runID string) (Run, error) {
	run, err := s.store.Get(runID)
	if err != nil {
		return Run{}, err
	}
	if run.Status != RunQueued && run.Status != RunRunning {
		return Run{}, xerrors.New(xerrors.CodeState, "run cannot be cancelled from status: "+string(run.Status))
	}

	s.queue.Remove(runID)

	if _, err := s.ledger.Release(runID, run.SpentBudget); err != nil {
		return Run{}, err
	}

	now := s.now()
	run.Status = RunCancelled
	run.EndedAt = &now
	if err := s.store.Update(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Store exposes the underlying RunStore for callers (e.g. the engine) that
// need to read/write NodeRuns directly.
func (s *Scheduler) Store() RunStore { return s.store }

// Ledger exposes the underlying BudgetLedger for callers that need to
// charge spend against a run's reservation.
func (s *Scheduler) Ledger() *ledger.Ledger { return s.ledger }
