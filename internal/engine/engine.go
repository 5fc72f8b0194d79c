// Package engine implements the ExecutionEngine: topological scheduling,
// template-driven dataflow, per-node retry with backoff, and result
// extraction.
//
// The node dispatch shape (resolve inputs, look up the agent, invoke,
// extract output, store into a keyed context, record a run entry, publish
// an event) is grounded on a conventional executeNode/executeAgentTask
// shape, converted from an async DB-polling worker loop into a single
// blocking Execute(ctx, spec, run, inputs) call.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/useVega/vega-protocol/internal/caller"
	"github.com/useVega/vega-protocol/internal/eventbus"
	"github.com/useVega/vega-protocol/internal/money"
	"github.com/useVega/vega-protocol/internal/payment"
	"github.com/useVega/vega-protocol/internal/registry"
	"github.com/useVega/vega-protocol/internal/scheduler"
	"github.com/useVega/vega-protocol/internal/template"
	"github.com/useVega/vega-protocol/internal/workflow"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

// AgentLookup is the slice of AgentRegistry the engine needs.
type AgentLookup interface {
	Get(ref string) (registry.Descriptor, error)
}

// Caller is the slice of AgentCaller the engine needs for unpaid calls.
type Caller interface {
	Call(ctx context.Context, endpointBase string, inputs map[string]any, contextID string) (*caller.Result, error)
}

// PaymentCaller is the slice of PaymentCoordinator the engine needs for
// paywalled calls.
type PaymentCaller interface {
	CallPaid(ctx context.Context, idempotencyKey, endpointBase string, inputs map[string]any, contextID string) (*caller.Result, error)
}

// Engine executes validated workflow specs against a scheduler-managed run.
type Engine struct {
	agents  AgentLookup
	caller  Caller
	payment PaymentCaller // nil disables paid agents entirely
	sched   *scheduler.Scheduler
	bus     *eventbus.Bus
	logger  *zap.SugaredLogger
	idgen   func() string
	sleep   func(context.Context, time.Duration)
	now     func() time.Time
}

// New constructs an Engine. payment may be nil if SIGNER_KEY was never
// configured; the engine then fails any paywalled node with PaymentError.
func New(agents AgentLookup, c Caller, p PaymentCaller, sched *scheduler.Scheduler, bus *eventbus.Bus, logger *zap.SugaredLogger, idgen func() string) *Engine {
	return &Engine{
		agents:  agents,
		caller:  c,
		payment: p,
		sched:   sched,
		bus:     bus,
		logger:  logger,
		idgen:   idgen,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Execute runs spec's nodes to completion (or failure/cancellation) against
// run, returning the final Run record.
func (e *Engine) Execute(ctx context.Context, spec workflow.Spec, run scheduler.Run, inputs map[string]any) (scheduler.Run, error) {
	run, err := e.sched.UpdateStatus(run.ID, scheduler.RunRunning, nil)
	if err != nil {
		return run, err
	}
	e.publish(eventbus.Event{Type: "run.started", RunID: run.ID})

	order, ok := workflow.TopologicalOrder(spec)
	if !ok {
		return e.fail(run, xerrors.New(xerrors.CodeExecution, "cycle"))
	}

	dataflow := template.Context{"input": inputs}
	var lastNodeID string

	for i, nodeID := range order {
		current, err := e.sched.Store().Get(run.ID)
		if err == nil && current.Status.IsTerminal() {
			// Cancelled at a node boundary: stop before starting more nodes.
			return current, nil
		}

		node, ok := spec.NodeByID(nodeID)
		if !ok {
			return e.fail(run, xerrors.New(xerrors.CodeExecution, "node disappeared from spec: "+nodeID))
		}

		output, nodeRun, err := e.executeNode(ctx, run, node, dataflow)
		if err != nil {
			_ = e.sched.Store().CreateNodeRun(nodeRun)
			e.publish(eventbus.Event{
				Type: "node.failed", RunID: run.ID, NodeID: nodeID, NodeRunID: nodeRun.ID,
				Data: map[string]any{"error": err.Error(), "retryCount": nodeRun.RetryCount},
			})
			e.skipRemaining(run, order[i+1:])
			return e.fail(run, err)
		}

		dataflow[nodeID] = output
		lastNodeID = nodeID

		spent, err := money.Add(run.SpentBudget, nodeRun.Cost)
		if err == nil && !run.ReservedBudget.GTE(spent) {
			err = xerrors.New(xerrors.CodeExecution, "spent "+spent.String()+" exceeds reserved "+run.ReservedBudget.String())
		}
		if err != nil {
			_ = e.sched.Store().CreateNodeRun(nodeRun)
			e.skipRemaining(run, order[i+1:])
			return e.fail(run, xerrors.Wrap(xerrors.CodeExecution, err, "spend exceeded reservation"))
		}
		run.SpentBudget = spent

		if err := e.sched.Store().CreateNodeRun(nodeRun); err != nil {
			return e.fail(run, err)
		}
		e.publish(eventbus.Event{
			Type: "node.completed", RunID: run.ID, NodeID: nodeID, NodeRunID: nodeRun.ID,
			Data: map[string]any{"output": output, "cost": uint64(nodeRun.Cost)},
		})
	}

	output, outputNodeID := e.resolveRunOutput(spec, dataflow, lastNodeID)

	if _, err := e.sched.Ledger().Release(run.ID, run.SpentBudget); err != nil {
		return e.fail(run, xerrors.Wrap(xerrors.CodeState, err, "release run reservation"))
	}

	run, err = e.sched.UpdateStatus(run.ID, scheduler.RunCompleted, func(r *scheduler.Run) {
		r.Output = output
		r.OutputNodeID = outputNodeID
		r.SpentBudget = run.SpentBudget
	})
	if err != nil {
		return run, err
	}
	e.publish(eventbus.Event{Type: "run.completed", RunID: run.ID})
	return run, nil
}

// resolveRunOutput picks the run's final output: the workflow's explicit
// Outputs template mapping wins when present; otherwise the last node in
// topological order supplies the run output.
func (e *Engine) resolveRunOutput(spec workflow.Spec, dataflow template.Context, lastNodeID string) (any, string) {
	if len(spec.Outputs) == 0 {
		return dataflow[lastNodeID], lastNodeID
	}
	resolved := make(map[string]any, len(spec.Outputs))
	for key, tmpl := range spec.Outputs {
		resolved[key] = template.Resolve(tmpl, dataflow)
	}
	return resolved, ""
}

// executeNode resolves inputs, dispatches the call (with retry), and
// extracts the output for one node. It never mutates run or dataflow; the
// caller commits the result.
func (e *Engine) executeNode(ctx context.Context, run scheduler.Run, node workflow.Node, dataflow template.Context) (any, scheduler.NodeRun, error) {
	resolvedAny := template.Resolve(map[string]any(node.Inputs), dataflow)
	resolvedInputs, _ := resolvedAny.(map[string]any)

	nodeRun := scheduler.NodeRun{
		ID:             e.idgen(),
		RunID:          run.ID,
		NodeID:         node.ID,
		AgentRef:       node.AgentRef,
		Status:         scheduler.NodeRunRunning,
		ResolvedInputs: resolvedInputs,
	}
	startedAt := e.now()
	nodeRun.StartedAt = &startedAt

	descriptor, err := e.agents.Get(node.AgentRef)
	if err != nil {
		nodeRun.Status = scheduler.NodeRunFailed
		nodeRun.Error = err.Error()
		endedAt := e.now()
		nodeRun.EndedAt = &endedAt
		return nil, nodeRun, err
	}

	maxAttempts, backoffMs := 1, 0
	if node.Retry != nil {
		maxAttempts, backoffMs = node.Retry.MaxAttempts, node.Retry.BackoffMs
	}
	if maxAttempts < 1 {
		// The validator rejects this before a run is ever scheduled; guard
		// here too so a zero-attempt retry policy can never leave result
		// and callErr both nil going into ExtractOutput.
		maxAttempts = 1
	}

	var result *caller.Result
	var callErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			// Linear backoff: backoffMs * attempt number.
			e.sleep(ctx, time.Duration(backoffMs*attempt)*time.Millisecond)
		}
		result, callErr = e.invoke(ctx, descriptor, resolvedInputs, run.ID, node.ID)
		if callErr == nil {
			break
		}
		if !xerrors.RetryableError(callErr) {
			break
		}
		nodeRun.RetryCount = attempt + 1
	}

	endedAt := e.now()
	nodeRun.EndedAt = &endedAt

	if callErr != nil {
		nodeRun.Status = scheduler.NodeRunFailed
		nodeRun.Error = callErr.Error()
		return nil, nodeRun, callErr
	}

	output, err := caller.ExtractOutput(result)
	if err != nil {
		nodeRun.Status = scheduler.NodeRunFailed
		nodeRun.Error = err.Error()
		return nil, nodeRun, err
	}

	if rec, ok := e.paymentRecord(run.ID, node.ID); ok {
		nodeRun.Error = "" // no-op, kept explicit: a successful payment never leaves an error.
		_ = rec
	}

	nodeRun.Status = scheduler.NodeRunCompleted
	nodeRun.Output = output
	nodeRun.Cost = money.Atomic(descriptor.Pricing.Amount)
	return output, nodeRun, nil
}

func (e *Engine) invoke(ctx context.Context, descriptor registry.Descriptor, inputs map[string]any, runID, nodeID string) (*caller.Result, error) {
	if descriptor.Pricing.RequiresPayment {
		if e.payment == nil {
			return nil, xerrors.New(xerrors.CodePayment, "no payment coordinator configured; SIGNER_KEY is unset")
		}
		return e.payment.CallPaid(ctx, runID+":"+nodeID, descriptor.EndpointURL, inputs, runID)
	}

	result, err := e.caller.Call(ctx, descriptor.EndpointURL, inputs, runID)
	if err != nil {
		if _, ok := caller.AsPaymentChallenge(err); ok {
			return nil, xerrors.Wrap(xerrors.CodePayment, err, "agent demands payment but its pricing policy does not declare requiresPayment")
		}
		return nil, err
	}
	return result, nil
}

func (e *Engine) paymentRecord(runID, nodeID string) (payment.Record, bool) {
	pc, ok := e.payment.(*payment.Coordinator)
	if !ok || pc == nil {
		return payment.Record{}, false
	}
	return pc.RecordFor(runID + ":" + nodeID)
}

// skipRemaining marks every node after a failure point skipped: once a
// node fails terminally, no downstream node may execute.
func (e *Engine) skipRemaining(run scheduler.Run, remaining []string) {
	for _, nodeID := range remaining {
		nodeRunID := e.idgen()
		_ = e.sched.Store().CreateNodeRun(scheduler.NodeRun{
			ID:     nodeRunID,
			RunID:  run.ID,
			NodeID: nodeID,
			Status: scheduler.NodeRunSkipped,
		})
		e.publish(eventbus.Event{Type: "node.skipped", RunID: run.ID, NodeID: nodeID, NodeRunID: nodeRunID})
	}
}

// fail releases unspent budget and marks run failed with err's message.
func (e *Engine) fail(run scheduler.Run, err error) (scheduler.Run, error) {
	if _, releaseErr := e.sched.Ledger().Release(run.ID, run.SpentBudget); releaseErr != nil {
		e.logIfPresent(releaseErr)
	}

	updated, updateErr := e.sched.UpdateStatus(run.ID, scheduler.RunFailed, func(r *scheduler.Run) {
		r.Error = err.Error()
	})
	if updateErr != nil {
		return run, err
	}
	e.publish(eventbus.Event{Type: "run.failed", RunID: run.ID, Data: map[string]any{"error": err.Error()}})
	return updated, err
}

func (e *Engine) publish(evt eventbus.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(&evt)
}

func (e *Engine) logIfPresent(err error) {
	if e.logger != nil {
		e.logger.Warnw("secondary failure during run teardown", "error", err)
	}
}
