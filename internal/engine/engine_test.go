package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/useVega/vega-protocol/internal/caller"
	"github.com/useVega/vega-protocol/internal/eventbus"
	"github.com/useVega/vega-protocol/internal/ledger"
	"github.com/useVega/vega-protocol/internal/money"
	"github.com/useVega/vega-protocol/internal/registry"
	"github.com/useVega/vega-protocol/internal/scheduler"
	"github.com/useVega/vega-protocol/internal/workflow"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

type stubAgents struct {
	byRef map[string]registry.Descriptor
}

func (s stubAgents) Get(ref string) (registry.Descriptor, error) {
	d, ok := s.byRef[ref]
	if !ok {
		return registry.Descriptor{}, xerrors.New(xerrors.CodeAgentNotFound, "agent not found: "+ref)
	}
	return d, nil
}

type stubCaller struct {
	calls []string
	fn    func(endpointBase string, inputs map[string]any) (*caller.Result, error)
}

func (s *stubCaller) Call(ctx context.Context, endpointBase string, inputs map[string]any, contextID string) (*caller.Result, error) {
	s.calls = append(s.calls, endpointBase)
	return s.fn(endpointBase, inputs)
}

type stubPayment struct {
	fn func(endpointBase string, inputs map[string]any) (*caller.Result, error)
}

func (s *stubPayment) CallPaid(ctx context.Context, idempotencyKey, endpointBase string, inputs map[string]any, contextID string) (*caller.Result, error) {
	return s.fn(endpointBase, inputs)
}

func textResult(text string) *caller.Result {
	return &caller.Result{Kind: caller.KindMessage, Parts: []caller.Part{{Kind: "text", Text: text}}}
}

func idgen() func() string {
	n := 0
	return func() string { n++; return "id-" + string(rune('a'+n)) }
}

func setup(t *testing.T, spec workflow.Spec, wallet string, balance money.Atomic) (*scheduler.Scheduler, scheduler.Run) {
	t.Helper()
	l := ledger.New(idgen())
	require.NoError(t, l.Credit(wallet, spec.Token, balance))
	sched := scheduler.New(scheduler.NewStore(), l)
	run, err := sched.Schedule(spec, wallet, map[string]any{})
	require.NoError(t, err)
	return sched, run
}

// TestExecuteSingleNodeEcho exercises scenario 1: one agent node, no
// payment, whose text output becomes the run output.
func TestExecuteSingleNodeEcho(t *testing.T) {
	spec := workflow.Spec{
		ID: "wf-echo", Chain: "base", Token: "USDC", MaxBudget: 10,
		Nodes: []workflow.Node{
			{ID: "n1", Type: workflow.NodeAgent, AgentRef: "echo", Inputs: map[string]any{"msg": "{{input.text}}"}},
		},
		Edges:       nil,
		EntryNodeID: "n1",
	}
	sched, run := setup(t, spec, "wallet1", 10)

	agents := stubAgents{byRef: map[string]registry.Descriptor{
		"echo": {Ref: "echo", EndpointURL: "http://echo.local", Status: registry.StatusPublished},
	}}
	c := &stubCaller{fn: func(endpointBase string, inputs map[string]any) (*caller.Result, error) {
		assert.Equal(t, "hi", inputs["msg"])
		return textResult("hello"), nil
	}}

	e := New(agents, c, nil, sched, eventbus.New(nil), nil, idgen())
	result, err := e.Execute(context.Background(), spec, run, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.RunCompleted, result.Status)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, "n1", result.OutputNodeID)
	assert.NotNil(t, result.StartedAt)
	assert.NotNil(t, result.EndedAt)
}

// TestExecuteTwoNodeHandoff exercises scenario 2: n1's output is spliced
// into n2's templated input via the dataflow context.
func TestExecuteTwoNodeHandoff(t *testing.T) {
	spec := workflow.Spec{
		ID: "wf-chain", Chain: "base", Token: "USDC", MaxBudget: 10,
		Nodes: []workflow.Node{
			{ID: "n1", Type: workflow.NodeAgent, AgentRef: "upper", Inputs: map[string]any{"msg": "{{input.text}}"}},
			{ID: "n2", Type: workflow.NodeAgent, AgentRef: "shout", Inputs: map[string]any{"msg": "{{n1}}-!"}},
		},
		Edges:       []workflow.Edge{{From: "n1", To: "n2"}},
		EntryNodeID: "n1",
	}
	sched, run := setup(t, spec, "wallet1", 10)

	agents := stubAgents{byRef: map[string]registry.Descriptor{
		"upper": {Ref: "upper", EndpointURL: "http://upper.local", Status: registry.StatusPublished},
		"shout": {Ref: "shout", EndpointURL: "http://shout.local", Status: registry.StatusPublished},
	}}
	c := &stubCaller{fn: func(endpointBase string, inputs map[string]any) (*caller.Result, error) {
		switch endpointBase {
		case "http://upper.local":
			return textResult("HI"), nil
		case "http://shout.local":
			assert.Equal(t, "HI-!", inputs["msg"])
			return textResult("HI-!!!"), nil
		}
		t.Fatalf("unexpected endpoint %s", endpointBase)
		return nil, nil
	}}

	e := New(agents, c, nil, sched, eventbus.New(nil), nil, idgen())
	result, err := e.Execute(context.Background(), spec, run, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.RunCompleted, result.Status)
	assert.Equal(t, "HI-!!!", result.Output)
	assert.Equal(t, "n2", result.OutputNodeID)
}

// TestExecutePaywalledAgentUsesPaymentCoordinator exercises scenario 6's
// engine-level wiring: a node whose descriptor requires payment dispatches
// through the PaymentCaller, never the bare Caller.
func TestExecutePaywalledAgentUsesPaymentCoordinator(t *testing.T) {
	spec := workflow.Spec{
		ID: "wf-paid", Chain: "base", Token: "USDC", MaxBudget: 10,
		Nodes: []workflow.Node{
			{ID: "n1", Type: workflow.NodeAgent, AgentRef: "paid-agent", Inputs: map[string]any{}},
		},
		EntryNodeID: "n1",
	}
	sched, run := setup(t, spec, "wallet1", 10)

	agents := stubAgents{byRef: map[string]registry.Descriptor{
		"paid-agent": {
			Ref: "paid-agent", EndpointURL: "http://paid.local", Status: registry.StatusPublished,
			Pricing: registry.Pricing{RequiresPayment: true, Amount: 5},
		},
	}}
	c := &stubCaller{fn: func(string, map[string]any) (*caller.Result, error) {
		t.Fatal("unpaid Call must not be used for a paywalled agent")
		return nil, nil
	}}
	p := &stubPayment{fn: func(endpointBase string, inputs map[string]any) (*caller.Result, error) {
		assert.Equal(t, "http://paid.local", endpointBase)
		return textResult("paid-result"), nil
	}}

	e := New(agents, c, p, sched, eventbus.New(nil), nil, idgen())
	result, err := e.Execute(context.Background(), spec, run, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, scheduler.RunCompleted, result.Status)
	assert.Equal(t, "paid-result", result.Output)
	assert.Equal(t, money.Atomic(5), result.SpentBudget)
}

// TestExecuteRetriesThenExhaustsMarksDownstreamSkipped exercises the retry
// backoff loop and the "no downstream nodes execute after a failure" rule.
func TestExecuteRetriesThenExhaustsMarksDownstreamSkipped(t *testing.T) {
	spec := workflow.Spec{
		ID: "wf-retry", Chain: "base", Token: "USDC", MaxBudget: 10,
		Nodes: []workflow.Node{
			{ID: "n1", Type: workflow.NodeAgent, AgentRef: "flaky", Inputs: map[string]any{}, Retry: &workflow.RetryPolicy{MaxAttempts: 2, BackoffMs: 0}},
			{ID: "n2", Type: workflow.NodeAgent, AgentRef: "never-reached", Inputs: map[string]any{}},
		},
		Edges:       []workflow.Edge{{From: "n1", To: "n2"}},
		EntryNodeID: "n1",
	}
	sched, run := setup(t, spec, "wallet1", 10)

	attempts := 0
	agents := stubAgents{byRef: map[string]registry.Descriptor{
		"flaky":         {Ref: "flaky", EndpointURL: "http://flaky.local", Status: registry.StatusPublished},
		"never-reached": {Ref: "never-reached", EndpointURL: "http://never.local", Status: registry.StatusPublished},
	}}
	c := &stubCaller{fn: func(endpointBase string, inputs map[string]any) (*caller.Result, error) {
		if endpointBase == "http://never.local" {
			t.Fatal("downstream node must not execute after upstream exhausts retries")
		}
		attempts++
		return nil, xerrors.New(xerrors.CodeExecution, "transient failure", xerrors.WithRetryable(true))
	}}

	e := New(agents, c, nil, sched, eventbus.New(nil), nil, idgen())
	e.sleep = func(context.Context, time.Duration) {} // skip real backoff delay in tests

	result, err := e.Execute(context.Background(), spec, run, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, scheduler.RunFailed, result.Status)
	assert.Equal(t, 2, attempts)

	nodeRuns, lookupErr := sched.Store().NodeRunsForRun(run.ID)
	require.NoError(t, lookupErr)
	require.Len(t, nodeRuns, 2)
	assert.Equal(t, scheduler.NodeRunFailed, nodeRuns[0].Status)
	assert.Equal(t, scheduler.NodeRunSkipped, nodeRuns[1].Status)

	// The failed reservation must be released in full, refunding the wallet.
	assert.Equal(t, money.Atomic(10), sched.Ledger().Balance("wallet1", "USDC"))
}

// TestExecuteStopsAtNodeBoundaryWhenCancelled exercises mid-run
// cancellation: a concurrent Cancel during node 1 must stop node 2 from
// ever starting.
func TestExecuteStopsAtNodeBoundaryWhenCancelled(t *testing.T) {
	spec := workflow.Spec{
		ID: "wf-cancel", Chain: "base", Token: "USDC", MaxBudget: 10,
		Nodes: []workflow.Node{
			{ID: "n1", Type: workflow.NodeAgent, AgentRef: "a1", Inputs: map[string]any{}},
			{ID: "n2", Type: workflow.NodeAgent, AgentRef: "a2", Inputs: map[string]any{}},
		},
		Edges:       []workflow.Edge{{From: "n1", To: "n2"}},
		EntryNodeID: "n1",
	}
	sched, run := setup(t, spec, "wallet1", 10)

	agents := stubAgents{byRef: map[string]registry.Descriptor{
		"a1": {Ref: "a1", EndpointURL: "http://a1.local", Status: registry.StatusPublished},
		"a2": {Ref: "a2", EndpointURL: "http://a2.local", Status: registry.StatusPublished},
	}}
	c := &stubCaller{fn: func(endpointBase string, inputs map[string]any) (*caller.Result, error) {
		if endpointBase == "http://a2.local" {
			t.Fatal("node n2 must not start once the run is cancelled")
		}
		_, err := sched.Cancel(run.ID)
		require.NoError(t, err)
		return textResult("done"), nil
	}}

	e := New(agents, c, nil, sched, eventbus.New(nil), nil, idgen())
	result, err := e.Execute(context.Background(), spec, run, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, scheduler.RunCancelled, result.Status)
}
