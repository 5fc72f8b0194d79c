package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/useVega/vega-protocol/internal/registry"
)

type stubAgents struct {
	descriptors map[string]registry.Descriptor
}

func (s stubAgents) Get(ref string) (registry.Descriptor, error) {
	d, ok := s.descriptors[ref]
	if !ok {
		return registry.Descriptor{}, assertNotFound(ref)
	}
	return d, nil
}

func assertNotFound(ref string) error {
	return &notFoundErr{ref: ref}
}

type notFoundErr struct{ ref string }

func (e *notFoundErr) Error() string { return "not found: " + e.ref }

func publishedAgent(ref string) registry.Descriptor {
	return registry.Descriptor{
		Ref:             ref,
		Status:          registry.StatusPublished,
		SupportedChains: []string{"base"},
		SupportedTokens: []string{"USDC"},
	}
}

func baseSpec(nodes []Node, edges []Edge) Spec {
	return Spec{
		Name:        "wf",
		Chain:       "base",
		Token:       "USDC",
		MaxBudget:   5,
		EntryNodeID: "a",
		Nodes:       nodes,
		Edges:       edges,
	}
}

func TestValidatorAcceptsSimpleLinearFlow(t *testing.T) {
	agents := stubAgents{descriptors: map[string]registry.Descriptor{
		"echo":  publishedAgent("echo"),
		"upper": publishedAgent("upper"),
	}}
	spec := baseSpec(
		[]Node{
			{ID: "a", Type: NodeAgent, AgentRef: "echo"},
			{ID: "b", Type: NodeAgent, AgentRef: "upper"},
		},
		[]Edge{{From: "a", To: "b"}},
	)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.True(t, res.OK(), "%v", res.Reasons)

	order, ok := TopologicalOrder(spec)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, order)
}

// TestValidatorRejectsCycle exercises scenario 3: a→b, b→c, c→a must fail
// with a validation result, never a panic or a successful topological sort.
func TestValidatorRejectsCycle(t *testing.T) {
	agents := stubAgents{descriptors: map[string]registry.Descriptor{
		"echo": publishedAgent("echo"),
	}}
	spec := baseSpec(
		[]Node{
			{ID: "a", Type: NodeAgent, AgentRef: "echo"},
			{ID: "b", Type: NodeAgent, AgentRef: "echo"},
			{ID: "c", Type: NodeAgent, AgentRef: "echo"},
		},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "a"}},
	)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.False(t, res.OK())

	_, ok := TopologicalOrder(spec)
	assert.False(t, ok)
}

func TestValidatorRejectsUnreachableNode(t *testing.T) {
	agents := stubAgents{descriptors: map[string]registry.Descriptor{
		"echo": publishedAgent("echo"),
	}}
	spec := baseSpec(
		[]Node{
			{ID: "a", Type: NodeAgent, AgentRef: "echo"},
			{ID: "b", Type: NodeAgent, AgentRef: "echo"},
		},
		nil,
	)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.False(t, res.OK())
}

func TestValidatorRejectsUnpublishedAgent(t *testing.T) {
	draft := publishedAgent("echo")
	draft.Status = registry.StatusDraft
	agents := stubAgents{descriptors: map[string]registry.Descriptor{"echo": draft}}
	spec := baseSpec([]Node{{ID: "a", Type: NodeAgent, AgentRef: "echo"}}, nil)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.False(t, res.OK())
}

func TestValidatorRejectsChainTokenMismatch(t *testing.T) {
	mismatched := publishedAgent("echo")
	mismatched.SupportedChains = []string{"polygon"}
	agents := stubAgents{descriptors: map[string]registry.Descriptor{"echo": mismatched}}
	spec := baseSpec([]Node{{ID: "a", Type: NodeAgent, AgentRef: "echo"}}, nil)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.False(t, res.OK())
}

func TestValidatorRejectsNonAgentNodeTypes(t *testing.T) {
	agents := stubAgents{descriptors: map[string]registry.Descriptor{}}
	spec := baseSpec([]Node{{ID: "a", Type: NodeCondition}}, nil)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.False(t, res.OK())
}

// TestValidatorRejectsZeroMaxAttempts exercises the "retry.maxAttempts must
// be >= 1" invariant: a node that declares a retry block with a zero (or
// negative) maxAttempts must fail validation rather than reach the engine
// (which would otherwise clamp it to a single attempt).
func TestValidatorRejectsZeroMaxAttempts(t *testing.T) {
	agents := stubAgents{descriptors: map[string]registry.Descriptor{
		"echo": publishedAgent("echo"),
	}}
	spec := baseSpec(
		[]Node{{ID: "a", Type: NodeAgent, AgentRef: "echo", Retry: &RetryPolicy{MaxAttempts: 0}}},
		nil,
	)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.False(t, res.OK())
}

func TestValidatorRejectsNegativeBackoff(t *testing.T) {
	agents := stubAgents{descriptors: map[string]registry.Descriptor{
		"echo": publishedAgent("echo"),
	}}
	spec := baseSpec(
		[]Node{{ID: "a", Type: NodeAgent, AgentRef: "echo", Retry: &RetryPolicy{MaxAttempts: 1, BackoffMs: -1}}},
		nil,
	)

	v := NewValidator(agents)
	res := v.Validate(spec)
	assert.False(t, res.OK())
}

func TestTopologicalOrderBreaksTiesLexicographically(t *testing.T) {
	spec := baseSpec(
		[]Node{
			{ID: "c", Type: NodeAgent},
			{ID: "a", Type: NodeAgent},
			{ID: "b", Type: NodeAgent},
		},
		nil,
	)
	order, ok := TopologicalOrder(spec)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
