package docloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/useVega/vega-protocol/internal/workflow"
)

const sampleYAML = `
id: wf-1
name: summarize-and-notify
chain: base
token: USDC
maxBudget: 1000
entryNodeId: fetch
nodes:
  - id: fetch
    agentRef: fetcher-v1
    inputs:
      url: "{{input.url}}"
    retry:
      maxAttempts: 3
      backoffMs: 500
  - id: summarize
    agentRef: summarizer-v1
    inputs:
      text: "{{fetch}}"
edges:
  - from: fetch
    to: summarize
outputs:
  summary: "{{summarize}}"
`

func TestParseBuildsSpecFromYAML(t *testing.T) {
	spec, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "wf-1", spec.ID)
	assert.Equal(t, uint64(1000), spec.MaxBudget)
	require.Len(t, spec.Nodes, 2)
	assert.Equal(t, workflow.NodeAgent, spec.Nodes[0].Type)
	assert.Equal(t, "fetcher-v1", spec.Nodes[0].AgentRef)
	require.NotNil(t, spec.Nodes[0].Retry)
	assert.Equal(t, 3, spec.Nodes[0].Retry.MaxAttempts)
	require.Len(t, spec.Edges, 1)
	assert.Equal(t, "fetch", spec.Edges[0].From)
	assert.Equal(t, "{{summarize}}", spec.Outputs["summary"])
}

func TestParseRejectsEdgeMissingEndpoints(t *testing.T) {
	_, err := Parse([]byte(`
id: wf-bad
nodes:
  - id: a
    agentRef: x
edges:
  - from: a
`))
	require.Error(t, err)
}

func TestParseDefaultsNodeTypeToAgent(t *testing.T) {
	spec, err := Parse([]byte(`
id: wf-2
nodes:
  - id: a
    agentRef: x
`))
	require.NoError(t, err)
	require.Len(t, spec.Nodes, 1)
	assert.Equal(t, workflow.NodeAgent, spec.Nodes[0].Type)
}
