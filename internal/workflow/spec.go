// Package workflow defines the declarative DAG shape the core validates and
// executes, and the validator that rejects malformed specs before a run is
// ever created.
//
// The type shapes (Spec/Node/Edge, a RetryPolicy with MaxAttempts/BackoffMs)
// generalize a conventional internal/engine/dsl_parser.go WorkflowDSL/NodeDef/
// EdgeDef/RetryDef, trading its pongo2-templated review/approval node config
// for a narrower agent-only node, and its "infer a linear chain when no
// edges are given" convenience for an explicit entry node id plus an edge
// set that must always be given in full.
package workflow

// NodeType is the declared kind of a node. Only Agent is executable by the
// core; the others are accepted by the schema but rejected by the validator.
type NodeType string

const (
	NodeAgent    NodeType = "agent"
	NodeCondition NodeType = "condition"
	NodeParallel NodeType = "parallel"
	NodeLoop     NodeType = "loop"
)

// RetryPolicy bounds how many times a failed node invocation is retried and
// how long to wait between attempts.
type RetryPolicy struct {
	MaxAttempts int // >= 1
	BackoffMs   int // >= 0
}

// Node is one vertex of a workflow DAG.
type Node struct {
	ID          string
	Type        NodeType
	AgentRef    string // populated for agent nodes
	Name        string
	Inputs      map[string]any // property name -> literal or "{{template}}" string
	Retry       *RetryPolicy
}

// Edge is one directed connection between two nodes. Condition is accepted
// by the schema but never evaluated by the core (see DESIGN.md).
type Edge struct {
	From      string
	To        string
	Condition string
}

// Spec is a fully declared workflow: nodes, edges, and the metadata needed
// to validate and budget a run.
type Spec struct {
	ID          string
	Name        string
	Description string
	Version     string
	OwnerUserID string
	Chain       string
	Token       string
	MaxBudget   uint64
	Nodes       []Node
	Edges       []Edge
	EntryNodeID string
	// Outputs, when non-empty, maps an output key to a template string
	// resolved against the run's dataflow context at completion, taking
	// precedence over the "last node in topological order" default.
	Outputs map[string]string
}

// NodeByID returns the spec's node with the given id, or false if absent.
func (s Spec) NodeByID(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
