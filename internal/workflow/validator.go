package workflow

import (
	"fmt"
	"sort"

	"github.com/useVega/vega-protocol/internal/registry"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

// AgentLookup is the narrow slice of AgentRegistry the validator needs: get
// a descriptor by reference. Kept as an interface so tests can stub it
// without constructing a full registry.Registry.
type AgentLookup interface {
	Get(ref string) (registry.Descriptor, error)
}

// Result is the outcome of Validate: either ok, or a non-empty list of
// human-readable reasons.
type Result struct {
	Reasons []string
}

// OK reports whether the spec passed validation.
func (r Result) OK() bool { return len(r.Reasons) == 0 }

// Validator checks a Spec against structural, graph, reference, and
// budget invariants, in that order, stopping at the first failing group.
type Validator struct {
	agents AgentLookup
}

// NewValidator constructs a Validator backed by agents for reference checks.
func NewValidator(agents AgentLookup) *Validator {
	return &Validator{agents: agents}
}

// Validate runs every check group in order, returning the reasons from the
// first group that fails.
func (v *Validator) Validate(spec Spec) Result {
	if reasons := validateStructural(spec); len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	order, reasons := validateGraph(spec)
	if len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	if reasons := v.validateReferences(spec); len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	if reasons := validateBudget(spec); len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	_ = order // graph validity already established; TopologicalOrder recomputes for execution.
	return Result{}
}

// ValidateErr is Validate wrapped as a single *xerrors.Error for callers
// that want err-style propagation.
func (v *Validator) ValidateErr(spec Spec) error {
	res := v.Validate(spec)
	if res.OK() {
		return nil
	}
	return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("%v", res.Reasons))
}

func validateStructural(spec Spec) []string {
	var reasons []string
	if spec.Name == "" {
		reasons = append(reasons, "workflow name must not be empty")
	}
	if len(spec.Nodes) == 0 {
		reasons = append(reasons, "workflow must contain at least one node")
	}
	if spec.EntryNodeID == "" {
		reasons = append(reasons, "workflow must declare an entry node id")
	} else if _, ok := spec.NodeByID(spec.EntryNodeID); !ok {
		reasons = append(reasons, "entry node id does not refer to a known node: "+spec.EntryNodeID)
	}
	for _, n := range spec.Nodes {
		if n.Retry == nil {
			continue
		}
		if n.Retry.MaxAttempts < 1 {
			reasons = append(reasons, fmt.Sprintf("node %q: retry.maxAttempts must be >= 1, got %d", n.ID, n.Retry.MaxAttempts))
		}
		if n.Retry.BackoffMs < 0 {
			reasons = append(reasons, fmt.Sprintf("node %q: retry.backoffMs must be >= 0, got %d", n.ID, n.Retry.BackoffMs))
		}
	}
	return reasons
}

// validateGraph checks edge endpoints, acyclicity, and reachability, and
// returns a topological order as a byproduct for callers that want it.
func validateGraph(spec Spec) ([]string, []string) {
	nodeIDs := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if nodeIDs[n.ID] {
			return nil, []string{"duplicate node id: " + n.ID}
		}
		nodeIDs[n.ID] = true
	}

	var reasons []string
	successors := make(map[string][]string)
	for _, e := range spec.Edges {
		if !nodeIDs[e.From] {
			reasons = append(reasons, "edge references unknown source node: "+e.From)
		}
		if !nodeIDs[e.To] {
			reasons = append(reasons, "edge references unknown destination node: "+e.To)
		}
		if nodeIDs[e.From] && nodeIDs[e.To] {
			successors[e.From] = append(successors[e.From], e.To)
		}
	}
	if len(reasons) > 0 {
		return nil, reasons
	}

	if cyclePath := findCycle(spec, successors); cyclePath != "" {
		return nil, []string{"workflow graph contains a cycle: " + cyclePath}
	}

	if spec.EntryNodeID != "" {
		unreached := unreachableNodes(spec, successors)
		if len(unreached) > 0 {
			sort.Strings(unreached)
			for _, id := range unreached {
				reasons = append(reasons, "node unreachable from entry: "+id)
			}
			return nil, reasons
		}
	}

	order, ok := TopologicalOrder(spec)
	if !ok {
		return nil, []string{"workflow graph contains a cycle"}
	}
	return order, nil
}

// findCycle runs DFS with a recursion stack, returning a human-readable
// description of the first cycle found, or "" if the graph is acyclic.
func findCycle(spec Spec, successors map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(spec.Nodes))
	var cyclePath string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		for _, next := range successors[id] {
			switch state[next] {
			case visiting:
				cyclePath = id + " -> " + next
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	ids := make([]string, 0, len(spec.Nodes))
	for _, n := range spec.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if state[id] == unvisited {
			if visit(id) {
				return cyclePath
			}
		}
	}
	return ""
}

func unreachableNodes(spec Spec, successors map[string][]string) []string {
	reached := map[string]bool{spec.EntryNodeID: true}
	queue := []string{spec.EntryNodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range successors[cur] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	var unreached []string
	for _, n := range spec.Nodes {
		if !reached[n.ID] {
			unreached = append(unreached, n.ID)
		}
	}
	return unreached
}

func (v *Validator) validateReferences(spec Spec) []string {
	var reasons []string
	for _, n := range spec.Nodes {
		if n.Type != NodeAgent {
			reasons = append(reasons, fmt.Sprintf("node %q has unsupported type %q: only agent nodes are executed by the core", n.ID, n.Type))
			continue
		}
		if n.AgentRef == "" {
			reasons = append(reasons, "agent node missing agent reference: "+n.ID)
			continue
		}
		desc, err := v.agents.Get(n.AgentRef)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("node %q references unknown agent %q", n.ID, n.AgentRef))
			continue
		}
		if desc.Status != registry.StatusPublished {
			reasons = append(reasons, fmt.Sprintf("node %q references agent %q which is not published", n.ID, n.AgentRef))
			continue
		}
		if !containsStr(desc.SupportedChains, spec.Chain) {
			reasons = append(reasons, fmt.Sprintf("node %q: agent %q does not support chain %q", n.ID, n.AgentRef, spec.Chain))
		}
		if !containsStr(desc.SupportedTokens, spec.Token) {
			reasons = append(reasons, fmt.Sprintf("node %q: agent %q does not support token %q", n.ID, n.AgentRef, spec.Token))
		}
	}
	return reasons
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func validateBudget(spec Spec) []string {
	if spec.MaxBudget == 0 {
		return []string{"maxBudget must be a positive atomic integer"}
	}
	return nil
}

// TopologicalOrder computes Kahn's algorithm over spec's edge set, breaking
// ties by node-id lexicographic order for determinism. The second return
// value is false if the computed order's length differs from the node
// count, meaning the graph is not acyclic.
func TopologicalOrder(spec Spec) ([]string, bool) {
	indegree := make(map[string]int, len(spec.Nodes))
	successors := make(map[string][]string)
	for _, n := range spec.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range spec.Edges {
		successors[e.From] = append(successors[e.From], e.To)
		indegree[e.To]++
	}
	for id := range successors {
		sort.Strings(successors[id])
	}

	ready := make([]string, 0, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)

		for _, next := range successors[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	return order, len(order) == len(spec.Nodes)
}
