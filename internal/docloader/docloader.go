// Package docloader is the cmd-only YAML-to-workflow.Spec loader that
// keeps the declarative document format outside the core. It is never
// imported by internal/workflow, internal/engine, or any other core
// package.
//
// Grounded on a conventional dsl_parser.go shape and NuyoahCh-OpenMCP-Chain's
// internal/web3/config.go, both of which load a YAML document straight
// into a struct with gopkg.in/yaml.v3 and then translate field-by-field
// into the core's own types.
package docloader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/useVega/vega-protocol/internal/workflow"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

type document struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Version     string            `yaml:"version"`
	OwnerUserID string            `yaml:"ownerUserId"`
	Chain       string            `yaml:"chain"`
	Token       string            `yaml:"token"`
	MaxBudget   uint64            `yaml:"maxBudget"`
	EntryNodeID string            `yaml:"entryNodeId"`
	Nodes       []nodeDoc         `yaml:"nodes"`
	Edges       []edgeDoc         `yaml:"edges"`
	Outputs     map[string]string `yaml:"outputs"`
}

type nodeDoc struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	AgentRef string         `yaml:"agentRef"`
	Name     string         `yaml:"name"`
	Inputs   map[string]any `yaml:"inputs"`
	Retry    *retryDoc      `yaml:"retry"`
}

type retryDoc struct {
	MaxAttempts int `yaml:"maxAttempts"`
	BackoffMs   int `yaml:"backoffMs"`
}

type edgeDoc struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition"`
}

// Load reads and parses the YAML workflow document at path.
func Load(path string) (workflow.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.Spec{}, xerrors.Wrap(xerrors.CodeValidation, err, "read workflow document")
	}
	return Parse(data)
}

// Parse decodes a YAML workflow document into a workflow.Spec, defaulting
// each node's type to "agent" when omitted (the common case, since agent
// nodes are the only executable kind).
func Parse(data []byte) (workflow.Spec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return workflow.Spec{}, xerrors.Wrap(xerrors.CodeValidation, err, "parse workflow document")
	}

	spec := workflow.Spec{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Version:     doc.Version,
		OwnerUserID: doc.OwnerUserID,
		Chain:       doc.Chain,
		Token:       doc.Token,
		MaxBudget:   doc.MaxBudget,
		EntryNodeID: doc.EntryNodeID,
		Outputs:     doc.Outputs,
	}

	spec.Nodes = make([]workflow.Node, len(doc.Nodes))
	for i, n := range doc.Nodes {
		nodeType := workflow.NodeType(n.Type)
		if nodeType == "" {
			nodeType = workflow.NodeAgent
		}
		node := workflow.Node{
			ID:       n.ID,
			Type:     nodeType,
			AgentRef: n.AgentRef,
			Name:     n.Name,
			Inputs:   n.Inputs,
		}
		if n.Retry != nil {
			maxAttempts := n.Retry.MaxAttempts
			if maxAttempts == 0 {
				// An omitted maxAttempts under a present retry: block means
				// "retry is configured but the count wasn't set" — default
				// to a single attempt rather than leaving the zero value,
				// which the validator would otherwise reject outright.
				maxAttempts = 1
			}
			node.Retry = &workflow.RetryPolicy{MaxAttempts: maxAttempts, BackoffMs: n.Retry.BackoffMs}
		}
		spec.Nodes[i] = node
	}

	spec.Edges = make([]workflow.Edge, len(doc.Edges))
	for i, e := range doc.Edges {
		if e.From == "" || e.To == "" {
			return workflow.Spec{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("edge %d is missing from/to", i))
		}
		spec.Edges[i] = workflow.Edge{From: e.From, To: e.To, Condition: e.Condition}
	}

	return spec, nil
}
