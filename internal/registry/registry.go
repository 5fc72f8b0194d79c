// Package registry holds the typed directory of callable agents: their
// schemas, pricing, and lifecycle. The CRUD shape (a map keyed by a stable
// reference, guarded by a single RWMutex, with a map-based filter pass over
// List) is grounded on a conventional internal/agent/adapter.go Registry,
// generalized from its name->Adapter/role->name maps to a full descriptor
// record, and on mbd888-alancoin's registry.Agent field naming
// (Address/Name/Endpoint/...).
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/useVega/vega-protocol/internal/xerrors"
)

// Category is a closed set of agent purposes.
type Category string

const (
	CategoryDataCollection Category = "data-collection"
	CategoryAnalysis       Category = "analysis"
	CategoryTransformation Category = "transformation"
	CategorySummarization  Category = "summarization"
	CategoryNotification   Category = "notification"
	CategoryStorage        Category = "storage"
	CategoryMLInference    Category = "ml-inference"
	CategoryValidation     Category = "validation"
	CategoryOther          Category = "other"
)

// Status is the agent's lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPublished  Status = "published"
	StatusDeprecated Status = "deprecated"
	StatusSuspended  Status = "suspended"
)

// PricingModel is one of the three billing shapes an agent can declare.
type PricingModel string

const (
	PricingPerCall       PricingModel = "per-call"
	PricingPerUnit       PricingModel = "per-unit"
	PricingSubscription  PricingModel = "subscription"
)

// Pricing describes what an agent charges and on which rail.
type Pricing struct {
	Model           PricingModel
	Amount          uint64 // atomic base-unit integer
	TokenSymbol     string
	Chain           string
	Unit            string // optional unit descriptor, e.g. "per 1k tokens"
	RequiresPayment bool
	PaymentNetwork  string // settlement network; may differ from Chain (testnets)
}

// Schema is the JSON-Schema subset the core understands for agent I/O shapes.
type Schema struct {
	Type       string
	Properties map[string]SchemaProperty
	Required   []string
}

// SchemaProperty describes one property of a Schema.
type SchemaProperty struct {
	Type string
	Enum []string
}

// Descriptor is the typed record of one agent.
type Descriptor struct {
	Ref              string
	Name             string
	Version          string
	Description      string
	Category         Category
	EndpointURL      string
	OwnerWallet      string
	InputSchema      Schema
	OutputSchema     Schema
	Status           Status
	SupportedChains  []string
	SupportedTokens  []string
	Pricing          Pricing
	Tags             []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (d Descriptor) clone() Descriptor {
	out := d
	out.SupportedChains = append([]string(nil), d.SupportedChains...)
	out.SupportedTokens = append([]string(nil), d.SupportedTokens...)
	out.Tags = append([]string(nil), d.Tags...)
	return out
}

// Patch carries the subset of mutable fields an Update call may change.
// The Ref field is never part of a patch: the reference is immutable.
type Patch struct {
	Name            *string
	Version         *string
	Description     *string
	Category        *Category
	EndpointURL     *string
	OwnerWallet     *string
	InputSchema     *Schema
	OutputSchema    *Schema
	SupportedChains []string
	SupportedTokens []string
	Pricing         *Pricing
	Tags            []string
}

// Filters narrows a List call; a nil/zero field means "don't filter on this".
type Filters struct {
	Category Category
	Status   Status
	Chain    string
	Token    string
	OwnerID  string
	AnyTags  []string
}

// Registry is the RWMutex-guarded, in-memory agent directory.
type Registry struct {
	mu    sync.RWMutex
	byRef map[string]Descriptor
	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byRef: make(map[string]Descriptor),
		now:   time.Now,
	}
}

// Create inserts descriptor in status draft, rejecting a duplicate reference.
func (r *Registry) Create(d Descriptor) (Descriptor, error) {
	if d.Ref == "" {
		return Descriptor{}, xerrors.New(xerrors.CodeValidation, "agent reference must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRef[d.Ref]; exists {
		return Descriptor{}, xerrors.New(xerrors.CodeValidation, "agent reference already exists: "+d.Ref)
	}

	now := r.now()
	d.Status = StatusDraft
	d.CreatedAt = now
	d.UpdatedAt = now
	r.byRef[d.Ref] = d.clone()
	return r.byRef[d.Ref].clone(), nil
}

// Get returns the descriptor for ref, or AgentNotFound.
func (r *Registry) Get(ref string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byRef[ref]
	if !ok {
		return Descriptor{}, xerrors.New(xerrors.CodeAgentNotFound, "agent not found: "+ref)
	}
	return d.clone(), nil
}

// List returns every descriptor matching filters, ordered by reference for
// determinism.
func (r *Registry) List(f Filters) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.byRef))
	for _, d := range r.byRef {
		if !matches(d, f) {
			continue
		}
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

func matches(d Descriptor, f Filters) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Chain != "" && !contains(d.SupportedChains, f.Chain) {
		return false
	}
	if f.Token != "" && !contains(d.SupportedTokens, f.Token) {
		return false
	}
	if f.OwnerID != "" && d.OwnerWallet != f.OwnerID {
		return false
	}
	if len(f.AnyTags) > 0 && !anyOf(d.Tags, f.AnyTags) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyOf(have, want []string) bool {
	for _, w := range want {
		if contains(have, w) {
			return true
		}
	}
	return false
}

// Update merges patch's non-nil fields into the descriptor at ref. The
// reference itself is never altered. If the merge would leave the
// descriptor published, publish-time invariants are re-checked.
func (r *Registry) Update(ref string, patch Patch) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byRef[ref]
	if !ok {
		return Descriptor{}, xerrors.New(xerrors.CodeAgentNotFound, "agent not found: "+ref)
	}

	applyPatch(&d, patch)
	d.UpdatedAt = r.now()

	if d.Status == StatusPublished {
		if err := checkPublishInvariants(d); err != nil {
			return Descriptor{}, err
		}
	}

	r.byRef[ref] = d.clone()
	return r.byRef[ref].clone(), nil
}

func applyPatch(d *Descriptor, p Patch) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Version != nil {
		d.Version = *p.Version
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Category != nil {
		d.Category = *p.Category
	}
	if p.EndpointURL != nil {
		d.EndpointURL = *p.EndpointURL
	}
	if p.OwnerWallet != nil {
		d.OwnerWallet = *p.OwnerWallet
	}
	if p.InputSchema != nil {
		d.InputSchema = *p.InputSchema
	}
	if p.OutputSchema != nil {
		d.OutputSchema = *p.OutputSchema
	}
	if p.SupportedChains != nil {
		d.SupportedChains = append([]string(nil), p.SupportedChains...)
	}
	if p.SupportedTokens != nil {
		d.SupportedTokens = append([]string(nil), p.SupportedTokens...)
	}
	if p.Pricing != nil {
		d.Pricing = *p.Pricing
	}
	if p.Tags != nil {
		d.Tags = append([]string(nil), p.Tags...)
	}
}

// Publish transitions draft or deprecated to published, enforcing that the
// endpoint URL and non-empty chain/token sets are present.
func (r *Registry) Publish(ref string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byRef[ref]
	if !ok {
		return Descriptor{}, xerrors.New(xerrors.CodeAgentNotFound, "agent not found: "+ref)
	}
	if d.Status != StatusDraft && d.Status != StatusDeprecated {
		return Descriptor{}, xerrors.New(xerrors.CodeState, "cannot publish agent in status "+string(d.Status))
	}
	if err := checkPublishInvariants(d); err != nil {
		return Descriptor{}, err
	}

	d.Status = StatusPublished
	d.UpdatedAt = r.now()
	r.byRef[ref] = d.clone()
	return r.byRef[ref].clone(), nil
}

func checkPublishInvariants(d Descriptor) error {
	if d.EndpointURL == "" {
		return xerrors.New(xerrors.CodeValidation, "published agent requires an endpoint URL")
	}
	if len(d.SupportedChains) == 0 {
		return xerrors.New(xerrors.CodeValidation, "published agent requires at least one supported chain")
	}
	if len(d.SupportedTokens) == 0 {
		return xerrors.New(xerrors.CodeValidation, "published agent requires at least one supported token")
	}
	return nil
}

// Deprecate transitions published to deprecated.
func (r *Registry) Deprecate(ref string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byRef[ref]
	if !ok {
		return Descriptor{}, xerrors.New(xerrors.CodeAgentNotFound, "agent not found: "+ref)
	}
	if d.Status != StatusPublished {
		return Descriptor{}, xerrors.New(xerrors.CodeState, "cannot deprecate agent in status "+string(d.Status))
	}
	d.Status = StatusDeprecated
	d.UpdatedAt = r.now()
	r.byRef[ref] = d.clone()
	return r.byRef[ref].clone(), nil
}

// Suspend transitions any status to suspended, e.g. for emergency takedown.
func (r *Registry) Suspend(ref string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byRef[ref]
	if !ok {
		return Descriptor{}, xerrors.New(xerrors.CodeAgentNotFound, "agent not found: "+ref)
	}
	d.Status = StatusSuspended
	d.UpdatedAt = r.now()
	r.byRef[ref] = d.clone()
	return r.byRef[ref].clone(), nil
}

// Delete removes the descriptor at ref, permitted only while draft.
func (r *Registry) Delete(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byRef[ref]
	if !ok {
		return xerrors.New(xerrors.CodeAgentNotFound, "agent not found: "+ref)
	}
	if d.Status != StatusDraft {
		return xerrors.New(xerrors.CodeState, "agent can only be deleted while draft")
	}
	delete(r.byRef, ref)
	return nil
}
