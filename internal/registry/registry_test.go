package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/useVega/vega-protocol/internal/xerrors"
)

func draftDescriptor(ref string) Descriptor {
	return Descriptor{
		Ref:      ref,
		Name:     "Echo Agent",
		Category: CategoryOther,
	}
}

func TestCreateRejectsDuplicateReference(t *testing.T) {
	r := New()
	_, err := r.Create(draftDescriptor("echo"))
	require.NoError(t, err)

	_, err = r.Create(draftDescriptor("echo"))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeValidation, xerrors.CodeOf(err))
}

func TestGetMissingReturnsAgentNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeAgentNotFound, xerrors.CodeOf(err))
}

func TestPublishRequiresEndpointAndChainsAndTokens(t *testing.T) {
	r := New()
	_, err := r.Create(draftDescriptor("echo"))
	require.NoError(t, err)

	_, err = r.Publish("echo")
	require.Error(t, err)

	_, err = r.Update("echo", Patch{
		EndpointURL:     ptr("https://agent.example/echo"),
		SupportedChains: []string{"base"},
		SupportedTokens: []string{"USDC"},
	})
	require.NoError(t, err)

	d, err := r.Publish("echo")
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, d.Status)
}

func TestDeleteOnlyPermittedInDraft(t *testing.T) {
	r := New()
	_, err := r.Create(draftDescriptor("echo"))
	require.NoError(t, err)
	_, err = r.Update("echo", Patch{
		EndpointURL:     ptr("https://agent.example/echo"),
		SupportedChains: []string{"base"},
		SupportedTokens: []string{"USDC"},
	})
	require.NoError(t, err)
	_, err = r.Publish("echo")
	require.NoError(t, err)

	err = r.Delete("echo")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeState, xerrors.CodeOf(err))
}

// TestUpdatePreservesReference is the registry-immutability invariant:
// update(ref, patch).ref == ref for every reference and patch.
func TestUpdatePreservesReference(t *testing.T) {
	r := New()
	_, err := r.Create(draftDescriptor("echo"))
	require.NoError(t, err)

	updated, err := r.Update("echo", Patch{Name: ptr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "echo", updated.Ref)
	assert.Equal(t, "Renamed", updated.Name)
}

func TestListFiltersByCategoryAndChain(t *testing.T) {
	r := New()
	_, err := r.Create(Descriptor{Ref: "a", Category: CategoryAnalysis})
	require.NoError(t, err)
	_, err = r.Create(Descriptor{Ref: "b", Category: CategoryStorage})
	require.NoError(t, err)
	_, err = r.Update("a", Patch{SupportedChains: []string{"base"}, SupportedTokens: []string{"USDC"}})
	require.NoError(t, err)

	got := r.List(Filters{Category: CategoryAnalysis})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Ref)

	got = r.List(Filters{Chain: "base"})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Ref)
}

func ptr[T any](v T) *T { return &v }
