package permset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careaccess/go-core/internal/repository"
	"github.com/careaccess/go-core/pkg/types"
)

func setupSource(t *testing.T, sets ...*types.PermissionSet) SetSource {
	t.Helper()
	repo := repository.NewMemoryRepository()
	for _, s := range sets {
		require.NoError(t, repo.PutPermissionSet(context.Background(), s))
	}
	return repo
}

func TestExpand_ParentChain(t *testing.T) {
	source := setupSource(t,
		&types.PermissionSet{
			ID: "child",
			Permissions: []types.Permission{
				{ID: "p1", Resource: "schedule", Action: "read", Effect: types.EffectAllow},
			},
			ParentID: "parent",
		},
		&types.PermissionSet{
			ID: "parent",
			Permissions: []types.Permission{
				{ID: "p2", Resource: "schedule", Action: "write", Effect: types.EffectAllow},
			},
		},
	)

	perms, err := NewResolver(source).Expand(context.Background(), []string{"child"})
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "p1", perms[0].ID)
	assert.Equal(t, "p2", perms[1].ID)
}

func TestExpand_SelfReferentialCycleTerminates(t *testing.T) {
	// a -> b -> a: the cycle must terminate and contribute each permission once
	source := setupSource(t,
		&types.PermissionSet{
			ID: "a",
			Permissions: []types.Permission{
				{ID: "pa", Resource: "document", Action: "read", Effect: types.EffectAllow},
			},
			ParentID: "b",
		},
		&types.PermissionSet{
			ID: "b",
			Permissions: []types.Permission{
				{ID: "pb", Resource: "document", Action: "write", Effect: types.EffectAllow},
			},
			ParentID: "a",
		},
	)

	perms, err := NewResolver(source).Expand(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, perms, 2)

	ids := map[string]int{}
	for _, p := range perms {
		ids[p.ID]++
	}
	assert.Equal(t, 1, ids["pa"])
	assert.Equal(t, 1, ids["pb"])
}

func TestExpand_SelfParent(t *testing.T) {
	source := setupSource(t,
		&types.PermissionSet{
			ID: "loop",
			Permissions: []types.Permission{
				{ID: "p", Resource: "*", Action: "read", Effect: types.EffectAllow},
			},
			ParentID: "loop",
		},
	)

	perms, err := NewResolver(source).Expand(context.Background(), []string{"loop"})
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestExpand_DuplicatesAcrossSets(t *testing.T) {
	shared := types.Permission{ID: "shared", Resource: "schedule", Action: "read", Effect: types.EffectAllow}
	source := setupSource(t,
		&types.PermissionSet{ID: "s1", Permissions: []types.Permission{shared}},
		&types.PermissionSet{ID: "s2", Permissions: []types.Permission{shared}},
	)

	perms, err := NewResolver(source).Expand(context.Background(), []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestExpand_UnknownSetSkipped(t *testing.T) {
	source := setupSource(t,
		&types.PermissionSet{
			ID: "known",
			Permissions: []types.Permission{
				{ID: "p", Resource: "schedule", Action: "read", Effect: types.EffectAllow},
			},
		},
	)

	perms, err := NewResolver(source).Expand(context.Background(), []string{"missing", "known"})
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}
