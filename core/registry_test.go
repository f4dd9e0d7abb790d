package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapselabs/partnermatch/core"
	"github.com/synapselabs/partnermatch/persistence"
)

func newTestRegistry(t *testing.T) (*core.Registry, *persistence.MemoryPersistence) {
	t.Helper()
	persist := persistence.NewMemoryPersistence()
	registry, err := core.NewModelRegistry(context.Background(), persist)
	require.NoError(t, err)
	return registry, persist
}

func TestRegistryLifecycle(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.GetActive()
	assert.ErrorIs(t, err, core.ErrNoActiveModel)

	v1, err := registry.Register(ctx, "v1", 3)
	require.NoError(t, err)
	assert.Equal(t, core.ModelStaged, v1.Status)

	// Staged versions do not serve.
	_, err = registry.GetActive()
	assert.ErrorIs(t, err, core.ErrNoActiveModel)

	activated, err := registry.Activate(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, core.ModelActive, activated.Status)
	assert.False(t, activated.ActivatedAt.IsZero())

	active, err := registry.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "v1", active.VersionID)
}

func TestRegistryDuplicateVersion(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Register(ctx, "v1", 3)
	require.NoError(t, err)
	_, err = registry.Register(ctx, "v1", 3)
	assert.ErrorIs(t, err, core.ErrModelExists)
}

func TestRegistryActivateRetiresPrevious(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"v1", "v2"} {
		_, err := registry.Register(ctx, id, 3)
		require.NoError(t, err)
	}
	_, err := registry.Activate(ctx, "v1")
	require.NoError(t, err)
	_, err = registry.Activate(ctx, "v2")
	require.NoError(t, err)

	active, err := registry.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "v2", active.VersionID)

	versions, err := registry.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, core.ModelRetired, versions[0].Status)
	assert.Equal(t, core.ModelActive, versions[1].Status)

	// Retired versions never come back.
	_, err = registry.Activate(ctx, "v1")
	assert.ErrorIs(t, err, core.ErrModelRetired)

	// Re-activating the active version is a no-op error.
	_, err = registry.Activate(ctx, "v2")
	assert.ErrorIs(t, err, core.ErrModelAlreadyActive)
}

func TestRegistryActivateUnknownVersion(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Activate(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrModelNotFound)
}

func TestRegistryDimensionGuardKeepsPreviousActive(t *testing.T) {
	registry, persist := newTestRegistry(t)
	ctx := context.Background()

	store := core.NewFeatureStore(persist, nil, core.FeatureStoreOptions{})
	_, err := store.CreateFeatureView(ctx, "company_features", 3)
	require.NoError(t, err)

	_, err = registry.Register(ctx, "v1", 3)
	require.NoError(t, err)
	_, err = registry.Activate(ctx, "v1")
	require.NoError(t, err)

	_, err = registry.Register(ctx, "v2", 5)
	require.NoError(t, err)
	_, err = registry.Activate(ctx, "v2")
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	// The mismatched activation changed nothing.
	active, err := registry.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "v1", active.VersionID)
}

func TestRegistryRestoresFromPersistence(t *testing.T) {
	registry, persist := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Register(ctx, "v1", 3)
	require.NoError(t, err)
	_, err = registry.Activate(ctx, "v1")
	require.NoError(t, err)

	// A second registry over the same storage sees the active version.
	restored, err := core.NewModelRegistry(ctx, persist)
	require.NoError(t, err)
	active, err := restored.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "v1", active.VersionID)
	assert.Equal(t, core.ModelActive, active.Status)
}
