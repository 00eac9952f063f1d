package settings

import (
	"testing"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsDefaultWhenUnset(t *testing.T) {
	r := NewRegistry()
	state := cluster.NewEmptyState()

	v, err := r.Get(state, "index.blocks.read_only")
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}

func TestGetUnrecognizedSettingIsError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(cluster.NewEmptyState(), "not.a.real.setting")
	require.Error(t, err)
}

func TestSetThenGetReflectsNewValue(t *testing.T) {
	r := NewRegistry()
	state := cluster.NewEmptyState()
	b := cluster.NewBuilder(state)

	require.NoError(t, r.Set(b.SettingsBuilder(), state, "index.blocks.read_only", "true"))
	next := b.Build()

	v, err := r.Get(next, "index.blocks.read_only")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestSetNonDynamicSettingTwiceFails(t *testing.T) {
	r := NewRegistry()
	state := cluster.NewEmptyState()
	b := cluster.NewBuilder(state)
	require.NoError(t, r.Set(b.SettingsBuilder(), state, "path.data", "/var/lib/warrensql"))
	withPath := b.Build()

	b2 := cluster.NewBuilder(withPath)
	err := r.Set(b2.SettingsBuilder(), withPath, "path.data", "/other")
	require.Error(t, err)
}

func TestGetBoolParsesValue(t *testing.T) {
	r := NewRegistry()
	state := cluster.NewEmptyState()
	b := cluster.NewBuilder(state)
	require.NoError(t, r.Set(b.SettingsBuilder(), state, "index.blocks.read_only", "true"))
	next := b.Build()

	ok, err := r.GetBool(next, "index.blocks.read_only")
	require.NoError(t, err)
	assert.True(t, ok)
}
