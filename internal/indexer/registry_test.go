package indexer

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	calls := 0
	create := func() (*Manager, error) {
		calls++
		return newEnv(t, newTopicEmbedder(128)).m, nil
	}

	a, err := r.GetOrCreate(dir, create)
	require.NoError(t, err)
	// Equivalent spellings of the same directory share a manager.
	b, err := r.GetOrCreate(filepath.Join(dir, "sub", ".."), create)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)

	got, ok := r.Get(dir + string(filepath.Separator))
	assert.True(t, ok)
	assert.Same(t, a, got)
	key, _ := Key(dir)
	assert.Equal(t, []string{key}, r.Keys())
}

func TestRegistry_CreateErrorIsNotStored(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	_, err := r.GetOrCreate(dir, func() (*Manager, error) { return nil, errors.New("bad config") })
	require.Error(t, err)
	_, ok := r.Get(dir)
	assert.False(t, ok)
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	one, two := t.TempDir(), t.TempDir()
	m1, err := r.GetOrCreate(one, func() (*Manager, error) { return newEnv(t, newTopicEmbedder(128)).m, nil })
	require.NoError(t, err)
	m2, err := r.GetOrCreate(two, func() (*Manager, error) { return newEnv(t, newTopicEmbedder(128)).m, nil })
	require.NoError(t, err)

	require.NoError(t, r.Close(one))
	_, ok := r.Get(one)
	assert.False(t, ok)
	_, err = m1.Status(t.Context())
	assert.ErrorIs(t, err, models.ErrClosed)
	require.NoError(t, r.Close(one), "closing an unknown dir is a no-op")

	require.NoError(t, r.CloseAll())
	assert.Empty(t, r.Keys())
	_, err = m2.Status(t.Context())
	assert.ErrorIs(t, err, models.ErrClosed)
}
