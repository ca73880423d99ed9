package store

import (
	"testing"

	"github.com/RuiFG/streaming-merge/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendSaveAndGet(t *testing.T) {
	backend := NewMemoryBackend(2)
	require.NoError(t, backend.Save(1, "tt", []byte{123, 123, 123}))
	_, err := backend.Get("tt")
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))

	require.NoError(t, backend.Persist(1))
	get, err := backend.Get("tt")
	require.NoError(t, err)
	assert.Equal(t, []byte{123, 123, 123}, get)

	require.NoError(t, backend.Save(2, "tt", []byte{1}))
	require.NoError(t, backend.Persist(2))
	get, err = backend.Get("tt")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, get)

	_, err = backend.Get("missing")
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))
	assert.True(t, errors.Is(backend.Persist(9), ErrCheckpointNotFound))
	assert.NoError(t, backend.Close())
}

func TestMemoryBackendRetained(t *testing.T) {
	backend := NewMemoryBackend(1).(*memory)
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, backend.Save(id, "op", []byte{byte(id)}))
		require.NoError(t, backend.Persist(id))
	}
	assert.Equal(t, []int64{3}, backend.completed)
	assert.Len(t, backend.staged, 1)
}

func TestFSBackendSaveAndGet(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFSBackend(log.Nop(), dir, 2, 10)
	require.NoError(t, err)
	require.NoError(t, backend.Save(1, "tt", []byte{123, 123, 123}))
	_, err = backend.Get("tt")
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))
	require.NoError(t, backend.Persist(1))
	get, err := backend.Get("tt")
	require.NoError(t, err)
	assert.Equal(t, []byte{123, 123, 123}, get)
	require.NoError(t, backend.Close())

	reopened, err := NewFSBackend(log.Nop(), dir, 2, 10)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	get, err = reopened.Get("tt")
	require.NoError(t, err)
	assert.Equal(t, []byte{123, 123, 123}, get)
}

func TestFSBackendExpiresOldCheckpoints(t *testing.T) {
	backend, err := NewFSBackend(log.Nop(), t.TempDir(), 1, 2)
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, backend.Save(id, "op", []byte{byte(id)}))
		require.NoError(t, backend.Persist(id))
	}
	get, err := backend.Get("op")
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, get)
	assert.Equal(t, []int64{3}, backend.(*fs).completed)
}
