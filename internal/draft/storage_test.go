package draft

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civreg/pkg/domain"
)

func TestMemoryStorageIsolatesSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()
	a, b := id.SessionID(uuid.New()), id.SessionID(uuid.New())

	changes, stop, err := m.Watch(ctx, b)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, m.Set(ctx, a, "1"))
	_, ok, _ := m.Get(ctx, b)
	assert.False(t, ok)
	assert.Empty(t, changes)

	require.NoError(t, m.Set(ctx, b, "2"))
	c := <-changes
	require.NotNil(t, c.NewValue)
	assert.Equal(t, "2", *c.NewValue)
	assert.Equal(t, StorageKey, c.Key)
}

func TestMemoryWatchEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemoryStorage()
	changes, stop, err := m.Watch(ctx, id.SessionID(uuid.New()))
	require.NoError(t, err)
	defer stop()

	cancel()
	_, open := <-changes
	assert.False(t, open)
}
