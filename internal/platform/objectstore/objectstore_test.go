package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/pkg/platform/sentinel"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := ContainerFor("ORG-1")
	assert.Equal(t, "entity-org-1", c)

	require.NoError(t, m.Put(ctx, c, "b.json", []byte(`{"b":1}`)))
	require.NoError(t, m.Put(ctx, c, "a.json", []byte(`{"a":1}`)))
	require.NoError(t, m.Put(ctx, ContainerFor("org-2"), "c.json", []byte(`{}`)))

	names, err := m.List(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)

	data, err := m.Get(ctx, c, "a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	require.NoError(t, m.Delete(ctx, c, "a.json"))
	_, err = m.Get(ctx, c, "a.json")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("original")
	require.NoError(t, m.Put(ctx, "c", "n", buf))
	buf[0] = 'X'

	data, err := m.Get(ctx, "c", "n")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}
