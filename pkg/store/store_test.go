package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pipo.db3"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertIDsStrictlyIncrease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	prev, err := s.Insert(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		id, err := s.Insert(ctx)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestInsertSlackID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertSlackID(ctx, "1503435956.000247")
	require.NoError(t, err)
	assert.Positive(t, id)

	var slackID string
	err = s.db.QueryRowContext(ctx,
		"SELECT slackid FROM messages WHERE id = ?", id).Scan(&slackID)
	require.NoError(t, err)
	assert.Equal(t, "1503435956.000247", slackID)
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipo.db3")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	first, err := s.Insert(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	second, err := s.Insert(ctx)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}
