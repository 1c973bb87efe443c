package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"SELECT a FROM t WHERE b = $1 AND c >= $2",
		rebind("SELECT a FROM t WHERE b = ? AND c >= ?"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, Discard{}, s)

	s, err = Open(ctx, "csv:"+filepath.Join(dir, "logs"))
	require.NoError(t, err)
	assert.IsType(t, &CSV{}, s)
	assert.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite:"+filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	assert.NoError(t, s.Close())

	s, err = Open(ctx, filepath.Join(dir, "b.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	assert.NoError(t, s.Close())

	s, err = Open(ctx, "bolt:"+filepath.Join(dir, "c.bolt"))
	require.NoError(t, err)
	assert.IsType(t, &Bolt{}, s)
	assert.NoError(t, s.Close())

	_, err = Open(ctx, "mongodb://nope")
	assert.Error(t, err)
}
