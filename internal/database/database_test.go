package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAndClose(t *testing.T) {
	t.Parallel()

	dsn := filepath.Join(t.TempDir(), "service.db")
	db, err := Open(dsn, DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())

	require.NoError(t, Close(db))
}

func TestOpenBadPath(t *testing.T) {
	t.Parallel()

	_, err := Open("/nonexistent-dir/sub/db.sqlite", DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}
