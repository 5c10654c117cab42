package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilramdhan/sheetcalc/config"
)

func TestOpenSQLite(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{
		Driver:     config.StorageSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "sheets.db"),
	}}

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	count, err := s.Sheets.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NotNil(t, s.Jobs)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Storage: config.StorageConfig{Driver: "mongo"}})
	assert.Error(t, err)
}
