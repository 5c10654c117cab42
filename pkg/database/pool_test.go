package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilramdhan/sheetcalc/config"
)

func TestPoolConfig(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:            "db",
		Port:            "5432",
		User:            "sheet",
		Password:        "secret",
		Name:            "sheets",
		PoolMax:         20,
		PoolMinConns:    5,
		PoolMaxConnLife: 10 * time.Minute,
	}

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(20), pc.MaxConns)
	assert.Equal(t, int32(5), pc.MinConns)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.Equal(t, "sheets", pc.ConnConfig.Database)
	assert.Equal(t, "sheetcalc", pc.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfigIgnoresMinAboveMax(t *testing.T) {
	pc, err := PoolConfig(&config.DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", Name: "n",
		PoolMax: 2, PoolMinConns: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pc.MaxConns)
	assert.Equal(t, int32(0), pc.MinConns)
}

func TestPoolConfigInvalidPort(t *testing.T) {
	_, err := PoolConfig(&config.DatabaseConfig{Host: "db", Port: "not-a-port", User: "u", Name: "n"})
	assert.Error(t, err)
}
