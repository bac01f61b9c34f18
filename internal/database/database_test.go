package database

import (
	"testing"

	"github.com/ksred/orderbook-mirror/internal/config"
	"github.com/ksred/orderbook-mirror/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_SQLiteMigrates(t *testing.T) {
	db, err := NewDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:database_test?mode=memory",
	})
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&types.Order{}))
	assert.True(t, db.Migrator().HasIndex(&types.Order{}, "idx_orders_terms"))
	assert.True(t, db.Migrator().HasIndex(&types.Order{}, "idx_orders_is_cancelled"))
}

func TestNewDatabase_UnknownDriver(t *testing.T) {
	_, err := NewDatabase(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
