package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/internal/model"
)

func TestDialectorForUnknownDriver(t *testing.T) {
	_, err := dialectorFor(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestDialectorNames(t *testing.T) {
	cases := map[string]string{
		"mysql":    "mysql",
		"":         "mysql",
		"postgres": "postgres",
		"sqlite":   "sqlite",
	}
	for driver, want := range cases {
		d, err := dialectorFor(config.DatabaseConfig{Driver: driver, Host: "localhost", Port: 1})
		require.NoError(t, err)
		assert.Equal(t, want, d.Name(), driver)
	}
}

func TestOpenSqliteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "papyrus.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Database: path}, "release")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, m := range model.AllModels() {
		assert.True(t, db.Migrator().HasTable(m))
	}
}
