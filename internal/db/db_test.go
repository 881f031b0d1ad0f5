package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/build-warden/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(&config.DBConfig{Host: "db", Port: 5433, Username: "u", Password: "p", Database: "bw"})
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=bw sslmode=disable", dsn)

	dsn = DSN(&config.DBConfig{Host: "db", Port: 5432, Username: "u", Database: "bw", SSLMode: "require"})
	assert.True(t, strings.HasSuffix(dsn, "sslmode=require"))
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)

	schema, err := fs.ReadFile(migrationsFS, "migrations/000001_create_build_jobs.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(schema), "build_jobs_delivery_id_key")
}
