// Package database creates isolated database clients for tests.
package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/test/util"
)

// NewTestClient creates a test database client on a private schema.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// Migrations run against the fresh schema; everything is cleaned up when
// the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := util.SetupTestSchema(t)

	client, err := database.NewClient(ctx, database.Config{
		URL:      connStr,
		MaxConns: 10,
		MinConns: 2,
	})
	require.NoError(t, err)

	t.Cleanup(client.Close)

	return client
}
