// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/member_auth/internal/db"
)

// New returns a migrated in-memory database that is closed when t finishes.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	gdb, err := db.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err, "failed to connect to in-memory db")
	require.NoError(t, db.Migrate(gdb), "failed to migrate tables")

	t.Cleanup(func() {
		_ = db.Close(gdb)
	})
	return gdb
}
