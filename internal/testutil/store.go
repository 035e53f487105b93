// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/paulgibert/chaingpt/internal/repository"
)

// NewTestSQLiteStore creates an in-memory SQLite store for testing.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	store, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
