package helpers

import (
	"testing"

	"github.com/zane-analytics/meta-ads-mcp/internal/store"
)

// NewTestSQLiteStore opens an in-memory store that is torn down with the test.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
