//go:build postgres

// This file mirrors the teacher's storage/sql/postgres_test.go: it
// only runs against a live database, selected via DEX_POSTGRES_DATABASE
// style env vars here renamed to the project's own prefix, and is
// excluded from the default test run by the postgres build tag.
package sqlstore

import (
	"context"
	"os"
	"testing"

	"github.com/powerauth/activationserver/internal/store"
	"github.com/powerauth/activationserver/internal/store/storagetest"
)

func TestSQLStoreConformance(t *testing.T) {
	dsn := os.Getenv("ACTIVATIONSERVER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ACTIVATIONSERVER_TEST_POSTGRES_DSN not set")
	}

	storagetest.RunConformance(t, func() store.Storage {
		s, err := Open(context.Background(), dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}
