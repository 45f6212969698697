package memstore

import (
	"testing"

	"github.com/powerauth/activationserver/internal/store"
	"github.com/powerauth/activationserver/internal/store/storagetest"
)

func TestMemstoreConformance(t *testing.T) {
	storagetest.RunConformance(t, func() store.Storage { return New() })
}
