// Package storagetest provides a conformance suite that any
// store.Storage implementation must pass, modelled on the teacher's
// storage/storagetest package: one exported entry point, run by each
// driver's own _test.go with its own constructor.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/powerauth/activationserver/internal/store"
)

// RunConformance exercises the invariants every Storage implementation
// must uphold, independent of backing driver.
func RunConformance(t *testing.T, newStore func() store.Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGetActivation", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		a := store.Activation{
			ActivationID:   "act-1",
			ApplicationID:  "app-1",
			UserID:         "user-1",
			ActivationCode: "AAAAA-BBBBB-CCCCC-DDDDE",
			Status:         store.StatusCreated,
			ExpiresAt:      time.Now().Add(time.Hour),
			CreatedAt:      time.Now(),
		}
		require.NoError(t, s.CreateActivation(ctx, a))

		got, err := s.GetActivation(ctx, "act-1")
		require.NoError(t, err)
		require.Equal(t, a.ActivationID, got.ActivationID)
		require.Equal(t, store.StatusCreated, got.Status)

		_, err = s.GetActivation(ctx, "does-not-exist")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("CreateActivationDuplicateIDFails", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		a := store.Activation{ActivationID: "dup", ApplicationID: "app-1", Status: store.StatusCreated, ActivationCode: "code-1"}
		require.NoError(t, s.CreateActivation(ctx, a))
		require.ErrorIs(t, s.CreateActivation(ctx, a), store.ErrAlreadyExists)
	})

	t.Run("FindActivationByCode", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		a := store.Activation{ActivationID: "act-2", ApplicationID: "app-1", ActivationCode: "CODE-2", Status: store.StatusCreated}
		require.NoError(t, s.CreateActivation(ctx, a))

		got, err := s.FindActivationByCode(ctx, "app-1", "CODE-2")
		require.NoError(t, err)
		require.Equal(t, "act-2", got.ActivationID)

		_, err = s.FindActivationByCode(ctx, "app-1", "NOPE")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UpdateActivationAppliesUpdater", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		a := store.Activation{ActivationID: "act-3", ApplicationID: "app-1", ActivationCode: "CODE-3", Status: store.StatusCreated}
		require.NoError(t, s.CreateActivation(ctx, a))

		updated, err := s.UpdateActivation(ctx, "act-3", func(old store.Activation) (store.Activation, error) {
			old.Status = store.StatusOTPUsed
			old.DevicePublicKey = []byte("device-pub")
			return old, nil
		})
		require.NoError(t, err)
		require.Equal(t, store.StatusOTPUsed, updated.Status)

		got, err := s.GetActivation(ctx, "act-3")
		require.NoError(t, err)
		require.Equal(t, store.StatusOTPUsed, got.Status)
		require.Equal(t, []byte("device-pub"), got.DevicePublicKey)
	})

	t.Run("UpdateActivationNotFound", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		_, err := s.UpdateActivation(ctx, "missing", func(old store.Activation) (store.Activation, error) {
			return old, nil
		})
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("MasterKeyPairLatestByCreatedAt", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		older := store.MasterKeyPair{ID: "mk-1", ApplicationID: "app-1", CreatedAt: time.Now().Add(-time.Hour)}
		newer := store.MasterKeyPair{ID: "mk-2", ApplicationID: "app-1", CreatedAt: time.Now()}
		require.NoError(t, s.CreateMasterKeyPair(ctx, older))
		require.NoError(t, s.CreateMasterKeyPair(ctx, newer))

		got, err := s.GetCurrentMasterKeyPair(ctx, "app-1")
		require.NoError(t, err)
		require.Equal(t, "mk-2", got.ID)
	})

	t.Run("GarbageCollectExpiresStaleCreatedActivations", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		a := store.Activation{
			ActivationID: "act-expire",
			ApplicationID: "app-1",
			ActivationCode: "CODE-EXPIRE",
			Status:       store.StatusCreated,
			ExpiresAt:    time.Now().Add(-time.Minute),
		}
		require.NoError(t, s.CreateActivation(ctx, a))

		result, err := s.GarbageCollect(ctx, time.Now())
		require.NoError(t, err)
		require.Equal(t, int64(1), result.ExpiredActivations)

		got, err := s.GetActivation(ctx, "act-expire")
		require.NoError(t, err)
		require.Equal(t, store.StatusRemoved, got.Status)
	})

	t.Run("TokenCreateGetDelete", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		tok := store.Token{TokenID: "tok-1", TokenSecret: []byte("secret"), ActivationID: "act-1"}
		require.NoError(t, s.CreateToken(ctx, tok))

		got, err := s.GetToken(ctx, "tok-1")
		require.NoError(t, err)
		require.Equal(t, tok.ActivationID, got.ActivationID)

		require.NoError(t, s.DeleteToken(ctx, "tok-1"))
		_, err = s.GetToken(ctx, "tok-1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("RecoveryCodeAndPUKLifecycle", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		rc := store.RecoveryCode{ID: "rc-1", ApplicationID: "app-1", UserID: "user-1", RecoveryCode: "RRRRR-RRRRR-RRRRR-RRRRR", Status: store.RecoveryCreated}
		require.NoError(t, s.CreateRecoveryCode(ctx, rc))

		puk := store.RecoveryPUK{ID: "puk-1", RecoveryCodeID: "rc-1", PUKIndex: 1, Status: store.PUKValid}
		require.NoError(t, s.CreateRecoveryPUK(ctx, puk))

		puks, err := s.ListRecoveryPUKs(ctx, "rc-1")
		require.NoError(t, err)
		require.Len(t, puks, 1)
		require.Equal(t, store.PUKValid, puks[0].Status)

		updated, err := s.UpdateRecoveryPUK(ctx, "puk-1", func(old store.RecoveryPUK) (store.RecoveryPUK, error) {
			old.Status = store.PUKUsed
			return old, nil
		})
		require.NoError(t, err)
		require.Equal(t, store.PUKUsed, updated.Status)
	})
}
