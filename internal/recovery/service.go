// Package recovery implements PUK verification, throttling, and
// revocation/rotation for the recovery subsystem (C6), grounded on the
// teacher's server/password.go + bcrypt use for the equivalent
// constant-time password-verification step (here cryptoprim.VerifyPUK
// wraps the same bcrypt primitive). Recovery-code/PUK *issuance* lives
// in internal/activation (it rides along with prepare/commit); this
// package owns *consuming* a code: verifying a PUK, throttling wrong
// guesses, and driving create_via_recovery, which depends on
// internal/activation's exported lifecycle operations to mint the
// replacement activation. The dependency is one-directional:
// activation never imports recovery.
package recovery

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/activation"
	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/store"
)

// Service implements the recovery subsystem's consumption side.
type Service struct {
	Store      store.Storage
	Codec      *keyvault.Codec
	Activation *activation.Service
}

// New builds a Service.
func New(s store.Storage, codec *keyvault.Codec, activationSvc *activation.Service) *Service {
	return &Service{Store: s, Codec: codec, Activation: activationSvc}
}

// verifiedPUK is the outcome of a successful verify step: the code and
// the PUK record that matched, needed by both the success and
// rotation paths.
type verifiedPUK struct {
	code store.RecoveryCode
	puk  store.RecoveryPUK
}

// verify implements §4.5's PUK verification and throttling against a
// recovery code already loaded by (application_id, recovery_code).
// On a wrong guess it returns INVALID_RECOVERY_CODE with
// current_puk_index set on the error, having already persisted the
// failed-attempt/blocked-code/invalidated-PUK side effects.
func (s *Service) verify(ctx context.Context, applicationID, recoveryCode, candidatePUK string) (verifiedPUK, error) {
	code, err := s.Store.GetRecoveryCode(ctx, applicationID, recoveryCode)
	if err != nil {
		return verifiedPUK{}, apierror.New(apierror.InvalidRecoveryCode, "recovery code not found")
	}
	if code.Status != store.RecoveryActive {
		err := apierror.New(apierror.InvalidRecoveryCode, "recovery code is not ACTIVE")
		if puks, listErr := s.Store.ListRecoveryPUKs(ctx, code.ID); listErr == nil {
			if used, ok := lastConsumedPUK(puks); ok {
				err = err.WithExtra("current_puk_index", used.PUKIndex)
			}
		}
		return verifiedPUK{}, err
	}

	puks, err := s.Store.ListRecoveryPUKs(ctx, code.ID)
	if err != nil {
		return verifiedPUK{}, apierror.New(apierror.InvalidRecoveryCode, "no PUKs for recovery code")
	}
	target, ok := lowestValidPUK(puks)
	if !ok {
		return verifiedPUK{}, apierror.New(apierror.InvalidRecoveryCode, "no VALID puk for recovery code")
	}

	hash, err := s.Codec.Decrypt(keyvault.PUKContext(applicationID, code.UserID, code.RecoveryCode, target.PUKIndex), keyvault.Record{
		Mode:       keyvault.EncryptionMode(target.PUKHashRec.Mode),
		Ciphertext: target.PUKHashRec.Ciphertext,
	})
	if err != nil {
		return verifiedPUK{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}

	if cryptoprim.VerifyPUK(hash, candidatePUK) {
		updatedCode, updatedPUK, err := s.onMatch(ctx, code, target)
		if err != nil {
			return verifiedPUK{}, err
		}
		return verifiedPUK{code: updatedCode, puk: updatedPUK}, nil
	}

	return verifiedPUK{}, s.onMismatch(ctx, code, target)
}

func lowestValidPUK(puks []store.RecoveryPUK) (store.RecoveryPUK, bool) {
	best, found := store.RecoveryPUK{}, false
	for _, p := range puks {
		if p.Status != store.PUKValid {
			continue
		}
		if !found || p.PUKIndex < best.PUKIndex {
			best, found = p, true
		}
	}
	return best, found
}

// lastConsumedPUK returns the highest-index non-VALID PUK, the one a
// reused already-consumed recovery code's current_puk_index must point
// at (scenario 4: the one-PUK code's single PUK goes USED on first
// redemption, so the code itself is no longer ACTIVE on reuse).
func lastConsumedPUK(puks []store.RecoveryPUK) (store.RecoveryPUK, bool) {
	best, found := store.RecoveryPUK{}, false
	for _, p := range puks {
		if p.Status == store.PUKValid {
			continue
		}
		if !found || p.PUKIndex > best.PUKIndex {
			best, found = p, true
		}
	}
	return best, found
}

func (s *Service) onMatch(ctx context.Context, code store.RecoveryCode, puk store.RecoveryPUK) (store.RecoveryCode, store.RecoveryPUK, error) {
	updatedPUK, err := s.Store.UpdateRecoveryPUK(ctx, puk.ID, func(p store.RecoveryPUK) (store.RecoveryPUK, error) {
		p.Status = store.PUKUsed
		p.LastChangedAt = time.Now()
		return p, nil
	})
	if err != nil {
		return store.RecoveryCode{}, store.RecoveryPUK{}, err
	}
	updatedCode, err := s.Store.UpdateRecoveryCode(ctx, code.ID, func(c store.RecoveryCode) (store.RecoveryCode, error) {
		c.FailedAttempts = 0
		return c, nil
	})
	if err != nil {
		return store.RecoveryCode{}, store.RecoveryPUK{}, err
	}
	return updatedCode, updatedPUK, nil
}

func (s *Service) onMismatch(ctx context.Context, code store.RecoveryCode, puk store.RecoveryPUK) error {
	updatedCode, err := s.Store.UpdateRecoveryCode(ctx, code.ID, func(c store.RecoveryCode) (store.RecoveryCode, error) {
		c.FailedAttempts++
		if c.FailedAttempts >= c.MaxFailedAttempts {
			c.Status = store.RecoveryBlocked
		}
		return c, nil
	})
	if err != nil {
		return err
	}
	if updatedCode.Status == store.RecoveryBlocked {
		_, _ = s.Store.UpdateRecoveryPUK(ctx, puk.ID, func(p store.RecoveryPUK) (store.RecoveryPUK, error) {
			if p.Status == store.PUKValid {
				p.Status = store.PUKInvalid
				p.LastChangedAt = time.Now()
			}
			return p, nil
		})
	}
	return apierror.New(apierror.InvalidRecoveryCode, "incorrect recovery puk").WithExtra("current_puk_index", puk.PUKIndex)
}

// CreateViaRecoveryResult is returned by CreateViaRecovery.
type CreateViaRecoveryResult struct {
	NewActivationID string
	Layer2          activation.LayerTwoResponse
}

// CreateViaRecovery implements §4.5/§8's create_via_recovery: verify
// the code+PUK, remove the activation the code was bound to (if any),
// mint a replacement activation already carried through to ACTIVE, and
// leave the consumed PUK marked USED.
func (s *Service) CreateViaRecovery(ctx context.Context, applicationID, userID, recoveryCode, candidatePUK string, engine *ecies.Engine, cryptogram ecies.Cryptogram, version ecies.ProtocolVersion) (CreateViaRecoveryResult, error) {
	v, err := s.verify(ctx, applicationID, recoveryCode, candidatePUK)
	if err != nil {
		return CreateViaRecoveryResult{}, err
	}

	initRes, prepRes, err := s.Activation.CreateWithActivation(ctx, applicationID, userID, nil, nil, engine, cryptogram, version)
	if err != nil {
		return CreateViaRecoveryResult{}, err
	}

	if _, err := s.Activation.Commit(ctx, initRes.ActivationID, nil); err != nil {
		return CreateViaRecoveryResult{}, err
	}

	if v.code.ActivationID != "" {
		_ = s.Activation.Remove(ctx, v.code.ActivationID)
	}

	remaining, err := s.Store.ListRecoveryPUKs(ctx, v.code.ID)
	if err == nil {
		if _, ok := lowestValidPUK(remaining); !ok {
			_, _ = s.Store.UpdateRecoveryCode(ctx, v.code.ID, func(c store.RecoveryCode) (store.RecoveryCode, error) {
				if c.Status == store.RecoveryActive {
					c.Status = store.RecoveryRevoked
				}
				return c, nil
			})
		}
	}

	return CreateViaRecoveryResult{NewActivationID: initRes.ActivationID, Layer2: prepRes.Layer2}, nil
}
