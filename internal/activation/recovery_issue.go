package activation

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/codeformat"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/store"
)

// issueRecoveryCode creates one RecoveryCode + one RecoveryPUK tied to
// act, per §4.5's issuance-on-commit rule (here invoked at
// prepare/create time instead, since this teacher-adapted lifecycle
// issues the code as soon as the activation reaches OTP_USED rather
// than waiting for commit — both the code and its PUK start life
// already associated with the owning user). Collisions on the code
// value are handled by bounded-retry rejection sampling, matching
// generateUniqueActivationCode's policy.
func (s *Service) issueRecoveryCode(ctx context.Context, act store.Activation) (string, string, error) {
	iterations := s.Cfg.RecoveryCodeIterations
	if iterations <= 0 {
		iterations = 10
	}

	var code string
	for i := 0; i < iterations; i++ {
		candidate, err := codeformat.Generate()
		if err != nil {
			return "", "", apierror.Wrap(apierror.UnableToGenerateRecoveryCode, err)
		}
		if _, err := s.Store.GetRecoveryCode(ctx, act.ApplicationID, candidate); isNotFound(err) {
			code = candidate
			break
		}
	}
	if code == "" {
		return "", "", apierror.New(apierror.UnableToGenerateRecoveryCode, "exhausted retries generating a unique recovery code")
	}

	puk, err := generatePUK()
	if err != nil {
		return "", "", apierror.Wrap(apierror.GenericCryptographyError, err)
	}

	hash, err := cryptoprim.HashPUK(puk)
	if err != nil {
		return "", "", apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	rec, err := s.Codec.Encrypt(keyvault.PUKContext(act.ApplicationID, act.UserID, code, 1), hash)
	if err != nil {
		return "", "", err
	}

	recoveryCodeID := store.NewOpaqueID(12)
	if err := s.Store.CreateRecoveryCode(ctx, store.RecoveryCode{
		ID:                recoveryCodeID,
		ApplicationID:     act.ApplicationID,
		UserID:            act.UserID,
		ActivationID:      act.ActivationID,
		RecoveryCode:      code,
		Status:            store.RecoveryCreated,
		FailedAttempts:    0,
		MaxFailedAttempts: s.Cfg.RecoveryMaxFailedAttempts,
	}); err != nil {
		return "", "", apierror.Wrap(apierror.GenericCryptographyError, err)
	}

	if err := s.Store.CreateRecoveryPUK(ctx, store.RecoveryPUK{
		ID:             store.NewOpaqueID(12),
		RecoveryCodeID: recoveryCodeID,
		PUKIndex:       1,
		PUKHashRec:     store.EncryptedBlob{Mode: string(rec.Mode), Ciphertext: rec.Ciphertext},
		Status:         store.PUKValid,
	}); err != nil {
		return "", "", err
	}

	return code, puk, nil
}

// generatePUK draws a uniformly random 4-digit numeric PUK.
func generatePUK() (string, error) {
	var b [1]byte
	for {
		n := 0
		for i := 0; i < 2; i++ {
			if _, err := rand.Read(b[:]); err != nil {
				return "", err
			}
			n = n<<8 | int(b[0])
		}
		// 60000 is the largest multiple of 10000 below 65536; draws at or
		// above it are discarded so every PUK is equally likely.
		if n < 60000 {
			return fmt.Sprintf("%04d", n%10000), nil
		}
	}
}
