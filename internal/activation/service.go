// Package activation implements the activation lifecycle state machine
// (C5) — the central subsystem of the server. Grounded on the
// teacher's server/*.go handler style: one file per operation
// (init.go, prepare.go, commit.go, block.go, status.go...), each a
// thin function over the store and crypto packages, the way
// server/authorizationhandlers.go and server/tokenhandlers.go are one
// file per OAuth2 endpoint in the teacher. No hidden state: a Service
// carries its store, codec, and config explicitly.
package activation

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"errors"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/callback"
	"github.com/powerauth/activationserver/internal/codeformat"
	"github.com/powerauth/activationserver/internal/config"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/metrics"
	"github.com/powerauth/activationserver/internal/store"
)

// Service implements every activation-lifecycle operation in §4.2,
// plus the recovery-code issuance that rides along with prepare/commit
// per §4.5.
type Service struct {
	Store    store.Storage
	Codec    *keyvault.Codec
	Cfg      config.Activation
	Notifier callback.Notifier
	Metrics  *metrics.Metrics // optional
}

// New builds a Service.
func New(s store.Storage, codec *keyvault.Codec, cfg config.Activation, notifier callback.Notifier) *Service {
	return &Service{Store: s, Codec: codec, Cfg: cfg, Notifier: notifier}
}

// LayerTwoRequest is the decrypted prepare/create payload.
type LayerTwoRequest struct {
	DevicePublicKey []byte
	ActivationName  string
	Extras          string
}

// LayerTwoResponse is the plaintext prepare/create response, encrypted
// by the caller under the same envelope key the request was decrypted
// with.
type LayerTwoResponse struct {
	ActivationID       string
	CtrData            []byte
	ServerPublicKey    []byte
	RecoveryCode       string
	RecoveryPUK        string
	RecoveryIncluded   bool
}

func (s *Service) notify(ctx context.Context, act store.Activation, reason string) {
	if s.Metrics != nil {
		s.Metrics.ObserveTransition(act.Status.String())
	}
	if s.Notifier == nil {
		return
	}
	s.Notifier.Notify(ctx, callback.Event{
		ApplicationID: act.ApplicationID,
		ActivationID:  act.ActivationID,
		Attributes: map[string]any{
			"activation_id": act.ActivationID,
			"status":        act.Status.String(),
			"reason":        reason,
		},
	})
}

func (s *Service) appendHistory(ctx context.Context, act store.Activation, reason string) error {
	return s.Store.AppendActivationHistory(ctx, store.ActivationHistoryEntry{
		ID:           store.NewOpaqueID(12),
		ActivationID: act.ActivationID,
		Status:       act.Status,
		EventReason:  reason,
		CreatedAt:    time.Now(),
	})
}

// generateUniqueActivationID performs bounded-retry rejection sampling
// for a 37-character opaque activation ID, matching §4.2's
// UNABLE_TO_GENERATE_ACTIVATION_ID policy.
func (s *Service) generateUniqueActivationID(ctx context.Context) (string, error) {
	iterations := s.Cfg.ActivationIDIterations
	if iterations <= 0 {
		iterations = 10
	}
	for i := 0; i < iterations; i++ {
		id := store.NewOpaqueID(23) // base32(23 bytes) ~ 37 chars
		if _, err := s.Store.GetActivation(ctx, id); isNotFound(err) {
			return id, nil
		}
	}
	return "", apierror.New(apierror.UnableToGenerateActivationID, "exhausted retries generating a unique activation id")
}

// generateUniqueActivationCode performs the equivalent bounded-retry
// sampling for activation_code, scoped to one application.
func (s *Service) generateUniqueActivationCode(ctx context.Context, applicationID string) (string, error) {
	iterations := s.Cfg.ActivationCodeIterations
	if iterations <= 0 {
		iterations = 10
	}
	for i := 0; i < iterations; i++ {
		code, err := codeformat.Generate()
		if err != nil {
			return "", apierror.Wrap(apierror.UnableToGenerateActivationCode, err)
		}
		if _, err := s.Store.FindActivationByCode(ctx, applicationID, code); isNotFound(err) {
			return code, nil
		}
	}
	return "", apierror.New(apierror.UnableToGenerateActivationCode, "exhausted retries generating a unique activation code")
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// lazyExpire implements §4.2's expiry rule: any CREATED/OTP_USED
// activation whose expires_at has passed is force-transitioned to
// REMOVED under lock before the read that observed it returns.
// Callers that already hold the lock (inside an UpdateActivation
// updater) should call lazyExpireLocked instead.
func (s *Service) lazyExpire(ctx context.Context, act store.Activation) (store.Activation, error) {
	if !isExpirable(act) {
		return act, nil
	}
	return s.Store.UpdateActivation(ctx, act.ActivationID, func(cur store.Activation) (store.Activation, error) {
		return s.lazyExpireLocked(cur)
	})
}

func isExpirable(act store.Activation) bool {
	return (act.Status == store.StatusCreated || act.Status == store.StatusOTPUsed) && time.Now().After(act.ExpiresAt)
}

// lazyExpireLocked mutates act to REMOVED if it is past expiry,
// assuming the caller already holds the row lock (i.e. is inside an
// UpdateActivation updater).
func (s *Service) lazyExpireLocked(act store.Activation) (store.Activation, error) {
	if !isExpirable(act) {
		return act, nil
	}
	act.Status = store.StatusRemoved
	act.LastChangedAt = time.Now()
	return act, nil
}

func (s *Service) afterExpireSideEffects(ctx context.Context, before, after store.Activation) {
	if before.Status != store.StatusRemoved && after.Status == store.StatusRemoved {
		_ = s.appendHistory(ctx, after, "EXPIRED")
		s.notify(ctx, after, "EXPIRED")
	}
}

// deriveTransportKey decrypts the activation's server private key and
// derives the transport key against the activation's device public
// key. Decrypted key material is never retained past this call.
func (s *Service) deriveTransportKey(act store.Activation) ([]byte, error) {
	priv, err := s.decryptServerPrivateKey(act)
	if err != nil {
		return nil, err
	}
	devicePub, err := cryptoprim.ParsePublicKeyCompressed(act.DevicePublicKey)
	if err != nil {
		return nil, apierror.New(apierror.InvalidKeyFormat, "malformed device public key")
	}
	return ecies.DeriveTransportKey(priv, devicePub)
}

func (s *Service) decryptMasterPrivateKey(kp store.MasterKeyPair) (*ecdsa.PrivateKey, error) {
	context := keyvault.MasterKeyContext(kp.ApplicationID)
	raw, err := s.Codec.Decrypt(context, keyvault.Record{Mode: keyvault.EncryptionMode(kp.MasterPrivateKeyRec.Mode), Ciphertext: kp.MasterPrivateKeyRec.Ciphertext})
	if err != nil {
		return nil, apierror.Wrap(apierror.IncorrectMasterServerKeypairPriv, err)
	}
	priv, err := cryptoprim.ParseECDSAPrivateKey(raw)
	if err != nil {
		return nil, apierror.New(apierror.IncorrectMasterServerKeypairPriv, "malformed master private key")
	}
	return priv, nil
}

func (s *Service) decryptServerPrivateKey(act store.Activation) (*ecdh.PrivateKey, error) {
	context := keyvault.ServerKeyContext(act.UserID, act.ActivationID)
	raw, err := s.Codec.Decrypt(context, keyvault.Record{Mode: keyvault.EncryptionMode(act.ServerPrivateKeyRec.Mode), Ciphertext: act.ServerPrivateKeyRec.Ciphertext})
	if err != nil {
		return nil, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, apierror.New(apierror.InvalidKeyFormat, "malformed server private key")
	}
	return priv, nil
}
