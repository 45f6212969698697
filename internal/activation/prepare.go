package activation

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/store"
)

// PrepareResult is returned by Prepare and CreateWithActivation; both
// end with the activation in OTP_USED, optionally carrying a freshly
// issued recovery code and PUK.
type PrepareResult struct {
	Activation       store.Activation
	Layer2           LayerTwoResponse
	RecoveryIssued   bool
}

// Prepare implements §4.2's prepare(activation_code, application_key,
// cryptogram): find the CREATED activation by code, decrypt the
// layer-2 payload, and transition it to OTP_USED.
func (s *Service) Prepare(ctx context.Context, applicationID, activationCode string, engine *ecies.Engine, cryptogram ecies.Cryptogram, version ecies.ProtocolVersion) (PrepareResult, error) {
	found, err := s.Store.FindActivationByCode(ctx, applicationID, activationCode)
	if err != nil {
		return PrepareResult{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	if found.Status != store.StatusCreated {
		return PrepareResult{}, apierror.New(apierror.ActivationIncorrectState, "activation is not in CREATED state")
	}

	plaintext, err := engine.DecryptRequest(cryptogram, version)
	if err != nil {
		return PrepareResult{}, err
	}
	req, err := decodeLayerTwoRequest(plaintext)
	if err != nil {
		return PrepareResult{}, err
	}

	return s.finishPairing(ctx, found.ActivationID, req, engine)
}

// finishPairing validates the device public key (sinking the activation
// to REMOVED when it does not parse), re-reads the activation, lazily
// expires it if due, transitions CREATED -> OTP_USED under lock, and
// then, when recovery is enabled, issues a recovery code/PUK. It is
// shared by Prepare and CreateWithActivation (which create_via_recovery
// also goes through), both of which arrive here with an
// already-decrypted layer-2 payload.
func (s *Service) finishPairing(ctx context.Context, activationID string, req LayerTwoRequest, engine *ecies.Engine) (PrepareResult, error) {
	if _, err := cryptoprim.ParsePublicKeyCompressed(req.DevicePublicKey); err != nil {
		// An invalid device public key at this point can never be
		// recovered from; per §5 the activation is sunk to REMOVED
		// rather than merely reported, and per §7 the failure is
		// reported as a plain not-found rather than leaking which
		// crypto step failed.
		removed, updErr := s.Store.UpdateActivation(ctx, activationID, func(act store.Activation) (store.Activation, error) {
			act.Status = store.StatusRemoved
			act.LastChangedAt = time.Now()
			return act, nil
		})
		if updErr == nil {
			_ = s.appendHistory(ctx, removed, "REMOVED")
			s.notify(ctx, removed, "REMOVED")
		}
		return PrepareResult{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}

	current, err := s.Store.GetActivation(ctx, activationID)
	if err != nil {
		return PrepareResult{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	before := current
	current, err = s.lazyExpire(ctx, current)
	if err != nil {
		return PrepareResult{}, err
	}
	s.afterExpireSideEffects(ctx, before, current)
	if current.Status == store.StatusRemoved {
		return PrepareResult{}, apierror.New(apierror.ActivationExpired, "activation has expired")
	}
	if current.Status != store.StatusCreated {
		return PrepareResult{}, apierror.New(apierror.ActivationIncorrectState, "activation is not in CREATED state")
	}

	ctrData := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, ctrData); err != nil {
		return PrepareResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}

	var recoveryIssued bool
	var recoveryCode string
	var recoveryPUK string

	updated, err := s.Store.UpdateActivation(ctx, activationID, func(act store.Activation) (store.Activation, error) {
		if act.Status != store.StatusCreated {
			return act, apierror.New(apierror.ActivationIncorrectState, "activation is not in CREATED state")
		}

		act.Status = store.StatusOTPUsed
		act.DevicePublicKey = req.DevicePublicKey
		act.ActivationName = req.ActivationName
		act.Extras = req.Extras
		act.Version = 3
		act.CtrData = ctrData
		act.LastChangedAt = time.Now()

		return act, nil
	})
	if err != nil {
		return PrepareResult{}, err
	}

	// Issued after UpdateActivation returns: the updater runs under the
	// store's lock, and issuance itself reads and writes the store.
	if s.Cfg.RecoveryEnabled {
		if recoveryCode, recoveryPUK, err = s.issueRecoveryCode(ctx, updated); err != nil {
			return PrepareResult{}, err
		}
		recoveryIssued = true
	}

	_ = s.appendHistory(ctx, updated, "OTP_USED")
	s.notify(ctx, updated, "OTP_USED")

	serverPub, err := s.publicKeyForResponse(updated)
	if err != nil {
		return PrepareResult{}, err
	}

	resp := LayerTwoResponse{
		ActivationID:     updated.ActivationID,
		CtrData:          ctrData,
		ServerPublicKey:  serverPub,
		RecoveryCode:     recoveryCode,
		RecoveryPUK:      recoveryPUK,
		RecoveryIncluded: recoveryIssued,
	}

	return PrepareResult{Activation: updated, Layer2: resp, RecoveryIssued: recoveryIssued}, nil
}

func (s *Service) publicKeyForResponse(act store.Activation) ([]byte, error) {
	if len(act.ServerPublicKey) == 0 {
		return nil, apierror.New(apierror.InvalidKeyFormat, "activation has no server public key")
	}
	return act.ServerPublicKey, nil
}

// decodeLayerTwoRequest parses the decrypted layer-2 JSON payload.
func decodeLayerTwoRequest(plaintext []byte) (LayerTwoRequest, error) {
	return parseLayerTwoJSON(plaintext)
}

// CreateWithActivation implements §4.2's create(user_id, ...,
// application_key, cryptogram): it runs Init synchronously, then
// drives the same finishPairing transition Prepare uses.
func (s *Service) CreateWithActivation(ctx context.Context, applicationID, userID string, maxFailureCount *uint64, expireAt *time.Time, engine *ecies.Engine, cryptogram ecies.Cryptogram, version ecies.ProtocolVersion) (InitResult, PrepareResult, error) {
	initRes, err := s.Init(ctx, applicationID, userID, maxFailureCount, expireAt)
	if err != nil {
		return InitResult{}, PrepareResult{}, err
	}

	plaintext, err := engine.DecryptRequest(cryptogram, version)
	if err != nil {
		return initRes, PrepareResult{}, err
	}
	req, err := decodeLayerTwoRequest(plaintext)
	if err != nil {
		return initRes, PrepareResult{}, err
	}

	prepRes, err := s.finishPairing(ctx, initRes.ActivationID, req, engine)
	return initRes, prepRes, err
}
