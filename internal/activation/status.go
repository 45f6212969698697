package activation

import (
	"context"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/statusblob"
	"github.com/powerauth/activationserver/internal/store"
)

// StatusResult carries the get_status response: the 32-byte status blob
// (the 17-byte plaintext encrypted with padding, or random bytes when
// there is no real status to report), the nonce the blob's IV was
// derived from when a challenge was given, and (for CREATED
// activations) the activation code plus master signature the device
// needs to complete pairing.
type StatusResult struct {
	EncryptedBlob        []byte
	Nonce                []byte // random nonce handed back when challenge was present
	ActivationCode       string
	ActivationSignature  []byte
	Status               store.ActivationStatus
}

// GetStatus implements §4.2's get_status(activation_id, challenge?).
func (s *Service) GetStatus(ctx context.Context, activationID string, challenge []byte) (StatusResult, error) {
	current, err := s.Store.GetActivation(ctx, activationID)
	if err != nil {
		return s.syntheticRemovedStatus(challenge)
	}
	before := current
	current, err = s.lazyExpire(ctx, current)
	if err != nil {
		return StatusResult{}, err
	}
	s.afterExpireSideEffects(ctx, before, current)

	switch current.Status {
	case store.StatusRemoved:
		return s.syntheticRemovedStatus(challenge)
	case store.StatusCreated:
		return s.statusForCreated(ctx, current, challenge)
	default:
		return s.statusForPaired(current, challenge)
	}
}

// syntheticRemovedStatus returns a random blob (and, if challenge is
// present, a random nonce) for an activation that does not exist or
// has been removed — never confirms absence via a distinguishable
// response shape.
func (s *Service) syntheticRemovedStatus(challenge []byte) (StatusResult, error) {
	blob, err := cryptoprim.RandBytes(32)
	if err != nil {
		return StatusResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	res := StatusResult{EncryptedBlob: blob, Status: store.StatusRemoved}
	if challenge != nil {
		nonce, err := cryptoprim.RandBytes(16)
		if err != nil {
			return StatusResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
		}
		res.Nonce = nonce
	}
	return res, nil
}

// statusForCreated returns a random blob plus the activation code and
// its re-derived master signature, so a device still mid-pairing can
// complete it.
func (s *Service) statusForCreated(ctx context.Context, act store.Activation, challenge []byte) (StatusResult, error) {
	blob, err := cryptoprim.RandBytes(32)
	if err != nil {
		return StatusResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	masterKP, err := s.Store.GetCurrentMasterKeyPair(ctx, act.ApplicationID)
	if err != nil {
		return StatusResult{}, apierror.New(apierror.NoMasterServerKeypair, "application has no master key pair")
	}
	masterPriv, err := s.decryptMasterPrivateKey(masterKP)
	if err != nil {
		return StatusResult{}, err
	}
	signature, err := cryptoprim.SignECDSA(masterPriv, []byte(act.ActivationCode))
	if err != nil {
		return StatusResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	return StatusResult{
		EncryptedBlob:       blob,
		ActivationCode:      act.ActivationCode,
		ActivationSignature: signature,
		Status:              store.StatusCreated,
	}, nil
}

// statusForPaired builds and encrypts the real status blob for
// OTP_USED/ACTIVE/BLOCKED activations.
func (s *Service) statusForPaired(act store.Activation, challenge []byte) (StatusResult, error) {
	transportKey, err := s.deriveTransportKey(act)
	if err != nil {
		return StatusResult{}, err
	}

	var ctrHash [16]byte
	if act.Version == statusblob.CurrentVersion {
		ctrHash = statusblob.CtrDataHash(transportKey, act.CtrData)
	}

	blob := statusblob.Blob{
		Status:            act.Status,
		CurrentVersion:    byte(act.Version),
		UpgradeVersion:    statusblob.CurrentVersion,
		FailedAttempts:    byte(act.FailedAttempts),
		MaxFailedAttempts: byte(act.MaxFailedAttempts),
		CtrLookahead:      byte(s.Cfg.SignatureValidationLookahead),
		CtrInfo:           byte(act.Counter),
		CtrDataHash:       ctrHash,
	}
	plaintext := statusblob.Encode(blob)

	iv, nonce, err := statusIV(challenge)
	if err != nil {
		return StatusResult{}, err
	}
	ciphertext, err := cryptoprim.CBCEncrypt(plaintext, transportKey, iv)
	if err != nil {
		return StatusResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	return StatusResult{EncryptedBlob: ciphertext, Nonce: nonce, Status: act.Status}, nil
}

// statusIV derives the blob IV from challenge||nonce when challenge is
// present, otherwise a fixed zero IV, per §4.2. It returns both the IV
// used to encrypt and the nonce the caller must hand back to the
// device so the device can re-derive the same IV.
func statusIV(challenge []byte) (iv, nonce []byte, err error) {
	if len(challenge) == 0 {
		return make([]byte, 16), nil, nil
	}
	nonce, err = cryptoprim.RandBytes(16)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	material := append(append([]byte{}, challenge...), nonce...)
	return cryptoprim.KDFX963(material, nil, 16), nonce, nil
}
