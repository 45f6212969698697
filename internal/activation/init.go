package activation

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/store"
)

// InitResult is returned by Init.
type InitResult struct {
	ActivationID        string
	ActivationCode      string
	ActivationSignature []byte
	UserID              string
	ApplicationID       string
}

// Init creates a new CREATED activation, per §4.2. maxFailureCount and
// expireAt are optional overrides of the configured defaults.
func (s *Service) Init(ctx context.Context, applicationID, userID string, maxFailureCount *uint64, expireAt *time.Time) (InitResult, error) {
	if userID == "" {
		return InitResult{}, apierror.New(apierror.NoUserID, "user_id must not be empty")
	}
	if len(userID) > 255 {
		return InitResult{}, apierror.New(apierror.InvalidRequest, "user_id exceeds 255 characters")
	}
	if applicationID == "" {
		return InitResult{}, apierror.New(apierror.NoApplicationID, "application_id must not be empty")
	}

	masterKP, err := s.Store.GetCurrentMasterKeyPair(ctx, applicationID)
	if err != nil {
		return InitResult{}, apierror.New(apierror.NoMasterServerKeypair, "application has no master key pair")
	}

	activationID, err := s.generateUniqueActivationID(ctx)
	if err != nil {
		return InitResult{}, err
	}
	activationCode, err := s.generateUniqueActivationCode(ctx, applicationID)
	if err != nil {
		return InitResult{}, err
	}

	masterPriv, err := s.decryptMasterPrivateKey(masterKP)
	if err != nil {
		return InitResult{}, err
	}
	signature, err := cryptoprim.SignECDSA(masterPriv, []byte(activationCode))
	if err != nil {
		return InitResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}

	serverPriv, err := cryptoprim.GenerateP256KeyPair()
	if err != nil {
		return InitResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	serverPub, err := cryptoprim.MarshalPublicKeyCompressed(serverPriv.PublicKey())
	if err != nil {
		return InitResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	rec, err := s.Codec.Encrypt(keyvault.ServerKeyContext(userID, activationID), serverPriv.Bytes())
	if err != nil {
		return InitResult{}, err
	}

	maxFailed := s.Cfg.DefaultMaxFailedAttempts
	if maxFailureCount != nil {
		maxFailed = *maxFailureCount
	}
	expires := time.Now().Add(s.Cfg.ActivationValidityBeforeActive)
	if expireAt != nil {
		expires = *expireAt
	}

	now := time.Now()
	act := store.Activation{
		ActivationID:        activationID,
		ApplicationID:       applicationID,
		UserID:              userID,
		ActivationCode:      activationCode,
		Status:              store.StatusCreated,
		Counter:             0,
		ServerPrivateKeyRec: store.EncryptedBlob{Mode: string(rec.Mode), Ciphertext: rec.Ciphertext},
		ServerPublicKey:     serverPub,
		FailedAttempts:      0,
		MaxFailedAttempts:   maxFailed,
		ExpiresAt:           expires,
		CreatedAt:           now,
		LastChangedAt:       now,
		MasterKeyPairID:     masterKP.ID,
		Flags:               map[string]string{},
	}
	if err := s.Store.CreateActivation(ctx, act); err != nil {
		return InitResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	_ = s.appendHistory(ctx, act, "CREATED")
	s.notify(ctx, act, "CREATED")

	return InitResult{
		ActivationID:        activationID,
		ActivationCode:      activationCode,
		ActivationSignature: signature,
		UserID:              userID,
		ApplicationID:       applicationID,
	}, nil
}
