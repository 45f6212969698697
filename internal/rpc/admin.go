package rpc

import (
	"context"
	"net/url"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
	"github.com/powerauth/activationserver/internal/store"
)

// CreateApplicationRequest/Response and friends are deliberately thin:
// the trusted back-end that calls these administrative operations
// already validated its inputs; the facade's job is only to translate
// and persist, the same "no hidden state" division service.go applies
// to the lifecycle operations.

func (f *Facade) CreateApplication(ctx context.Context, name string, roles []string) (string, error) {
	id := store.NewOpaqueID(12)
	if err := f.Store.CreateApplication(ctx, store.Application{ID: id, Name: name, Roles: roles}); err != nil {
		return "", apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	return id, nil
}

func (f *Facade) CreateApplicationVersion(ctx context.Context, applicationID string) (store.ApplicationVersion, error) {
	key, err := cryptoprim.RandBytes(16)
	if err != nil {
		return store.ApplicationVersion{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	secret, err := cryptoprim.RandBytes(16)
	if err != nil {
		return store.ApplicationVersion{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	v := store.ApplicationVersion{
		ID:                store.NewOpaqueID(12),
		ApplicationID:     applicationID,
		ApplicationKey:    encodeB64(key),
		ApplicationSecret: encodeB64(secret),
		Supported:         true,
	}
	if err := f.Store.CreateApplicationVersion(ctx, v); err != nil {
		return store.ApplicationVersion{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	return v, nil
}

// CreateMasterKeyPair mints a fresh per-application P-256 signing key
// pair, encrypting its private scalar via the same key-at-rest codec
// internal/activation.Service decrypts it with, bound to applicationID
// per §4.3.
func (f *Facade) CreateMasterKeyPair(ctx context.Context, applicationID string) error {
	priv, err := cryptoprim.GenerateECDSAP256KeyPair()
	if err != nil {
		return apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	der, err := cryptoprim.MarshalECDSAPrivateKey(priv)
	if err != nil {
		return apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	rec, err := f.Activation.Codec.Encrypt(keyvault.MasterKeyContext(applicationID), der)
	if err != nil {
		return err
	}
	return f.Store.CreateMasterKeyPair(ctx, store.MasterKeyPair{
		ID:                  store.NewOpaqueID(12),
		ApplicationID:       applicationID,
		MasterPrivateKeyRec: store.EncryptedBlob{Mode: string(rec.Mode), Ciphertext: rec.Ciphertext},
		MasterPublicKey:     cryptoprim.MarshalECDSAPublicKeyCompressed(&priv.PublicKey),
		CreatedAt:           time.Now(),
	})
}

func (f *Facade) CreateCallbackURL(ctx context.Context, applicationID, name, callbackURL string, attributes []string) error {
	parsed, err := url.Parse(callbackURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return apierror.New(apierror.InvalidURLFormat, "malformed callback url")
	}
	return f.Store.CreateCallbackURL(ctx, store.CallbackURL{
		ID:            store.NewOpaqueID(12),
		ApplicationID: applicationID,
		Name:          name,
		URL:           callbackURL,
		Attributes:    attributes,
	})
}

// GetSystemStatus implements §6's getSystemStatus: a static liveness
// descriptor, the RPC-layer equivalent of the teacher's go-sundheit
// health checks surfaced over HTTP instead of gRPC.
func (f *Facade) GetSystemStatus() map[string]string {
	return map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func (f *Facade) GetErrorCodeListResponse() activationpb.GetErrorCodeListResponse {
	return activationpb.GetErrorCodeListResponse{ErrorCodes: apierror.AllKinds()}
}
