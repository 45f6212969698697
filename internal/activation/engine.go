package activation

import (
	"context"
	"crypto/ecdh"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/store"
)

// EngineForMasterKey builds the ECIES engine that decrypts the layer-2
// payload of a create(no activation code) request: no per-activation
// server key exists yet at this point in the flow, so the request
// addresses the application's master key pair instead, reusing its
// P-256 scalar for ECDH the same way it is used for ECDSA signing.
func (s *Service) EngineForMasterKey(ctx context.Context, applicationID string, appSecret []byte) (*ecies.Engine, error) {
	kp, err := s.Store.GetCurrentMasterKeyPair(ctx, applicationID)
	if err != nil {
		return nil, apierror.New(apierror.NoMasterServerKeypair, "application has no master key pair")
	}
	masterPriv, err := s.decryptMasterPrivateKey(kp)
	if err != nil {
		return nil, err
	}
	ecdhPriv, err := ecdh.P256().NewPrivateKey(masterPriv.D.FillBytes(make([]byte, 32)))
	if err != nil {
		return nil, apierror.New(apierror.InvalidKeyFormat, "malformed master private key")
	}
	sharedInfo2 := ecies.SharedInfo2Activation(appSecret, nil)
	return ecies.New(ecdhPriv, ecies.ScopeActivationLayer2, sharedInfo2), nil
}

// EngineForLayerTwo builds the ECIES engine that decrypts a prepare
// request against an already-existing CREATED activation's per-activation
// server key. No transport key exists yet, matching the application's
// master-key case above.
func (s *Service) EngineForLayerTwo(act store.Activation, appSecret []byte) (*ecies.Engine, error) {
	priv, err := s.decryptServerPrivateKey(act)
	if err != nil {
		return nil, err
	}
	sharedInfo2 := ecies.SharedInfo2Activation(appSecret, nil)
	return ecies.New(priv, ecies.ScopeActivationLayer2, sharedInfo2), nil
}

// EngineForActivationScope builds the ECIES engine for requests made
// against an already-paired activation (create_token, vault_unlock),
// whose sharedInfo2 is bound to the activation's real transport key.
func (s *Service) EngineForActivationScope(act store.Activation, scope ecies.Scope, appSecret []byte) (*ecies.Engine, error) {
	priv, err := s.decryptServerPrivateKey(act)
	if err != nil {
		return nil, err
	}
	transportKey, err := s.deriveTransportKey(act)
	if err != nil {
		return nil, err
	}
	sharedInfo2 := ecies.SharedInfo2Activation(appSecret, transportKey)
	return ecies.New(priv, scope, sharedInfo2), nil
}

// DeriveTransportKey derives act's transport key for callers outside
// the package (the RPC facade's vault_unlock), decrypting the
// activation's server private key only for the duration of the call.
func (s *Service) DeriveTransportKey(act store.Activation) ([]byte, error) {
	return s.deriveTransportKey(act)
}

// FindByCode is an exported passthrough to the store's secondary-index
// lookup, used by the RPC facade to resolve the server key an
// activation code's layer-2 payload must be decrypted under, ahead of
// calling Prepare.
func (s *Service) FindByCode(ctx context.Context, applicationID, code string) (store.Activation, error) {
	return s.Store.FindActivationByCode(ctx, applicationID, code)
}
