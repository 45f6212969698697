package rpc

import (
	"context"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
	"github.com/powerauth/activationserver/internal/store"
)

// VaultUnlock implements §6's vault_unlock: an activation-scope ECIES
// round trip identical in shape to create_token, gated on the
// activation being ACTIVE, used by the mobile SDK to retrieve the
// encryption key it stores in its local secure vault.
func (f *Facade) VaultUnlock(ctx context.Context, applicationKey string, req activationpb.VaultUnlockRequest) (activationpb.VaultUnlockResponse, error) {
	act, engine, err := f.engineForActivationRequest(ctx, req.ActivationID, applicationKey, ecies.ScopeVaultUnlock)
	if err != nil {
		return activationpb.VaultUnlockResponse{}, err
	}
	if act.Status != store.StatusActive {
		return activationpb.VaultUnlockResponse{}, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
	}

	cryptogram, version, err := toCryptogram(req.Cryptogram, req.ProtocolV31)
	if err != nil {
		return activationpb.VaultUnlockResponse{}, err
	}
	plaintext, err := engine.DecryptRequest(cryptogram, version)
	if err != nil {
		return activationpb.VaultUnlockResponse{}, err
	}
	if len(plaintext) == 0 {
		return activationpb.VaultUnlockResponse{}, apierror.New(apierror.InvalidRequest, "vault_unlock payload must not be empty")
	}

	// The vault key itself is the activation's transport key, the same
	// derivation get_status and create_token use; vault_unlock exists to
	// deliver it to the device under a scope-specific envelope rather
	// than to mint anything new.
	transportKey, err := f.Activation.DeriveTransportKey(act)
	if err != nil {
		return activationpb.VaultUnlockResponse{}, err
	}
	out, err := engine.EncryptResponse(transportKey)
	if err != nil {
		return activationpb.VaultUnlockResponse{}, err
	}
	return activationpb.VaultUnlockResponse{Cryptogram: fromCryptogram(out)}, nil
}
