package rpc

import (
	"context"
	"encoding/base64"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
)

// GetEciesDecryptorParameters implements §4.7's get_ecies_decryptor:
// exports the raw envelope key material for an intermediate
// trust-separation server, which can then decrypt one request/response
// pair without ever holding activation-scope private key material.
func (f *Facade) GetEciesDecryptorParameters(ctx context.Context, req activationpb.GetEciesDecryptorRequest) (activationpb.GetEciesDecryptorResponse, error) {
	appVer, err := f.resolveApp(ctx, req.ApplicationKey)
	if err != nil {
		return activationpb.GetEciesDecryptorResponse{}, err
	}

	ephemeralBytes, err := decodeB64(req.EphemeralPublicKey)
	if err != nil {
		return activationpb.GetEciesDecryptorResponse{}, err
	}
	ephemeralPub, err := cryptoprim.ParsePublicKeyCompressed(ephemeralBytes)
	if err != nil {
		return activationpb.GetEciesDecryptorResponse{}, apierror.New(apierror.InvalidKeyFormat, "malformed ephemeral public key")
	}

	var engine *ecies.Engine
	if req.ActivationID == "" {
		engine, err = f.Activation.EngineForMasterKey(ctx, appVer.ApplicationID, []byte(appVer.ApplicationSecret))
	} else {
		a, getErr := f.Store.GetActivation(ctx, req.ActivationID)
		if getErr != nil {
			return activationpb.GetEciesDecryptorResponse{}, apierror.New(apierror.ActivationNotFound, "activation not found")
		}
		engine, err = f.Activation.EngineForActivationScope(a, ecies.ScopeActivationGeneric, []byte(appVer.ApplicationSecret))
	}
	if err != nil {
		return activationpb.GetEciesDecryptorResponse{}, err
	}

	params, err := engine.ExportDecryptorParameters(ephemeralPub)
	if err != nil {
		return activationpb.GetEciesDecryptorResponse{}, err
	}
	return activationpb.GetEciesDecryptorResponse{
		SecretKey:   base64.StdEncoding.EncodeToString(params.SecretKey),
		SharedInfo2: base64.StdEncoding.EncodeToString(params.SharedInfo2),
	}, nil
}
