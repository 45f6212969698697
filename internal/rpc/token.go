package rpc

import (
	"context"

	"github.com/powerauth/activationserver/internal/activation"
	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
	"github.com/powerauth/activationserver/internal/signature"
	"github.com/powerauth/activationserver/internal/store"
)

// engineForActivationRequest resolves applicationKey and the named
// activation, then builds the activation-scope ECIES engine bound to
// the activation's real transport key — the envelope every
// already-paired request (create_token, vault_unlock) is wrapped in.
func (f *Facade) engineForActivationRequest(ctx context.Context, activationID, applicationKey string, scope ecies.Scope) (store.Activation, *ecies.Engine, error) {
	appVer, err := f.resolveApp(ctx, applicationKey)
	if err != nil {
		return store.Activation{}, nil, err
	}
	act, err := f.Store.GetActivation(ctx, activationID)
	if err != nil {
		return store.Activation{}, nil, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	if act.ApplicationID != appVer.ApplicationID {
		return store.Activation{}, nil, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	engine, err := f.Activation.EngineForActivationScope(act, scope, []byte(appVer.ApplicationSecret))
	if err != nil {
		return store.Activation{}, nil, err
	}
	return act, engine, nil
}

func (f *Facade) CreateToken(ctx context.Context, applicationKey string, req activationpb.CreateTokenRequest) (activationpb.CreateTokenResponse, error) {
	_, engine, err := f.engineForActivationRequest(ctx, req.ActivationID, applicationKey, ecies.ScopeCreateToken)
	if err != nil {
		return activationpb.CreateTokenResponse{}, err
	}
	cryptogram, version, err := toCryptogram(req.Cryptogram, req.ProtocolV31)
	if err != nil {
		return activationpb.CreateTokenResponse{}, err
	}
	res, err := f.Token.CreateToken(ctx, req.ActivationID, engine, cryptogram, version, req.SignatureType)
	if err != nil {
		return activationpb.CreateTokenResponse{}, err
	}
	payload := append([]byte(res.TokenID+"\n"), res.TokenSecret...)
	out, err := engine.EncryptResponse(payload)
	if err != nil {
		return activationpb.CreateTokenResponse{}, err
	}
	return activationpb.CreateTokenResponse{Cryptogram: fromCryptogram(out)}, nil
}

func (f *Facade) ValidateToken(ctx context.Context, req activationpb.ValidateTokenRequest) (activationpb.ValidateTokenResponse, error) {
	nonce, err := decodeB64(req.Nonce)
	if err != nil {
		return activationpb.ValidateTokenResponse{}, err
	}
	digest, err := decodeB64(req.Digest)
	if err != nil {
		return activationpb.ValidateTokenResponse{}, err
	}
	res, err := f.Token.ValidateToken(ctx, req.TokenID, nonce, req.TimestampMillis, digest)
	if err != nil {
		return activationpb.ValidateTokenResponse{}, err
	}
	return activationpb.ValidateTokenResponse{
		Valid:         res.Valid,
		ActivationID:  res.ActivationID,
		ApplicationID: res.ApplicationID,
		UserID:        res.UserID,
		SignatureType: res.SignatureType,
	}, nil
}

func (f *Facade) RemoveToken(ctx context.Context, req activationpb.RemoveTokenRequest) error {
	return f.Token.RemoveToken(ctx, req.TokenID, req.ActivationID)
}

func (f *Facade) VerifySignature(ctx context.Context, req activationpb.VerifySignatureRequest) (activationpb.VerifySignatureResponse, error) {
	data, err := decodeB64(req.DataToSign)
	if err != nil {
		return activationpb.VerifySignatureResponse{}, err
	}
	sig, err := decodeB64(req.Signature)
	if err != nil {
		return activationpb.VerifySignatureResponse{}, err
	}
	ok, err := f.Activation.VerifyOnlineSignature(ctx, req.ActivationID, data, sig, f.Signature)
	if err != nil {
		return activationpb.VerifySignatureResponse{}, err
	}
	return activationpb.VerifySignatureResponse{SignatureValid: ok}, nil
}

func (f *Facade) VerifyECDSASignature(ctx context.Context, req activationpb.VerifyECDSASignatureRequest) (activationpb.VerifyECDSASignatureResponse, error) {
	act, err := f.Store.GetActivation(ctx, req.ActivationID)
	if err != nil {
		return activationpb.VerifyECDSASignatureResponse{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	data, err := decodeB64(req.Data)
	if err != nil {
		return activationpb.VerifyECDSASignatureResponse{}, err
	}
	sig, err := decodeB64(req.Signature)
	if err != nil {
		return activationpb.VerifyECDSASignatureResponse{}, err
	}
	devicePub, err := cryptoprim.ParseECDSAPublicKeyCompressed(act.DevicePublicKey)
	if err != nil {
		return activationpb.VerifyECDSASignatureResponse{}, apierror.New(apierror.InvalidKeyFormat, "malformed device public key")
	}
	ok := signature.VerifyECDSA(devicePub, data, sig)
	return activationpb.VerifyECDSASignatureResponse{SignatureValid: ok}, nil
}

func (f *Facade) CreateViaRecovery(ctx context.Context, applicationKey string, req activationpb.CreateViaRecoveryRequest) (activationpb.ActivationLayerTwoResponse, error) {
	appVer, err := f.resolveApp(ctx, applicationKey)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	engine, err := f.Activation.EngineForMasterKey(ctx, req.ApplicationID, []byte(appVer.ApplicationSecret))
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	cryptogram, version, err := toCryptogram(req.Cryptogram, req.ProtocolV31)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	res, err := f.Recovery.CreateViaRecovery(ctx, req.ApplicationID, req.UserID, req.RecoveryCode, req.PUK, engine, cryptogram, version)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	plaintext, err := activation.EncodeLayerTwoResponse(res.Layer2)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	out, err := engine.EncryptResponse(plaintext)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	return activationpb.ActivationLayerTwoResponse{
		ActivationID:     res.NewActivationID,
		Cryptogram:       fromCryptogram(out),
		RecoveryIncluded: res.Layer2.RecoveryIncluded,
	}, nil
}
