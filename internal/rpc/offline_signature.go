package rpc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
	"github.com/powerauth/activationserver/internal/signature"
	"github.com/powerauth/activationserver/internal/store"
)

// CreateOfflineSignaturePayload implements §6's createOfflineSignaturePayload
// (personalized + non-personalized). Offline signatures cannot carry
// server-observed counter state (the device has no network round trip
// to report it over), so the payload binds a fresh random nonce
// instead and the device signs with its ECDSA key; the server's own
// half of the contract is just minting that nonce and formatting the
// data string the device displays, per spec.md's Non-goal on QR
// generation details beyond the contract shapes.
func (f *Facade) CreateOfflineSignaturePayload(ctx context.Context, req activationpb.CreateOfflineSignaturePayloadRequest) (activationpb.CreateOfflineSignaturePayloadResponse, error) {
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return activationpb.CreateOfflineSignaturePayloadResponse{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	payload := strings.Join([]string{req.Data, base64.StdEncoding.EncodeToString(nonce)}, "&")
	return activationpb.CreateOfflineSignaturePayloadResponse{
		OfflineDataPayload: payload,
		Nonce:              base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// VerifyOfflineSignature implements §6's verifyOfflineSignature: the
// device's ECDSA signature over the payload createOfflineSignaturePayload
// minted, checked against the activation's device public key — the
// same primitive verifyECDSASignature uses, since an offline signature
// is defined as an ECDSA signature rather than a counter-advancing
// online one.
func (f *Facade) VerifyOfflineSignature(ctx context.Context, req activationpb.VerifyOfflineSignatureRequest) (activationpb.VerifyOfflineSignatureResponse, error) {
	act, err := f.Store.GetActivation(ctx, req.ActivationID)
	if err != nil {
		return activationpb.VerifyOfflineSignatureResponse{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	if act.Status != store.StatusActive {
		return activationpb.VerifyOfflineSignatureResponse{}, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
	}
	devicePub, err := cryptoprim.ParseECDSAPublicKeyCompressed(act.DevicePublicKey)
	if err != nil {
		return activationpb.VerifyOfflineSignatureResponse{}, apierror.New(apierror.InvalidKeyFormat, "malformed device public key")
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return activationpb.VerifyOfflineSignatureResponse{}, apierror.New(apierror.InvalidInputFormat, "malformed signature")
	}
	ok := signature.VerifyECDSA(devicePub, []byte(req.Data), sig)
	return activationpb.VerifyOfflineSignatureResponse{SignatureValid: ok}, nil
}

// GetSignatureAuditLog implements §6's getSignatureAuditLog by
// projecting the activation's lifecycle history: one item per history
// entry, with no filtering by reason, each carrying Factor
// "possession_knowledge", the activation's current Counter, and Valid
// set when the entry's status is ACTIVE. It does not read the schema's
// signature_audit_log table.
func (f *Facade) GetSignatureAuditLog(ctx context.Context, req activationpb.GetSignatureAuditLogRequest) (activationpb.GetSignatureAuditLogResponse, error) {
	act, err := f.Store.GetActivation(ctx, req.ActivationID)
	if err != nil {
		return activationpb.GetSignatureAuditLogResponse{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	entries, err := f.Activation.GetActivationHistory(ctx, req.ActivationID)
	if err != nil {
		return activationpb.GetSignatureAuditLogResponse{}, err
	}
	out := make([]activationpb.SignatureAuditLogItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, activationpb.SignatureAuditLogItem{
			Factor:    "possession_knowledge",
			Counter:   act.Counter,
			Valid:     e.Status == store.StatusActive,
			IPAddress: "",
		})
	}
	return activationpb.GetSignatureAuditLogResponse{Entries: out}, nil
}

// GetErrorCodeList implements §6's getErrorCodeList: every apierror.Kind
// the core can signal, so a client can build a localized message table
// without hardcoding the taxonomy.
func (f *Facade) GetErrorCodeList(ctx context.Context) activationpb.GetErrorCodeListResponse {
	return activationpb.GetErrorCodeListResponse{ErrorCodes: apierror.AllKinds()}
}
