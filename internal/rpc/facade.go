// Package rpc is the RPC-facing facade: hand-written request/response
// types in internal/rpc/activationpb plus a grpc.ServiceDesc-free
// dispatch layer calling straight into internal/activation,
// internal/token, internal/recovery, and internal/signature.
// Protobuf codegen is out of scope — this package plays the role a
// generated *_grpc.pb.go would, translating wire shapes to and from
// domain calls, the same seam the teacher draws between its
// grpc-registered server.Server methods and the storage/logic they
// call into (server/api.go's wrapping of server.Server).
package rpc

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/activation"
	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/config"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/recovery"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
	"github.com/powerauth/activationserver/internal/signature"
	"github.com/powerauth/activationserver/internal/store"
	"github.com/powerauth/activationserver/internal/token"
)

// Facade composes every core service into the one dispatch surface the
// JSON-over-HTTP routes in cmd/activationserver call into; the gRPC
// server registers no activation methods.
type Facade struct {
	Store      store.Storage
	Activation *activation.Service
	Token      *token.Service
	Recovery   *recovery.Service
	Signature  *signature.Verifier
	Cfg        config.Activation
}

// New builds a Facade.
func New(s store.Storage, activationSvc *activation.Service, tokenSvc *token.Service, recoverySvc *recovery.Service, sigVerifier *signature.Verifier, cfg config.Activation) *Facade {
	return &Facade{Store: s, Activation: activationSvc, Token: tokenSvc, Recovery: recoverySvc, Signature: sigVerifier, Cfg: cfg}
}

// resolveApp resolves applicationKey to its owning application and
// secret, the bearer credential every ECIES-enveloped RPC presents
// instead of a raw application_id.
func (f *Facade) resolveApp(ctx context.Context, applicationKey string) (store.ApplicationVersion, error) {
	v, err := f.Store.GetApplicationVersionByKey(ctx, applicationKey)
	if err != nil {
		return store.ApplicationVersion{}, apierror.New(apierror.InvalidApplication, "unknown application_key")
	}
	if !v.Supported {
		return store.ApplicationVersion{}, apierror.New(apierror.InvalidApplication, "application version is not supported")
	}
	return v, nil
}

func (f *Facade) InitActivation(ctx context.Context, req activationpb.InitActivationRequest) (activationpb.InitActivationResponse, error) {
	var expireAt *time.Time
	if req.ExpireAtUnixSec != nil {
		t := time.Unix(*req.ExpireAtUnixSec, 0)
		expireAt = &t
	}
	res, err := f.Activation.Init(ctx, req.ApplicationID, req.UserID, req.MaxFailureCount, expireAt)
	if err != nil {
		return activationpb.InitActivationResponse{}, err
	}
	return activationpb.InitActivationResponse{
		ActivationID:        res.ActivationID,
		ActivationCode:      res.ActivationCode,
		ActivationSignature: encodeB64(res.ActivationSignature),
		UserID:              res.UserID,
		ApplicationID:       res.ApplicationID,
	}, nil
}

func (f *Facade) PrepareActivation(ctx context.Context, req activationpb.PrepareActivationRequest) (activationpb.ActivationLayerTwoResponse, error) {
	appVer, err := f.resolveApp(ctx, req.ApplicationKey)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	act, err := f.Activation.FindByCode(ctx, appVer.ApplicationID, req.ActivationCode)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	engine, err := f.Activation.EngineForLayerTwo(act, []byte(appVer.ApplicationSecret))
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	cryptogram, version, err := toCryptogram(req.Cryptogram, req.ProtocolV31)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}

	res, err := f.Activation.Prepare(ctx, appVer.ApplicationID, req.ActivationCode, engine, cryptogram, version)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	return f.encryptLayerTwoResponse(engine, res)
}

func (f *Facade) CreateActivation(ctx context.Context, req activationpb.CreateActivationRequest) (activationpb.InitActivationResponse, activationpb.ActivationLayerTwoResponse, error) {
	appVer, err := f.resolveApp(ctx, req.ApplicationKey)
	if err != nil {
		return activationpb.InitActivationResponse{}, activationpb.ActivationLayerTwoResponse{}, err
	}
	engine, err := f.Activation.EngineForMasterKey(ctx, req.ApplicationID, []byte(appVer.ApplicationSecret))
	if err != nil {
		return activationpb.InitActivationResponse{}, activationpb.ActivationLayerTwoResponse{}, err
	}
	cryptogram, version, err := toCryptogram(req.Cryptogram, req.ProtocolV31)
	if err != nil {
		return activationpb.InitActivationResponse{}, activationpb.ActivationLayerTwoResponse{}, err
	}

	var expireAt *time.Time
	if req.ExpireAtUnixSec != nil {
		t := time.Unix(*req.ExpireAtUnixSec, 0)
		expireAt = &t
	}

	initRes, prepRes, err := f.Activation.CreateWithActivation(ctx, req.ApplicationID, req.UserID, req.MaxFailureCount, expireAt, engine, cryptogram, version)
	if err != nil {
		return activationpb.InitActivationResponse{}, activationpb.ActivationLayerTwoResponse{}, err
	}
	layer2, err := f.encryptLayerTwoResponse(engine, prepRes)
	if err != nil {
		return activationpb.InitActivationResponse{}, activationpb.ActivationLayerTwoResponse{}, err
	}
	return activationpb.InitActivationResponse{
		ActivationID:        initRes.ActivationID,
		ActivationCode:      initRes.ActivationCode,
		ActivationSignature: encodeB64(initRes.ActivationSignature),
		UserID:              initRes.UserID,
		ApplicationID:       initRes.ApplicationID,
	}, layer2, nil
}

// encryptLayerTwoResponse re-encrypts the plaintext layer-2 response
// under the same envelope key engine cached while decrypting the
// request, matching §4.7's "server responds under the request's own
// envelope" rule.
func (f *Facade) encryptLayerTwoResponse(engine *ecies.Engine, res activation.PrepareResult) (activationpb.ActivationLayerTwoResponse, error) {
	plaintext, err := activation.EncodeLayerTwoResponse(res.Layer2)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	cryptogram, err := engine.EncryptResponse(plaintext)
	if err != nil {
		return activationpb.ActivationLayerTwoResponse{}, err
	}
	return activationpb.ActivationLayerTwoResponse{
		ActivationID:     res.Layer2.ActivationID,
		Cryptogram:       fromCryptogram(cryptogram),
		RecoveryIncluded: res.RecoveryIssued,
	}, nil
}

func (f *Facade) CommitActivation(ctx context.Context, req activationpb.CommitActivationRequest) (activationpb.CommitActivationResponse, error) {
	res, err := f.Activation.Commit(ctx, req.ActivationID, req.ExternalUserID)
	if err != nil {
		return activationpb.CommitActivationResponse{}, err
	}
	return activationpb.CommitActivationResponse{Activated: res.Activated}, nil
}

func (f *Facade) BlockActivation(ctx context.Context, req activationpb.BlockActivationRequest) error {
	return f.Activation.Block(ctx, req.ActivationID, req.Reason)
}

func (f *Facade) UnblockActivation(ctx context.Context, req activationpb.UnblockActivationRequest) error {
	return f.Activation.Unblock(ctx, req.ActivationID)
}

func (f *Facade) RemoveActivation(ctx context.Context, req activationpb.RemoveActivationRequest) error {
	return f.Activation.Remove(ctx, req.ActivationID)
}

func (f *Facade) GetStatus(ctx context.Context, req activationpb.GetStatusRequest) (activationpb.GetStatusResponse, error) {
	challenge, err := decodeB64(req.Challenge)
	if err != nil {
		return activationpb.GetStatusResponse{}, err
	}
	res, err := f.Activation.GetStatus(ctx, req.ActivationID, challenge)
	if err != nil {
		return activationpb.GetStatusResponse{}, err
	}
	return activationpb.GetStatusResponse{
		EncryptedStatusBlob: encodeB64(res.EncryptedBlob),
		Nonce:               encodeB64(res.Nonce),
		ActivationCode:      res.ActivationCode,
		ActivationSignature: encodeB64(res.ActivationSignature),
		Status:              res.Status.String(),
	}, nil
}

func (f *Facade) GetActivationList(ctx context.Context, req activationpb.GetActivationListRequest) (activationpb.GetActivationListResponse, error) {
	acts, err := f.Activation.GetList(ctx, req.ApplicationID, req.UserID)
	if err != nil {
		return activationpb.GetActivationListResponse{}, err
	}
	out := make([]activationpb.ActivationSummary, 0, len(acts))
	for _, a := range acts {
		out = append(out, activationSummary(a))
	}
	return activationpb.GetActivationListResponse{Activations: out}, nil
}

func (f *Facade) LookupActivations(ctx context.Context, req activationpb.LookupActivationsRequest) (activationpb.ActivationSummary, error) {
	act, err := f.Activation.Lookup(ctx, req.ActivationID)
	if err != nil {
		return activationpb.ActivationSummary{}, err
	}
	return activationSummary(act), nil
}

func (f *Facade) GetActivationHistory(ctx context.Context, req activationpb.GetActivationHistoryRequest) (activationpb.GetActivationHistoryResponse, error) {
	entries, err := f.Activation.GetActivationHistory(ctx, req.ActivationID)
	if err != nil {
		return activationpb.GetActivationHistoryResponse{}, err
	}
	out := make([]activationpb.ActivationHistoryItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyItem(e))
	}
	return activationpb.GetActivationHistoryResponse{History: out}, nil
}

func (f *Facade) UpdateStatusBulk(ctx context.Context, req activationpb.UpdateStatusBulkRequest) error {
	status, err := parseStatus(req.Status)
	if err != nil {
		return err
	}
	return f.Activation.UpdateStatusBulk(ctx, req.ActivationIDs, status, req.Reason)
}

// StartUpgrade and CommitUpgrade implement §6's startUpgrade/commitUpgrade,
// the two halves of the protocol v2->v3 handshake (internal/activation/upgrade.go).
func (f *Facade) StartUpgrade(ctx context.Context, activationID string) (activationpb.StartUpgradeResponse, error) {
	ctrData, err := f.Activation.StartUpgrade(ctx, activationID)
	if err != nil {
		return activationpb.StartUpgradeResponse{}, err
	}
	return activationpb.StartUpgradeResponse{CtrData: encodeB64(ctrData)}, nil
}

func (f *Facade) CommitUpgrade(ctx context.Context, activationID string) error {
	return f.Activation.CommitUpgrade(ctx, activationID)
}
