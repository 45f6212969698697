package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/config"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/signature"
	"github.com/powerauth/activationserver/internal/store"
	"github.com/powerauth/activationserver/internal/store/memstore"
)

var appSecret = []byte("unit-test-app-secret")

// newTestService wires a Service against an in-memory store, with one
// application and master key pair already provisioned, the same
// fixture shape cmd/activationserver's provisioning RPCs build at
// runtime.
func newTestService(t *testing.T, cfg config.Activation) (*Service, string) {
	t.Helper()
	ctx := context.Background()

	s := memstore.New()
	codec := keyvault.New(bytes.Repeat([]byte{0x42}, 32), keyvault.AESHMAC)
	svc := New(s, codec, cfg, nil)

	appID := store.NewOpaqueID(8)
	require.NoError(t, s.CreateApplication(ctx, store.Application{ID: appID, Name: "test-app"}))

	priv, err := cryptoprim.GenerateECDSAP256KeyPair()
	require.NoError(t, err)
	der, err := cryptoprim.MarshalECDSAPrivateKey(priv)
	require.NoError(t, err)
	rec, err := codec.Encrypt(keyvault.MasterKeyContext(appID), der)
	require.NoError(t, err)
	require.NoError(t, s.CreateMasterKeyPair(ctx, store.MasterKeyPair{
		ID:                  store.NewOpaqueID(8),
		ApplicationID:       appID,
		MasterPrivateKeyRec: store.EncryptedBlob{Mode: string(rec.Mode), Ciphertext: rec.Ciphertext},
		MasterPublicKey:     cryptoprim.MarshalECDSAPublicKeyCompressed(&priv.PublicKey),
		CreatedAt:           time.Now(),
	}))

	return svc, appID
}

// deviceEncryptLayer2 simulates the device side of a prepare/create
// request: generate an ephemeral key pair, derive the envelope key
// against serverPub, and encrypt the layer-2 JSON payload.
func deviceEncryptLayer2(t *testing.T, serverPub []byte, devicePub []byte, activationName string) ecies.Cryptogram {
	t.Helper()

	pub, err := cryptoprim.ParsePublicKeyCompressed(serverPub)
	require.NoError(t, err)

	ephemeralPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	z, err := cryptoprim.ECDH(ephemeralPriv, pub)
	require.NoError(t, err)

	sharedInfo1 := ecies.ScopeActivationLayer2.SharedInfo1()
	sharedInfo2 := ecies.SharedInfo2Activation(appSecret, nil)
	kEnc, kMac, iv := cryptoprim.DeriveEnvelopeKey(z, sharedInfo1)

	plaintext, err := json.Marshal(struct {
		DevicePublicKey string `json:"devicePublicKey"`
		ActivationName  string `json:"activationName"`
	}{encodeBase64(devicePub), activationName})
	require.NoError(t, err)

	ciphertext, err := cryptoprim.CBCEncrypt(plaintext, kEnc, iv)
	require.NoError(t, err)
	mac := cryptoprim.HMACSHA256(kMac, ciphertext, sharedInfo2)

	ephemeralPub, err := cryptoprim.MarshalPublicKeyCompressed(ephemeralPriv.PublicKey())
	require.NoError(t, err)

	return ecies.Cryptogram{EphemeralPublicKey: ephemeralPub, MAC: mac, EncryptedData: ciphertext}
}

func devicePublicKey(t *testing.T) []byte {
	t.Helper()
	priv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	pub, err := cryptoprim.MarshalPublicKeyCompressed(priv.PublicKey())
	require.NoError(t, err)
	return pub
}

func TestActivationHappyPath(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Activation
	svc, appID := newTestService(t, cfg)

	initRes, err := svc.Init(ctx, appID, "user-1", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, initRes.ActivationID)
	require.NotEmpty(t, initRes.ActivationCode)

	act, err := svc.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCreated, act.Status)

	engine, err := svc.EngineForLayerTwo(act, appSecret)
	require.NoError(t, err)

	devicePub := devicePublicKey(t)
	cryptogram := deviceEncryptLayer2(t, act.ServerPublicKey, devicePub, "my pixel")

	prepRes, err := svc.Prepare(ctx, appID, initRes.ActivationCode, engine, cryptogram, ecies.V30)
	require.NoError(t, err)
	require.True(t, prepRes.RecoveryIssued)
	require.NotEmpty(t, prepRes.Layer2.RecoveryCode)
	require.NotEmpty(t, prepRes.Layer2.RecoveryPUK)
	require.Equal(t, store.StatusOTPUsed, prepRes.Activation.Status)

	commitRes, err := svc.Commit(ctx, initRes.ActivationID, nil)
	require.NoError(t, err)
	require.True(t, commitRes.Activated)

	act, err = svc.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, act.Status)

	code, err := svc.Store.GetRecoveryCodeByActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	require.Equal(t, store.RecoveryActive, code.Status)
}

func TestPrepareRejectsExpiredActivation(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Activation
	svc, appID := newTestService(t, cfg)

	past := time.Now().Add(-time.Hour)
	initRes, err := svc.Init(ctx, appID, "user-1", nil, &past)
	require.NoError(t, err)

	act, err := svc.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	engine, err := svc.EngineForLayerTwo(act, appSecret)
	require.NoError(t, err)

	cryptogram := deviceEncryptLayer2(t, act.ServerPublicKey, devicePublicKey(t), "late device")
	_, err = svc.Prepare(ctx, appID, initRes.ActivationCode, engine, cryptogram, ecies.V30)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.ActivationExpired))

	act, err = svc.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusRemoved, act.Status)
}

func TestBlockUnblockLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, appID := newTestService(t, config.Default().Activation)
	activationID := activateFixture(t, svc, appID)

	require.NoError(t, svc.Block(ctx, activationID, "SUSPICIOUS_DEVICE"))
	act, err := svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusBlocked, act.Status)
	require.Equal(t, "SUSPICIOUS_DEVICE", act.BlockedReason)

	// blocking an already-blocked activation is idempotent
	require.NoError(t, svc.Block(ctx, activationID, "SUSPICIOUS_DEVICE"))

	require.NoError(t, svc.Unblock(ctx, activationID))
	act, err = svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, act.Status)
	require.Equal(t, uint64(0), act.FailedAttempts)
	require.Empty(t, act.BlockedReason)
}

func TestRemoveActivationKeepsRecoveryWhileValidPUKRemains(t *testing.T) {
	ctx := context.Background()
	svc, appID := newTestService(t, config.Default().Activation)
	activationID := activateFixture(t, svc, appID)

	require.NoError(t, svc.Remove(ctx, activationID))
	act, err := svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusRemoved, act.Status)

	// The fixture's recovery code still has its one PUK VALID, so removal
	// leaves the code ACTIVE rather than REVOKED.
	code, err := svc.Store.GetRecoveryCodeByActivation(ctx, activationID)
	require.NoError(t, err)
	require.Equal(t, store.RecoveryActive, code.Status)
}

func TestVerifyOnlineSignatureBlocksAfterMaxFailedAttempts(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Activation
	cfg.DefaultMaxFailedAttempts = 3
	svc, appID := newTestService(t, cfg)
	activationID := activateFixture(t, svc, appID)

	verifier := signature.New(cfg.SignatureValidationLookahead)

	for i := 0; i < 3; i++ {
		ok, err := svc.VerifyOnlineSignature(ctx, activationID, []byte("request body"), []byte("wrong-signature"), verifier)
		require.NoError(t, err)
		require.False(t, ok)
	}

	act, err := svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusBlocked, act.Status)
	require.Equal(t, "MAX_FAILED_ATTEMPTS", act.BlockedReason)

	_, err = svc.VerifyOnlineSignature(ctx, activationID, []byte("request body"), []byte("anything"), verifier)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.ActivationIncorrectState))
}

func TestVerifyOnlineSignatureSucceedsAndResetsFailedAttempts(t *testing.T) {
	ctx := context.Background()
	svc, appID := newTestService(t, config.Default().Activation)
	activationID := activateFixture(t, svc, appID)

	act, err := svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	transportKey, err := svc.DeriveTransportKey(act)
	require.NoError(t, err)

	verifier := signature.New(20)
	data := []byte("POST&/pa/signature/validate&body")
	sigKey := cryptoprim.HMACSHA256(transportKey, act.CtrData)
	sig := cryptoprim.HMACSHA256(sigKey, data)

	// burn one failed attempt first
	ok, err := svc.VerifyOnlineSignature(ctx, activationID, data, []byte("wrong"), verifier)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.VerifyOnlineSignature(ctx, activationID, data, sig, verifier)
	require.NoError(t, err)
	require.True(t, ok)

	act, err = svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), act.FailedAttempts)
}

func TestUpgradeHandshake(t *testing.T) {
	ctx := context.Background()
	svc, appID := newTestService(t, config.Default().Activation)
	activationID := activateFixture(t, svc, appID)

	act, err := svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	act.Version = 2
	act.Counter = 41
	_, err = svc.Store.UpdateActivation(ctx, activationID, func(store.Activation) (store.Activation, error) {
		return act, nil
	})
	require.NoError(t, err)

	ctrData, err := svc.StartUpgrade(ctx, activationID)
	require.NoError(t, err)
	require.Len(t, ctrData, 16)

	require.NoError(t, svc.CommitUpgrade(ctx, activationID))
	act, err = svc.Store.GetActivation(ctx, activationID)
	require.NoError(t, err)
	require.Equal(t, 3, act.Version)
	require.Equal(t, ctrData, act.CtrData)
}

// activateFixture drives a fresh activation all the way to ACTIVE and
// returns its activation_id, for tests whose focus is a later-lifecycle
// operation.
func activateFixture(t *testing.T, svc *Service, appID string) string {
	t.Helper()
	ctx := context.Background()

	initRes, err := svc.Init(ctx, appID, "user-1", nil, nil)
	require.NoError(t, err)

	act, err := svc.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	engine, err := svc.EngineForLayerTwo(act, appSecret)
	require.NoError(t, err)

	cryptogram := deviceEncryptLayer2(t, act.ServerPublicKey, devicePublicKey(t), "fixture device")
	_, err = svc.Prepare(ctx, appID, initRes.ActivationCode, engine, cryptogram, ecies.V30)
	require.NoError(t, err)

	_, err = svc.Commit(ctx, initRes.ActivationID, nil)
	require.NoError(t, err)

	return initRes.ActivationID
}
