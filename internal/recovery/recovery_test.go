package recovery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/powerauth/activationserver/internal/activation"
	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/config"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/store"
	"github.com/powerauth/activationserver/internal/store/memstore"
)

var appSecret = []byte("unit-test-app-secret")

type fixture struct {
	store     store.Storage
	codec     *keyvault.Codec
	actSvc    *activation.Service
	recSvc    *Service
	appID     string
	masterPub []byte
}

func newFixture(t *testing.T, cfg config.Activation) fixture {
	t.Helper()
	ctx := context.Background()

	s := memstore.New()
	codec := keyvault.New(bytes.Repeat([]byte{0x77}, 32), keyvault.AESHMAC)
	actSvc := activation.New(s, codec, cfg, nil)
	recSvc := New(s, codec, actSvc)

	appID := store.NewOpaqueID(8)
	require.NoError(t, s.CreateApplication(ctx, store.Application{ID: appID, Name: "test-app"}))

	priv, err := cryptoprim.GenerateECDSAP256KeyPair()
	require.NoError(t, err)
	der, err := cryptoprim.MarshalECDSAPrivateKey(priv)
	require.NoError(t, err)
	rec, err := codec.Encrypt(keyvault.MasterKeyContext(appID), der)
	require.NoError(t, err)
	masterPub := cryptoprim.MarshalECDSAPublicKeyCompressed(&priv.PublicKey)
	require.NoError(t, s.CreateMasterKeyPair(ctx, store.MasterKeyPair{
		ID:                  store.NewOpaqueID(8),
		ApplicationID:       appID,
		MasterPrivateKeyRec: store.EncryptedBlob{Mode: string(rec.Mode), Ciphertext: rec.Ciphertext},
		MasterPublicKey:     masterPub,
		CreatedAt:           time.Now(),
	}))

	return fixture{store: s, codec: codec, actSvc: actSvc, recSvc: recSvc, appID: appID, masterPub: masterPub}
}

// activateWithRecovery runs a full init/prepare/commit cycle for
// userID and returns the activation_id plus the recovery code and PUK
// issued along the way (recoveryEnabled must be true in the fixture's
// config).
func (f fixture) activateWithRecovery(t *testing.T, userID string) (activationID, recoveryCode, puk string) {
	t.Helper()
	ctx := context.Background()

	initRes, err := f.actSvc.Init(ctx, f.appID, userID, nil, nil)
	require.NoError(t, err)

	act, err := f.store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	engine, err := f.actSvc.EngineForLayerTwo(act, appSecret)
	require.NoError(t, err)

	devicePriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	devicePub, err := cryptoprim.MarshalPublicKeyCompressed(devicePriv.PublicKey())
	require.NoError(t, err)

	cryptogram := f.encryptLayer2(t, act.ServerPublicKey, devicePub, "recovery-fixture device")
	prepRes, err := f.actSvc.Prepare(ctx, f.appID, initRes.ActivationCode, engine, cryptogram, ecies.V30)
	require.NoError(t, err)
	require.True(t, prepRes.RecoveryIssued)

	_, err = f.actSvc.Commit(ctx, initRes.ActivationID, nil)
	require.NoError(t, err)

	return initRes.ActivationID, prepRes.Layer2.RecoveryCode, prepRes.Layer2.RecoveryPUK
}

func (f fixture) encryptLayer2(t *testing.T, serverPub, devicePub []byte, activationName string) ecies.Cryptogram {
	t.Helper()
	pub, err := cryptoprim.ParsePublicKeyCompressed(serverPub)
	require.NoError(t, err)
	ephemeralPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	z, err := cryptoprim.ECDH(ephemeralPriv, pub)
	require.NoError(t, err)

	sharedInfo2 := ecies.SharedInfo2Activation(appSecret, nil)
	kEnc, kMac, iv := cryptoprim.DeriveEnvelopeKey(z, ecies.ScopeActivationLayer2.SharedInfo1())

	plaintext, err := json.Marshal(struct {
		DevicePublicKey string `json:"devicePublicKey"`
		ActivationName  string `json:"activationName"`
	}{base64.StdEncoding.EncodeToString(devicePub), activationName})
	require.NoError(t, err)

	ciphertext, err := cryptoprim.CBCEncrypt(plaintext, kEnc, iv)
	require.NoError(t, err)
	mac := cryptoprim.HMACSHA256(kMac, ciphertext, sharedInfo2)
	ephemeralPub, err := cryptoprim.MarshalPublicKeyCompressed(ephemeralPriv.PublicKey())
	require.NoError(t, err)

	return ecies.Cryptogram{EphemeralPublicKey: ephemeralPub, MAC: mac, EncryptedData: ciphertext}
}

// newMasterKeyEngineRequest builds the device-side request for a
// create(no activation code) call: the master key pair's compressed
// point reinterpreted as an ECDH public key, per
// activation.Service.EngineForMasterKey.
func (f fixture) newMasterKeyEngineRequest(t *testing.T, devicePub []byte, activationName string) ecies.Cryptogram {
	t.Helper()
	return f.encryptLayer2(t, f.masterPub, devicePub, activationName)
}

func TestCreateViaRecoverySucceedsAndRevokesOldActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Default().Activation)

	oldActivationID, recoveryCode, puk := f.activateWithRecovery(t, "user-1")

	engine, err := f.actSvc.EngineForMasterKey(ctx, f.appID, appSecret)
	require.NoError(t, err)

	newDevicePriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	newDevicePub, err := cryptoprim.MarshalPublicKeyCompressed(newDevicePriv.PublicKey())
	require.NoError(t, err)
	cryptogram := f.newMasterKeyEngineRequest(t, newDevicePub, "replacement device")

	res, err := f.recSvc.CreateViaRecovery(ctx, f.appID, "user-1", recoveryCode, puk, engine, cryptogram, ecies.V30)
	require.NoError(t, err)
	require.NotEmpty(t, res.NewActivationID)
	require.NotEqual(t, oldActivationID, res.NewActivationID)

	newAct, err := f.store.GetActivation(ctx, res.NewActivationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, newAct.Status)

	oldAct, err := f.store.GetActivation(ctx, oldActivationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusRemoved, oldAct.Status)

	code, err := f.store.GetRecoveryCode(ctx, f.appID, recoveryCode)
	require.NoError(t, err)
	require.Equal(t, store.RecoveryRevoked, code.Status)
}

func TestCreateViaRecoveryRejectsWrongPUKAndBlocksAfterLimit(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Activation
	cfg.RecoveryMaxFailedAttempts = 2
	f := newFixture(t, cfg)

	_, recoveryCode, _ := f.activateWithRecovery(t, "user-2")

	engine, err := f.actSvc.EngineForMasterKey(ctx, f.appID, appSecret)
	require.NoError(t, err)
	devicePriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	devicePub, err := cryptoprim.MarshalPublicKeyCompressed(devicePriv.PublicKey())
	require.NoError(t, err)
	cryptogram := f.newMasterKeyEngineRequest(t, devicePub, "attacker device")

	_, err = f.recSvc.CreateViaRecovery(ctx, f.appID, "user-2", recoveryCode, "0000", engine, cryptogram, ecies.V30)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.InvalidRecoveryCode))

	_, err = f.recSvc.CreateViaRecovery(ctx, f.appID, "user-2", recoveryCode, "0000", engine, cryptogram, ecies.V30)
	require.Error(t, err)

	code, err := f.store.GetRecoveryCode(ctx, f.appID, recoveryCode)
	require.NoError(t, err)
	require.Equal(t, store.RecoveryBlocked, code.Status)

	puks, err := f.store.ListRecoveryPUKs(ctx, code.ID)
	require.NoError(t, err)
	require.Len(t, puks, 1)
	require.Equal(t, store.PUKInvalid, puks[0].Status)
}

func TestCreateViaRecoveryUnknownCodeFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Default().Activation)

	engine, err := f.actSvc.EngineForMasterKey(ctx, f.appID, appSecret)
	require.NoError(t, err)
	devicePriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	devicePub, err := cryptoprim.MarshalPublicKeyCompressed(devicePriv.PublicKey())
	require.NoError(t, err)
	cryptogram := f.newMasterKeyEngineRequest(t, devicePub, "device")

	_, err = f.recSvc.CreateViaRecovery(ctx, f.appID, "user-3", "NOSUCHCODE", "1234", engine, cryptogram, ecies.V30)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.InvalidRecoveryCode))
}
