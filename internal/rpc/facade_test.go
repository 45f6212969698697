package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/powerauth/activationserver/internal/activation"
	"github.com/powerauth/activationserver/internal/config"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/recovery"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
	"github.com/powerauth/activationserver/internal/signature"
	"github.com/powerauth/activationserver/internal/store"
	"github.com/powerauth/activationserver/internal/store/memstore"
	"github.com/powerauth/activationserver/internal/token"
)

type facadeFixture struct {
	f              *Facade
	applicationID  string
	applicationKey string
	appSecret      []byte
}

func newFacadeFixture(t *testing.T) facadeFixture {
	t.Helper()
	ctx := context.Background()

	s := memstore.New()
	codec := keyvault.New(bytes.Repeat([]byte{0x13}, 32), keyvault.AESHMAC)
	cfg := config.Default().Activation

	actSvc := activation.New(s, codec, cfg, nil)
	tokSvc := token.New(s, cfg)
	recSvc := recovery.New(s, codec, actSvc)
	sigVerifier := signature.New(cfg.SignatureValidationLookahead)
	facade := New(s, actSvc, tokSvc, recSvc, sigVerifier, cfg)

	appID := store.NewOpaqueID(8)
	require.NoError(t, s.CreateApplication(ctx, store.Application{ID: appID, Name: "facade-test-app"}))

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

	appKey := "facade-test-application-key"
	appSecret := []byte("facade-test-application-secret-32byte")
	require.NoError(t, s.CreateApplicationVersion(ctx, store.ApplicationVersion{
		ID:                store.NewOpaqueID(8),
		ApplicationID:     appID,
		ApplicationKey:    appKey,
		ApplicationSecret: string(appSecret),
		Supported:         true,
	}))

	return facadeFixture{f: facade, applicationID: appID, applicationKey: appKey, appSecret: appSecret}
}

// deviceSide holds the ephemeral key material the "device" retains
// across a request/response round trip so it can decrypt the server's
// response under the same envelope key it derived for the request.
type deviceSide struct {
	kEnc, kMac, iv []byte
}

// encryptLayer2Request builds the wire-shaped EciesCryptogram for a
// prepare/create request against serverPub, and returns the envelope
// key material needed to decrypt the matching response.
func encryptLayer2Request(t *testing.T, serverPub, appSecret []byte, devicePub []byte, activationName string) (activationpb.EciesCryptogram, deviceSide) {
	t.Helper()

	pub, err := cryptoprim.ParsePublicKeyCompressed(serverPub)
	require.NoError(t, err)
	ephemeralPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	z, err := cryptoprim.ECDH(ephemeralPriv, pub)
	require.NoError(t, err)

	sharedInfo2 := ecies.SharedInfo2Activation(appSecret, nil)
	kEnc, kMac, iv := cryptoprim.DeriveEnvelopeKey(z, ecies.ScopeActivationLayer2.SharedInfo1())

	plaintext := []byte(`{"devicePublicKey":"` + base64.StdEncoding.EncodeToString(devicePub) + `","activationName":"` + activationName + `"}`)
	ciphertext, err := cryptoprim.CBCEncrypt(plaintext, kEnc, iv)
	require.NoError(t, err)
	mac := cryptoprim.HMACSHA256(kMac, ciphertext, sharedInfo2)
	ephemeralPub, err := cryptoprim.MarshalPublicKeyCompressed(ephemeralPriv.PublicKey())
	require.NoError(t, err)

	wire := activationpb.EciesCryptogram{
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(ephemeralPub),
		EncryptedData:      base64.StdEncoding.EncodeToString(ciphertext),
		MAC:                base64.StdEncoding.EncodeToString(mac),
	}
	return wire, deviceSide{kEnc: kEnc, kMac: kMac, iv: iv}
}

// decryptResponse decrypts a server EciesCryptogram response reusing
// ds's cached envelope key, mirroring how a device reuses the request
// IV/key pair to read the matching response (§4.7).
func decryptResponse(t *testing.T, ds deviceSide, w activationpb.EciesCryptogram) []byte {
	t.Helper()
	ciphertext, err := base64.StdEncoding.DecodeString(w.EncryptedData)
	require.NoError(t, err)
	plaintext, err := cryptoprim.CBCDecrypt(ciphertext, ds.kEnc, ds.iv)
	require.NoError(t, err)
	return plaintext
}

func TestFacadeActivationLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	fx := newFacadeFixture(t)

	initRes, err := fx.f.InitActivation(ctx, activationpb.InitActivationRequest{
		ApplicationID: fx.applicationID,
		UserID:        "user-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, initRes.ActivationCode)

	act, err := fx.f.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)

	devicePriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	devicePub, err := cryptoprim.MarshalPublicKeyCompressed(devicePriv.PublicKey())
	require.NoError(t, err)

	cryptogram, ds := encryptLayer2Request(t, act.ServerPublicKey, fx.appSecret, devicePub, "integration device")
	prepRes, err := fx.f.PrepareActivation(ctx, activationpb.PrepareActivationRequest{
		ActivationCode: initRes.ActivationCode,
		ApplicationKey: fx.applicationKey,
		Cryptogram:     cryptogram,
	})
	require.NoError(t, err)
	require.Equal(t, initRes.ActivationID, prepRes.ActivationID)

	plaintext := decryptResponse(t, ds, prepRes.Cryptogram)
	require.Contains(t, string(plaintext), `"activationId"`)

	commitRes, err := fx.f.CommitActivation(ctx, activationpb.CommitActivationRequest{ActivationID: initRes.ActivationID})
	require.NoError(t, err)
	require.True(t, commitRes.Activated)

	act, err = fx.f.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, act.Status)

	require.NoError(t, fx.f.BlockActivation(ctx, activationpb.BlockActivationRequest{ActivationID: initRes.ActivationID, Reason: "LOST_DEVICE"}))
	statusRes, err := fx.f.GetStatus(ctx, activationpb.GetStatusRequest{ActivationID: initRes.ActivationID})
	require.NoError(t, err)
	require.Equal(t, "BLOCKED", statusRes.Status)

	require.NoError(t, fx.f.UnblockActivation(ctx, activationpb.UnblockActivationRequest{ActivationID: initRes.ActivationID}))
	statusRes, err = fx.f.GetStatus(ctx, activationpb.GetStatusRequest{ActivationID: initRes.ActivationID})
	require.NoError(t, err)
	require.Equal(t, "ACTIVE", statusRes.Status)

	historyRes, err := fx.f.GetActivationHistory(ctx, activationpb.GetActivationHistoryRequest{ActivationID: initRes.ActivationID})
	require.NoError(t, err)
	require.NotEmpty(t, historyRes.History)

	require.NoError(t, fx.f.RemoveActivation(ctx, activationpb.RemoveActivationRequest{ActivationID: initRes.ActivationID}))
	act, err = fx.f.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusRemoved, act.Status)
}

func TestFacadeTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	fx := newFacadeFixture(t)

	initRes, err := fx.f.InitActivation(ctx, activationpb.InitActivationRequest{ApplicationID: fx.applicationID, UserID: "user-2"})
	require.NoError(t, err)

	act, err := fx.f.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)
	devicePriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	devicePub, err := cryptoprim.MarshalPublicKeyCompressed(devicePriv.PublicKey())
	require.NoError(t, err)
	cryptogram, _ := encryptLayer2Request(t, act.ServerPublicKey, fx.appSecret, devicePub, "token device")

	_, err = fx.f.PrepareActivation(ctx, activationpb.PrepareActivationRequest{
		ActivationCode: initRes.ActivationCode, ApplicationKey: fx.applicationKey, Cryptogram: cryptogram,
	})
	require.NoError(t, err)
	_, err = fx.f.CommitActivation(ctx, activationpb.CommitActivationRequest{ActivationID: initRes.ActivationID})
	require.NoError(t, err)

	act, err = fx.f.Store.GetActivation(ctx, initRes.ActivationID)
	require.NoError(t, err)

	transportKey, err := fx.f.Activation.DeriveTransportKey(act)
	require.NoError(t, err)
	pub, err := cryptoprim.ParsePublicKeyCompressed(act.ServerPublicKey)
	require.NoError(t, err)
	ephemeralPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	z, err := cryptoprim.ECDH(ephemeralPriv, pub)
	require.NoError(t, err)
	sharedInfo2 := ecies.SharedInfo2Activation(fx.appSecret, transportKey)
	kEnc, kMac, iv := cryptoprim.DeriveEnvelopeKey(z, ecies.ScopeCreateToken.SharedInfo1())
	reqPlaintext := []byte(`{}`)
	ciphertext, err := cryptoprim.CBCEncrypt(reqPlaintext, kEnc, iv)
	require.NoError(t, err)
	mac := cryptoprim.HMACSHA256(kMac, ciphertext, sharedInfo2)
	ephemeralPub, err := cryptoprim.MarshalPublicKeyCompressed(ephemeralPriv.PublicKey())
	require.NoError(t, err)

	createRes, err := fx.f.CreateToken(ctx, fx.applicationKey, activationpb.CreateTokenRequest{
		ActivationID: initRes.ActivationID,
		Cryptogram: activationpb.EciesCryptogram{
			EphemeralPublicKey: base64.StdEncoding.EncodeToString(ephemeralPub),
			EncryptedData:      base64.StdEncoding.EncodeToString(ciphertext),
			MAC:                base64.StdEncoding.EncodeToString(mac),
		},
		SignatureType: "possession",
	})
	require.NoError(t, err)

	respCiphertext, err := base64.StdEncoding.DecodeString(createRes.Cryptogram.EncryptedData)
	require.NoError(t, err)
	respPlaintext, err := cryptoprim.CBCDecrypt(respCiphertext, kEnc, iv)
	require.NoError(t, err)
	require.Contains(t, string(respPlaintext), "\n")

	parts := bytes.SplitN(respPlaintext, []byte("\n"), 2)
	require.Len(t, parts, 2)
	tokenID, tokenSecret := string(parts[0]), parts[1]

	nonce := []byte("abcdefghij012345")
	digest := cryptoprim.HMACSHA256(tokenSecret, nonce, []byte("1700000000000"))
	validateRes, err := fx.f.ValidateToken(ctx, activationpb.ValidateTokenRequest{
		TokenID: tokenID, Nonce: base64.StdEncoding.EncodeToString(nonce), TimestampMillis: 1700000000000,
		Digest: base64.StdEncoding.EncodeToString(digest),
	})
	require.NoError(t, err)
	require.True(t, validateRes.Valid)
	require.Equal(t, initRes.ActivationID, validateRes.ActivationID)

	require.NoError(t, fx.f.RemoveToken(ctx, activationpb.RemoveTokenRequest{TokenID: tokenID, ActivationID: initRes.ActivationID}))
	_, err = fx.f.Store.GetToken(ctx, tokenID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFacadeSystemStatusAndErrorCodeList(t *testing.T) {
	fx := newFacadeFixture(t)

	status := fx.f.GetSystemStatus()
	require.Equal(t, "OK", status["status"])
	require.NotEmpty(t, status["timestamp"])

	codes := fx.f.GetErrorCodeListResponse()
	require.NotEmpty(t, codes.ErrorCodes)
	require.Contains(t, codes.ErrorCodes, "ACTIVATION_NOT_FOUND")
}

func TestFacadePrepareActivationRejectsUnknownApplicationKey(t *testing.T) {
	ctx := context.Background()
	fx := newFacadeFixture(t)

	_, err := fx.f.PrepareActivation(ctx, activationpb.PrepareActivationRequest{
		ActivationCode: "ANYTHING",
		ApplicationKey: "not-a-real-key",
	})
	require.Error(t, err)
}
