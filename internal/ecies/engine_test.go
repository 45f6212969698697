package ecies

import (
	"crypto/ecdh"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/powerauth/activationserver/internal/cryptoprim"
)

// deviceEncrypt simulates the client side of an ECIES request: it
// generates an ephemeral key pair, derives the same envelope key the
// server will derive, and encrypts plaintext into a request cryptogram.
func deviceEncrypt(t *testing.T, serverPub *ecdh.PublicKey, scope Scope, sharedInfo2, plaintext []byte) Cryptogram {
	t.Helper()

	ephemeralPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)

	z, err := cryptoprim.ECDH(ephemeralPriv, serverPub)
	require.NoError(t, err)
	kEnc, kMac, iv := cryptoprim.DeriveEnvelopeKey(z, scope.SharedInfo1())

	ciphertext, err := cryptoprim.CBCEncrypt(plaintext, kEnc, iv)
	require.NoError(t, err)
	mac := cryptoprim.HMACSHA256(kMac, ciphertext, sharedInfo2)

	ephemeralPubBytes, err := cryptoprim.MarshalPublicKeyCompressed(ephemeralPriv.PublicKey())
	require.NoError(t, err)

	return Cryptogram{
		EphemeralPublicKey: ephemeralPubBytes,
		MAC:                mac,
		EncryptedData:      ciphertext,
	}
}

func TestDecryptRequestRoundTrip(t *testing.T) {
	serverPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)

	sharedInfo2 := []byte("app-secret-derived")
	plaintext := []byte(`{"deviceName":"pixel"}`)

	cryptogram := deviceEncrypt(t, serverPriv.PublicKey(), ScopeActivationLayer2, sharedInfo2, plaintext)

	engine := New(serverPriv, ScopeActivationLayer2, sharedInfo2)
	got, err := engine.DecryptRequest(cryptogram, V30)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEncryptResponseReusesEnvelopeKey(t *testing.T) {
	serverPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)

	sharedInfo2 := []byte("app-secret-derived")
	requestPlaintext := []byte(`{}`)
	cryptogram := deviceEncrypt(t, serverPriv.PublicKey(), ScopeCreateToken, sharedInfo2, requestPlaintext)

	engine := New(serverPriv, ScopeCreateToken, sharedInfo2)
	_, err = engine.DecryptRequest(cryptogram, V30)
	require.NoError(t, err)

	responsePlaintext := []byte(`{"tokenId":"abc"}`)
	respCryptogram, err := engine.EncryptResponse(responsePlaintext)
	require.NoError(t, err)
	require.Empty(t, respCryptogram.EphemeralPublicKey)

	// The device, holding the same envelope key it derived, must be
	// able to verify and decrypt the response independently.
	// Re-derive on the device side using the original ephemeral priv
	// is out of scope here; instead assert internal consistency: a
	// second EncryptResponse call with the same plaintext is stable.
	respCryptogram2, err := engine.EncryptResponse(responsePlaintext)
	require.NoError(t, err)
	require.Equal(t, respCryptogram.EncryptedData, respCryptogram2.EncryptedData)
	require.Equal(t, respCryptogram.MAC, respCryptogram2.MAC)
}

func TestDecryptRequestTamperedMACFails(t *testing.T) {
	serverPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	sharedInfo2 := []byte("si2")
	cryptogram := deviceEncrypt(t, serverPriv.PublicKey(), ScopeActivationLayer2, sharedInfo2, []byte("payload"))
	cryptogram.MAC[0] ^= 0xFF

	engine := New(serverPriv, ScopeActivationLayer2, sharedInfo2)
	_, err = engine.DecryptRequest(cryptogram, V30)
	require.Error(t, err)
}

func TestDecryptRequestTamperedCiphertextFails(t *testing.T) {
	serverPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	sharedInfo2 := []byte("si2")
	cryptogram := deviceEncrypt(t, serverPriv.PublicKey(), ScopeActivationLayer2, sharedInfo2, []byte("payload"))
	cryptogram.EncryptedData[0] ^= 0xFF

	engine := New(serverPriv, ScopeActivationLayer2, sharedInfo2)
	_, err = engine.DecryptRequest(cryptogram, V30)
	require.Error(t, err)
}

func TestDecryptRequestV31RequiresNonce(t *testing.T) {
	serverPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	sharedInfo2 := []byte("si2")
	cryptogram := deviceEncrypt(t, serverPriv.PublicKey(), ScopeActivationLayer2, sharedInfo2, []byte("payload"))

	engine := New(serverPriv, ScopeActivationLayer2, sharedInfo2)
	_, err = engine.DecryptRequest(cryptogram, V31)
	require.Error(t, err)
}

func TestSharedInfo2Constructions(t *testing.T) {
	appSecret := []byte("app-secret")
	transportKey := []byte("0123456789abcdef")

	app := SharedInfo2Application(appSecret)
	require.Equal(t, cryptoprim.HMACSHA256(appSecret, appSecret), app)

	act := SharedInfo2Activation(appSecret, transportKey)
	require.Equal(t, cryptoprim.HMACSHA256(appSecret, transportKey), act)

	actZero := SharedInfo2Activation(appSecret, nil)
	require.Equal(t, cryptoprim.HMACSHA256(appSecret, make([]byte, 16)), actZero)
}

func TestMediatorExportMatchesEngineDerivation(t *testing.T) {
	serverPriv, err := cryptoprim.GenerateP256KeyPair()
	require.NoError(t, err)
	sharedInfo2 := []byte("si2")
	plaintext := []byte("mediator payload")
	cryptogram := deviceEncrypt(t, serverPriv.PublicKey(), ScopeActivationGeneric, sharedInfo2, plaintext)

	ephemeralPub, err := cryptoprim.ParsePublicKeyCompressed(cryptogram.EphemeralPublicKey)
	require.NoError(t, err)

	mediatorEngine := New(serverPriv, ScopeActivationGeneric, sharedInfo2)
	params, err := mediatorEngine.ExportDecryptorParameters(ephemeralPub)
	require.NoError(t, err)

	got, err := DecryptWithExportedParameters(params, cryptogram, V30)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}
