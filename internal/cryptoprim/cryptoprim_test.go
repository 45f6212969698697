package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCBCRoundTrip(t *testing.T) {
	key, err := RandBytes(16)
	require.NoError(t, err)
	iv, err := RandBytes(16)
	require.NoError(t, err)

	plaintext := []byte("activation layer-2 payload")
	ciphertext, err := CBCEncrypt(plaintext, key, iv)
	require.NoError(t, err)

	got, err := CBCDecrypt(ciphertext, key, iv)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestCBCDecryptTamperedCiphertextDoesNotYieldPlaintext(t *testing.T) {
	key, _ := RandBytes(16)
	iv, _ := RandBytes(16)
	ciphertext, err := CBCEncrypt([]byte("hello world"), key, iv)
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF
	got, err := CBCDecrypt(ciphertext, key, iv)
	// Tampering may or may not trip the PKCS7 padding check depending on
	// which byte flips, but it never yields the original plaintext; the
	// ECIES engine is what guarantees detection via the MAC.
	if err == nil {
		require.NotEqual(t, []byte("hello world"), got)
	}
}

func TestKDFX963Deterministic(t *testing.T) {
	z := []byte("shared-secret")
	info := []byte("/pa/activation")

	a := KDFX963(z, info, 48)
	b := KDFX963(z, info, 48)
	require.Equal(t, a, b)
	require.Len(t, a, 48)

	other := KDFX963(z, []byte("/pa/generic/application"), 48)
	require.NotEqual(t, a, other)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("abcd")))
}

func TestAdvanceHashCounterIsDeterministicAndChains(t *testing.T) {
	seed := make([]byte, 16)
	next1 := AdvanceHashCounter(seed)
	next1b := AdvanceHashCounter(seed)
	require.Equal(t, next1, next1b)

	next2 := AdvanceHashCounter(next1)
	require.NotEqual(t, next1, next2)
	require.Len(t, next2, 16)
}

func TestECDHRoundTrip(t *testing.T) {
	serverPriv, err := GenerateP256KeyPair()
	require.NoError(t, err)
	devicePriv, err := GenerateP256KeyPair()
	require.NoError(t, err)

	z1, err := ECDH(serverPriv, devicePriv.PublicKey())
	require.NoError(t, err)
	z2, err := ECDH(devicePriv, serverPriv.PublicKey())
	require.NoError(t, err)
	require.Equal(t, z1, z2)
}

func TestPublicKeyCompressedRoundTrip(t *testing.T) {
	priv, err := GenerateP256KeyPair()
	require.NoError(t, err)

	compressed, err := MarshalPublicKeyCompressed(priv.PublicKey())
	require.NoError(t, err)
	require.Len(t, compressed, 33)

	parsed, err := ParsePublicKeyCompressed(compressed)
	require.NoError(t, err)
	require.Equal(t, priv.PublicKey().Bytes(), parsed.Bytes())
}

func TestECDSASignVerify(t *testing.T) {
	priv, err := GenerateECDSAP256KeyPair()
	require.NoError(t, err)

	data := []byte("AAAAA-BBBBB-CCCCC-DDDDE")
	sig, err := SignECDSA(priv, data)
	require.NoError(t, err)
	require.True(t, VerifyECDSA(&priv.PublicKey, data, sig))
	require.False(t, VerifyECDSA(&priv.PublicKey, []byte("tampered"), sig))
}

func TestHashPUKVerify(t *testing.T) {
	hash, err := HashPUK("1234")
	require.NoError(t, err)
	require.True(t, VerifyPUK(hash, "1234"))
	require.False(t, VerifyPUK(hash, "4321"))
}
