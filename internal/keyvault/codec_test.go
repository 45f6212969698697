package keyvault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAESHMACRoundTrip(t *testing.T) {
	codec := New([]byte("0123456789abcdef0123456789abcdef"), AESHMAC)
	ctx := ServerKeyContext("user-1", "activation-1")
	plaintext := []byte("server-private-key-bytes")

	rec, err := codec.Encrypt(ctx, plaintext)
	require.NoError(t, err)
	require.Equal(t, AESHMAC, rec.Mode)
	require.NotEqual(t, plaintext, rec.Ciphertext)

	got, err := codec.Decrypt(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestAESHMACWrongContextFails(t *testing.T) {
	codec := New([]byte("0123456789abcdef0123456789abcdef"), AESHMAC)
	rec, err := codec.Encrypt(ServerKeyContext("user-1", "activation-1"), []byte("secret"))
	require.NoError(t, err)

	_, err = codec.Decrypt(ServerKeyContext("user-1", "activation-2"), rec)
	require.Error(t, err)
}

func TestNoEncryptionModeIsPassthroughButHonorsStoredMode(t *testing.T) {
	plainCodec := New([]byte("masterkeymasterkeymasterkeymaster"), NoEncryption)
	ctx := ServerKeyContext("u", "a")
	rec, err := plainCodec.Encrypt(ctx, []byte("plain"))
	require.NoError(t, err)
	require.Equal(t, NoEncryption, rec.Mode)

	// Even if the codec's default mode later changes to AES_HMAC, a
	// record stored as NO_ENCRYPTION must still decrypt via its own
	// stored mode.
	laterCodec := New([]byte("masterkeymasterkeymasterkeymaster"), AESHMAC)
	got, err := laterCodec.Decrypt(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, []byte("plain"), got)
}

func TestPUKContextBinding(t *testing.T) {
	codec := New([]byte("masterkeymasterkeymasterkeymaster"), AESHMAC)
	ctx := PUKContext("app-1", "user-1", "AAAAA-BBBBB-CCCCC-DDDDE", 1)
	rec, err := codec.Encrypt(ctx, []byte("puk-hash-bytes"))
	require.NoError(t, err)

	_, err = codec.Decrypt(PUKContext("app-1", "user-1", "AAAAA-BBBBB-CCCCC-DDDDE", 2), rec)
	require.Error(t, err)

	got, err := codec.Decrypt(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, []byte("puk-hash-bytes"), got)
}
