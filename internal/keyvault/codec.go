// Package keyvault implements the key-at-rest codec (§4.3): encryption
// of server private keys and recovery PUK hashes under a process-wide
// master secret, context-bound so a record can only be decrypted with
// the same (application/user/activation/...) tuple it was written
// with. Modelled on the teacher's storage/sql field-level encryption
// service, but tagging records with an explicit mode instead of a
// string prefix, and deriving a context-bound IV via HKDF instead of
// Fernet's random nonce.
package keyvault

import (
	"io"

	"golang.org/x/crypto/hkdf"

	"crypto/sha256"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
)

// EncryptionMode tags how a record's ciphertext field was produced.
// New records are written in whichever mode configuration selects;
// reads always honor the stored mode, never the current configuration,
// so data written before a mode change stays readable.
type EncryptionMode string

const (
	NoEncryption EncryptionMode = "NO_ENCRYPTION"
	AESHMAC      EncryptionMode = "AES_HMAC"
)

// Record is the persisted shape of an at-rest encrypted value.
type Record struct {
	Mode       EncryptionMode
	Ciphertext []byte
}

// Codec encrypts and decrypts Records under a single master secret.
type Codec struct {
	masterSecret []byte
	defaultMode  EncryptionMode
}

// New builds a Codec. defaultMode selects the mode new records are
// written in; masterSecret must be at least 32 bytes.
func New(masterSecret []byte, defaultMode EncryptionMode) *Codec {
	return &Codec{masterSecret: masterSecret, defaultMode: defaultMode}
}

// deriveIVKey derives a 16-byte IV and dedicated content-encryption key
// from the master secret and a context tuple, via HKDF-SHA256. Binding
// the context into the derivation is what makes decrypting a record
// under the wrong context fail instead of silently succeeding.
func (c *Codec) deriveIVKey(context []byte) (key, iv []byte, err error) {
	r := hkdf.New(sha256.New, c.masterSecret, context, []byte("powerauth-key-at-rest"))
	material := make([]byte, 32)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, nil, err
	}
	return material[0:16], material[16:32], nil
}

// Encrypt encrypts plaintext under the codec's default mode and the
// given context tuple (already serialized by the caller, e.g.
// (userID, activationID) for server keys, or
// (applicationID, userID, recoveryCode, pukIndex) for PUKs).
func (c *Codec) Encrypt(context, plaintext []byte) (Record, error) {
	switch c.defaultMode {
	case NoEncryption:
		return Record{Mode: NoEncryption, Ciphertext: plaintext}, nil
	case AESHMAC:
		key, iv, err := c.deriveIVKey(context)
		if err != nil {
			return Record{}, apierror.Wrap(apierror.GenericCryptographyError, err)
		}
		ciphertext, err := cryptoprim.CBCEncrypt(plaintext, key, iv)
		if err != nil {
			return Record{}, apierror.Wrap(apierror.GenericCryptographyError, err)
		}
		return Record{Mode: AESHMAC, Ciphertext: ciphertext}, nil
	default:
		return Record{}, apierror.New(apierror.GenericCryptographyError, "unknown encryption mode")
	}
}

// Decrypt decrypts rec using its own stored mode (never the codec's
// current default) and the given context. A context mismatch — wrong
// user, activation, recovery code or PUK index — fails with
// GENERIC_CRYPTOGRAPHY_ERROR because the derived key/IV will not match
// what the ciphertext was produced with.
func (c *Codec) Decrypt(context []byte, rec Record) ([]byte, error) {
	switch rec.Mode {
	case NoEncryption:
		return rec.Ciphertext, nil
	case AESHMAC:
		key, iv, err := c.deriveIVKey(context)
		if err != nil {
			return nil, apierror.Wrap(apierror.GenericCryptographyError, err)
		}
		plaintext, err := cryptoprim.CBCDecrypt(rec.Ciphertext, key, iv)
		if err != nil {
			return nil, apierror.New(apierror.GenericCryptographyError, "context mismatch or corrupt ciphertext")
		}
		return plaintext, nil
	case "":
		return nil, apierror.New(apierror.GenericCryptographyError, "missing encryption mode")
	default:
		return nil, apierror.New(apierror.GenericCryptographyError, "unknown encryption mode")
	}
}

// ServerKeyContext builds the context tuple for a server private key
// record: bound to (userID, activationID).
func ServerKeyContext(userID, activationID string) []byte {
	return []byte(userID + "\x00" + activationID)
}

// PUKContext builds the context tuple for a recovery PUK hash record:
// bound to (applicationID, userID, recoveryCode, pukIndex).
func PUKContext(applicationID, userID, recoveryCode string, pukIndex int) []byte {
	b := []byte(applicationID + "\x00" + userID + "\x00" + recoveryCode + "\x00")
	b = append(b, byte(pukIndex))
	return b
}

// MasterKeyContext builds the context tuple for a master key pair's
// private key record: bound to applicationID alone, since an
// application has exactly one current master key pair at a time.
func MasterKeyContext(applicationID string) []byte {
	return []byte("master\x00" + applicationID)
}
