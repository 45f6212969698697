// Package ecies implements the scope-parameterized hybrid encryption
// primitive used for every activation and token request/response
// envelope: ephemeral ECDH, an X9.63 key schedule, and encrypt-then-MAC
// with AES-128-CBC and HMAC-SHA256.
package ecies

import (
	"crypto/ecdh"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
)

// ProtocolVersion selects the request IV derivation rule.
type ProtocolVersion int

const (
	V30 ProtocolVersion = iota // IV = envelope iv
	V31                        // IV = KDF(envelope iv || nonce)
)

// envelopeKey is the per-request material derived once from the ECDH
// shared secret and reused by both DecryptRequest and EncryptResponse.
type envelopeKey struct {
	kEnc, kMac, iv []byte
	requestIV      []byte // iv actually used to decrypt the request, after V3.1 derivation
}

// Engine is constructed per request from a static private key, a
// scope's sharedInfo1, and a precomputed sharedInfo2. It caches the
// envelope key derived by DecryptRequest (or InitEnvelopeKey) so a
// subsequent EncryptResponse call on the same instance reuses it.
type Engine struct {
	staticPriv  *ecdh.PrivateKey
	sharedInfo1 []byte
	sharedInfo2 []byte
	key         *envelopeKey
}

// New builds an engine that will decrypt requests addressed to
// staticPriv under the given scope and sharedInfo2.
func New(staticPriv *ecdh.PrivateKey, scope Scope, sharedInfo2 []byte) *Engine {
	return &Engine{staticPriv: staticPriv, sharedInfo1: scope.SharedInfo1(), sharedInfo2: sharedInfo2}
}

// SharedInfo2Activation computes sharedInfo2 for activation-scope
// ECIES: HMAC-SHA256(app_secret, transport_key_or_zero). transportKey
// may be nil for activation-generic/layer-2 contexts established
// before a transport key exists (e.g. prepare), in which case a
// 16-zero-byte placeholder is used, bit-exactly matching the wire
// protocol.
func SharedInfo2Activation(appSecret, transportKey []byte) []byte {
	if transportKey == nil {
		transportKey = make([]byte, 16)
	}
	return cryptoprim.HMACSHA256(appSecret, transportKey)
}

// SharedInfo2Application computes sharedInfo2 for application-scope
// ECIES: HMAC-SHA256(app_secret, app_secret).
func SharedInfo2Application(appSecret []byte) []byte {
	return cryptoprim.HMACSHA256(appSecret, appSecret)
}

// InitEnvelopeKey derives the envelope key from an ephemeral public key
// without decrypting anything; used by the mediator decryptor export
// (§4.7) where the caller only needs K, not a decrypted payload.
func (e *Engine) InitEnvelopeKey(ephemeralPub *ecdh.PublicKey) error {
	z, err := cryptoprim.ECDH(e.staticPriv, ephemeralPub)
	if err != nil {
		return apierror.Wrap(apierror.DecryptionFailed, err)
	}
	kEnc, kMac, iv := cryptoprim.DeriveEnvelopeKey(z, e.sharedInfo1)
	e.key = &envelopeKey{kEnc: kEnc, kMac: kMac, iv: iv, requestIV: iv}
	return nil
}

// DecryptRequest derives the envelope key from c's ephemeral public
// key, verifies the MAC over (ciphertext || sharedInfo2), and decrypts
// the ciphertext. Any failure collapses to DECRYPTION_FAILED so the
// boundary never reveals which step failed.
func (e *Engine) DecryptRequest(c Cryptogram, version ProtocolVersion) ([]byte, error) {
	pub, err := cryptoprim.ParsePublicKeyCompressed(c.EphemeralPublicKey)
	if err != nil {
		return nil, apierror.New(apierror.DecryptionFailed, "invalid ephemeral public key")
	}
	z, err := cryptoprim.ECDH(e.staticPriv, pub)
	if err != nil {
		return nil, apierror.New(apierror.DecryptionFailed, "ecdh failed")
	}
	kEnc, kMac, iv := cryptoprim.DeriveEnvelopeKey(z, e.sharedInfo1)

	expectedMAC := cryptoprim.HMACSHA256(kMac, c.EncryptedData, e.sharedInfo2)
	if !cryptoprim.ConstantTimeEqual(expectedMAC, c.MAC) {
		return nil, apierror.New(apierror.DecryptionFailed, "mac mismatch")
	}

	requestIV := iv
	if version == V31 {
		if len(c.Nonce) == 0 {
			return nil, apierror.New(apierror.DecryptionFailed, "missing nonce for protocol V3.1")
		}
		requestIV = cryptoprim.KDFX963(iv, c.Nonce, 16)
	}

	plaintext, err := cryptoprim.CBCDecrypt(c.EncryptedData, kEnc, requestIV)
	if err != nil {
		return nil, apierror.New(apierror.DecryptionFailed, "cbc decrypt failed")
	}

	e.key = &envelopeKey{kEnc: kEnc, kMac: kMac, iv: iv, requestIV: requestIV}
	return plaintext, nil
}

// EncryptResponse encrypts plaintext under the envelope key cached by
// a prior DecryptRequest or InitEnvelopeKey call, reusing its derived
// IV, and returns a cryptogram with no ephemeral public key.
func (e *Engine) EncryptResponse(plaintext []byte) (Cryptogram, error) {
	if e.key == nil {
		return Cryptogram{}, apierror.New(apierror.GenericCryptographyError, "envelope key not initialized")
	}
	ciphertext, err := cryptoprim.CBCEncrypt(plaintext, e.key.kEnc, e.key.requestIV)
	if err != nil {
		return Cryptogram{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	mac := cryptoprim.HMACSHA256(e.key.kMac, ciphertext, e.sharedInfo2)
	return Cryptogram{MAC: mac, EncryptedData: ciphertext}, nil
}

// DecryptorParameters is returned by the mediator export (§4.7): the
// raw envelope key material plus sharedInfo2, sufficient for an
// intermediate trust-separation server to decrypt one request/response
// pair without ever holding the static private key.
type DecryptorParameters struct {
	SecretKey   []byte // kEnc || kMac || iv, 48 bytes
	SharedInfo2 []byte
}

// ExportDecryptorParameters derives the envelope key for ephemeralPub
// and returns it alongside sharedInfo2.
func (e *Engine) ExportDecryptorParameters(ephemeralPub *ecdh.PublicKey) (DecryptorParameters, error) {
	if err := e.InitEnvelopeKey(ephemeralPub); err != nil {
		return DecryptorParameters{}, err
	}
	secret := make([]byte, 0, 48)
	secret = append(secret, e.key.kEnc...)
	secret = append(secret, e.key.kMac...)
	secret = append(secret, e.key.iv...)
	return DecryptorParameters{SecretKey: secret, SharedInfo2: e.sharedInfo2}, nil
}

// DecryptWithExportedParameters lets an intermediate server (holding
// only the exported secret key, never the static private key) decrypt
// a cryptogram built for the same ephemeral key, by rebuilding the
// same AES/HMAC split from the exported material.
func DecryptWithExportedParameters(params DecryptorParameters, c Cryptogram, version ProtocolVersion) ([]byte, error) {
	if len(params.SecretKey) != 48 {
		return nil, apierror.New(apierror.GenericCryptographyError, "malformed secret key")
	}
	kEnc, kMac, iv := params.SecretKey[0:16], params.SecretKey[16:32], params.SecretKey[32:48]

	expectedMAC := cryptoprim.HMACSHA256(kMac, c.EncryptedData, params.SharedInfo2)
	if !cryptoprim.ConstantTimeEqual(expectedMAC, c.MAC) {
		return nil, apierror.New(apierror.DecryptionFailed, "mac mismatch")
	}

	requestIV := iv
	if version == V31 {
		if len(c.Nonce) == 0 {
			return nil, apierror.New(apierror.DecryptionFailed, "missing nonce for protocol V3.1")
		}
		requestIV = cryptoprim.KDFX963(iv, c.Nonce, 16)
	}

	plaintext, err := cryptoprim.CBCDecrypt(c.EncryptedData, kEnc, requestIV)
	if err != nil {
		return nil, apierror.New(apierror.DecryptionFailed, "cbc decrypt failed")
	}
	return plaintext, nil
}
