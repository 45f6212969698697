package cryptoprim

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
)

// GenerateECDSAP256KeyPair generates a master application signing key
// pair. Master keys only ever sign activation codes and participate in
// application-scope ECIES; they are never used for ECDH directly by
// this package (ECDH uses the crypto/ecdh representation instead).
func GenerateECDSAP256KeyPair() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// SignECDSA signs data with priv over its SHA-256 digest, returning an
// ASN.1 DER signature.
func SignECDSA(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return ecdsa.SignASN1(rand.Reader, priv, digest[:])
}

// VerifyECDSA verifies a DER-encoded ECDSA signature over data's
// SHA-256 digest.
func VerifyECDSA(pub *ecdsa.PublicKey, data, signature []byte) bool {
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], signature)
}

// MarshalECDSAPrivateKey renders priv as an SEC1 DER blob, the form
// master key pairs are encrypted and stored in (§4.3's "ciphertext" is
// this blob, not raw scalar bytes, so the curve round-trips without an
// external parameter).
func MarshalECDSAPrivateKey(priv *ecdsa.PrivateKey) ([]byte, error) {
	return x509.MarshalECPrivateKey(priv)
}

// ParseECDSAPrivateKey parses the SEC1 DER blob MarshalECDSAPrivateKey
// produced.
func ParseECDSAPrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	return x509.ParseECPrivateKey(der)
}
