package cryptoprim

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
)

// GenerateP256KeyPair creates a fresh EC P-256 key pair, used for both
// device/server activation key pairs and master application key pairs.
func GenerateP256KeyPair() (priv *ecdh.PrivateKey, err error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// ECDH computes the shared secret Z = ECDH(priv, pub).
func ECDH(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	return priv.ECDH(pub)
}

// ParsePublicKeyCompressed parses a 33-byte compressed P-256 point, the
// wire form EciesCryptogram.ephemeral_public_key and device/server
// public keys use.
func ParsePublicKeyCompressed(b []byte) (*ecdh.PublicKey, error) {
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), b)
	if x == nil {
		return nil, errInvalidPoint
	}
	uncompressed := elliptic.Marshal(elliptic.P256(), x, y)
	return ecdh.P256().NewPublicKey(uncompressed)
}

// MarshalPublicKeyCompressed renders pub as a 33-byte compressed point.
func MarshalPublicKeyCompressed(pub *ecdh.PublicKey) ([]byte, error) {
	raw := pub.Bytes() // uncompressed, 65 bytes: 0x04 || X || Y
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return nil, errInvalidPoint
	}
	return elliptic.MarshalCompressed(elliptic.P256(), x, y), nil
}

// ParseECDSAPublicKeyCompressed parses a device's compressed P-256
// point as an *ecdsa.PublicKey, the representation verifyECDSASignature
// and the offline-signature operations need — the same curve point
// ParsePublicKeyCompressed yields as an ECDH key, reinterpreted for
// signature verification.
func ParseECDSAPublicKeyCompressed(b []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), b)
	if x == nil {
		return nil, errInvalidPoint
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// MarshalECDSAPublicKeyCompressed renders an ECDSA public key as a
// 33-byte compressed P-256 point, the form activation.DevicePublicKey
// and MasterKeyPair.MasterPublicKey are stored as.
func MarshalECDSAPublicKeyCompressed(pub *ecdsa.PublicKey) []byte {
	return elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y)
}

var errInvalidPoint = invalidPointError{}

type invalidPointError struct{}

func (invalidPointError) Error() string { return "cryptoprim: invalid EC point" }
