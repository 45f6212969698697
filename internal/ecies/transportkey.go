package ecies

import (
	"crypto/ecdh"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
)

// DeriveTransportKey computes T = KDF-X9.63(ECDH(serverPriv,
// devicePub), 16 bytes), the symmetric key derived once at commit time
// and reused for the lifetime of an ACTIVE activation: status blob
// encryption, create_token's activation-scope decryptor, and online
// signature verification all key off this value (§4.2, §4.4, §4.6).
func DeriveTransportKey(serverPriv *ecdh.PrivateKey, devicePub *ecdh.PublicKey) ([]byte, error) {
	z, err := cryptoprim.ECDH(serverPriv, devicePub)
	if err != nil {
		return nil, apierror.Wrap(apierror.GenericCryptographyError, err)
	}
	return cryptoprim.KDFX963(z, nil, 16), nil
}
