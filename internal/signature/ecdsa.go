package signature

import (
	"crypto/ecdsa"

	"github.com/powerauth/activationserver/internal/cryptoprim"
)

// VerifyECDSA checks an ECDSA signature over dataToSign against the
// device's public key — the `verifyECDSASignature` and
// createOfflineSignaturePayload/verifyOfflineSignature operations use
// this path instead of the hash-based counter, since offline
// signatures cannot carry server-observed counter state.
func VerifyECDSA(devicePub *ecdsa.PublicKey, dataToSign, derSignature []byte) bool {
	return cryptoprim.VerifyECDSA(devicePub, dataToSign, derSignature)
}
