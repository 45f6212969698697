// Package signature verifies PowerAuth-style device signatures over
// request data, closing the loop the distilled spec left "ref'd" at
// C9. Grounded on the teacher's signer.Signer interface shape
// (signer/signer.go) — there used for JWT signing-key rotation, here
// repurposed for verification against a per-activation hash-based
// counter instead of key rotation.
package signature

import (
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/statusblob"
)

// Verifier checks online (hash-based counter) signatures within a
// configured lookahead window.
type Verifier struct {
	lookahead int
}

// New builds a Verifier with the given counter lookahead window
// (config.Activation.SignatureValidationLookahead).
func New(lookahead int) *Verifier {
	return &Verifier{lookahead: lookahead}
}

// deriveSignatureKey computes the per-counter-state signing key, a
// named primitive per spec.md's Non-goals ("key-derivation primitive
// internals" are out of scope): HMAC-SHA256(transportKey, ctrData).
func deriveSignatureKey(transportKey, ctrData []byte) []byte {
	return cryptoprim.HMACSHA256(transportKey, ctrData)
}

// computeSignature is the expected signature over dataToSign at a
// given counter position.
func computeSignature(transportKey, ctrData, dataToSign []byte) []byte {
	return cryptoprim.HMACSHA256(deriveSignatureKey(transportKey, ctrData), dataToSign)
}

// Verify checks signature against the current ctrData first, then
// searches up to v.lookahead positions ahead (the device's clock may
// have advanced the counter without the server having seen every
// intervening request). On success it returns the ctrData the server
// should adopt as current and how many positions it advanced.
func (v *Verifier) Verify(ctrData, transportKey, dataToSign, signature []byte) (nextCtrData []byte, steps int, ok bool) {
	if cryptoprim.ConstantTimeEqual(computeSignature(transportKey, ctrData, dataToSign), signature) {
		return ctrData, 0, true
	}
	return statusblob.LookaheadSearch(ctrData, v.lookahead, func(candidate []byte) bool {
		return cryptoprim.ConstantTimeEqual(computeSignature(transportKey, candidate, dataToSign), signature)
	})
}
