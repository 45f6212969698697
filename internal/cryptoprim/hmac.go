package cryptoprim

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// HMACSHA256 computes HMAC-SHA256(key, data...), concatenating data
// parts before MACing — used both for the ECIES MAC-over-ciphertext
// step and for token digest verification.
func HMACSHA256(key []byte, data ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}

// ConstantTimeEqual reports whether a and b are equal without leaking
// timing information, the way every MAC/digest/PUK-hash comparison in
// this codebase must be compared.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		// Still run a comparison of equal-length dummy data so callers
		// cannot distinguish a length mismatch from a content mismatch
		// by timing alone.
		subtle.ConstantTimeCompare(a, a)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// AdvanceHashCounter computes the next v3 hash-based counter value:
// ctr_data_{n+1} = HMAC-SHA256(ctr_data_n, 0x00), truncated to 16 bytes.
func AdvanceHashCounter(ctrData []byte) []byte {
	sum := HMACSHA256(ctrData, []byte{0x00})
	out := make([]byte, 16)
	copy(out, sum[:16])
	return out
}
