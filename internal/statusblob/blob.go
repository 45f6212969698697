// Package statusblob encodes and decrypts the 17-byte activation
// status blob delivered to the device on get_status (§4.2, §6), and
// implements the v3 hash-based counter arithmetic (§4.6) the blob's
// ctr_info/ctr_data_hash fields summarize.
package statusblob

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/store"
)

const (
	plaintextLen = 17
	// CurrentVersion is the protocol version new activations upgrade to.
	CurrentVersion = 3
)

// Blob is the decoded form of the 17-byte plaintext status payload.
type Blob struct {
	Status          store.ActivationStatus
	CurrentVersion  byte
	UpgradeVersion  byte
	FailedAttempts  byte
	MaxFailedAttempts byte
	CtrLookahead    byte
	CtrInfo         byte   // counter LSB
	CtrDataHash     [16]byte
}

// Encode renders b as the 17-byte plaintext blob: bytes 0..6 are the
// header fields and bytes 7..16 carry the first 10 bytes of
// CtrDataHash; its last 6 bytes are not encoded.
func Encode(b Blob) []byte {
	out := make([]byte, plaintextLen)
	out[0] = byte(b.Status)
	out[1] = b.CurrentVersion
	out[2] = b.UpgradeVersion
	out[3] = b.FailedAttempts
	out[4] = b.MaxFailedAttempts
	out[5] = b.CtrLookahead
	out[6] = b.CtrInfo
	copy(out[7:], b.CtrDataHash[:])
	return out
}

// Decode parses a 17-byte plaintext blob; only the first 10 bytes of
// CtrDataHash are recovered and the rest stay zero. Used by tests and
// by the mediator/offline paths that need to inspect a decrypted blob.
func Decode(raw []byte) (Blob, bool) {
	if len(raw) != plaintextLen {
		return Blob{}, false
	}
	var b Blob
	b.Status = store.ActivationStatus(raw[0])
	b.CurrentVersion = raw[1]
	b.UpgradeVersion = raw[2]
	b.FailedAttempts = raw[3]
	b.MaxFailedAttempts = raw[4]
	b.CtrLookahead = raw[5]
	b.CtrInfo = raw[6]
	copy(b.CtrDataHash[:], raw[7:])
	return b, true
}

// CtrDataHash computes HMAC(transportKey, ctrData) truncated to 16
// bytes, the v3 fingerprint of the current counter state a device uses
// to detect desync without learning ctrData itself.
func CtrDataHash(transportKey, ctrData []byte) [16]byte {
	var out [16]byte
	sum := cryptoprim.HMACSHA256(transportKey, ctrData)
	copy(out[:], sum[:16])
	return out
}

// AdvanceCounter returns the next v3 hash-based counter value, per
// §4.6: ctr_data_{n+1} = HMAC-SHA256(ctr_data_n, 0x00), truncated to 16
// bytes. Thin wrapper kept in this package so callers working purely
// with status-blob/counter concerns don't need to import cryptoprim
// directly.
func AdvanceCounter(ctrData []byte) []byte {
	return cryptoprim.AdvanceHashCounter(ctrData)
}

// LookaheadSearch advances ctrData up to maxLookahead times and stops
// at the first advanced value for which the caller's matches predicate
// reports true; ctrData itself is not tested. Returns the matched
// counter value and how many steps it took, or ok == false if no
// position in the window matched.
func LookaheadSearch(ctrData []byte, maxLookahead int, matches func(candidate []byte) bool) (next []byte, steps int, ok bool) {
	candidate := ctrData
	for i := 1; i <= maxLookahead; i++ {
		candidate = AdvanceCounter(candidate)
		if matches(candidate) {
			return candidate, i, true
		}
	}
	return nil, 0, false
}

// DevicePublicKeyFingerprintV2 is SHA-256(device_pub), reduced mod 10^8
// to an 8-decimal-digit fingerprint string, zero-padded.
func DevicePublicKeyFingerprintV2(devicePub []byte) string {
	sum := sha256.Sum256(devicePub)
	return reduceToDigits(sum[:])
}

// DevicePublicKeyFingerprintV3 is
// SHA-256(device_pub || server_pub || activation_id), reduced the same
// way.
func DevicePublicKeyFingerprintV3(devicePub, serverPub []byte, activationID string) string {
	h := sha256.New()
	h.Write(devicePub)
	h.Write(serverPub)
	h.Write([]byte(activationID))
	return reduceToDigits(h.Sum(nil))
}

func reduceToDigits(sum []byte) string {
	n := binary.BigEndian.Uint64(sum[len(sum)-8:])
	n %= 100000000
	digits := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}
