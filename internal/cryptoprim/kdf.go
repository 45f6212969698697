package cryptoprim

import (
	"crypto/sha256"
	"encoding/binary"
)

// KDFX963 implements the ANSI X9.63 key derivation function over
// SHA-256, matching the construction PowerAuth's protocol uses to turn
// an ECDH shared secret plus context into envelope key material:
//
//	K = H(Z || counter(4 bytes, big-endian, starting at 1) || sharedInfo) repeated
//
// until outLen bytes have been produced, then truncated.
func KDFX963(z, sharedInfo []byte, outLen int) []byte {
	out := make([]byte, 0, outLen+sha256.Size)
	var counter uint32 = 1
	for len(out) < outLen {
		h := sha256.New()
		h.Write(z)
		var ctr [4]byte
		binary.BigEndian.PutUint32(ctr[:], counter)
		h.Write(ctr[:])
		h.Write(sharedInfo)
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:outLen]
}

// DeriveEnvelopeKey splits the 48-byte X9.63 output into the three
// 16-byte envelope components PowerAuth's ECIES scheme uses: the AES
// encryption key, the HMAC key, and the IV.
func DeriveEnvelopeKey(z, sharedInfo1 []byte) (kEnc, kMac, iv []byte) {
	material := KDFX963(z, sharedInfo1, 48)
	return material[0:16], material[16:32], material[32:48]
}
