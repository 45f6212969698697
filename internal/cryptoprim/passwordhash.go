package cryptoprim

import "golang.org/x/crypto/bcrypt"

// HashPUK hashes a recovery PUK the same way the teacher hashes static
// passwords for its password database: bcrypt with the library's
// default cost. The PUK is low entropy (4 numeric digits) by design —
// bcrypt's cost factor plus the recovery code's own failed-attempt
// throttling (internal/recovery) are what make brute-forcing
// impractical, not the hash alone.
func HashPUK(puk string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(puk), bcrypt.DefaultCost)
}

// VerifyPUK reports whether candidate matches the stored bcrypt hash.
// bcrypt.CompareHashAndPassword is constant-time with respect to the
// candidate's content.
func VerifyPUK(hash []byte, candidate string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(candidate)) == nil
}
