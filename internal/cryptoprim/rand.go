// Package cryptoprim holds the low-level cryptographic building blocks
// shared by the ECIES engine, the key-at-rest codec and the token and
// recovery subsystems: secure randomness, the X9.63 KDF, HMAC-based
// MAC/counter derivation and AES-128-CBC encrypt-then-MAC.
package cryptoprim

import (
	"crypto/rand"
	"errors"
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if got != n {
		return nil, errors.New("cryptoprim: unable to generate enough random data")
	}
	return b, nil
}

// RandDigits returns n random base-10 digits as a string, used for PUKs.
func RandDigits(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = '0' + v%10
	}
	return string(out), nil
}
