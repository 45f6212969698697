// Package codeformat implements the checksummed, human-typeable code
// format shared by activation codes and recovery codes: four groups of
// five base32 characters separated by dashes, e.g.
// "AAAAA-BBBBB-CCCCC-DDDDE", where the final character is a CRC-16
// based checksum over the preceding nineteen.
package codeformat

import (
	"crypto/rand"
	"errors"
	"strings"
)

// alphabet is the standard 32-character RFC 4648 Base32 alphabet,
// giving each checksum character a 1/32 chance of colliding after a
// single-character mutation elsewhere in the code.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

const (
	dataChars  = 19
	groupSize  = 5
	numGroups  = 4
	TotalChars = dataChars + 1 // 20, excluding dashes
)

var ErrInvalidFormat = errors.New("codeformat: invalid code format")

// Generate returns a fresh random 23-character grouped code with a
// valid trailing checksum character.
func Generate() (string, error) {
	raw := make([]byte, dataChars)
	idx := make([]byte, dataChars)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	for i, b := range raw {
		idx[i] = alphabet[int(b)%len(alphabet)]
	}
	data := string(idx)
	check := checksumChar(data)
	return group(data + string(check)), nil
}

// group inserts dashes every five characters: 20 chars -> 23 chars.
func group(flat string) string {
	var b strings.Builder
	for i := 0; i < numGroups; i++ {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(flat[i*groupSize : (i+1)*groupSize])
	}
	return b.String()
}

// ungroup strips dashes, validating overall shape.
func ungroup(code string) (string, error) {
	parts := strings.Split(code, "-")
	if len(parts) != numGroups {
		return "", ErrInvalidFormat
	}
	var b strings.Builder
	for _, p := range parts {
		if len(p) != groupSize {
			return "", ErrInvalidFormat
		}
		b.WriteString(p)
	}
	flat := b.String()
	if len(flat) != TotalChars {
		return "", ErrInvalidFormat
	}
	return flat, nil
}

// Validate reports whether code is a well-formed 23-character grouped
// code whose checksum character matches its data characters.
func Validate(code string) bool {
	flat, err := ungroup(code)
	if err != nil {
		return false
	}
	for _, c := range flat {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	data, check := flat[:dataChars], flat[dataChars]
	return checksumChar(data) == check
}

// checksumChar reduces a CRC-16/CCITT-FALSE checksum of data onto a
// single alphabet character.
func checksumChar(data string) byte {
	crc := crc16CCITT([]byte(data))
	return alphabet[int(crc)%len(alphabet)]
}

// crc16CCITT computes the CRC-16/CCITT-FALSE checksum (poly 0x1021,
// init 0xFFFF), the variant PowerAuth uses to checksum activation
// codes.
func crc16CCITT(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
