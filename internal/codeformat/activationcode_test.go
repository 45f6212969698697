package codeformat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateProducesValidCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := Generate()
		require.NoError(t, err)
		require.Len(t, code, 23)
		require.True(t, Validate(code), code)
	}
}

func TestValidateRejectsMutation(t *testing.T) {
	mismatches := 0
	trials := 0
	// The rejection rate varies from code to code, so it is measured
	// over many generated codes rather than a single one.
	for n := 0; n < 100; n++ {
		code, err := Generate()
		require.NoError(t, err)

		for i := 0; i < len(code); i++ {
			if code[i] == '-' {
				continue
			}
			for _, c := range alphabet {
				if byte(c) == code[i] {
					continue
				}
				mutated := []byte(code)
				mutated[i] = byte(c)
				trials++
				if !Validate(string(mutated)) {
					mismatches++
				}
			}
		}
	}
	// At least 31/32 of single-character mutations must be rejected.
	require.GreaterOrEqual(t, float64(mismatches)/float64(trials), 31.0/32.0)
}

func TestValidateRejectsMalformedShape(t *testing.T) {
	require.False(t, Validate("not-a-code"))
	require.False(t, Validate(""))
	require.False(t, Validate("AAAAA-BBBBB-CCCCC-DDDD")) // short last group
}

func TestGenerateUniqueness(t *testing.T) {
	seen := make(map[string]bool, 2000)
	for i := 0; i < 2000; i++ {
		code, err := Generate()
		require.NoError(t, err)
		require.False(t, seen[code], "collision at iteration %d", i)
		seen[code] = true
	}
}
