package statusblob

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/powerauth/activationserver/internal/store"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := Blob{
		Status:            store.StatusActive,
		CurrentVersion:    3,
		UpgradeVersion:    3,
		FailedAttempts:    1,
		MaxFailedAttempts: 5,
		CtrLookahead:      20,
		CtrInfo:           7,
		CtrDataHash:       [16]byte{1, 2, 3, 4},
	}
	raw := Encode(b)
	require.Len(t, raw, 17)

	got, ok := Decode(raw)
	require.True(t, ok)
	require.Equal(t, b, got)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, ok := Decode(make([]byte, 10))
	require.False(t, ok)
}

func TestAdvanceCounterChains(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 16)
	n1 := AdvanceCounter(seed)
	n2 := AdvanceCounter(n1)
	require.Len(t, n1, 16)
	require.NotEqual(t, seed, n1)
	require.NotEqual(t, n1, n2)

	n1Again := AdvanceCounter(seed)
	require.Equal(t, n1, n1Again)
}

func TestLookaheadSearchFindsWithinWindow(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01}, 16)
	target := seed
	for i := 0; i < 5; i++ {
		target = AdvanceCounter(target)
	}

	next, steps, ok := LookaheadSearch(seed, 20, func(candidate []byte) bool {
		return bytes.Equal(candidate, target)
	})
	require.True(t, ok)
	require.Equal(t, 5, steps)
	require.Equal(t, target, next)
}

func TestLookaheadSearchFailsOutsideWindow(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01}, 16)
	target := seed
	for i := 0; i < 10; i++ {
		target = AdvanceCounter(target)
	}

	_, _, ok := LookaheadSearch(seed, 3, func(candidate []byte) bool {
		return bytes.Equal(candidate, target)
	})
	require.False(t, ok)
}

func TestFingerprintsAreEightDigits(t *testing.T) {
	fp2 := DevicePublicKeyFingerprintV2([]byte("device-pub"))
	fp3 := DevicePublicKeyFingerprintV3([]byte("device-pub"), []byte("server-pub"), "act-1")
	require.Len(t, fp2, 8)
	require.Len(t, fp3, 8)
	for _, r := range fp2 + fp3 {
		require.True(t, r >= '0' && r <= '9')
	}
}
