package cipherpack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretBytesRelease(t *testing.T) {
	sb := NewSecretBytes(16)
	for i := range sb.Bytes() {
		sb.Bytes()[i] = byte(i + 1)
	}
	require.Equal(t, 16, sb.Len())

	sb.Release()
	for _, b := range sb.Bytes() {
		require.Equal(t, byte(0), b)
	}

	// Release must be idempotent.
	require.NotPanics(t, func() { sb.Release() })
}

func TestWrapSecretBytesTakesOwnership(t *testing.T) {
	backing := []byte{1, 2, 3, 4}
	sb := WrapSecretBytes(backing)
	require.Equal(t, 4, sb.Len())
	sb.Release()
	require.Equal(t, []byte{0, 0, 0, 0}, backing)
}

func TestZeroBytes(t *testing.T) {
	b := []byte("secret")
	zeroBytes(b)
	for _, c := range b {
		require.Equal(t, byte(0), c)
	}
}
