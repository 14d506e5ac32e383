package cipherpack

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustRandomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := io.ReadFull(rand.Reader, b)
	require.NoError(t, err)
	return b
}

func TestStreamCipherRoundTripSingleChunk(t *testing.T) {
	key := mustRandomBytes(t, KeyLength())
	nonce := mustRandomBytes(t, NonceLength())
	aad := []byte("encrypted-key-stand-in")
	plain := []byte("the quick brown fox jumps over the lazy dog")

	enc, err := NewStreamCipher(false, key, nonce, aad)
	require.NoError(t, err)
	ciphertext, err := enc.Finish(append([]byte(nil), plain...))
	require.NoError(t, err)
	require.Len(t, ciphertext, len(plain)+TagSize)

	dec, err := NewStreamCipher(true, key, nonce, aad)
	require.NoError(t, err)
	decoded, err := dec.Finish(append([]byte(nil), ciphertext...))
	require.NoError(t, err)
	require.Equal(t, plain, decoded)
}

func TestStreamCipherRoundTripMultiChunk(t *testing.T) {
	key := mustRandomBytes(t, KeyLength())
	nonce := mustRandomBytes(t, NonceLength())
	aad := mustRandomBytes(t, 256)
	chunks := [][]byte{
		mustRandomBytes(t, 4096),
		mustRandomBytes(t, 4096),
		mustRandomBytes(t, 17), // final chunk needn't be chunk-size aligned
	}

	enc, err := NewStreamCipher(false, key, nonce, aad)
	require.NoError(t, err)
	var ciphertext bytes.Buffer
	for i, chunk := range chunks {
		buf := append([]byte(nil), chunk...)
		if i == len(chunks)-1 {
			out, ferr := enc.Finish(buf)
			require.NoError(t, ferr)
			ciphertext.Write(out)
		} else {
			require.NoError(t, enc.Update(buf))
			ciphertext.Write(buf)
		}
	}

	dec, err := NewStreamCipher(true, key, nonce, aad)
	require.NoError(t, err)
	ctBytes := ciphertext.Bytes()
	var plain bytes.Buffer
	offset := 0
	for i := range chunks {
		size := len(chunks[i])
		isLast := i == len(chunks)-1
		if isLast {
			size += TagSize
		}
		buf := append([]byte(nil), ctBytes[offset:offset+size]...)
		offset += size
		if isLast {
			out, ferr := dec.Finish(buf)
			require.NoError(t, ferr)
			plain.Write(out)
		} else {
			require.NoError(t, dec.Update(buf))
			plain.Write(buf)
		}
	}

	var want bytes.Buffer
	for _, c := range chunks {
		want.Write(c)
	}
	require.Equal(t, want.Bytes(), plain.Bytes())
}

func TestStreamCipherTagMismatchOnTamperedCiphertext(t *testing.T) {
	key := mustRandomBytes(t, KeyLength())
	nonce := mustRandomBytes(t, NonceLength())
	aad := []byte("aad")
	plain := []byte("payload bytes for tamper test")

	enc, err := NewStreamCipher(false, key, nonce, aad)
	require.NoError(t, err)
	ciphertext, err := enc.Finish(append([]byte(nil), plain...))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF

	dec, err := NewStreamCipher(true, key, nonce, aad)
	require.NoError(t, err)
	_, err = dec.Finish(ciphertext)
	require.ErrorIs(t, err, ErrTagMismatch)
}

func TestStreamCipherTagMismatchOnTamperedAAD(t *testing.T) {
	key := mustRandomBytes(t, KeyLength())
	nonce := mustRandomBytes(t, NonceLength())
	plain := []byte("payload bytes for aad tamper test")

	enc, err := NewStreamCipher(false, key, nonce, []byte("original-aad"))
	require.NoError(t, err)
	ciphertext, err := enc.Finish(append([]byte(nil), plain...))
	require.NoError(t, err)

	dec, err := NewStreamCipher(true, key, nonce, []byte("different-aad"))
	require.NoError(t, err)
	_, err = dec.Finish(ciphertext)
	require.ErrorIs(t, err, ErrTagMismatch)
}

func TestStreamCipherRejectsWrongKeyLength(t *testing.T) {
	_, err := NewStreamCipher(false, mustRandomBytes(t, 10), mustRandomBytes(t, NonceLength()), nil)
	require.Error(t, err)
}

func TestStreamCipherFinishShorterThanTag(t *testing.T) {
	key := mustRandomBytes(t, KeyLength())
	nonce := mustRandomBytes(t, NonceLength())
	dec, err := NewStreamCipher(true, key, nonce, nil)
	require.NoError(t, err)
	_, err = dec.Finish([]byte("short"))
	require.ErrorIs(t, err, ErrShortRead)
}
