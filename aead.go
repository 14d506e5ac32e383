package cipherpack

import (
	"crypto/subtle"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

// StreamCipher is the AEAD Stream Engine of spec.md §4.3: a continuous
// ChaCha20-Poly1305 construction (RFC 8439) built from the unauthenticated
// ChaCha20 keystream plus a running Poly1305 accumulator, so Update
// transforms an arbitrary-size chunk in place without buffering the whole
// message and the tag is only materialized in Finish.
//
// crypto/cipher.AEAD (and the composed golang.org/x/crypto/chacha20poly1305
// the chachacrypt/jfcrypt repos use) is a one-shot, whole-message API and
// has no way to defer the tag across incremental Update calls; this type
// exists to give the codec that missing incremental-tag primitive.
type StreamCipher struct {
	decrypt bool
	ks      *chacha20.Cipher
	mac     *poly1305.MAC
	aadLen  uint64
	ctLen   uint64
	done    bool
}

// KeyLength reports the AEAD's symmetric key length, queried by both the
// Encrypt and Decrypt Pipelines per spec.md §4.3.
func KeyLength() int { return SymmetricKeySize }

// NonceLength reports the AEAD's nonce length.
func NonceLength() int { return NonceSize }

func pad16Len(n uint64) int {
	if r := n % 16; r != 0 {
		return int(16 - r)
	}
	return 0
}

// derivePoly1305Key computes the one-time Poly1305 key as the first 32
// bytes of the ChaCha20 keystream at block counter 0, per RFC 8439 §2.6.
func derivePoly1305Key(key, nonce []byte) ([32]byte, error) {
	var out [32]byte
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return out, err
	}
	c.XORKeyStream(out[:], out[:])
	return out, nil
}

// NewStreamCipher initializes the engine. aad is bound into the
// authentication tag but never encrypted -- spec.md §4.6/§4.7 always pass
// the raw encrypted_key bytes here, so tampering with the wrapped key
// invalidates the tag.
func NewStreamCipher(decrypt bool, key, nonce, aad []byte) (*StreamCipher, error) {
	if len(key) != SymmetricKeySize {
		return nil, wrap(ErrCryptoAlgorithmUnavailable, "content key has the wrong length", nil)
	}
	if len(nonce) != NonceSize {
		return nil, wrap(ErrCryptoAlgorithmUnavailable, "nonce has the wrong length", nil)
	}

	polyKey, err := derivePoly1305Key(key, nonce)
	if err != nil {
		return nil, wrap(ErrCryptoAlgorithmUnavailable, "derive poly1305 key", err)
	}

	ks, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, wrap(ErrCryptoAlgorithmUnavailable, "init chacha20 keystream", err)
	}
	// Block 0 was consumed deriving the poly1305 key; RFC 8439 starts
	// ciphertext encryption at block counter 1.
	ks.SetCounter(1)

	mac := poly1305.New(&polyKey)
	mac.Write(aad)
	if p := pad16Len(uint64(len(aad))); p > 0 {
		mac.Write(make([]byte, p))
	}

	return &StreamCipher{decrypt: decrypt, ks: ks, mac: mac, aadLen: uint64(len(aad))}, nil
}

// Update transforms a non-final chunk in place. Size never changes --
// ChaCha20 is a stream cipher, so ciphertext length equals plaintext
// length; only Finish appends/strips the trailing tag.
func (s *StreamCipher) Update(buf []byte) error {
	if s.done {
		return wrap(ErrCryptoAlgorithmUnavailable, "stream cipher already finalized", nil)
	}
	if s.decrypt {
		s.mac.Write(buf)
		s.ks.XORKeyStream(buf, buf)
	} else {
		s.ks.XORKeyStream(buf, buf)
		s.mac.Write(buf)
	}
	s.ctLen += uint64(len(buf))
	return nil
}

// Finish transforms the final chunk. In encrypt mode it appends the 16-byte
// tag to the returned slice. In decrypt mode buf must include the trailing
// tag; Finish verifies it and returns the plaintext with the tag stripped,
// failing with ErrTagMismatch on any mismatch.
func (s *StreamCipher) Finish(buf []byte) ([]byte, error) {
	if s.done {
		return nil, wrap(ErrCryptoAlgorithmUnavailable, "stream cipher already finalized", nil)
	}
	s.done = true

	if !s.decrypt {
		if len(buf) > 0 {
			s.ks.XORKeyStream(buf, buf)
			s.mac.Write(buf)
		}
		s.ctLen += uint64(len(buf))
		s.writeLengthFooter()
		tag := s.mac.Sum(nil)
		return append(buf, tag...), nil
	}

	if len(buf) < TagSize {
		return nil, wrap(ErrShortRead, "final chunk shorter than AEAD tag", nil)
	}
	ctPart := buf[:len(buf)-TagSize]
	gotTag := buf[len(buf)-TagSize:]

	s.mac.Write(ctPart)
	s.ctLen += uint64(len(ctPart))
	s.writeLengthFooter()
	wantTag := s.mac.Sum(nil)

	if subtle.ConstantTimeCompare(wantTag, gotTag) != 1 {
		return nil, wrap(ErrTagMismatch, "AEAD authentication failed", nil)
	}

	s.ks.XORKeyStream(ctPart, ctPart)
	return ctPart, nil
}

func (s *StreamCipher) writeLengthFooter() {
	if p := pad16Len(s.ctLen); p > 0 {
		s.mac.Write(make([]byte, p))
	}
	var lens [16]byte
	putUint64LE(lens[0:8], s.aadLen)
	putUint64LE(lens[8:16], s.ctLen)
	s.mac.Write(lens[:])
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
