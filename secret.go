package cipherpack

import (
	"runtime"
	"sync"
)

// SecretBytes is a zeroizing container for secret material: the symmetric
// content key, a passphrase, or a transient plaintext chunk buffer. It is
// never copied into ordinary dynamic buffers; callers read it through
// Bytes() and must not retain the returned slice past Release().
//
// Grounded on Voornaamenachternaam-chachacrypt's SecureBuffer, simplified:
// spec.md §5 guarantees a secret buffer is owned exclusively by one
// operation, so the concurrent salt-cache bookkeeping chachacrypt layers
// on top of its buffer has no equivalent here.
type SecretBytes struct {
	mu       sync.Mutex
	data     []byte
	released bool
}

// NewSecretBytes allocates a zeroed SecretBytes of the given length.
func NewSecretBytes(n int) *SecretBytes {
	sb := &SecretBytes{data: make([]byte, n)}
	runtime.SetFinalizer(sb, (*SecretBytes).Release)
	return sb
}

// WrapSecretBytes takes ownership of an existing slice; the caller must not
// use b again directly.
func WrapSecretBytes(b []byte) *SecretBytes {
	sb := &SecretBytes{data: b}
	runtime.SetFinalizer(sb, (*SecretBytes).Release)
	return sb
}

// Bytes returns the live backing slice. Valid until Release.
func (s *SecretBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Len returns the length of the secret.
func (s *SecretBytes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Release zeroizes the backing buffer. Safe to call multiple times.
func (s *SecretBytes) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	s.released = true
	runtime.KeepAlive(s.data)
}

// zeroBytes overwrites a plain slice in place; used for one-off buffers that
// don't warrant a full SecretBytes (e.g. a decoded passphrase string turned
// into bytes right before use).
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
