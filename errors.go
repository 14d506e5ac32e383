package cipherpack

import (
	"errors"

	gerrors "github.com/virusdefender/goutils/errors"
)

// Kind is a sentinel error identifying one of the failure categories from
// spec.md §7. Callers compare with errors.Is(err, cipherpack.ErrTagMismatch)
// etc; the human-readable chain is layered on top via goutils/errors, the
// same wrapping package the teacher uses throughout pack.go/unpack.go.
type Kind struct{ name string }

func (k *Kind) Error() string { return k.name }

var (
	ErrOutputExists              = &Kind{"cipherpack: output exists"}
	ErrOutputOpen                = &Kind{"cipherpack: output open failed"}
	ErrOutputWrite               = &Kind{"cipherpack: output write failed"}
	ErrKeyLoad                   = &Kind{"cipherpack: key load failed"}
	ErrKeyNotFound               = &Kind{"cipherpack: key not found"}
	ErrKeyParse                  = &Kind{"cipherpack: key parse failed"}
	ErrWrongPassphrase           = &Kind{"cipherpack: wrong passphrase"}
	ErrCryptoAlgorithmUnavailable = &Kind{"cipherpack: crypto algorithm unavailable"}
	ErrHeaderSizeMismatch        = &Kind{"cipherpack: header size mismatch"}
	ErrBadMagic                  = &Kind{"cipherpack: bad magic"}
	ErrBadHeaderSize             = &Kind{"cipherpack: bad header size field"}
	ErrDerDecode                 = &Kind{"cipherpack: DER decode error"}
	ErrShortRead                 = &Kind{"cipherpack: short read"}
	ErrAlgorithmMismatch         = &Kind{"cipherpack: algorithm mismatch"}
	ErrSignatureMismatch         = &Kind{"cipherpack: signature mismatch"}
	ErrTagMismatch               = &Kind{"cipherpack: AEAD tag mismatch"}
	ErrListenerAbort             = &Kind{"cipherpack: listener aborted operation"}
	ErrAccounting                = &Kind{"cipherpack: byte accounting mismatch"}
)

// wrap attaches context the way the teacher's goutils/errors.Wrap does,
// while keeping the sentinel Kind matchable via errors.Is on the result.
func wrap(kind *Kind, context string, cause error) error {
	if cause == nil {
		return kindErr{kind, errors.New(context)}
	}
	return kindErr{kind, gerrors.Wrap(cause, context)}
}

type kindErr struct {
	kind *Kind
	err  error
}

func (e kindErr) Error() string { return e.kind.name + ": " + e.err.Error() }
func (e kindErr) Unwrap() error { return e.err }
func (e kindErr) Is(target error) bool {
	k, ok := target.(*Kind)
	return ok && k == e.kind
}
