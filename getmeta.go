package cipherpack

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"io"
	"os"
)

// GetHeader decodes and verifies Header-1/Header-2 without touching the
// payload, generalizing the teacher's GetMetaData/getMetaHandler: it runs
// the same phase A/B decode and algorithm/signature checks as Decrypt, then
// returns instead of ever constructing an AEAD engine.
func GetHeader(inputPath, signPublicKeyPath string, cfg *CryptoConfig, listener Listener) (*PackHeader, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	listener = listenerOrNoop(listener)
	log := opLogger("header")

	var header *PackHeader
	fail := func(kind error) (*PackHeader, error) {
		log.WithError(kind).Error("header decode failed")
		notifyFailure(listener, true, header, kind)
		return nil, kind
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fail(wrap(ErrOutputOpen, inputPath, err))
	}
	defer in.Close()

	signPubKey, err := LoadPublicKey(signPublicKeyPath)
	if err != nil {
		return fail(err)
	}

	l1, err := snoopHeader1(in, cfg)
	if err != nil {
		return fail(err)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return fail(wrap(ErrShortRead, "rewind input for header-1 phase B", err))
	}
	header, err = decodeHeader1Full(in, l1)
	if err != nil {
		return fail(err)
	}
	signature, err := decodeHeader2(in)
	if err != nil {
		return fail(err)
	}
	if err := validateAlgorithms(cfg, header); err != nil {
		return fail(err)
	}

	digest := sha256.Sum256(header.RawHeader1())
	if err := rsa.VerifyPSS(signPubKey, crypto.SHA256, digest[:], signature, nil); err != nil {
		return fail(wrap(ErrSignatureMismatch, "header-1 signature", err))
	}

	listener.NotifyHeader(true, header, true)
	listener.NotifyEnd(true, header, true)
	return header, nil
}
