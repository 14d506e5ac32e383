package cipherpack

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"io"
	"os"
)

// Encrypt runs the Encrypt Pipeline of spec.md §4.6, generalizing the
// teacher's Pack() in pack.go: generate a random content key, RSA-OAEP
// wrap it for the recipient, emit the self-sized DER Header-1, RSA-PSS
// sign the header image into Header-2, then stream the payload through
// the AEAD Stream Engine.
func Encrypt(opts EncryptOptions) (*PackHeader, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	listener := listenerOrNoop(opts.Listener)
	log := opLogger("encrypt")

	var header *PackHeader
	fail := func(kind error) (*PackHeader, error) {
		log.WithError(kind).Error("encrypt failed")
		notifyFailure(listener, false, header, kind)
		return nil, kind
	}

	in, err := os.Open(opts.InputPath)
	if err != nil {
		return fail(wrap(ErrOutputOpen, opts.InputPath, err))
	}
	defer in.Close()
	stat, err := in.Stat()
	if err != nil {
		return fail(wrap(ErrOutputOpen, opts.InputPath, err))
	}
	inputSize := uint64(stat.Size())

	out, err := openOutput(opts.OutputPath, opts.Overwrite)
	if err != nil {
		return fail(err)
	}
	failed := true
	defer removeOnFailure(out, opts.OutputPath, &failed)

	pubKey, err := LoadPublicKey(opts.PublicKeyPath)
	if err != nil {
		return fail(err)
	}
	signKey, err := LoadPrivateKey(opts.SignKeyPath, opts.SignPassphrase)
	if err != nil {
		return fail(err)
	}

	contentKey := NewSecretBytes(KeyLength())
	defer contentKey.Release()
	if _, err := io.ReadFull(rand.Reader, contentKey.Bytes()); err != nil {
		return fail(wrap(ErrCryptoAlgorithmUnavailable, "generate content key", err))
	}

	nonce := make([]byte, NonceLength())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fail(wrap(ErrCryptoAlgorithmUnavailable, "generate nonce", err))
	}

	encryptedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pubKey, contentKey.Bytes(), nil)
	if err != nil {
		return fail(wrap(ErrCryptoAlgorithmUnavailable, "wrap content key", err))
	}

	header = &PackHeader{
		Magic:                cfg.Magic,
		DataFilename:         opts.DataFilename,
		TargetPath:           opts.TargetPath,
		Intention:            opts.Intention,
		PayloadVersion:       opts.PayloadVersion,
		PayloadVersionParent: opts.PayloadVersionParent,
		SignAlgoName:         cfg.SignAlgoName,
		PKAlgoOID:            oidRSAESOAEP,
		PKHashOID:            oidSHA256,
		CipherAlgoOID:        cfg.CipherAlgoOID,
		EncryptedKey:         encryptedKey,
		Nonce:                nonce,
	}

	header1Bytes, err := encodeHeader1(cfg, header)
	if err != nil {
		return fail(err)
	}
	header.raw = header1Bytes

	digest := sha256.Sum256(header1Bytes)
	signature, err := rsa.SignPSS(rand.Reader, signKey, crypto.SHA256, digest[:], nil)
	if err != nil {
		return fail(wrap(ErrCryptoAlgorithmUnavailable, "sign header-1", err))
	}
	header2Bytes, err := encodeHeader2(signature)
	if err != nil {
		return fail(err)
	}

	engine, err := NewStreamCipher(false, contentKey.Bytes(), nonce, encryptedKey)
	if err != nil {
		return fail(err)
	}

	sendContent := listener.GetSendContent(false)

	cw := &countingWriter{w: out}
	if _, err := cw.Write(header1Bytes); err != nil {
		return fail(err)
	}
	if sendContent {
		if !listener.ContentProcessed(false, true, append([]byte(nil), header1Bytes...), false) {
			return fail(wrap(ErrListenerAbort, "header-1", nil))
		}
	}
	if _, err := cw.Write(header2Bytes); err != nil {
		return fail(err)
	}
	if sendContent {
		if !listener.ContentProcessed(false, true, append([]byte(nil), header2Bytes...), false) {
			return fail(wrap(ErrListenerAbort, "header-2", nil))
		}
	}

	listener.NotifyHeader(false, header, true)

	var processed uint64
	_, err = readChunked(in, cfg.ChunkSize, func(buf []byte, isFinal bool) error {
		chunk := append([]byte(nil), buf...)
		var transformed []byte
		var terr error
		if isFinal {
			transformed, terr = engine.Finish(chunk)
		} else {
			terr = engine.Update(chunk)
			transformed = chunk
		}
		if terr != nil {
			return terr
		}
		if _, werr := cw.Write(transformed); werr != nil {
			return werr
		}
		processed += uint64(len(buf))
		listener.NotifyProgress(false, inputSize, processed)
		if sendContent {
			if !listener.ContentProcessed(false, false, transformed, isFinal) {
				return wrap(ErrListenerAbort, "payload", nil)
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	headerBytes := uint64(len(header1Bytes) + len(header2Bytes))
	expected := headerBytes + inputSize + uint64(TagSize)
	if expected != cw.n {
		log.WithField("accounting", cw.n).Warn("byte accounting mismatch")
		listener.NotifyError(false, wrap(ErrAccounting, "header+payload bytes does not match bytes written", nil))
	}

	failed = false
	listener.NotifyEnd(false, header, true)
	log.WithFields(map[string]interface{}{
		"bytes":   cw.n,
		"pk_algo": cfg.PKAlgoName,
		"pk_hash": cfg.PKHashName,
	}).Info("encrypt complete")
	return header, nil
}
