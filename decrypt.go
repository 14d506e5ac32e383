package cipherpack

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"io"
	"os"
)

// Decrypt runs the Decrypt Pipeline of spec.md §4.7, generalizing the
// teacher's Unpack() in unpack.go: two-phase header decode, algorithm and
// signature verification, decrypt-or-random content-key unwrap, then
// streaming the remainder of the input through the AEAD Stream Engine.
func Decrypt(opts DecryptOptions) (*PackHeader, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	listener := listenerOrNoop(opts.Listener)
	log := opLogger("decrypt")

	var header *PackHeader
	fail := func(kind error) (*PackHeader, error) {
		log.WithError(kind).Error("decrypt failed")
		notifyFailure(listener, true, header, kind)
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

	signPubKey, err := LoadPublicKey(opts.SignPublicKeyPath)
	if err != nil {
		return fail(err)
	}
	privKey, err := LoadPrivateKey(opts.PrivateKeyPath, opts.Passphrase)
	if err != nil {
		return fail(err)
	}

	// Phase A: snoop magic + header1_size over the live stream.
	l1, err := snoopHeader1(in, cfg)
	if err != nil {
		return fail(err)
	}

	// Phase B: reopen from offset 0 and read exactly L1 bytes.
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

	// decrypt_or_random (spec.md §4.7 step 7 / §9): on unwrap failure,
	// substitute a random key of the expected length so integrity
	// failures funnel through the AEAD tag, never a key-unwrap error.
	contentKey := NewSecretBytes(KeyLength())
	defer contentKey.Release()
	unwrapped, unwrapErr := rsa.DecryptOAEP(sha256.New(), rand.Reader, privKey, header.EncryptedKey, nil)
	if unwrapErr == nil && len(unwrapped) == KeyLength() {
		wrapped := WrapSecretBytes(unwrapped)
		copy(contentKey.Bytes(), wrapped.Bytes())
		wrapped.Release()
	} else if _, err := io.ReadFull(rand.Reader, contentKey.Bytes()); err != nil {
		return fail(wrap(ErrCryptoAlgorithmUnavailable, "generate substitute content key", err))
	}

	engine, err := NewStreamCipher(true, contentKey.Bytes(), header.Nonce, header.EncryptedKey)
	if err != nil {
		return fail(err)
	}

	sendContent := listener.GetSendContent(true)
	if sendContent {
		if !listener.ContentProcessed(true, true, append([]byte(nil), header.RawHeader1()...), false) {
			return fail(wrap(ErrListenerAbort, "header-1", nil))
		}
	}

	headerBytes := uint64(len(header.RawHeader1())) + uint64(len(signature)) + uint64(derHeader2Overhead(len(signature)))
	var expectedPlain uint64
	if inputSize > headerBytes+uint64(TagSize) {
		expectedPlain = inputSize - headerBytes - uint64(TagSize)
	}

	cw := &countingWriter{w: out}
	var processed uint64
	// The last TagSize bytes read so far are held back from Update, so the
	// whole tag reaches Finish even when it straddles two reads.
	var held []byte
	_, err = readChunked(in, cfg.ChunkSize, func(buf []byte, isFinal bool) error {
		chunk := append(append([]byte(nil), held...), buf...)
		var plain []byte
		var terr error
		if isFinal {
			plain, terr = engine.Finish(chunk)
		} else {
			keep := len(chunk) - TagSize
			if keep < 0 {
				keep = 0
			}
			held = chunk[keep:]
			chunk = chunk[:keep:keep]
			terr = engine.Update(chunk)
			plain = chunk
		}
		if terr != nil {
			return terr
		}
		if _, werr := cw.Write(plain); werr != nil {
			return werr
		}
		processed += uint64(len(plain))
		listener.NotifyProgress(true, expectedPlain, processed)
		if sendContent {
			if !listener.ContentProcessed(true, false, plain, isFinal) {
				return wrap(ErrListenerAbort, "payload", nil)
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	failed = false
	listener.NotifyEnd(true, header, true)
	log.WithFields(map[string]interface{}{
		"bytes":   cw.n,
		"pk_algo": cfg.PKAlgoName,
		"pk_hash": cfg.PKHashName,
	}).Info("decrypt complete")
	return header, nil
}

// validateAlgorithms checks Header-1's on-wire algorithm identifiers
// against the compile-time expectations, per spec.md §4.7 step 4.
func validateAlgorithms(cfg *CryptoConfig, header *PackHeader) error {
	if header.Magic != cfg.Magic {
		return wrap(ErrBadMagic, "package_magic", nil)
	}
	if header.SignAlgoName != cfg.SignAlgoName {
		return wrap(ErrAlgorithmMismatch, "sign_algo_name", nil)
	}
	if !header.PKAlgoOID.Equal(oidRSAESOAEP) {
		return wrap(ErrAlgorithmMismatch, "pk_alg_id", nil)
	}
	if !header.PKHashOID.Equal(oidSHA256) {
		return wrap(ErrAlgorithmMismatch, "pk_alg_id hash parameter", nil)
	}
	if !header.CipherAlgoOID.Equal(cfg.CipherAlgoOID) {
		return wrap(ErrAlgorithmMismatch, "cipher_algo_oid", nil)
	}
	return nil
}

// derHeader2Overhead is the fixed DER TLV overhead around the signature
// OCTET STRING inside Header-2 (outer SEQUENCE tag+length, inner OCTET
// STRING tag+length), used only for the listener's progress-total
// estimate -- it is not part of any wire invariant.
func derHeader2Overhead(sigLen int) int {
	inner := derTLVOverhead(sigLen)
	return inner + derTLVOverhead(sigLen+inner)
}

func derTLVOverhead(contentLen int) int {
	switch {
	case contentLen < 0x80:
		return 2
	case contentLen < 0x100:
		return 3
	case contentLen < 0x10000:
		return 4
	default:
		return 5
	}
}
