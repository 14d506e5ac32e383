package cipherpack

import (
	"bytes"
	"encoding/asn1"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHeader() *PackHeader {
	return &PackHeader{
		DataFilename:         "payload.bin",
		TargetPath:           "/var/lib/app/payload.bin",
		Intention:            "archive",
		PayloadVersion:       3,
		PayloadVersionParent: 2,
		EncryptedKey:         bytes.Repeat([]byte{0xAB}, 384), // RSA-3072 ciphertext size
		Nonce:                bytes.Repeat([]byte{0x11}, NonceSize),
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	h := testHeader()
	h.SignAlgoName = cfg.SignAlgoName
	h.PKAlgoOID = oidRSAESOAEP
	h.PKHashOID = oidSHA256
	h.CipherAlgoOID = cfg.CipherAlgoOID
	h.Magic = cfg.Magic

	header1, err := encodeHeader1(cfg, h)
	require.NoError(t, err)

	l1, err := snoopHeader1(bytes.NewReader(header1), cfg)
	require.NoError(t, err)
	require.Equal(t, uint32(len(header1)), l1)

	decoded, err := decodeHeader1Full(bytes.NewReader(header1), l1)
	require.NoError(t, err)

	require.Equal(t, h.DataFilename, decoded.DataFilename)
	require.Equal(t, h.TargetPath, decoded.TargetPath)
	require.Equal(t, h.Intention, decoded.Intention)
	require.Equal(t, h.PayloadVersion, decoded.PayloadVersion)
	require.Equal(t, h.PayloadVersionParent, decoded.PayloadVersionParent)
	require.Equal(t, h.SignAlgoName, decoded.SignAlgoName)
	require.True(t, decoded.PKAlgoOID.Equal(oidRSAESOAEP))
	require.True(t, decoded.PKHashOID.Equal(oidSHA256))
	require.True(t, decoded.CipherAlgoOID.Equal(cfg.CipherAlgoOID))
	require.Equal(t, h.EncryptedKey, decoded.EncryptedKey)
	require.Equal(t, h.Nonce, decoded.Nonce)
	require.Equal(t, header1, decoded.RawHeader1())
}

// TestHeaderSizeFieldIsSelfConsistent is spec.md §8's header-size invariant:
// the header1_size field that encodeHeader1 writes must equal the actual
// serialized length of Header-1.
func TestHeaderSizeFieldIsSelfConsistent(t *testing.T) {
	cfg := DefaultConfig()
	h := testHeader()
	h.SignAlgoName = cfg.SignAlgoName
	h.PKAlgoOID = oidRSAESOAEP
	h.PKHashOID = oidSHA256
	h.CipherAlgoOID = cfg.CipherAlgoOID
	h.Magic = cfg.Magic

	header1, err := encodeHeader1(cfg, h)
	require.NoError(t, err)

	var wire header1Wire
	rest, err := asn1.Unmarshal(header1, &wire)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, uint32(len(header1)), binary.LittleEndian.Uint32(wire.SizeBuf))
}

func TestSnoopHeader1RejectsBadMagic(t *testing.T) {
	cfg := DefaultConfig()
	h := testHeader()
	h.SignAlgoName = cfg.SignAlgoName
	h.PKAlgoOID = oidRSAESOAEP
	h.PKHashOID = oidSHA256
	h.CipherAlgoOID = cfg.CipherAlgoOID
	h.Magic = [MagicSize]byte{'Z', 'Z', 'Z', 'Z', 'Z', 'Z', 'Z', 'Z'}

	header1, err := encodeHeader1(cfg, h)
	require.NoError(t, err)

	_, err = snoopHeader1(bytes.NewReader(header1), cfg)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeHeader1FullRejectsMismatchedSizeField(t *testing.T) {
	cfg := DefaultConfig()
	h := testHeader()
	h.SignAlgoName = cfg.SignAlgoName
	h.PKAlgoOID = oidRSAESOAEP
	h.PKHashOID = oidSHA256
	h.CipherAlgoOID = cfg.CipherAlgoOID
	h.Magic = cfg.Magic

	header1, err := encodeHeader1(cfg, h)
	require.NoError(t, err)

	// Feed decodeHeader1Full a size that doesn't match the buffer it reads.
	_, err = decodeHeader1Full(bytes.NewReader(header1), uint32(len(header1))+8)
	require.Error(t, err)
}

func TestHeader2RoundTrip(t *testing.T) {
	sig := bytes.Repeat([]byte{0x42}, 384)
	encoded, err := encodeHeader2(sig)
	require.NoError(t, err)

	decoded, err := decodeHeader2(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, sig, decoded)
}
