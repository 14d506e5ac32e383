package cipherpack

import (
	"bytes"
	"encoding/asn1"
	"encoding/binary"
	"io"
	"math/big"
)

// PackHeader carries the fields of Header-1 (spec.md §3), surfaced to the
// Listener via NotifyHeader/NotifyEnd.
type PackHeader struct {
	Magic [MagicSize]byte

	DataFilename string
	TargetPath   string // supplemented from original_source; informational
	Intention    string // supplemented from original_source; informational

	PayloadVersion       uint64
	PayloadVersionParent uint64

	SignAlgoName  string
	PKAlgoOID     asn1.ObjectIdentifier
	PKHashOID     asn1.ObjectIdentifier
	CipherAlgoOID asn1.ObjectIdentifier

	EncryptedKey []byte
	Nonce        []byte

	// raw is the exact Header-1 byte image as written to, or read from, the
	// wire. It is what gets signed and verified -- never a re-serialization.
	raw []byte
}

// RawHeader1 returns the exact Header-1 DER byte image this PackHeader was
// built from (encode) or decoded from (decode). This is the byte sequence
// Header-2's signature covers.
func (h *PackHeader) RawHeader1() []byte { return h.raw }

// algorithmIdentifierWire mirrors a standard X.509-style AlgorithmIdentifier:
// an OID plus opaque DER-encoded parameters.
type algorithmIdentifierWire struct {
	OID        asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// header1Wire is the exact DER SEQUENCE laid out in spec.md §6. SizeBuf is
// carried as a plain OCTET STRING of fixed length 4 -- the self-referential
// trick in encodeHeader1 depends on this field never changing DER-encoded
// length when its 4 content bytes change.
type header1Wire struct {
	Magic                []byte
	SizeBuf              []byte
	DataFilename         []byte
	TargetPath           []byte
	Intention            []byte
	PayloadVersion       *big.Int
	PayloadVersionParent *big.Int
	SignAlgoName         []byte
	PKAlgID              algorithmIdentifierWire
	CipherAlgoOID        asn1.ObjectIdentifier
	EncryptedKey         []byte
	Nonce                []byte
}

type header2Wire struct {
	Signature []byte
}

// encodeHeader1 performs the two-pass encode of spec.md §4.2: serialize
// once with a zeroed size field to learn L1, populate the size field, then
// re-serialize and assert the length didn't move.
func encodeHeader1(cfg *CryptoConfig, h *PackHeader) ([]byte, error) {
	nestedHash, err := asn1.Marshal(algorithmIdentifierWire{OID: oidSHA256})
	if err != nil {
		return nil, wrap(ErrDerDecode, "marshal nested hash algorithm identifier", err)
	}

	wire := header1Wire{
		Magic:                append([]byte(nil), h.Magic[:]...),
		SizeBuf:              make([]byte, 4),
		DataFilename:         []byte(h.DataFilename),
		TargetPath:           []byte(h.TargetPath),
		Intention:            []byte(h.Intention),
		PayloadVersion:       new(big.Int).SetUint64(h.PayloadVersion),
		PayloadVersionParent: new(big.Int).SetUint64(h.PayloadVersionParent),
		SignAlgoName:         []byte(cfg.SignAlgoName),
		PKAlgID: algorithmIdentifierWire{
			OID:        oidRSAESOAEP,
			Parameters: asn1.RawValue{FullBytes: nestedHash},
		},
		CipherAlgoOID: cfg.CipherAlgoOID,
		EncryptedKey:  h.EncryptedKey,
		Nonce:         h.Nonce,
	}

	pass1, err := asn1.Marshal(wire)
	if err != nil {
		return nil, wrap(ErrDerDecode, "marshal header-1 pass 1", err)
	}
	l1 := len(pass1)

	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(l1))
	wire.SizeBuf = sizeBuf

	pass2, err := asn1.Marshal(wire)
	if err != nil {
		return nil, wrap(ErrDerDecode, "marshal header-1 pass 2", err)
	}
	if len(pass2) != l1 {
		return nil, wrap(ErrHeaderSizeMismatch, "header-1 size moved between encode passes", nil)
	}

	return pass2, nil
}

// encodeHeader2 DER-encodes the detached Header-1 signature.
func encodeHeader2(signature []byte) ([]byte, error) {
	b, err := asn1.Marshal(header2Wire{Signature: signature})
	if err != nil {
		return nil, wrap(ErrDerDecode, "marshal header-2", err)
	}
	return b, nil
}

// snoopHeader1 implements phase A of spec.md §4.2's two-phase decode: a
// minimal streaming DER TLV reader over r that decodes only package_magic
// and header1_size_buffer, validates the magic, and returns L1 -- without
// requiring the full Header-1 length to be known in advance. This is a
// small hand-rolled DER primitive reader (not encoding/asn1, which needs
// the complete, self-contained byte buffer up front -- exactly the thing
// phase A cannot provide).
func snoopHeader1(r io.Reader, cfg *CryptoConfig) (uint32, error) {
	outerTag, _, err := readDERTagLength(r)
	if err != nil {
		return 0, wrap(ErrDerDecode, "read header-1 outer tag", err)
	}
	if outerTag != tagSequence {
		return 0, wrap(ErrDerDecode, "header-1 is not a DER SEQUENCE", nil)
	}

	magic, err := readOctetString(r)
	if err != nil {
		return 0, wrap(ErrBadMagic, "read package_magic", err)
	}
	if len(magic) != len(cfg.Magic) || !bytes.Equal(magic, cfg.Magic[:]) {
		return 0, wrap(ErrBadMagic, "package_magic mismatch", nil)
	}

	sizeBuf, err := readOctetString(r)
	if err != nil {
		return 0, wrap(ErrBadHeaderSize, "read header1_size", err)
	}
	if len(sizeBuf) != 4 {
		return 0, wrap(ErrBadHeaderSize, "header1_size field is not 4 bytes", nil)
	}

	return binary.LittleEndian.Uint32(sizeBuf), nil
}

// decodeHeader1Full implements phase B: read exactly size bytes from r (r
// must be positioned at offset 0) and DER-decode all Header-1 fields from
// that buffer. The buffer itself is retained as the signed byte image.
func decodeHeader1Full(r io.Reader, size uint32) (*PackHeader, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, wrap(ErrShortRead, "read header-1 body", err)
	}

	var wire header1Wire
	rest, err := asn1.Unmarshal(buf, &wire)
	if err != nil {
		return nil, wrap(ErrDerDecode, "unmarshal header-1", err)
	}
	if len(rest) != 0 {
		return nil, wrap(ErrDerDecode, "trailing bytes after header-1", nil)
	}
	if len(wire.SizeBuf) != 4 {
		return nil, wrap(ErrBadHeaderSize, "header1_size field is not 4 bytes", nil)
	}
	if binary.LittleEndian.Uint32(wire.SizeBuf) != uint32(len(buf)) {
		return nil, wrap(ErrHeaderSizeMismatch, "header1_size does not match actual header length", nil)
	}

	var nestedHash algorithmIdentifierWire
	if _, err := asn1.Unmarshal(wire.PKAlgID.Parameters.FullBytes, &nestedHash); err != nil {
		return nil, wrap(ErrDerDecode, "unmarshal nested hash algorithm identifier", err)
	}

	h := &PackHeader{
		DataFilename:         string(wire.DataFilename),
		TargetPath:           string(wire.TargetPath),
		Intention:            string(wire.Intention),
		PayloadVersion:       wire.PayloadVersion.Uint64(),
		PayloadVersionParent: wire.PayloadVersionParent.Uint64(),
		SignAlgoName:         string(wire.SignAlgoName),
		PKAlgoOID:            wire.PKAlgID.OID,
		PKHashOID:            nestedHash.OID,
		CipherAlgoOID:        wire.CipherAlgoOID,
		EncryptedKey:         wire.EncryptedKey,
		Nonce:                wire.Nonce,
		raw:                  buf,
	}
	copy(h.Magic[:], wire.Magic)
	return h, nil
}

// decodeHeader2 reads the Header-2 SEQUENCE immediately following Header-1
// on the stream and returns the detached signature bytes.
func decodeHeader2(r io.Reader) ([]byte, error) {
	outerTag, length, err := readDERTagLength(r)
	if err != nil {
		return nil, wrap(ErrDerDecode, "read header-2 outer tag", err)
	}
	if outerTag != tagSequence {
		return nil, wrap(ErrDerDecode, "header-2 is not a DER SEQUENCE", nil)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, wrap(ErrShortRead, "read header-2 body", err)
	}
	sig, err := readOctetString(bytes.NewReader(body))
	if err != nil {
		return nil, wrap(ErrDerDecode, "read header-2 signature", err)
	}
	return sig, nil
}

// --- minimal streaming DER primitives, used only by snoopHeader1/decodeHeader2 ---

const (
	tagSequence    = 0x30
	tagOctetString = 0x04
)

func readDERTagLength(r io.Reader) (tag byte, length int, err error) {
	var tagBuf [1]byte
	if _, err = io.ReadFull(r, tagBuf[:]); err != nil {
		return 0, 0, err
	}
	length, err = readDERLength(r)
	return tagBuf[0], length, err
}

func readDERLength(r io.Reader) (int, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	if b[0] < 0x80 {
		return int(b[0]), nil
	}
	n := int(b[0] &^ 0x80)
	if n == 0 || n > 4 {
		return 0, wrap(ErrDerDecode, "unsupported DER length form", nil)
	}
	lenBuf := make([]byte, n)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return 0, err
	}
	length := 0
	for _, b := range lenBuf {
		length = length<<8 | int(b)
	}
	return length, nil
}

func readOctetString(r io.Reader) ([]byte, error) {
	tag, length, err := readDERTagLength(r)
	if err != nil {
		return nil, err
	}
	if tag != tagOctetString {
		return nil, wrap(ErrDerDecode, "expected OCTET STRING", nil)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
