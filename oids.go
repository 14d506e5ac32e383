package cipherpack

import "encoding/asn1"

// asnOID is a plain alias so CryptoConfig doesn't need to import encoding/asn1
// at call sites just to name a field type.
type asnOID = asn1.ObjectIdentifier

// Well-known PKCS#1 algorithm identifiers, used for pk_alg_id and its nested
// hash parameters (spec.md §6). ChaCha20-Poly1305 has no IANA-assigned OID,
// so it is given a private-enterprise-arc identifier the way vendors mint
// OIDs for algorithms standards bodies haven't assigned one to.
var (
	oidSHA256           = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidRSAESOAEP        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 7}
	oidChaCha20Poly1305 = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 57264, 3, 1}
)
