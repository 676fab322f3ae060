package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPayload prefixes payload hashes. The version suffix leaves room to
// change the encoding later.
const DomainPayload = "relfill/payload/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps domain and data from running together.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash fingerprints a fill request: the requested type, the target
// key (NoKey for a create) and the attributes. It is computed over canonical
// JSON, so key order and Unicode normalization do not change it. Retried
// requests can be recognized by comparing hashes.
func PayloadHash(typeName string, key Key, attrs IRObject) (string, error) {
	if attrs == nil {
		attrs = IRObject{}
	}
	obj := IRObject{
		"type":  IRString(typeName),
		"key":   IRInt(key),
		"attrs": attrs,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}
