// Package fingerprint computes content digests used as deduplication keys.
//
// The digest is the dedup key for an entire uploaded manifest: two uploads
// with byte-identical content produce the same fingerprint and therefore
// resolve to the same batch.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HexLen is the length of a rendered fingerprint (SHA-256, hex encoded).
const HexLen = sha256.Size * 2

// Sum reads r to EOF and returns the SHA-256 digest of its contents as a
// lowercase hexadecimal string. Read errors from r are returned unchanged.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes returns the fingerprint of an in-memory payload.
func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
