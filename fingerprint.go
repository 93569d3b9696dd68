package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// FingerprintSize is the length in bytes of a Fingerprint.
const FingerprintSize = sha256.Size

// Fingerprint is the SHA-256 digest of an asset's content, used as its
// stable identity. The zero value means "no fingerprint".
type Fingerprint [FingerprintSize]byte

// ComputeFingerprint returns the fingerprint of the given content.
func ComputeFingerprint(content []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(content))
}

// ParseFingerprint decodes a 64-character lowercase hex string.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	if len(s) != hex.EncodedLen(FingerprintSize) {
		return fp, fmt.Errorf("%w: length %d", ErrInvalidFingerprint, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	copy(fp[:], raw)
	return fp, nil
}

// Hex returns the 64-character lowercase hex encoding.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return f.Hex()
}

// IsZero reports whether f is the "no fingerprint" sentinel.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Compare orders fingerprints byte-lexicographically.
func (f Fingerprint) Compare(other Fingerprint) int {
	return bytes.Compare(f[:], other[:])
}

// Digest returns f as an OCI digest for use with registry clients.
func (f Fingerprint) Digest() digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, f.Hex())
}

// Verify reports whether content hashes to f.
func (f Fingerprint) Verify(content []byte) bool {
	verifier := f.Digest().Verifier()
	_, _ = verifier.Write(content)
	return verifier.Verified()
}
