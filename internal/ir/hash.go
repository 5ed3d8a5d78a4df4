package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the encoding to change without colliding with old digests.
const (
	DomainProgram = "difftrace/program/v1"
	DomainTrace   = "difftrace/trace/v1"
	DomainTensor  = "difftrace/tensor/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest hashes v's canonical JSON under the given domain.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// TensorDigest is the content hash of a single tensor value.
func TensorDigest(t *Tensor) (string, error) {
	return Digest(DomainTensor, t)
}

// MustTensorDigest is like TensorDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTensorDigest(t *Tensor) string {
	d, err := TensorDigest(t)
	if err != nil {
		panic(err)
	}
	return d
}

func programFingerprint(p *Program) (string, error) {
	return Digest(DomainProgram, encodeProgram(p))
}
