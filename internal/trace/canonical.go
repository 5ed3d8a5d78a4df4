package trace

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/difftrace/internal/ir"
)

// MarshalCanonical renders t as RFC 8785 canonical JSON. Byte-identical
// output means bit-identical traces, which is what golden files rely on.
func MarshalCanonical(t *Trace) ([]byte, error) {
	return ir.MarshalCanonical(t)
}

// Digest is the content hash of a trace.
func Digest(t *Trace) (string, error) {
	return ir.Digest(ir.DomainTrace, t)
}

// EntriesDigest hashes only the entries, so traces of the same scenario on
// different backends share a digest exactly when they are bit-identical.
func EntriesDigest(t *Trace) (string, error) {
	entries := t.Entries
	if entries == nil {
		entries = []Entry{}
	}
	return ir.Digest(ir.DomainTrace, entries)
}

// Unmarshal decodes a trace from JSON produced by MarshalCanonical or json.Marshal.
func Unmarshal(data []byte) (*Trace, error) {
	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if t.Entries == nil {
		t.Entries = []Entry{}
	}
	return &t, nil
}
