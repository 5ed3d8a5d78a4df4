package ir

// Version constants for the IR schema and the harness.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// HarnessVersion is the difftrace harness version.
	HarnessVersion = "0.1.0"
)
