// Package ir provides the canonical value model and content hashing shared by
// the registry, the ledger and every persistence backend.
//
// ir imports nothing internal. All other internal packages may import it.
//
// Key design constraints:
//   - NO float types inside hashed values - use int64 for numbers
//   - NO null inside hashed values
//   - Canonical form is RFC 8785 JSON with NFC-normalized strings
//   - Every digest is SHA-256 with a versioned domain prefix
//
// Metrics are the one float that participates in a digest. They never enter
// canonical JSON as numbers; FormatMetric renders them as a decimal string
// first.
package ir
