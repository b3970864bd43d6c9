package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Domain prefixes for content-addressed digests.
// Version suffix enables future algorithm migration.
const (
	DomainPayload  = "sigil/payload/v1"
	DomainChain    = "sigil/chain/v1"
	DomainSnapshot = "sigil/snapshot/v1"
)

// GenesisDigest is the well-known previous digest of every entity's first
// record. It is deliberately not the output of any hash.
var GenesisDigest = strings.Repeat("0", sha256.Size*2)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadDigest hashes the canonical form of an entity state snapshot.
// Returns an error wrapping ErrNotCanonical if the state has no canonical form.
func PayloadDigest(payload any) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadDigest: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// ChainDigest binds a record to its predecessor.
//
// The hashed object is {"metric", "payload_digest", "prev", "seq"}; metric
// goes in as FormatMetric text so no float ever reaches canonical JSON.
// The result is a pure function of its four inputs.
func ChainDigest(prev string, seq int64, metric float64, payloadDigest string) (string, error) {
	m, err := FormatMetric(metric)
	if err != nil {
		return "", fmt.Errorf("ChainDigest: %w", err)
	}
	obj := IRObject{
		"prev":           IRString(prev),
		"seq":            IRInt(seq),
		"metric":         IRString(m),
		"payload_digest": IRString(payloadDigest),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ChainDigest: %w", err)
	}
	return hashWithDomain(DomainChain, canonical), nil
}

// SnapshotDigest hashes an exported snapshot document.
func SnapshotDigest(doc IRValue) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// FormatMetric renders a metric as the shortest decimal string that parses
// back to the same float64. 0.4 becomes "0.4", 1 becomes "1".
func FormatMetric(m float64) (string, error) {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return "", fmt.Errorf("metric %v is not finite", m)
	}
	if m == 0 {
		// Collapse -0 so it hashes like 0.
		m = 0
	}
	return strconv.FormatFloat(m, 'f', -1, 64), nil
}

// MustPayloadDigest is like PayloadDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPayloadDigest(payload any) string {
	d, err := PayloadDigest(payload)
	if err != nil {
		panic(err)
	}
	return d
}

// MustChainDigest is like ChainDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChainDigest(prev string, seq int64, metric float64, payloadDigest string) string {
	d, err := ChainDigest(prev, seq, metric, payloadDigest)
	if err != nil {
		panic(err)
	}
	return d
}
