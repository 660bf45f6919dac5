// Package fingerprint computes canonical JSON encodings and content hashes.
//
// Canonical JSON has object keys sorted, array order preserved, no insignificant
// whitespace and no HTML escaping. Numbers keep their original textual form.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Prefix is prepended to every fingerprint to name the hash algorithm.
const Prefix = "sha256:"

// Canonicalize returns the canonical JSON encoding of v.
// v may be any value encoding/json can marshal; NaN and Inf floats are rejected.
func Canonicalize(v any) ([]byte, error) {
	raw, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	// map[string]any is encoded with sorted keys
	out, err := marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode canonical value: %w", err)
	}
	return out, nil
}

// Fingerprint returns "sha256:" followed by the hex SHA-256 of Canonicalize(v).
func Fingerprint(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return Sum(canonical), nil
}

// Sum hashes already canonical bytes.
func Sum(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return Prefix + hex.EncodeToString(sum[:])
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
