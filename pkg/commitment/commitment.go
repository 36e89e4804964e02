// Copyright 2025 Certen Protocol
//
// Package commitment provides RFC 8785-style canonical JSON encoding and
// the SHA-256 hashing built on top of it, shared by the proof chain's
// Merkle leaf hashing and anything else that needs a deterministic
// content hash independent of map key order.
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalizeJSON takes arbitrary JSON bytes and returns a canonical
// encoding: deterministic key order, stable formatting. A simplified
// RFC 8785-like approach — it does not implement RFC 8785's numeric
// formatting rules, only key ordering.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalizeValue(v))
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// HashBytes returns the hex-encoded SHA-256 digest of data, 0x-prefixed.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalCanonical JSON-encodes v and canonicalizes the result, so two
// equal values with differently-ordered maps always serialize identically.
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(raw)
}

// HashCanonical canonically encodes v and returns its SHA-256 hex hash.
func HashCanonical(v interface{}) (string, error) {
	canon, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}

// Sum256 canonically encodes v and returns the raw 32-byte SHA-256
// digest, for callers that need the fixed-size form directly (e.g. a
// Merkle leaf) rather than the hex string.
func Sum256(v interface{}) ([32]byte, error) {
	canon, err := MarshalCanonical(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}
