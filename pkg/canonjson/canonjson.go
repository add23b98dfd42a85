// Package canonjson produces the canonical byte representation that every
// signed envelope in this system is hashed/signed over: the HMAC-SHA-256
// signal envelope (internal/transport) and the Ed25519 operator-proposal
// envelope (internal/proposal). Per SPEC_FULL.md §2 decision 2, canonical
// form is simply encoding/json over a struct with a fixed field order --
// never a map, whose iteration order Go deliberately randomises.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes v the same way every caller must: no HTML escaping, no
// indentation, and a trailing-newline-free single line. v must be a struct
// (or pointer to one); passing a map is a programmer error since map key
// order is exactly what this package exists to avoid.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonjson: encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MustMarshal is Marshal for call sites that have already validated v is
// encodable (e.g. a type defined in this codebase, not user input).
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
