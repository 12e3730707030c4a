// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package serializer encodes and decodes records and metadata structs in
// either of two wire formats: JSON (for human inspection, the teacher's
// default everywhere) and MessagePack (preferred on disk for speed).
package serializer

import (
	"bytes"
	"crypto/sha1"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Format selects the wire format.
type Format string

// the two supported formats.
const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// Strictness controls whether unknown fields on decode are rejected.
type Strictness int

// Strict rejects unknown fields (used for user records, to catch schema
// drift early). Lenient ignores them (used for internal structs, which must
// stay forward-compatible across versions).
const (
	Strict Strictness = iota
	Lenient
)

// Serializer encodes and decodes values of type T in a configured format.
type Serializer[T any] struct {
	Format     Format
	Strictness Strictness
}

// New returns a Serializer for T using format and strictness.
func New[T any](format Format, strictness Strictness) Serializer[T] {
	return Serializer[T]{Format: format, Strictness: strictness}
}

// Encode serializes v deterministically: equal inputs always produce equal
// bytes, which is required for DataHash to be stable.
func (s Serializer[T]) Encode(v T) ([]byte, error) {
	switch s.Format {
	case FormatMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("msgpack encode: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON, "":
		// goccy/go-json, like encoding/json, marshals map keys in sorted
		// order and struct fields in declaration order, so this is already
		// deterministic.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("json encode: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown serializer format %q", s.Format)
	}
}

// Decode deserializes data into a T. In Strict mode unknown fields are
// rejected; in Lenient mode they are ignored.
func (s Serializer[T]) Decode(data []byte) (T, error) {
	var v T
	switch s.Format {
	case FormatMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		if s.Strictness == Strict {
			dec.DisallowUnknownFields(true)
		}
		if err := dec.Decode(&v); err != nil {
			return v, fmt.Errorf("msgpack decode: %w", err)
		}
		return v, nil
	case FormatJSON, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		if s.Strictness == Strict {
			dec.DisallowUnknownFields()
		}
		if err := dec.Decode(&v); err != nil {
			return v, fmt.Errorf("json decode: %w", err)
		}
		return v, nil
	default:
		return v, fmt.Errorf("unknown serializer format %q", s.Format)
	}
}

// DecodeToMap decodes data into a generic map, used by the manager's
// indexed-field projection, Patch and partial projection, which must walk
// paths without knowing T's static shape.
func (s Serializer[T]) DecodeToMap(data []byte) (map[string]interface{}, error) {
	ser := New[map[string]interface{}](s.Format, Lenient)
	return ser.Decode(data)
}

// Hash returns a stable content hash of encoded bytes, used as
// RevisionInfo.DataHash. The teacher uses sha1 the same way for ETags
// (backend.bytesToEtag); we reuse that choice here for consistency.
func Hash(data []byte) string {
	sum := sha1.Sum(data)
	return fmt.Sprintf("%x", sum)
}
