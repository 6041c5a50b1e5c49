// Package canonical implements the ESRP deterministic JSON encoder: given
// any JSON-representable value it produces a byte sequence that is
// identical across platforms for semantically equal inputs, or fails with
// FloatNotAllowed if the value contains a floating-point number.
//
// The encoder works from an intermediate tree rather than serializing
// caller structs directly, per the design note that direct struct
// serialization risks encoders that quietly re-order keys. Decode builds
// that tree from raw JSON bytes using json.Decoder with UseNumber so
// integers and floats stay distinguishable; Canonicalize walks a tree
// (built by Decode, or assembled natively by callers) and emits
// pre-sorted, minimally-escaped bytes.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/erasmus-project/esrp/protocol"
)

// Canonicalize produces the canonical byte encoding of v.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 of Canonicalize(v).
func Hash(v any) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Decode parses raw JSON bytes into the intermediate tree Canonicalize
// understands: map[string]any, []any, string, bool, nil and json.Number
// for every number (so float-ness is decided at encode time, never lost to
// encoding/json's default float64 conversion). Duplicate object keys are
// rejected, mirroring the "duplicate keys are forbidden in input" rule of
// the encoding rules.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrMalformedValue, err.Error()).WithCause(err)
	}
	if dec.More() {
		return nil, protocol.NewError(protocol.ErrMalformedValue, "trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string, bool, nil, json.Number:
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported JSON token %v", tok)
	}
}

func decodeObject(dec *json.Decoder) (map[string]any, error) {
	result := make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key must be a string, got %v", keyTok)
		}
		if _, dup := result[key]; dup {
			return nil, fmt.Errorf("duplicate object key %q", key)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		result[key] = val
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	result := make([]any, 0)
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		result = append(result, val)
	}
	// consume closing ']'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return result, nil
}

// encodeValue dispatches on the dynamic type of v, mirroring the recursive
// sum type of spec §9 (object/array/integer/string/bool/null).
func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, val)
	case json.Number:
		return encodeNumber(buf, val)
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		return encodeArray(buf, val)
	case float32, float64:
		return protocol.NewError(protocol.ErrFloatNotAllowed, "floating-point values cannot be canonicalized; stringify before hashing")
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return encodeNumber(buf, json.Number(formatInteger(val)))
	default:
		return encodeFallback(buf, val)
	}
}

// encodeFallback handles values that are not already part of the
// recognized tree (e.g. a caller-defined struct nested inside params) by
// round-tripping it through encoding/json with UseNumber, so floats
// embedded in arbitrary structs are still caught.
func encodeFallback(buf *bytes.Buffer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return protocol.NewError(protocol.ErrMalformedValue, "value is not JSON-representable").WithCause(err)
	}
	decoded, decErr := Decode(raw)
	if decErr != nil {
		return decErr
	}
	return encodeValue(buf, decoded)
}

func formatInteger(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.FormatInt(int64(n), 10)
	case int8:
		return strconv.FormatInt(int64(n), 10)
	case int16:
		return strconv.FormatInt(int64(n), 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint:
		return strconv.FormatUint(uint64(n), 10)
	case uint8:
		return strconv.FormatUint(uint64(n), 10)
	case uint16:
		return strconv.FormatUint(uint64(n), 10)
	case uint32:
		return strconv.FormatUint(uint64(n), 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	default:
		return ""
	}
}

// encodeNumber rejects anything with a fractional part or exponent, and
// rejects malformed integer tokens (leading zeros, leading '+', etc.),
// otherwise emits the token unchanged — a JSON integer token is already in
// canonical decimal form.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)
	for _, r := range s {
		if r == '.' || r == 'e' || r == 'E' {
			return protocol.NewError(protocol.ErrFloatNotAllowed, fmt.Sprintf("number %q has a fractional part or exponent", s))
		}
	}
	if !isCanonicalInteger(s) {
		return protocol.NewError(protocol.ErrMalformedValue, fmt.Sprintf("malformed integer literal %q", s))
	}
	buf.WriteString(s)
	return nil
}

func isCanonicalInteger(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' {
		i++
		if i == len(s) {
			return false
		}
	}
	if s[i] == '0' {
		return i+1 == len(s)
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// encodeString writes the minimal RFC 8259 escape set; every other code
// point is emitted as raw UTF-8. Invalid UTF-8 (including unpaired
// surrogates, which cannot occur in valid UTF-8) is rejected.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return protocol.NewError(protocol.ErrMalformedValue, "string is not valid UTF-8")
	}
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !utf8.ValidString(k) {
			return protocol.NewError(protocol.ErrMalformedValue, "object key is not valid UTF-8")
		}
		keys = append(keys, k)
	}
	// Object keys are sorted by the lexicographic order of their UTF-8
	// byte sequences; Go's string < operator already compares byte-wise.
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
