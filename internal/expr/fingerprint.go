package expr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for structural hashing. Version suffix enables
// future algorithm migration.
const (
	domainExpr    = "formkit/expr/v1"
	domainContext = "formkit/context/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes a structural hash of a tree. Two trees with the
// same shape and constants share a fingerprint regardless of where the
// schema document placed them.
func Fingerprint(n Node) (string, error) {
	raw, err := encodeRaw(n)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	canonical, err := marshalCanonicalRaw(raw)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(domainExpr, canonical), nil
}

// ContextHash hashes the projection of ctx onto the given dependency
// set. Contexts that agree on every listed field share a hash, which
// is what lets the evaluation cache ignore edits to unrelated fields.
func ContextHash(deps []string, ctx Context) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, dep := range deps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := canonicalString(dep)
		if err != nil {
			return "", fmt.Errorf("context hash: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalCanonicalValue(ctx[dep])
		if err != nil {
			return "", fmt.Errorf("context hash: field %q: %w", dep, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return hashWithDomain(domainContext, buf.Bytes()), nil
}

// marshalCanonicalRaw serializes a wire-form node with sorted keys and
// NFC-normalized strings so hashing is stable across producers.
func marshalCanonicalRaw(raw *rawNode) ([]byte, error) {
	fields := make(map[string]any)
	fields["type"] = raw.Type
	if raw.Name != "" {
		fields["name"] = raw.Name
	}
	if raw.Source != "" {
		fields["source"] = raw.Source
	}
	if raw.Property != "" {
		fields["property"] = raw.Property
	}
	if raw.Operator != "" {
		fields["operator"] = raw.Operator
	}
	if len(raw.Callee) > 0 {
		var callee string
		if err := json.Unmarshal(raw.Callee, &callee); err != nil {
			return nil, err
		}
		fields["callee"] = callee
	}
	if len(raw.Value) > 0 {
		var v any
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return nil, err
		}
		fields["value"] = v
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	keys := make([]string, 0, len(fields)+1)
	for k := range fields {
		keys = append(keys, k)
	}
	if len(raw.Arguments) > 0 {
		keys = append(keys, "arguments")
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := canonicalString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if k == "arguments" {
			buf.WriteByte('[')
			for j, argRaw := range raw.Arguments {
				if j > 0 {
					buf.WriteByte(',')
				}
				arg, err := UnmarshalNode(argRaw)
				if err != nil {
					return nil, err
				}
				argWire, err := encodeRaw(arg)
				if err != nil {
					return nil, err
				}
				argCanonical, err := marshalCanonicalRaw(argWire)
				if err != nil {
					return nil, err
				}
				buf.Write(argCanonical)
			}
			buf.WriteByte(']')
			continue
		}
		val, err := marshalCanonicalValue(fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalCanonicalValue serializes an engine value deterministically:
// sorted object keys, NFC strings, no HTML escaping, shortest float
// form, dates as RFC 3339 nanoseconds.
func marshalCanonicalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return canonicalString(val)
	case float64:
		return []byte(strconv.FormatFloat(val, 'g', -1, 64)), nil
	case int:
		return []byte(strconv.Itoa(val)), nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case time.Time:
		return canonicalString(val.UTC().Format(time.RFC3339Nano))
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := marshalCanonicalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := canonicalString(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			data, err := marshalCanonicalValue(val[k])
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case Context:
		return marshalCanonicalValue(map[string]any(val))
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// canonicalString marshals a string NFC-normalized without HTML escaping.
func canonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	// Encoder appends a newline; strip it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
