package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a schema document from disk and normalizes it.
// The format is chosen by extension: .cue, .yaml/.yml, or .json.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &SchemaError{Code: ErrCodeNotFound, Message: path}
		}
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var s *Schema
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		s, err = DecodeCUE(data, path)
	case ".yaml", ".yml":
		s, err = DecodeYAML(data)
	case ".json":
		s, err = DecodeJSON(data)
	default:
		return nil, NewMalformedError("unsupported schema format: " + filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if s.ID == "" {
		s.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := Normalize(s); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeJSON decodes a schema document from JSON.
func DecodeJSON(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, NewMalformedError(err.Error())
	}
	return &s, nil
}

// DecodeYAML decodes a schema document from YAML by way of the JSON
// decoder, so the RuleRef and expression codecs apply uniformly.
func DecodeYAML(data []byte) (*Schema, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewMalformedError(err.Error())
	}
	jsonData, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, NewMalformedError(err.Error())
	}
	return DecodeJSON(jsonData)
}

// DecodeCUE evaluates a CUE document and decodes the resulting value.
// CUE gives schema authors defaults and constraints for free; the
// engine only sees the fully evaluated export.
func DecodeCUE(data []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, NewMalformedError(err.Error())
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, NewMalformedError(err.Error())
	}
	jsonData, err := v.MarshalJSON()
	if err != nil {
		return nil, NewMalformedError(err.Error())
	}
	return DecodeJSON(jsonData)
}

// normalizeYAML rewrites yaml.v3's map[string]any/[]any shapes into
// JSON-marshalable values. yaml.v3 already produces string keys for
// string-keyed maps; nested any-keyed maps are converted defensively.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeYAML(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalizeYAML(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeYAML(elem)
		}
		return out
	default:
		return v
	}
}
