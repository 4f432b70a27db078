package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodePayload canonicalizes v into MessagePack payload bytes.
func EncodePayload(v any) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, invalid(fieldPayload, err.Error())
	}
	return data, nil
}

// DecodePayload decodes MessagePack payload bytes into v.
func DecodePayload(data []byte, v any) error {
	if err := Unmarshal(data, v); err != nil {
		return invalid(fieldPayload, err.Error())
	}
	return nil
}

// PayloadFromJSON converts a JSON document received at the HTTP boundary
// into canonical MessagePack. Integers stay integers; an empty body becomes an
// empty map.
func PayloadFromJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return EncodePayload(map[string]any{})
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalid(fieldPayload, "malformed JSON: "+err.Error())
	}
	if dec.More() {
		return nil, invalid(fieldPayload, "trailing data after JSON document")
	}

	normalized, err := normalizeNumbers(v)
	if err != nil {
		return nil, err
	}
	return EncodePayload(normalized)
}

// PayloadToJSON converts MessagePack payload bytes back to JSON. An empty
// payload becomes null.
func PayloadToJSON(payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	var v any
	if err := DecodePayload(payload, &v); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert payload to JSON: %w", err)
	}
	return data, nil
}

func normalizeNumbers(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, invalid(fieldPayload, "number out of range: "+t.String())
		}
		return f, nil
	case map[string]any:
		for k, item := range t {
			n, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, item := range t {
			n, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
