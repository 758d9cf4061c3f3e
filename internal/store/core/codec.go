package core

import (
	"encoding/json"
	"fmt"

	"meshcore/pkg/resource"
)

// EncodeBucket renders one resource bucket as a JSON object keyed by id.
func EncodeBucket(records map[string]resource.Attributes) ([]byte, error) {
	if records == nil {
		records = map[string]resource.Attributes{}
	}
	return json.Marshal(records)
}

// DecodeBucket parses a bucket written by EncodeBucket. Integral numbers come
// back as int64.
func DecodeBucket(name string, payload []byte) (map[string]resource.Attributes, error) {
	var raw map[string]map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	out := make(map[string]resource.Attributes, len(raw))
	for id, rec := range raw {
		normalized, _ := resource.Normalize(rec).(map[string]any)
		out[id] = normalized
	}
	return out, nil
}
