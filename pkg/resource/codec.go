package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported payload mimetypes.
const (
	MimeJSON = "application/json"
	MimeForm = "application/x-www-form-urlencoded"
	MimeYAML = "application/x-yaml"
)

// BaseMimetype strips parameters such as charset from a content type.
func BaseMimetype(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return mt
}

// IsJSON reports whether contentType denotes a JSON body.
func IsJSON(contentType string) bool {
	mt := BaseMimetype(contentType)
	return mt == MimeJSON || strings.HasSuffix(mt, "+json")
}

// Encode renders value in the given mimetype.
func Encode(value any, mimetype string) ([]byte, error) {
	switch BaseMimetype(mimetype) {
	case MimeJSON, "":
		return json.Marshal(value)
	case MimeYAML, "text/yaml":
		return yaml.Marshal(value)
	case MimeForm:
		return encodeForm(value)
	default:
		return nil, fmt.Errorf("encode: unsupported mimetype %q", mimetype)
	}
}

// Decode parses raw in the given mimetype. The schema, when non-nil, tells
// the form decoder which members are text and must stay verbatim.
func Decode(raw []byte, mimetype string, schema *Field) (any, error) {
	switch BaseMimetype(mimetype) {
	case MimeJSON, "":
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return out, nil
	case MimeYAML, "text/yaml":
		var out any
		if err := yaml.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return out, nil
	case MimeForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("decode form: %w", err)
		}
		return DecodeValues(values, schema), nil
	default:
		return nil, fmt.Errorf("decode: unsupported mimetype %q", mimetype)
	}
}

// DecodeValues converts url values into a structure. Members the schema types
// as text or enumeration are kept verbatim; the rest are parsed as JSON and
// fall back to the raw string.
func DecodeValues(values url.Values, schema *Field) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		raw := vals[0]
		if schema != nil {
			if child, ok := schema.Child(key); ok && (child.Type == TypeText || child.Type == TypeEnumeration) {
				out[key] = raw
				continue
			}
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			out[key] = parsed
			continue
		}
		out[key] = raw
	}
	return out
}

func encodeForm(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	m, ok := asMap(value)
	if !ok {
		return nil, fmt.Errorf("encode form: structure required, got %T", value)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, k := range keys {
		v := m[k]
		if v == nil {
			continue
		}
		if s, ok := formatScalar(v); ok {
			values.Set(k, s)
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode form %s: %w", k, err)
		}
		values.Set(k, string(data))
	}
	return []byte(values.Encode()), nil
}
