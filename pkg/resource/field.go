package resource

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// FieldType names the value shape a Field accepts.
type FieldType string

const (
	TypeText        FieldType = "text"
	TypeInteger     FieldType = "integer"
	TypeFloat       FieldType = "float"
	TypeBoolean     FieldType = "boolean"
	TypeEnumeration FieldType = "enumeration"
	TypeStructure   FieldType = "structure"
	TypeSequence    FieldType = "sequence"
	TypeAny         FieldType = "any"
)

var validate = validator.New()

// Field is a schema node. A structure Field with child Fields describes a
// resource representation or a request payload; *Field implements Schema.
type Field struct {
	Name       string    `yaml:"name" json:"name"`
	Type       FieldType `yaml:"type" json:"type"`
	Title      string    `yaml:"title,omitempty" json:"title,omitempty"`
	Required   bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Nonnull    bool      `yaml:"nonnull,omitempty" json:"nonnull,omitempty"`
	ReadOnly   bool      `yaml:"readonly,omitempty" json:"readonly,omitempty"`
	Deferred   bool      `yaml:"deferred,omitempty" json:"deferred,omitempty"`
	Sortable   bool      `yaml:"sortable,omitempty" json:"sortable,omitempty"`
	Identifier bool      `yaml:"identifier,omitempty" json:"identifier,omitempty"`
	// OnCreate, OnUpdate and OnPut override whether the field is accepted by
	// the corresponding request; nil means the default for that request.
	OnCreate  *bool    `yaml:"oncreate,omitempty" json:"oncreate,omitempty"`
	OnUpdate  *bool    `yaml:"onupdate,omitempty" json:"onupdate,omitempty"`
	OnPut     *bool    `yaml:"onput,omitempty" json:"onput,omitempty"`
	Returned  []string `yaml:"returned,omitempty" json:"returned,omitempty"`
	Operators []string `yaml:"operators,omitempty" json:"operators,omitempty"`
	// Rules is a go-playground/validator tag applied after type checks.
	Rules   string   `yaml:"rules,omitempty" json:"rules,omitempty"`
	Enum    []string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Default any      `yaml:"default,omitempty" json:"default,omitempty"`
	Item    *Field   `yaml:"item,omitempty" json:"item,omitempty"`
	Fields  []Field  `yaml:"fields,omitempty" json:"fields,omitempty"`
	// Loose structures keep unknown members instead of rejecting them.
	Loose bool `yaml:"loose,omitempty" json:"loose,omitempty"`
}

// Schema serialises and validates payloads for one request or response.
type Schema interface {
	Serialize(value any, mimetype string) ([]byte, error)
	Unserialize(raw []byte, mimetype string) (any, error)
	Extract(attrs Attributes) Attributes
}

var _ Schema = (*Field)(nil)

// Child returns the structure member with the given name.
func (f *Field) Child(name string) (*Field, bool) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i], true
		}
	}
	return nil, false
}

// Returns reports whether the field is echoed in the response of the named request.
func (f *Field) Returns(request string) bool {
	for _, r := range f.Returned {
		if r == request {
			return true
		}
	}
	return false
}

// Validate checks value against the field and returns its normalised form.
// Violations are reported as a single *Error of KindValidation.
func (f *Field) Validate(value any) (any, error) {
	v := &violations{}
	out := f.process(value, "", v)
	if v.empty() {
		return out, nil
	}
	return nil, v.err("validate " + f.Name)
}

// Serialize validates value and encodes it for mimetype.
func (f *Field) Serialize(value any, mimetype string) ([]byte, error) {
	normalized, err := f.Validate(value)
	if err != nil {
		return nil, err
	}
	return Encode(normalized, mimetype)
}

// Unserialize decodes raw for mimetype and validates the result.
func (f *Field) Unserialize(raw []byte, mimetype string) (any, error) {
	decoded, err := Decode(raw, mimetype, f)
	if err != nil {
		return nil, err
	}
	return f.Validate(decoded)
}

// Extract keeps the attributes a structure schema accepts. Other schemas
// return a copy of attrs.
func (f *Field) Extract(attrs Attributes) Attributes {
	if f.Type != TypeStructure || len(f.Fields) == 0 {
		return attrs.Clone()
	}
	out := make(Attributes, len(f.Fields))
	for _, child := range f.Fields {
		if v, ok := attrs[child.Name]; ok {
			out[child.Name] = v
		}
	}
	return out
}

type violations struct {
	errors []string
	fields map[string][]string
}

func (v *violations) add(path, msg string) {
	if path == "" {
		v.errors = append(v.errors, msg)
		return
	}
	if v.fields == nil {
		v.fields = map[string][]string{}
	}
	v.fields[path] = append(v.fields[path], msg)
}

func (v *violations) empty() bool { return len(v.errors) == 0 && len(v.fields) == 0 }

func (v *violations) err(op string) *Error {
	return &Error{Kind: KindValidation, Op: op, Errors: v.errors, Fields: v.fields}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func (f *Field) process(value any, path string, v *violations) any {
	if value == nil {
		if f.Nonnull {
			v.add(path, "nonnull")
		}
		return nil
	}
	var out any
	switch f.Type {
	case TypeText:
		s, ok := value.(string)
		if !ok {
			v.add(path, "invalid text")
			return nil
		}
		out = s
	case TypeInteger:
		n, ok := toInt64(value)
		if !ok {
			v.add(path, "invalid integer")
			return nil
		}
		out = n
	case TypeFloat:
		n, ok := toFloat64(value)
		if !ok {
			v.add(path, "invalid float")
			return nil
		}
		out = n
	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			v.add(path, "invalid boolean")
			return nil
		}
		out = b
	case TypeEnumeration:
		s, ok := value.(string)
		if !ok || !contains(f.Enum, s) {
			v.add(path, "invalid enumeration value")
			return nil
		}
		out = s
	case TypeStructure:
		m, ok := asMap(value)
		if !ok {
			v.add(path, "invalid structure")
			return nil
		}
		out = f.processStructure(m, path, v)
	case TypeSequence:
		items, ok := asSlice(value)
		if !ok {
			v.add(path, "invalid sequence")
			return nil
		}
		seq := make([]any, 0, len(items))
		for i, item := range items {
			itemPath := path + "[" + strconv.Itoa(i) + "]"
			if f.Item == nil {
				seq = append(seq, item)
				continue
			}
			seq = append(seq, f.Item.process(item, itemPath, v))
		}
		out = seq
	default:
		out = normalizeAny(value)
	}
	if f.Rules != "" {
		if err := validate.Var(out, f.Rules); err != nil {
			for _, msg := range ruleMessages(err) {
				v.add(path, msg)
			}
			return nil
		}
	}
	return out
}

func (f *Field) processStructure(m map[string]any, path string, v *violations) map[string]any {
	out := make(map[string]any, len(m))
	for _, child := range f.Fields {
		raw, present := m[child.Name]
		if !present {
			if child.Default != nil {
				out[child.Name] = normalizeAny(child.Default)
			} else if child.Required {
				v.add(join(path, child.Name), "required")
			}
			continue
		}
		out[child.Name] = child.process(raw, join(path, child.Name), v)
	}
	if len(f.Fields) == 0 {
		for k, val := range m {
			out[k] = normalizeAny(val)
		}
		return out
	}
	unknown := make([]string, 0)
	for k := range m {
		if _, ok := f.Child(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		if f.Loose {
			out[k] = normalizeAny(m[k])
			continue
		}
		v.add(join(path, k), "unknown field")
	}
	return out
}

func ruleMessages(err error) []string {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(ves))
	for _, fe := range ves {
		switch fe.Tag() {
		case "min":
			out = append(out, "must be at least "+fe.Param())
		case "max":
			out = append(out, "must be at most "+fe.Param())
		case "oneof":
			out = append(out, "must be one of: "+fe.Param())
		default:
			out = append(out, "failed rule "+fe.Tag())
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func asMap(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case Attributes:
		return m, true
	case Query:
		return m, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func asSlice(value any) ([]any, bool) {
	if s, ok := value.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toInt64(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return toInt64(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(value); ok {
		return float64(i), true
	}
	return 0, false
}

// normalizeAny converts loosely typed decoder output into the canonical forms
// used throughout the module: integral numbers become int64, maps become
// map[string]any and slices []any.
func normalizeAny(value any) any {
	switch t := value.(type) {
	case nil, string, bool, int64:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	}
	if i, ok := toInt64(value); ok {
		return i
	}
	if m, ok := asMap(value); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = normalizeAny(v)
		}
		return out
	}
	if s, ok := asSlice(value); ok {
		out := make([]any, len(s))
		for i, v := range s {
			out[i] = normalizeAny(v)
		}
		return out
	}
	return value
}

// Normalize converts decoder output into canonical value forms.
func Normalize(value any) any { return normalizeAny(value) }

func formatScalar(value any) (string, bool) {
	switch t := value.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	}
	if i, ok := toInt64(value); ok {
		return strconv.FormatInt(i, 10), true
	}
	return "", false
}

func (f *Field) String() string { return fmt.Sprintf("%s(%s)", f.Type, f.Name) }
