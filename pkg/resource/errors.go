package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies every failure surfaced by the data-access layer.
type ErrorKind int

const (
	// KindValidation marks payloads rejected by schema rules.
	KindValidation ErrorKind = iota + 1
	// KindTransport marks non-2xx responses and network failures.
	KindTransport
	// KindInvariant marks programming errors such as identity conflicts.
	KindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by schemas, requests and registries.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	// Errors holds messages that apply to the value as a whole.
	Errors []string
	// Fields maps a dotted attribute path to its violations.
	Fields map[string][]string
	// Payload is the structured error body returned by the server, if any.
	Payload any
	Meta    Metadata
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	msg := e.Message
	if msg == "" {
		msg = e.summary()
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) summary() string {
	parts := append([]string(nil), e.Errors...)
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidationBody renders a validation error in the wire shape
// {"errors": [...], "structure": {field: [...]}}.
func (e *Error) ValidationBody() map[string]any {
	body := map[string]any{}
	if len(e.Errors) > 0 {
		body["errors"] = append([]string(nil), e.Errors...)
	}
	if len(e.Fields) > 0 {
		structure := make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			structure[k] = append([]string(nil), v...)
		}
		body["structure"] = structure
	}
	return body
}

// NewValidationError builds a validation error from a single message.
func NewValidationError(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Errors: []string{message}}
}

// KindOf reports the kind of err, or zero if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func IsTransport(err error) bool { return KindOf(err) == KindTransport }

func IsInvariant(err error) bool { return KindOf(err) == KindInvariant }

// ParseValidationBody converts a decoded {"errors", "structure"} payload back
// into a validation error. It returns nil when payload has neither key.
func ParseValidationBody(op string, payload any) *Error {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	rawErrs, hasErrs := m["errors"]
	rawStruct, hasStruct := m["structure"]
	if !hasErrs && !hasStruct {
		return nil
	}
	out := &Error{Kind: KindValidation, Op: op, Payload: payload}
	out.Errors = stringsOf(rawErrs)
	if s, ok := rawStruct.(map[string]any); ok {
		out.Fields = make(map[string][]string, len(s))
		for k, v := range s {
			out.Fields[k] = stringsOf(v)
		}
	}
	return out
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{t}
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(t)}
	}
}
