package resource

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Response status codes used by the standard requests.
const (
	StatusOK             = http.StatusOK
	StatusCreated        = http.StatusCreated
	StatusAccepted       = http.StatusAccepted
	StatusPartial        = http.StatusPartialContent
	StatusBadRequest     = http.StatusBadRequest
	StatusForbidden      = http.StatusForbidden
	StatusNotFound       = http.StatusNotFound
	StatusNotAllowed     = http.StatusMethodNotAllowed
	StatusInvalid        = http.StatusNotAcceptable
	StatusConflict       = http.StatusConflict
	StatusGone           = http.StatusGone
	StatusServerError    = http.StatusInternalServerError
	StatusUnimplemented  = http.StatusNotImplemented
	StatusUnavailable    = http.StatusServiceUnavailable
	MethodLoad           = "LOAD"
	DefaultIdentifierKey = "id"
)

// Standard request names.
const (
	RequestQuery        = "query"
	RequestGet          = "get"
	RequestCreate       = "create"
	RequestUpdate       = "update"
	RequestPut          = "put"
	RequestDelete       = "delete"
	RequestLoad         = "load"
	RequestCreateUpdate = "create_update"
)

// DefaultRequests is the request set built when a resource names none.
var DefaultRequests = []string{RequestCreate, RequestDelete, RequestGet, RequestQuery, RequestUpdate}

// Operators accepted in query filters.
var Operators = []string{
	"equal", "iequal", "not", "inot", "prefix", "iprefix", "suffix", "isuffix",
	"contains", "icontains", "gt", "gte", "lt", "lte", "null", "in", "notin",
}

// Resource describes one remote entity type.
type Resource struct {
	Name     string   `yaml:"name" json:"name"`
	Title    string   `yaml:"title,omitempty" json:"title,omitempty"`
	IDField  string   `yaml:"id_field,omitempty" json:"id_field,omitempty"`
	Fields   []Field  `yaml:"fields" json:"fields"`
	Requests []string `yaml:"requests,omitempty" json:"requests,omitempty"`
}

// RequestSpec declares one operation against a resource.
type RequestSpec struct {
	Name     string
	Method   string
	Path     string
	Specific bool
	Mimetype string
	Schema   Schema
	// Responses maps a status code to the schema of its body.
	Responses map[int]Schema
}

// Normalize fills defaults and ensures an identifier field exists.
func (r Resource) Normalize() Resource {
	if r.IDField == "" {
		r.IDField = DefaultIdentifierKey
	}
	fields := make([]Field, len(r.Fields))
	copy(fields, r.Fields)
	found := false
	for i := range fields {
		if fields[i].Name == r.IDField {
			fields[i].Identifier = true
			found = true
		}
	}
	if !found {
		id := Field{
			Name: r.IDField, Type: TypeText, Identifier: true, ReadOnly: true,
			Nonnull: true, Sortable: true, Operators: []string{"equal", "in", "notin"},
		}
		fields = append([]Field{id}, fields...)
	}
	r.Fields = fields
	if len(r.Requests) == 0 {
		r.Requests = append([]string(nil), DefaultRequests...)
	}
	return r
}

// Identifier returns the identifier field.
func (r Resource) Identifier() Field {
	for _, f := range r.Fields {
		if f.Identifier || f.Name == r.IDField {
			return f
		}
	}
	return Field{Name: DefaultIdentifierKey, Type: TypeText, Identifier: true}
}

// Field returns the named field.
func (r Resource) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks a resource definition for structural problems.
func (r Resource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("resource: name required")
	}
	seen := map[string]bool{}
	for _, f := range r.Fields {
		if f.Name == "" {
			return fmt.Errorf("resource %s: field name required", r.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("resource %s: duplicate field %s", r.Name, f.Name)
		}
		seen[f.Name] = true
		for _, op := range f.Operators {
			if !contains(Operators, op) {
				return fmt.Errorf("resource %s: field %s: unknown operator %s", r.Name, f.Name, op)
			}
		}
	}
	for _, name := range r.Requests {
		if _, ok := requestBuilders[name]; !ok {
			return fmt.Errorf("resource %s: unknown request %s", r.Name, name)
		}
	}
	return nil
}

// Representation is the response schema of a single resource.
func (r Resource) Representation() *Field {
	fields := make([]Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		c := f
		c.Required = false
		c.Default = nil
		fields = append(fields, c)
	}
	return &Field{Name: r.Name, Type: TypeStructure, Fields: fields}
}

// StandardRequests builds the request specs the resource declares, keyed by name.
func StandardRequests(r Resource) map[string]RequestSpec {
	r = r.Normalize()
	out := make(map[string]RequestSpec, len(r.Requests))
	for _, name := range r.Requests {
		build, ok := requestBuilders[name]
		if !ok {
			continue
		}
		out[name] = build(r)
	}
	return out
}

var requestBuilders = map[string]func(Resource) RequestSpec{
	RequestQuery:        buildQuery,
	RequestGet:          buildGet,
	RequestCreate:       buildCreate,
	RequestUpdate:       buildUpdate,
	RequestPut:          buildPut,
	RequestDelete:       buildDelete,
	RequestLoad:         buildLoad,
	RequestCreateUpdate: buildCreateUpdate,
}

func collectionPath(r Resource) string { return "/" + r.Name }

func specificPath(r Resource) string { return "/" + r.Name + "/id" }

func invalidResponse() *Field {
	return &Field{Name: "errors", Type: TypeStructure, Loose: true}
}

func namesOf(fields []Field, keep func(Field) bool) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if keep(f) {
			out = append(out, f.Name)
		}
	}
	return out
}

func enumSequence(name string, values []string) Field {
	return Field{
		Name: name, Type: TypeSequence, Nonnull: true,
		Item: &Field{Name: name, Type: TypeEnumeration, Nonnull: true, Enum: values},
	}
}

func projectionFields(r Resource) []Field {
	all := namesOf(r.Fields, func(Field) bool { return true })
	deferred := namesOf(r.Fields, func(f Field) bool { return f.Deferred })
	excludable := namesOf(r.Fields, func(f Field) bool { return !f.Identifier })
	out := []Field{enumSequence("fields", all)}
	if len(deferred) > 0 {
		out = append(out, enumSequence("include", deferred))
	}
	out = append(out, enumSequence("exclude", excludable))
	return out
}

// SortTokens lists the accepted sort tokens: f, f+ and f- for each sortable field.
func SortTokens(r Resource) []string {
	var tokens []string
	for _, f := range r.Fields {
		if f.Sortable {
			tokens = append(tokens, f.Name, f.Name+"+", f.Name+"-")
		}
	}
	return tokens
}

// OperatorField is the name a filter uses for field and op.
func OperatorField(field, op string) string {
	if op == "equal" {
		return field
	}
	return field + "__" + op
}

// SplitOperator reverses OperatorField.
func SplitOperator(name string) (field, op string) {
	if i := strings.LastIndex(name, "__"); i > 0 {
		candidate := name[i+2:]
		if contains(Operators, candidate) {
			return name[:i], candidate
		}
	}
	return name, "equal"
}

func operatorFields(r Resource) []Field {
	var out []Field
	for _, f := range r.Fields {
		if len(f.Operators) == 0 {
			continue
		}
		base := Field{Name: f.Name, Type: f.Type, Enum: f.Enum, Item: f.Item, Fields: f.Fields}
		for _, op := range f.Operators {
			name := OperatorField(f.Name, op)
			switch op {
			case "null":
				out = append(out, Field{Name: name, Type: TypeBoolean})
			case "in", "notin":
				item := base
				item.Name = name
				out = append(out, Field{Name: name, Type: TypeSequence, Item: &item})
			default:
				c := base
				c.Name = name
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func buildQuery(r Resource) RequestSpec {
	fields := projectionFields(r)
	fields = append(fields,
		Field{Name: "limit", Type: TypeInteger, Rules: "min=0"},
		Field{Name: "offset", Type: TypeInteger, Rules: "min=0", Default: int64(0)},
		Field{Name: "total", Type: TypeBoolean, Nonnull: true, Default: false},
	)
	if tokens := SortTokens(r); len(tokens) > 0 {
		fields = append(fields, enumSequence("sort", tokens))
	}
	if ops := operatorFields(r); len(ops) > 0 {
		fields = append(fields, Field{Name: "query", Type: TypeStructure, Fields: ops})
	}
	response := &Field{Name: "response", Type: TypeStructure, Fields: []Field{
		{Name: "total", Type: TypeInteger},
		{Name: "resources", Type: TypeSequence, Item: r.Representation()},
	}}
	return RequestSpec{
		Name: RequestQuery, Method: http.MethodGet, Path: collectionPath(r), Mimetype: MimeForm,
		Schema:    &Field{Name: "parameters", Type: TypeStructure, Fields: fields},
		Responses: map[int]Schema{StatusOK: response, StatusInvalid: invalidResponse()},
	}
}

func buildGet(r Resource) RequestSpec {
	return RequestSpec{
		Name: RequestGet, Method: http.MethodGet, Path: specificPath(r), Specific: true, Mimetype: MimeForm,
		Schema:    &Field{Name: "parameters", Type: TypeStructure, Fields: projectionFields(r)},
		Responses: map[int]Schema{StatusOK: r.Representation(), StatusInvalid: invalidResponse()},
	}
}

func identifierResponse(r Resource, request string) *Field {
	fields := []Field{r.Identifier()}
	for _, f := range r.Fields {
		if !f.Identifier && f.Returns(request) {
			fields = append(fields, f)
		}
	}
	for i := range fields {
		fields[i].Required = false
		fields[i].Default = nil
	}
	return &Field{Name: "response", Type: TypeStructure, Fields: fields, Loose: true}
}

func writable(f Field, flag *bool, identifierDefault bool) bool {
	if f.ReadOnly && (flag == nil || !*flag) {
		return false
	}
	if f.Identifier {
		if flag != nil {
			return *flag
		}
		return identifierDefault
	}
	return flag == nil || *flag
}

func buildCreate(r Resource) RequestSpec {
	var fields []Field
	for _, f := range r.Fields {
		if writable(f, f.OnCreate, false) {
			fields = append(fields, f)
		}
	}
	return RequestSpec{
		Name: RequestCreate, Method: http.MethodPost, Path: collectionPath(r), Mimetype: MimeJSON,
		Schema:    &Field{Name: "resource", Type: TypeStructure, Fields: fields},
		Responses: map[int]Schema{StatusOK: identifierResponse(r, RequestCreate), StatusInvalid: invalidResponse()},
	}
}

func relaxed(fields []Field, keep func(Field) bool) []Field {
	var out []Field
	for _, f := range fields {
		if !keep(f) {
			continue
		}
		f.Required = false
		f.Default = nil
		out = append(out, f)
	}
	return out
}

func buildUpdate(r Resource) RequestSpec {
	fields := relaxed(r.Fields, func(f Field) bool { return !f.Identifier && writable(f, f.OnUpdate, false) })
	return RequestSpec{
		Name: RequestUpdate, Method: http.MethodPost, Path: specificPath(r), Specific: true, Mimetype: MimeJSON,
		Schema:    &Field{Name: "resource", Type: TypeStructure, Fields: fields},
		Responses: map[int]Schema{StatusOK: identifierResponse(r, RequestUpdate), StatusInvalid: invalidResponse()},
	}
}

func buildPut(r Resource) RequestSpec {
	var fields []Field
	for _, f := range r.Fields {
		if !f.Identifier && writable(f, f.OnPut, false) {
			fields = append(fields, f)
		}
	}
	return RequestSpec{
		Name: RequestPut, Method: http.MethodPut, Path: specificPath(r), Specific: true, Mimetype: MimeJSON,
		Schema:    &Field{Name: "resource", Type: TypeStructure, Fields: fields},
		Responses: map[int]Schema{StatusOK: identifierResponse(r, RequestPut), StatusInvalid: invalidResponse()},
	}
}

func buildDelete(r Resource) RequestSpec {
	return RequestSpec{
		Name: RequestDelete, Method: http.MethodDelete, Path: specificPath(r), Specific: true, Mimetype: MimeJSON,
		Responses: map[int]Schema{StatusOK: identifierResponse(r, RequestDelete)},
	}
}

func buildLoad(r Resource) RequestSpec {
	id := r.Identifier()
	id.Name = "identifiers"
	id.ReadOnly = false
	fields := []Field{{
		Name: "identifiers", Type: TypeSequence, Required: true, Nonnull: true, Rules: "min=1", Item: &id,
	}}
	fields = append(fields, projectionFields(r)...)
	return RequestSpec{
		Name: RequestLoad, Method: MethodLoad, Path: collectionPath(r), Mimetype: MimeJSON,
		Schema: &Field{Name: "parameters", Type: TypeStructure, Fields: fields},
		Responses: map[int]Schema{
			StatusOK:      &Field{Name: "resources", Type: TypeSequence, Item: r.Representation()},
			StatusInvalid: invalidResponse(),
		},
	}
}

func buildCreateUpdate(r Resource) RequestSpec {
	item := &Field{Name: "resource", Type: TypeStructure, Fields: relaxed(r.Fields, func(f Field) bool {
		return f.Identifier || writable(f, f.OnPut, false)
	})}
	response := &Field{Name: "response", Type: TypeSequence, Item: &Field{
		Name: "resource", Type: TypeStructure, Fields: []Field{r.Identifier()},
	}}
	return RequestSpec{
		Name: RequestCreateUpdate, Method: http.MethodPut, Path: collectionPath(r), Mimetype: MimeJSON,
		Schema:    &Field{Name: "resources", Type: TypeSequence, Nonnull: true, Item: item},
		Responses: map[int]Schema{StatusOK: response, StatusInvalid: invalidResponse()},
	}
}
