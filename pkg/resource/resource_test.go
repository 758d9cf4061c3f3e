package resource

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func noteResource() Resource {
	return Resource{
		Name: "note",
		Fields: []Field{
			{Name: "title", Type: TypeText, Required: true, Sortable: true, Operators: []string{"equal", "icontains", "in"}},
			{Name: "body", Type: TypeText, Deferred: true},
			{Name: "rank", Type: TypeInteger, Sortable: true, Operators: []string{"gt", "null"}, Returned: []string{RequestCreate}},
			{Name: "created", Type: TypeText, ReadOnly: true},
			{Name: "slug", Type: TypeText, OnUpdate: boolPtr(false)},
		},
		Requests: []string{RequestQuery, RequestGet, RequestCreate, RequestUpdate, RequestPut, RequestDelete, RequestLoad, RequestCreateUpdate},
	}
}

func TestNormalizeAddsIdentifier(t *testing.T) {
	r := Resource{Name: "x"}.Normalize()
	require.NoError(t, r.Validate())
	id := r.Identifier()
	assert.Equal(t, "id", id.Name)
	assert.True(t, id.Identifier)
	assert.Equal(t, DefaultRequests, r.Requests)
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	assert.Error(t, Resource{}.Validate())
	assert.Error(t, Resource{Name: "x", Fields: []Field{{Name: "a"}, {Name: "a"}}}.Validate())
	assert.Error(t, Resource{Name: "x", Fields: []Field{{Name: "a", Operators: []string{"like"}}}}.Validate())
	assert.Error(t, Resource{Name: "x", Requests: []string{"bogus"}}.Validate())
}

func TestStandardRequestShapes(t *testing.T) {
	reqs := StandardRequests(noteResource())
	require.Len(t, reqs, 8)

	q := reqs[RequestQuery]
	assert.Equal(t, http.MethodGet, q.Method)
	assert.Equal(t, "/note", q.Path)
	assert.False(t, q.Specific)

	get := reqs[RequestGet]
	assert.Equal(t, "/note/id", get.Path)
	assert.True(t, get.Specific)

	assert.Equal(t, http.MethodPost, reqs[RequestCreate].Method)
	assert.Equal(t, http.MethodPost, reqs[RequestUpdate].Method)
	assert.Equal(t, http.MethodPut, reqs[RequestPut].Method)
	assert.Equal(t, http.MethodDelete, reqs[RequestDelete].Method)
	assert.Equal(t, MethodLoad, reqs[RequestLoad].Method)
	assert.Equal(t, http.MethodPut, reqs[RequestCreateUpdate].Method)
	assert.Equal(t, "/note", reqs[RequestCreateUpdate].Path)
}

func TestCreateSchemaExcludesReadOnlyAndIdentifier(t *testing.T) {
	create := StandardRequests(noteResource())[RequestCreate]
	schema := create.Schema.(*Field)
	names := namesOf(schema.Fields, func(Field) bool { return true })
	assert.Equal(t, []string{"title", "body", "rank", "slug"}, names)

	_, err := create.Schema.Serialize(Attributes{"body": "x"}, MimeJSON)
	assert.True(t, IsValidation(err))

	resp := create.Responses[StatusOK].(*Field)
	assert.Equal(t, []string{"id", "rank"}, namesOf(resp.Fields, func(Field) bool { return true }))
}

func TestUpdateSchemaRelaxesRequired(t *testing.T) {
	update := StandardRequests(noteResource())[RequestUpdate]
	schema := update.Schema.(*Field)
	assert.Equal(t, []string{"title", "body", "rank"}, namesOf(schema.Fields, func(Field) bool { return true }))
	_, err := update.Schema.Serialize(Attributes{"body": "x"}, MimeJSON)
	assert.NoError(t, err)
}

func TestQuerySchemaOperatorsAndSort(t *testing.T) {
	q := StandardRequests(noteResource())[RequestQuery]
	raw, err := q.Schema.Serialize(map[string]any{
		"limit": 10,
		"sort":  []any{"title-", "rank"},
		"query": map[string]any{"title__icontains": "x", "rank__gt": 2, "title__in": []any{"a"}, "rank__null": false},
	}, q.Mimetype)
	require.NoError(t, err)

	decoded, err := q.Schema.Unserialize(raw, q.Mimetype)
	require.NoError(t, err)
	m := decoded.(map[string]any)
	assert.Equal(t, int64(10), m["limit"])
	assert.Equal(t, int64(0), m["offset"])
	assert.Equal(t, false, m["total"])
	assert.Equal(t, int64(2), m["query"].(map[string]any)["rank__gt"])

	_, err = q.Schema.Serialize(map[string]any{"sort": []any{"body"}}, q.Mimetype)
	assert.True(t, IsValidation(err))
	_, err = q.Schema.Serialize(map[string]any{"limit": -1}, q.Mimetype)
	assert.True(t, IsValidation(err))
	_, err = q.Schema.Serialize(map[string]any{"query": map[string]any{"body": "x"}}, q.Mimetype)
	assert.True(t, IsValidation(err))
}

func TestLoadRequiresIdentifiers(t *testing.T) {
	load := StandardRequests(noteResource())[RequestLoad]
	_, err := load.Schema.Serialize(map[string]any{"identifiers": []any{}}, MimeJSON)
	assert.True(t, IsValidation(err))
	_, err = load.Schema.Serialize(map[string]any{"identifiers": []any{"a"}}, MimeJSON)
	assert.NoError(t, err)
}

func TestSplitOperator(t *testing.T) {
	f, op := SplitOperator("title__icontains")
	assert.Equal(t, "title", f)
	assert.Equal(t, "icontains", op)
	f, op = SplitOperator("first__name")
	assert.Equal(t, "first__name", f)
	assert.Equal(t, "equal", op)
	assert.Equal(t, "rank__gt", OperatorField("rank", "gt"))
	assert.Equal(t, "rank", OperatorField("rank", "equal"))
}
