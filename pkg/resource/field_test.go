package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func widgetSchema() *Field {
	return &Field{Name: "widget", Type: TypeStructure, Fields: []Field{
		{Name: "name", Type: TypeText, Required: true, Nonnull: true, Rules: "min=1,max=20"},
		{Name: "count", Type: TypeInteger},
		{Name: "ratio", Type: TypeFloat},
		{Name: "active", Type: TypeBoolean, Default: true},
		{Name: "status", Type: TypeEnumeration, Enum: []string{"new", "done"}},
		{Name: "tags", Type: TypeSequence, Item: &Field{Name: "tag", Type: TypeText}},
		{Name: "extra", Type: TypeAny},
	}}
}

func TestFieldValidateNormalizes(t *testing.T) {
	out, err := widgetSchema().Validate(map[string]any{
		"name":   "a",
		"count":  float64(3),
		"ratio":  2,
		"status": "new",
		"tags":   []string{"x", "y"},
		"extra":  map[string]any{"n": float64(1)},
	})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, int64(3), m["count"])
	assert.Equal(t, float64(2), m["ratio"])
	assert.Equal(t, true, m["active"])
	assert.Equal(t, []any{"x", "y"}, m["tags"])
	assert.Equal(t, map[string]any{"n": int64(1)}, m["extra"])
}

func TestFieldValidateCollectsViolations(t *testing.T) {
	_, err := widgetSchema().Validate(Attributes{
		"count":   1.5,
		"status":  "other",
		"unknown": 1,
		"tags":    []any{"ok", 3},
	})
	require.Error(t, err)
	require.True(t, IsValidation(err))
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"required"}, verr.Fields["name"])
	assert.Equal(t, []string{"invalid integer"}, verr.Fields["count"])
	assert.Equal(t, []string{"invalid enumeration value"}, verr.Fields["status"])
	assert.Equal(t, []string{"unknown field"}, verr.Fields["unknown"])
	assert.Equal(t, []string{"invalid text"}, verr.Fields["tags[1]"])
}

func TestFieldRulesAndNonnull(t *testing.T) {
	_, err := widgetSchema().Validate(map[string]any{"name": ""})
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"must be at least 1"}, verr.Fields["name"])

	_, err = widgetSchema().Validate(map[string]any{"name": nil})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"nonnull"}, verr.Fields["name"])
}

func TestFieldTopLevelViolation(t *testing.T) {
	_, err := widgetSchema().Validate("not a map")
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"invalid structure"}, verr.Errors)
	assert.Equal(t, map[string]any{"errors": []string{"invalid structure"}}, verr.ValidationBody())
}

func TestFieldLooseKeepsUnknown(t *testing.T) {
	f := &Field{Name: "x", Type: TypeStructure, Loose: true, Fields: []Field{{Name: "a", Type: TypeText}}}
	out, err := f.Validate(map[string]any{"a": "1", "b": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": int64(2)}, out)
}

func TestFieldExtract(t *testing.T) {
	got := widgetSchema().Extract(Attributes{"name": "a", "id": 4, "count": 2})
	assert.Equal(t, Attributes{"name": "a", "count": 2}, got)

	loose := &Field{Name: "any", Type: TypeAny}
	assert.Equal(t, Attributes{"id": 4}, loose.Extract(Attributes{"id": 4}))
}

func TestFieldSerializeRoundTrip(t *testing.T) {
	f := widgetSchema()
	raw, err := f.Serialize(Attributes{"name": "a", "count": 2}, MimeJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","count":2,"active":true}`, string(raw))

	out, err := f.Unserialize(raw, MimeJSON)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.(map[string]any)["count"])

	_, err = f.Unserialize([]byte(`{"count":2}`), MimeJSON)
	assert.True(t, IsValidation(err))

	_, err = f.Unserialize([]byte(`{`), MimeJSON)
	require.Error(t, err)
	assert.False(t, IsValidation(err))
}
