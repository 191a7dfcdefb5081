package types

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Value
	}{
		{"nil", nil, Null},
		{"bool", true, BoolValue(true)},
		{"int", 7, IntValue(7)},
		{"int32", int32(-3), IntValue(-3)},
		{"uint64 small", uint64(9), IntValue(9)},
		{"uint64 overflow", uint64(math.MaxUint64), TextValue("18446744073709551615")},
		{"integral float", 4.0, IntValue(4)},
		{"fractional float", 2.5, FloatValue(2.5)},
		{"huge float", 1e300, FloatValue(1e300)},
		{"float32", float32(0.5), FloatValue(0.5)},
		{"string", "hi", TextValue("hi")},
		{"stringer", time.Second, TextValue("1s")},
		{"slice", []interface{}{1, "a"}, TextValue("[1 a]")},
		{"value passthrough", TextValue("x"), TextValue("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValueOf(tt.in))
		})
	}
}

func TestValueNativeAndString(t *testing.T) {
	assert.Nil(t, Null.Native())
	assert.True(t, Null.IsNull())
	assert.Equal(t, int64(1), BoolValue(true).Native())
	assert.Equal(t, int64(0), BoolValue(false).Native())
	assert.Equal(t, int64(5), IntValue(5).Native())
	assert.Equal(t, 1.25, FloatValue(1.25).Native())
	assert.Equal(t, "t", TextValue("t").Native())

	assert.Equal(t, "null", Null.String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "1.25", FloatValue(1.25).String())
	assert.Equal(t, "text", KindText.String())
}

func TestValueOfIntegersProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("int64 values keep their kind and payload", prop.ForAll(
		func(i int64) bool {
			v := ValueOf(i)
			return v.Kind == KindInt && v.Int == i && v.Native() == i
		},
		gen.Int64(),
	))

	properties.Property("non-integral floats stay floats", prop.ForAll(
		func(f float64) bool {
			if f == math.Trunc(f) {
				return true
			}
			v := ValueOf(f)
			return v.Kind == KindFloat && v.Float == f
		},
		gen.Float64(),
	))

	properties.TestingRun(t)
}

func TestDocumentGetSet(t *testing.T) {
	data := map[string]interface{}{
		"title": "t",
		"meta":  map[string]interface{}{"author": map[string]interface{}{"name": "ann"}},
	}
	d := NewDocument("k", data)
	data["title"] = "changed"

	v, ok := d.Get("title")
	require.True(t, ok)
	assert.Equal(t, "t", v, "NewDocument copies the top-level map")

	v, ok = d.Get("meta.author.name")
	require.True(t, ok)
	assert.Equal(t, "ann", v)

	_, ok = d.Get("meta.missing")
	assert.False(t, ok)
	_, ok = d.Get("title.deeper")
	assert.False(t, ok)

	var nilDoc *Document
	_, ok = nilDoc.Get("x")
	assert.False(t, ok)

	empty := &Document{Key: "e"}
	empty.Set("a", 1)
	assert.Equal(t, 1, empty.Data["a"])
}

func TestFieldSchema(t *testing.T) {
	s := &FieldSchema{
		Indexes:  []IndexField{{Name: "title"}, {Name: "author", Path: "meta.author"}, {Name: "absent"}},
		FullText: []string{"title", "body"},
		Defaults: map[string]interface{}{"tags": "none", "title": "untitled"},
	}
	require.NoError(t, s.Validate())

	doc := NewDocument("k", map[string]interface{}{
		"title": "hello",
		"body":  "",
		"meta":  map[string]interface{}{"author": "ann"},
	})

	assert.Equal(t, []IndexEntry{
		{Name: "title", Value: TextValue("hello")},
		{Name: "author", Value: TextValue("ann")},
	}, s.IndexesFor(doc), "missing paths produce no entry")

	assert.Equal(t, map[string]string{"title": "hello"}, s.FullTextFor(doc), "empty text is omitted")
	assert.Equal(t, 1, ColumnIndex(s.FullTextFields(), "body"))
	assert.Equal(t, -1, ColumnIndex(s.FullTextFields(), "nope"))

	built := s.BuildWithDefaults("k", map[string]interface{}{"title": "kept"})
	assert.Equal(t, "kept", built.Data["title"])
	assert.Equal(t, "none", built.Data["tags"])
}

func TestFieldSchemaValidate(t *testing.T) {
	bad := []*FieldSchema{
		{Indexes: []IndexField{{Name: ""}}},
		{Indexes: []IndexField{{Name: "a"}, {Name: "a"}}},
		{FullText: []string{"has space"}},
		{FullText: []string{"Key"}},
		{FullText: []string{"a", "a"}},
	}
	for _, s := range bad {
		assert.Error(t, s.Validate(), "%+v", s)
	}
}

func TestValidIdentifier(t *testing.T) {
	for _, ok := range []string{"notes", "_x", "B2"} {
		assert.True(t, ValidIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "2b", "a-b", "a;drop", "ü"} {
		assert.False(t, ValidIdentifier(bad), bad)
	}
}

func TestQueryBuilders(t *testing.T) {
	q := NewQuery().
		Where("rank", GreaterThan, 2).
		WhereOrNull("due", LessThan, 10.5).
		MatchText("", "sqlite").
		OrderBy("rank", Descending).
		OrderByKey(Ascending).
		Include("title").
		IncludeSnippet("snip", "body").
		IncludeSnippetColumn("snip0", 0).
		IncludeOffsets("offs")

	require.Len(t, q.Conditions, 3)
	assert.Equal(t, IntValue(2), q.Conditions[0].Subject)
	assert.True(t, q.Conditions[1].IncludeNull)
	assert.Equal(t, Condition{Key: "", Comparator: Match, Subject: TextValue("sqlite")}, q.Conditions[2])

	assert.Equal(t, []Sorter{
		{Kind: SortByField, Key: "rank", Order: Descending},
		{Kind: SortByKey, Order: Ascending},
	}, q.Sorters)

	require.Len(t, q.Fields, 4)
	assert.Equal(t, Field{Kind: SnippetFieldKind, Name: "snip", Column: "body", ColumnIndex: -1}, q.Fields[1])
	assert.Equal(t, 0, q.Fields[2].ColumnIndex)
	assert.Equal(t, OffsetsFieldKind, q.Fields[3].Kind)

	assert.False(t, q.HasLimit())
	q.Limit(5).Offset(2)
	assert.True(t, q.HasLimit())
	assert.True(t, q.HasOffset())
	assert.Equal(t, 5, q.GetLimit())
	assert.Equal(t, 2, q.GetOffset())
}
