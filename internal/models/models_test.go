package models_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "null", models.Null().Kind().String())
	assert.Equal(t, "int", models.Int(1).Kind().String())
	assert.Equal(t, "float", models.Float(1).Kind().String())
	assert.Equal(t, "map", models.MapValue(models.NewMap()).Kind().String())
}

func TestValueEqualDistinguishesIntAndFloat(t *testing.T) {
	assert.False(t, models.Int(1).Equal(models.Float(1)))
	assert.True(t, models.Float(1.5).Equal(models.Float(1.5)))
	assert.True(t, models.Null().Equal(models.Null()))
}

func TestTimeIsTruncatedToMicroseconds(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 15, 123456789, time.UTC)
	got, ok := models.Time(ts).AsTime()
	require.True(t, ok)
	assert.Equal(t, 123456000, got.Nanosecond())
}

func TestMapPreservesInsertionOrder(t *testing.T) {
	m := models.NewMap()
	m.Set("zeta", models.Int(1))
	m.Set("alpha", models.Int(2))
	m.Set("zeta", models.Int(3))
	assert.Equal(t, []string{"zeta", "alpha"}, m.Keys())
	assert.Equal(t, models.Int(3), m.Value("zeta"))

	m.Delete("zeta")
	assert.Equal(t, []string{"alpha"}, m.Keys())
}

func TestMapEqualIgnoresOrder(t *testing.T) {
	a := models.MapOf("a", 1, "b", "x")
	b := models.MapOf("b", "x", "a", 1)
	assert.True(t, a.Equal(b))
	b.Set("c", models.Null())
	assert.False(t, a.Equal(b))
}

func TestNilMapIsEmpty(t *testing.T) {
	var m *models.Map
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Has("x"))
	assert.Nil(t, m.Keys())
	assert.True(t, models.MapValue(m).IsNull())
}

func TestMapJSONRoundTripKeepsOrderAndNumberKinds(t *testing.T) {
	src := []byte(`{"b":1,"a":2.0,"c":[1,"x",null,true],"d":{"z":1e3}}`)
	var m models.Map
	require.NoError(t, json.Unmarshal(src, &m))
	assert.Equal(t, []string{"b", "a", "c", "d"}, m.Keys())
	assert.Equal(t, models.KindInt, m.Value("b").Kind())
	assert.Equal(t, models.KindFloat, m.Value("a").Kind())

	d, ok := m.Value("d").AsMap()
	require.True(t, ok)
	assert.Equal(t, models.Float(1000), d.Value("z"))

	out, err := json.Marshal(&m)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":2,"c":[1,"x",null,true],"d":{"z":1000}}`, string(out))
}

func TestParseJSONRejectsTrailingData(t *testing.T) {
	_, err := models.ParseJSON([]byte(`{} {}`))
	require.Error(t, err)
}

func TestRecordAccessors(t *testing.T) {
	r := models.NewRecord("Shot", 42)
	id, ok := r.ID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "Shot", r.Type())
	key, err := r.Key()
	require.NoError(t, err)
	assert.Equal(t, "42", key)

	_, err = models.AsRecord(models.MapOf("id", "nope")).Key()
	require.Error(t, err)
}

func TestReferences(t *testing.T) {
	single := models.MapValue(models.MapOf("type", "Attachment", "id", 77, "name", "plate.exr"))
	ref, ok := single.Reference()
	require.True(t, ok)
	assert.Equal(t, models.Reference{Type: "Attachment", ID: 77, Name: "plate.exr"}, ref)
	assert.Equal(t, "Attachment:77", ref.String())

	multi := models.List(
		models.Reference{Type: "Attachment", ID: 1}.Value(),
		models.String("https://example.com/page"),
		models.Reference{Type: "Version", ID: 2}.Value(),
	)
	refs := multi.References()
	require.Len(t, refs, 2)
	assert.Equal(t, int64(1), refs[0].ID)
	assert.Equal(t, "Version", refs[1].Type)

	assert.Nil(t, models.String("https://example.com").References())
}

func TestFileDescriptor(t *testing.T) {
	m := models.NewImageDescriptor("https://cdn/thumb.png", "thumb.png")
	fd, ok := models.MapValue(m).FileDescriptor()
	require.True(t, ok)
	assert.Equal(t, models.DownloadImage, fd.DownloadType)
	assert.Empty(t, fd.LocalPath)

	models.MarkLocalized(m, models.DownloadImage, "files/image/1-thumb.png")
	models.MarkLocalized(m, models.DownloadImage, "")
	fd, _ = models.DescriptorOf(m)
	assert.Equal(t, "files/image/1-thumb.png", fd.LocalPath)

	legacy := models.MapOf("url", "x", "download_type", "url")
	fd, ok = models.DescriptorOf(legacy)
	require.True(t, ok)
	assert.Equal(t, models.DownloadURL, fd.DownloadType)

	_, ok = models.DescriptorOf(models.MapOf("url", "x"))
	assert.False(t, ok)
}

func testSchema() *models.Schema {
	return models.NewSchema(models.MapOf(
		"Shot", models.MapOf(
			"code", models.MapOf("data_type", models.MapOf("value", "text"), "name", models.MapOf("value", "Shot Code")),
			"sg_notes", models.MapOf(
				"data_type", models.MapOf("value", "multi_entity"),
				"properties", models.MapOf("valid_types", models.MapOf("value", []any{"Attachment", "Note"})),
			),
		),
	))
}

func TestSchemaFields(t *testing.T) {
	s := testSchema()
	assert.Equal(t, []string{"Shot"}, s.EntityTypes())

	fields, err := s.Fields("Shot")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "Shot Code", fields[0].DisplayName)
	assert.Equal(t, []string{"Attachment", "Note"}, fields[1].ValidTypes)

	_, err = s.Fields("Asset")
	assert.True(t, errors.Is(err, models.ErrUnknownEntityType))
}

func TestEntitySchema(t *testing.T) {
	es := models.NewEntitySchema(models.MapOf(
		"Shot", models.MapOf("name", models.MapOf("value", "Shot"), "visible", models.MapOf("value", true)),
		"CustomEntity01", models.MapOf("name", models.MapOf("value", "Plate"), "visible", models.MapOf("value", false)),
	))
	assert.Equal(t, "Plate", es.DisplayName("CustomEntity01"))
	assert.Equal(t, "Missing", es.DisplayName("Missing"))
	assert.True(t, es.Visible("Shot"))
	assert.False(t, es.Visible("CustomEntity01"))
}

func TestParseFilters(t *testing.T) {
	v, err := models.ParseJSON([]byte(`[["id","in",[1,2]],["code","is","sh010"],["id","in",3,4]]`))
	require.NoError(t, err)
	fs, err := models.ParseFilters(v)
	require.NoError(t, err)
	require.Len(t, fs, 3)
	assert.Equal(t, models.OpIn, fs[0].Operator)
	assert.True(t, fs[2].Value.Equal(models.List(models.Int(3), models.Int(4))))

	bad, _ := models.ParseJSON([]byte(`[["id","like",1]]`))
	_, err = models.ParseFilters(bad)
	require.Error(t, err)

	fs, err = models.ParseFilters(models.Null())
	require.NoError(t, err)
	assert.Empty(t, fs)
}

func TestFilterMatch(t *testing.T) {
	r := models.AsRecord(models.MapOf(
		"type", "Shot",
		"id", 10,
		"code", "SH010_comp",
		"cut_in", 1001,
		"project", models.Reference{Type: "Project", ID: 5, Name: "Demo"}.Value(),
		"tags", []any{models.Reference{Type: "Tag", ID: 1}.Value()},
	))

	cases := []struct {
		name   string
		filter models.Filter
		want   bool
	}{
		{"is", models.Filter{Field: "id", Operator: models.OpIs, Value: models.Int(10)}, true},
		{"is numeric across kinds", models.Filter{Field: "id", Operator: models.OpIs, Value: models.Float(10)}, true},
		{"is_not", models.Filter{Field: "id", Operator: models.OpIsNot, Value: models.Int(10)}, false},
		{"in list", models.Filter{Field: "id", Operator: models.OpIn, Value: models.List(models.Int(1), models.Int(10))}, true},
		{"in scalar", models.Filter{Field: "id", Operator: models.OpIn, Value: models.Int(10)}, true},
		{"not_in", models.Filter{Field: "id", Operator: models.OpNotIn, Value: models.List(models.Int(1))}, true},
		{"reference by type and id", models.Filter{Field: "project", Operator: models.OpIs, Value: models.Reference{Type: "Project", ID: 5}.Value()}, true},
		{"reference wrong type", models.Filter{Field: "project", Operator: models.OpIs, Value: models.Reference{Type: "Asset", ID: 5}.Value()}, false},
		{"contains string", models.Filter{Field: "code", Operator: models.OpContains, Value: models.String("comp")}, true},
		{"contains list", models.Filter{Field: "tags", Operator: models.OpContains, Value: models.Reference{Type: "Tag", ID: 1}.Value()}, true},
		{"greater_than", models.Filter{Field: "cut_in", Operator: models.OpGreaterThan, Value: models.Int(1000)}, true},
		{"less_than", models.Filter{Field: "cut_in", Operator: models.OpLessThan, Value: models.Int(1000)}, false},
		{"missing is null", models.Filter{Field: "nope", Operator: models.OpIs, Value: models.Null()}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Match(r))
		})
	}

	assert.True(t, models.Filters(nil).Match(r))
}

func TestFiltersValueRoundTrip(t *testing.T) {
	f, err := models.NewFilter("id", models.OpIn, []any{1, 2})
	require.NoError(t, err)
	fs := models.Filters{f}
	back, err := models.ParseFilters(fs.Value())
	require.NoError(t, err)
	assert.Equal(t, fs[0].Field, back[0].Field)
	assert.True(t, fs[0].Value.Equal(back[0].Value))

	_, err = models.NewFilter("id", models.Operator("between"), 1)
	require.Error(t, err)
}
