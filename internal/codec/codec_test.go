package codec

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

func samplePage() *models.Map {
	created := time.Date(2023, 7, 14, 9, 5, 3, 120000000, time.UTC)
	attachment := models.MapOf(
		"type", "Attachment",
		"id", 77,
		"this_file", models.MapOf(
			"url", "files/this_file/77-plate.exr",
			"name", "77-plate.exr",
			models.DownloadTypeKey, "attachment",
			models.LocalPathKey, "files/this_file/77-plate.exr",
		),
	)
	shot := models.MapOf(
		"type", "Shot",
		"id", 1,
		"code", "SH010 – café",
		"cut_in", 1001,
		"ratio", 1.5,
		"whole", 2.0,
		"created_at", created,
		"project", models.Reference{Type: "Project", ID: 5, Name: "Demo"}.Value(),
		"sg_uploaded_movie", attachment,
		"notes", []any{attachment, "https://example.com"},
		"tags", []any{},
		"meta", models.NewMap(),
		"description", nil,
		"active", true,
	)
	return models.MapOf("1", shot)
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"json":            {Name: "json", Base: "json", Ext: "json"},
		"msgpack":         {Name: "msgpack", Base: "msgpack", Version: MsgpackCurrent, Ext: "msgpack"},
		"msgpack-high":    {Name: "msgpack-high", Base: "msgpack", Version: MsgpackCurrent, Ext: "msgpack"},
		"msgpack-default": {Name: "msgpack-default", Base: "msgpack", Version: MsgpackCurrent, Ext: "msgpack"},
		"msgpack-1":       {Name: "msgpack-1", Base: "msgpack", Version: MsgpackLegacy, Ext: "msgpack"},
		"cbor":            {Name: "cbor", Base: "cbor", Ext: "cbor"},
		"binc":            {Name: "binc", Base: "binc", Ext: "binc"},
	}
	for tag, want := range cases {
		t.Run(tag, func(t *testing.T) {
			got, err := ParseFormat(tag)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseFormat("pickle-high")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestParseFormatsDropsDuplicateExtensions(t *testing.T) {
	fs, err := ParseFormats([]string{"json", "msgpack-high", "msgpack-1"})
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, "msgpack-high", fs[1].Name)

	fs, err = ParseFormats(nil)
	require.NoError(t, err)
	assert.Equal(t, "json", fs[0].Name)
}

func TestEncodeJSONMatchesArchiveLayout(t *testing.T) {
	page := models.MapOf(
		"2", models.MapOf(
			"id", 2,
			"type", "Shot",
			"code", "é\"\n",
			"created_at", time.Date(2020, 1, 2, 3, 4, 5, 6000, time.UTC),
			"tags", []any{},
			"meta", models.NewMap(),
			"score", 0.5,
			"list", []any{1, nil},
		),
	)
	got, err := EncodeJSON(models.MapValue(page))
	require.NoError(t, err)

	want := `{
    "2": {
        "code": "\u00e9\"\n",
        "created_at": {
            "__type__": "datetime",
            "day": 2,
            "hour": 3,
            "microsecond": 6,
            "minute": 4,
            "month": 1,
            "second": 5,
            "year": 2020
        },
        "id": 2,
        "list": [
            1,
            null
        ],
        "meta": {},
        "score": 0.5,
        "tags": [],
        "type": "Shot"
    }
}`
	assert.Equal(t, want, string(got))
}

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		1.0:      "1.0",
		1.5:      "1.5",
		-2.25:    "-2.25",
		0.1:      "0.1",
		1e-4:     "0.0001",
		1e-5:     "1e-05",
		1.5e-7:   "1.5e-07",
		1e15:     "1000000000000000.0",
		1e16:     "1e+16",
		1.234e20: "1.234e+20",
		123.456:  "123.456",
		0:        "0.0",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatFloat(in), "formatting %v", in)
	}
	assert.Equal(t, "NaN", formatFloat(math.NaN()))
	assert.Equal(t, "-Infinity", formatFloat(math.Inf(-1)))
}

func TestWriteStringEscapesNonASCII(t *testing.T) {
	got, err := EncodeJSON(models.String("a\u007f😀\t"))
	require.NoError(t, err)
	assert.Equal(t, `"a\u007f\ud83d\ude00\t"`, string(got))
}

func TestRoundTripAllFormats(t *testing.T) {
	for _, tag := range []string{"json", "msgpack", "msgpack-1", "cbor", "binc"} {
		t.Run(tag, func(t *testing.T) {
			f, err := ParseFormat(tag)
			require.NoError(t, err)
			page := samplePage()

			data, err := EncodePage(f, page)
			require.NoError(t, err)
			got, err := DecodePage(f, data)
			require.NoError(t, err)

			assert.True(t, page.Equal(got), "round trip changed the page")

			rec, ok := got.Value("1").AsMap()
			require.True(t, ok)
			assert.Equal(t, models.KindFloat, rec.Value("whole").Kind())
			assert.Equal(t, models.KindInt, rec.Value("cut_in").Kind())
			assert.Equal(t, models.KindTime, rec.Value("created_at").Kind())
		})
	}
}

func TestBinaryEncodingIsDeterministic(t *testing.T) {
	f, err := ParseFormat("msgpack")
	require.NoError(t, err)
	a, err := EncodePage(f, samplePage())
	require.NoError(t, err)
	b, err := EncodePage(f, samplePage())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeJSONKeepsInvalidDatetimeShapeAsMap(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"a": {"__type__": "datetime", "year": 2020, "month": 13, "day": 1},
		"b": {"__type__": "thing", "name": "x"},
		"c": {"__type__": "datetime", "year": 2021, "month": 2, "day": 29},
		"d": {"__type__": "datetime", "year": 2020, "month": 2, "day": 29}}`))
	require.NoError(t, err)
	m, _ := v.AsMap()
	assert.Equal(t, models.KindMap, m.Value("a").Kind())
	assert.Equal(t, models.KindMap, m.Value("b").Kind())
	assert.Equal(t, models.KindMap, m.Value("c").Kind())
	assert.Equal(t, models.KindTime, m.Value("d").Kind())
}

func TestWriteFileReadFileAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Shot", "Shot_1.json")
	f, _ := ParseFormat("json")
	page := models.MapValue(samplePage())

	require.NoError(t, WriteFile(path, f, page))
	require.NoError(t, Verify(path, f, page))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.True(t, page.Equal(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")

	other := models.MapValue(models.MapOf("1", models.MapOf("id", 1)))
	err = Verify(path, f, other)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerifyMismatch))
}

func TestReadMapRejectsNonObjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o644))
	_, err := ReadMap(path)
	require.Error(t, err)
}

func TestIsTempFile(t *testing.T) {
	assert.True(t, IsTempFile(".Shot_1.json.1234.tmp"))
	assert.False(t, IsTempFile("Shot_1.json"))
}
