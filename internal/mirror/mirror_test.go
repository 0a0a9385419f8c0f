package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/mirror/mirrortest"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

func buildArchive(t *testing.T, shots int, formats ...string) string {
	t.Helper()
	return mirrortest.Build(t, shots, formats...)
}

func newMirror(t *testing.T, root string) *Mirror {
	t.Helper()
	m, err := New(root, Options{}, mirrortest.Logger())
	require.NoError(t, err)
	return m
}

func TestLoadRewritesDescriptors(t *testing.T) {
	root := buildArchive(t, 60)
	m := newMirror(t, root)
	ctx := context.Background()

	shot, err := m.FindOne(ctx, "Shot", models.Filters{{Field: "id", Operator: models.OpIs, Value: models.Int(1)}}, nil)
	require.NoError(t, err)

	retired, ok := shot.Value(models.RetiredField).AsBool()
	require.True(t, ok)
	assert.False(t, retired)

	img, ok := shot.Value("image").AsString()
	require.True(t, ok, "image descriptors become a bare URI")
	assert.Equal(t, FileURI(filepath.Join(m.Root(), "data", "Shot", "files", "image", "1-shot_1.jpg")), img)

	movie, ok := shot.Value("sg_uploaded_movie").AsMap()
	require.True(t, ok)
	tf, ok := movie.Value("this_file").FileDescriptor()
	require.True(t, ok)
	want := filepath.Join(m.Root(), "data", models.AttachmentType, "files", "this_file", "77-a.mov")
	assert.Equal(t, FileURI(want), tf.URL)
	assert.Equal(t, "files/this_file/77-a.mov", tf.LocalPath)
	assert.FileExists(t, want)

	shot2, err := m.Lookup(ctx, "Shot", 2)
	require.NoError(t, err)
	links, _ := shot2.Value("attachments").AsList()
	require.Len(t, links, 2)
	a78, _ := links[0].AsMap()
	thumb, ok := a78.Value("image").AsString()
	require.True(t, ok)
	assert.Equal(t, FileURI(filepath.Join(m.Root(), "data", models.AttachmentType, "files", "image", "78-att_78.png")), thumb)
}

func TestFindFiltersAndProjects(t *testing.T) {
	root := buildArchive(t, 60)
	m := newMirror(t, root)
	ctx := context.Background()

	filters, err := models.ParseFilters(models.List(
		models.List(models.String("id"), models.String("in"), models.List(models.Int(3), models.Int(51), models.Int(999))),
	))
	require.NoError(t, err)
	recs, err := m.Find(ctx, "Shot", filters, []string{"code"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"type", "id", "code"}, recs[0].Keys())
	assert.Equal(t, "sh003", recs[0].Value("code").String())
	assert.Equal(t, "sh051", recs[1].Value("code").String())

	// Results are copies.
	recs[0].Set("code", models.String("changed"))
	again, err := m.FindOne(ctx, "Shot", filters, []string{"code"})
	require.NoError(t, err)
	assert.Equal(t, "sh003", again.Value("code").String())

	seq := models.Filters{{Field: "sg_sequence", Operator: models.OpIs, Value: models.Reference{Type: "Sequence", ID: 1}.Value()}}
	all, err := m.Find(ctx, "Shot", seq, []string{"code"})
	require.NoError(t, err)
	assert.Len(t, all, 60)

	_, err = m.FindOne(ctx, "Shot", models.Filters{{Field: "code", Operator: models.OpIs, Value: models.String("nope")}}, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoadIsIdempotentAndLazy(t *testing.T) {
	root := buildArchive(t, 10)
	m := newMirror(t, root)
	assert.False(t, m.Loaded("Shot"))

	rec, err := m.Lookup(context.Background(), "Shot", 4)
	require.NoError(t, err)
	assert.Equal(t, "sh004", rec.Value("code").String())
	assert.False(t, m.Loaded("Shot"), "lookup reads a single page")

	require.NoError(t, m.LoadEntityType("Shot"))
	require.NoError(t, m.LoadEntityType("Shot"))
	recs, err := m.Find(context.Background(), "Shot", nil, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 10)

	_, err = m.Lookup(context.Background(), "Shot", 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoadAllAndStats(t *testing.T) {
	root := buildArchive(t, 60)
	m := newMirror(t, root)
	require.NoError(t, m.LoadAll(context.Background()))

	types, err := m.EntityTypes()
	require.NoError(t, err)
	assert.Equal(t, []string{"Attachment", "Sequence", "Shot"}, types)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 3)
	shot := stats[2]
	assert.Equal(t, "Shot", shot.EntityType)
	assert.Equal(t, 60, shot.Records)
	assert.Equal(t, 2, shot.Pages)
	assert.True(t, shot.Loaded)
	assert.Equal(t, "File", stats[0].DisplayName)
}

func TestFieldNamesFor(t *testing.T) {
	root := buildArchive(t, 1)
	m := newMirror(t, root)

	names, err := m.FieldNamesFor("Shot")
	require.NoError(t, err)
	assert.Contains(t, names, "sg_uploaded_movie")

	// Version is not archived but is in the schema snapshot.
	names, err = m.FieldNamesFor("Version")
	require.NoError(t, err)
	assert.Equal(t, []string{"code"}, names)

	_, err = m.FieldNamesFor("Nope")
	assert.True(t, errors.Is(err, models.ErrUnknownEntityType))
}

func TestUnknownEntityType(t *testing.T) {
	root := buildArchive(t, 1)
	m := newMirror(t, root)
	_, err := m.Find(context.Background(), "Version", nil, nil)
	assert.True(t, errors.Is(err, models.ErrUnknownEntityType))
	_, err = m.Lookup(context.Background(), "Version", 5)
	assert.True(t, errors.Is(err, models.ErrUnknownEntityType))
}

func TestBinaryPagesAndGlobFallback(t *testing.T) {
	root := buildArchive(t, 60, "msgpack")
	require.NoError(t, os.Remove(filepath.Join(root, "data", "Shot", pageIndexFile)))

	m := newMirror(t, root)
	recs, err := m.Find(context.Background(), "Shot", nil, []string{"created_at"})
	require.NoError(t, err)
	require.Len(t, recs, 60)
	id, _ := recs[59].ID()
	assert.Equal(t, int64(60), id, "pages load in page order")
	_, ok := recs[0].Value("created_at").AsTime()
	assert.True(t, ok)
}

func TestFileURI(t *testing.T) {
	assert.Equal(t, "file:///tmp/a%20b/c.png", FileURI("/tmp/a b/c.png"))
}
