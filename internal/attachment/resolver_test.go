package attachment

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/classifier"
	"github.com/ajitpratap0/sg-archive/internal/download"
	"github.com/ajitpratap0/sg-archive/internal/models"
	"github.com/ajitpratap0/sg-archive/internal/remote"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	client   *remote.MockClient
	sched    *download.Scheduler
	recorded *RecordedIDs
	resolver *Resolver
	dir      string
}

func newHarness(t *testing.T, mode download.Mode, rules ExtRules) *harness {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload:" + r.URL.Path))
	}))
	t.Cleanup(ts.Close)

	client := remote.Fixture(ts.URL, 60)
	schema, _ := remote.FixtureSchema()
	dir := filepath.Join(t.TempDir(), "data", models.AttachmentType)
	sched := download.NewScheduler(download.Options{Mode: mode, Workers: 2}, download.NewStats(), newTestLogger())
	t.Cleanup(sched.Close)
	recorded := NewRecordedIDs(dir)
	res := NewResolver(Options{
		Client:     client,
		Classifier: classifier.New(models.NewSchema(schema), newTestLogger()),
		Scheduler:  sched,
		Recorded:   recorded,
		Dir:        dir,
		Rules:      rules,
	}, newTestLogger())
	return &harness{client: client, sched: sched, recorded: recorded, resolver: res, dir: dir}
}

func (h *harness) page(t *testing.T, page int) []models.Record {
	t.Helper()
	recs, err := h.client.FetchPage(context.Background(), "Shot", nil, nil, 50, page)
	require.NoError(t, err)
	return recs
}

func thisFile(t *testing.T, v models.Value) models.FileDescriptor {
	t.Helper()
	a, ok := v.AsMap()
	require.True(t, ok, "expected an embedded attachment, got %s", v.Kind())
	fd, ok := a.Value(ThisFileField).FileDescriptor()
	require.True(t, ok)
	return fd
}

func TestProcessLocalizesLinkedAttachment(t *testing.T) {
	h := newHarness(t, download.ModeAll, nil)
	recs := h.page(t, 1)

	cache, err := h.resolver.Process(context.Background(), "Shot", recs)
	require.NoError(t, err)
	assert.Len(t, cache, 2)
	assert.Equal(t, 1, h.client.Calls("fetch_by_ids", models.AttachmentType))

	fd := thisFile(t, recs[0].Value("sg_uploaded_movie"))
	assert.Equal(t, models.DownloadAttachment, fd.DownloadType)
	assert.Equal(t, "files/this_file/77-a.mov", fd.LocalPath)
	assert.Equal(t, "files/this_file/77-a.mov", fd.URL)
	assert.Equal(t, "77-a.mov", fd.Name)

	h.sched.Drain()
	data, err := os.ReadFile(filepath.Join(h.dir, "files", "this_file", "77-a.mov"))
	require.NoError(t, err)
	assert.Equal(t, "payload:/attachments/77", string(data))

	// Shot 2 links Attachment 78 next to a Version reference.
	links, ok := recs[1].Value("attachments").AsList()
	require.True(t, ok)
	require.Len(t, links, 2)
	fd78 := thisFile(t, links[0])
	assert.Equal(t, "files/this_file/78-notes_v1.pdf", fd78.LocalPath)
	ref, ok := links[1].Reference()
	require.True(t, ok)
	assert.Equal(t, "Version", ref.Type)
	assert.FileExists(t, filepath.Join(h.dir, "files", "this_file", "78-notes_v1.pdf"))

	// The Attachment's own thumbnail lands in the Attachment folder.
	a78, _ := links[0].AsMap()
	img, ok := a78.Value("image").FileDescriptor()
	require.True(t, ok)
	assert.Equal(t, models.DownloadImage, img.DownloadType)
	assert.Equal(t, "files/image/78-att_78.png", img.LocalPath)
	assert.FileExists(t, filepath.Join(h.dir, "files", "image", "78-att_78.png"))

	ids, err := h.recorded.Merge()
	require.NoError(t, err)
	assert.Equal(t, []int64{77, 78}, ids)
	loaded, err := LoadRecordedIDs(h.dir)
	require.NoError(t, err)
	assert.Equal(t, []int64{77, 78}, loaded)
}

func TestSharedAttachmentAcrossPagesIsEquivalent(t *testing.T) {
	h := newHarness(t, download.ModeAll, nil)
	first := h.page(t, 1)
	second := h.page(t, 2)

	_, err := h.resolver.Process(context.Background(), "Shot", first)
	require.NoError(t, err)
	_, err = h.resolver.Process(context.Background(), "Shot", second)
	require.NoError(t, err)
	h.sched.Drain()

	shot2, _ := first[1].Value("attachments").AsList()
	shot60, _ := second[9].Value("attachments").AsList()
	id60, _ := second[9].ID()
	require.Equal(t, int64(60), id60)
	assert.True(t, shot2[0].Equal(shot60[0]))
	// 77's movie, 78's payload and 78's thumbnail, each transferred once.
	assert.Equal(t, 3, h.sched.Stats().Downloaded())
}

func TestExtensionRuleSkipsPayloadButKeepsMetadata(t *testing.T) {
	rules := ExtRules{"Shot": {"sg_uploaded_movie": {".mov"}}}
	h := newHarness(t, download.ModeAll, rules)
	recs := h.page(t, 1)

	_, err := h.resolver.Process(context.Background(), "Shot", recs)
	require.NoError(t, err)
	h.sched.Drain()

	fd := thisFile(t, recs[0].Value("sg_uploaded_movie"))
	assert.Equal(t, "files/this_file/77-a.mov", fd.LocalPath)
	assert.NoFileExists(t, filepath.Join(h.dir, "files", "this_file", "77-a.mov"))
	assert.Equal(t, []string{"files/this_file/77-a.mov"}, h.sched.Stats().Skipped())
}

func TestModeNoLocalizesWithoutFiles(t *testing.T) {
	h := newHarness(t, download.ModeNo, nil)
	recs := h.page(t, 1)

	_, err := h.resolver.Process(context.Background(), "Shot", recs)
	require.NoError(t, err)
	h.sched.Drain()

	fd := thisFile(t, recs[0].Value("sg_uploaded_movie"))
	assert.Equal(t, "files/this_file/77-a.mov", fd.LocalPath)
	_, err = os.Stat(filepath.Join(h.dir, "files"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, h.sched.Stats().Queued())
}

func TestAttachmentTypeIsLocalizedInPlace(t *testing.T) {
	h := newHarness(t, download.ModeAll, nil)
	recs, err := h.client.FetchPage(context.Background(), models.AttachmentType, nil, nil, 50, 1)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	_, err = h.resolver.Process(context.Background(), models.AttachmentType, recs)
	require.NoError(t, err)
	h.sched.Drain()

	assert.Equal(t, 0, h.client.Calls("fetch_by_ids", models.AttachmentType))
	fd, ok := recs[0].Value(ThisFileField).FileDescriptor()
	require.True(t, ok)
	assert.Equal(t, "files/this_file/77-a.mov", fd.LocalPath)
	assert.FileExists(t, filepath.Join(h.dir, "files", "this_file", "77-a.mov"))
	assert.Equal(t, 2, h.recorded.Len())
}

func TestMergeUnionsWithPersistedSet(t *testing.T) {
	dir := t.TempDir()
	first := NewRecordedIDs(dir)
	first.Add(3, 1)
	_, err := first.Merge()
	require.NoError(t, err)

	second := NewRecordedIDs(dir)
	second.Add(2, 3)
	ids, err := second.Merge()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestExtRulesSkips(t *testing.T) {
	rules := ExtRules{"Version": {"sg_uploaded_movie": {".mov", ".mp4"}}}
	assert.True(t, rules.Skips("Version", "sg_uploaded_movie", "files/this_file/1-a.mov"))
	assert.False(t, rules.Skips("Version", "sg_uploaded_movie", "files/this_file/1-a.MOV"))
	assert.False(t, rules.Skips("Shot", "sg_uploaded_movie", "files/this_file/1-a.mov"))
	assert.False(t, ExtRules(nil).Skips("Shot", "x", "a.mov"))
}
