package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "notes_v1.pdf", SanitizeName("notes/v1.pdf"))
	assert.Equal(t, "a_b_c", SanitizeName(`a\b/c`))
}

func TestLocalizeFieldWrapsBareURL(t *testing.T) {
	ts := fileServer(t, nil)
	dir := t.TempDir()
	s := NewScheduler(Options{Mode: ModeAll}, NewStats(), newTestLogger())

	rec := models.NewRecord("Shot", 12)
	rec.Set("image", models.String(ts.URL+"/thumbs/shot_12.jpg?sig=abc"))

	st, err := s.LocalizeField(context.Background(), rec, "image", dir)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, st)
	s.Close()

	fd, ok := rec.Value("image").FileDescriptor()
	require.True(t, ok)
	assert.Equal(t, models.DownloadImage, fd.DownloadType)
	assert.Equal(t, "shot_12.jpg", fd.Name)
	assert.Equal(t, "files/image/12-shot_12.jpg", fd.LocalPath)

	data, err := os.ReadFile(filepath.Join(dir, "files", "image", "12-shot_12.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "payload:/thumbs/shot_12.jpg", string(data))
}

func TestLocalizeFieldMarksDescriptorMap(t *testing.T) {
	dir := t.TempDir()
	s := NewScheduler(Options{Mode: ModeNo}, NewStats(), newTestLogger())
	defer s.Close()

	rec := models.NewRecord("Version", 4)
	rec.Set("sg_uploaded_movie", models.MapValue(models.MapOf("url", "https://example.com/m", "name", "cut/v2.mov")))
	noName := models.NewRecord("Version", 5)
	noName.Set("sg_uploaded_movie", models.MapValue(models.MapOf("url", "https://example.com/n", "name", nil)))

	st, err := s.LocalizeField(context.Background(), rec, "sg_uploaded_movie", dir)
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, st)
	fd, ok := rec.Value("sg_uploaded_movie").FileDescriptor()
	require.True(t, ok)
	assert.Equal(t, models.DownloadURL, fd.DownloadType)
	assert.Equal(t, "files/sg_uploaded_movie/4-cut_v2.mov", fd.LocalPath)

	_, err = s.LocalizeField(context.Background(), noName, "sg_uploaded_movie", dir)
	require.NoError(t, err)
	fd, _ = noName.Value("sg_uploaded_movie").FileDescriptor()
	assert.Equal(t, "files/sg_uploaded_movie/5", fd.LocalPath)
	assert.NoDirExists(t, filepath.Join(dir, "files"))
}

func TestLocalizeFieldIgnoresEmptyValues(t *testing.T) {
	s := NewScheduler(Options{Mode: ModeAll}, NewStats(), newTestLogger())
	defer s.Close()

	rec := models.NewRecord("Shot", 1)
	rec.Set("image", models.Null())
	rec.Set("blank", models.String(""))
	rec.Set("nourl", models.MapValue(models.MapOf("name", "x")))

	for _, field := range []string{"image", "blank", "nourl", "absent"} {
		st, err := s.LocalizeField(context.Background(), rec, field, t.TempDir())
		require.NoError(t, err, field)
		assert.Equal(t, StatusDisabled, st, field)
	}
	assert.True(t, rec.Value("image").IsNull())
	_, isDesc := rec.Value("nourl").FileDescriptor()
	assert.False(t, isDesc)
}

func TestLocalizeFieldTwiceKeepsImageDescriptor(t *testing.T) {
	dir := t.TempDir()
	s := NewScheduler(Options{Mode: ModeNo}, NewStats(), newTestLogger())
	defer s.Close()

	rec := models.NewRecord("Attachment", 78)
	rec.Set("image", models.String("https://example.com/thumbs/att_78.png"))

	for range 2 {
		_, err := s.LocalizeField(context.Background(), rec, "image", dir)
		require.NoError(t, err)
	}

	fd, ok := rec.Value("image").FileDescriptor()
	require.True(t, ok)
	assert.Equal(t, models.DownloadImage, fd.DownloadType)
	assert.Equal(t, "https://example.com/thumbs/att_78.png", fd.URL)
	assert.Equal(t, "files/image/78-att_78.png", fd.LocalPath)
}
