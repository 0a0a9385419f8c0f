// Package mirrortest builds small on-disk archives for tests of archive consumers.
package mirrortest

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/archiver"
	"github.com/ajitpratap0/sg-archive/internal/codec"
	"github.com/ajitpratap0/sg-archive/internal/download"
	"github.com/ajitpratap0/sg-archive/internal/remote"
)

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Build archives the fixture production with the given number of shots into a temporary
// directory and returns its root. Formats default to json.
func Build(t testing.TB, shots int, formats ...string) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload:" + r.URL.Path))
	}))
	t.Cleanup(ts.Close)

	fs, err := codec.ParseFormats(formats)
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "archive")
	a := archiver.New(remote.Fixture(ts.URL, shots), out, archiver.Options{
		PageSize: 50,
		Mode:     download.ModeAll,
		Formats:  fs,
	}, archiver.Ignored{}, nil, Logger())
	report, err := a.Run(context.Background(), archiver.Plan{
		EntityTypes: []string{archiver.SelectAll},
		SaveSchema:  true,
	})
	require.NoError(t, err)
	require.Empty(t, report.Failed())
	return out
}
