package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/config"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

func TestParseFilterFlag(t *testing.T) {
	fs, err := parseFilterFlag(`[["id", "in", [1, 2]], ["code", "is", "sh010"]]`)
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, models.OpIn, fs[0].Operator)

	fs, err = parseFilterFlag("")
	require.NoError(t, err)
	assert.Nil(t, fs)

	_, err = parseFilterFlag(`[["id", "in"`)
	require.Error(t, err)
}

func TestCSVRow(t *testing.T) {
	r := models.NewRecord("Shot", 3)
	r.Set("code", models.String("sh003"))
	r.Set("sg_sequence", models.Reference{Type: "Sequence", ID: 1}.Value())
	r.Set("tags", models.List(models.String("a")))

	row := csvRow(r, []string{"type", "id", "code", "missing", "tags"})
	assert.Equal(t, []string{"Shot", "3", "sh003", "", `["a"]`}, row)
}

func TestApplyFlagsOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("output: from-config\n"), 0o600))

	var err error
	cfg, err = config.Load(path)
	require.NoError(t, err)
	t.Cleanup(func() { cfg = nil })

	cmd := &cobra.Command{}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "")
	cmd.Flags().BoolVar(&strict, "strict", false, "")
	cmd.Flags().StringVar(&downloadMode, "download", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"-o", "elsewhere", "--strict", "--download", "no"}))

	require.NoError(t, applyFlags(cmd))
	assert.Equal(t, "elsewhere", cfg.Output)
	assert.True(t, cfg.Archive.Strict)
	assert.Equal(t, "no", cfg.Archive.Download)

	require.NoError(t, cmd.Flags().Set("download", "sometimes"))
	require.Error(t, applyFlags(cmd))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
