package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/sg-archive/internal/archiver"
	"github.com/ajitpratap0/sg-archive/internal/codec"
	"github.com/ajitpratap0/sg-archive/internal/config"
	"github.com/ajitpratap0/sg-archive/internal/download"
	"github.com/ajitpratap0/sg-archive/internal/mirror"
	"github.com/ajitpratap0/sg-archive/internal/remote"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg *config.Config

	configPath   string
	outputDir    string
	strict       bool
	downloadMode string
	verbosity    int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:           "sg-archive",
		Short:         "sg-archive: incremental offline archive of a ShotGrid site",
		Long:          "sg-archive pages every entity type of a ShotGrid site into local files, downloads the attached media, and serves the archive back through a read-only query API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return applyFlags(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a config yaml file (default: ./config.yml or ~/.sg-archive/config.yml)")
	flags.StringVarP(&outputDir, "output", "o", "", "directory to store all output in (overrides config output)")
	flags.BoolVar(&strict, "strict", false, "reject duplicate ids and check every written page restores to the original value")
	flags.StringVar(&downloadMode, "download", "", "file download mode: all, missing or no (overrides config archive.download)")
	flags.CountVarP(&verbosity, "verbose", "v", "increase the verbosity of the output")

	rootCmd.AddCommand(
		listCmd(),
		archiveCmd(),
		findCmd(),
		getCmd(),
		statsCmd(),
		exportCmd(),
		serveCmd(),
		mcpCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// applyFlags lets persistent flags override the loaded config.
func applyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output = outputDir
	}
	if flags.Changed("strict") {
		cfg.Archive.Strict = strict
	}
	if flags.Changed("download") {
		cfg.Archive.Download = downloadMode
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch strings.ToLower(cfg.Logging.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	if verbosity > 0 {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newRemote(logger *slog.Logger) (*remote.RESTClient, error) {
	if err := cfg.ValidateConnection(); err != nil {
		return nil, err
	}
	logger.Debug("connecting", "connection", cfg.Connection.String())
	return remote.NewRESTClient(remote.RESTConfig{
		BaseURL:           cfg.Connection.BaseURL,
		ScriptName:        cfg.Connection.ScriptName,
		APIKey:            cfg.Connection.APIKey,
		RequestsPerSecond: cfg.Connection.RequestsPerSecond,
		Timeout:           cfg.Connection.Timeout,
	}, logger), nil
}

func newArchiver(client remote.Client, logger *slog.Logger) (*archiver.Archiver, error) {
	formats, err := cfg.FormatList()
	if err != nil {
		return nil, err
	}
	mode, err := download.ParseMode(cfg.Archive.Download)
	if err != nil {
		return nil, err
	}
	return archiver.New(client, cfg.Output, archiver.Options{
		PageSize:          cfg.Archive.PageSize,
		MaxPages:          cfg.Archive.MaxPages,
		Formats:           formats,
		DownloadThreshold: cfg.Archive.DownloadThreshold,
		Strict:            cfg.Archive.Strict,
		Mode:              mode,
		Workers:           cfg.Archive.Workers,
	}, cfg.IgnoredRules(), cfg.ExtRules(), logger), nil
}

func newMirror(logger *slog.Logger) (*mirror.Mirror, error) {
	// Configured formats are read first; the other families stay readable.
	tags := append(slices.Clone(cfg.Archive.Formats), "json", "msgpack", "cbor", "binc")
	formats, err := codec.ParseFormats(tags)
	if err != nil {
		return nil, err
	}
	return mirror.New(cfg.Output, mirror.Options{
		Formats:         formats,
		PageCacheSize:   cfg.Mirror.PageCacheSize,
		LoadConcurrency: cfg.Mirror.LoadConcurrency,
	}, logger)
}

// newTable returns a table writer rendering to w.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
