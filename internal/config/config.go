package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/sg-archive/internal/archiver"
	"github.com/ajitpratap0/sg-archive/internal/attachment"
	"github.com/ajitpratap0/sg-archive/internal/codec"
	"github.com/ajitpratap0/sg-archive/internal/download"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

const (
	// DefaultPageSize is the default number of records per page.
	DefaultPageSize = archiver.DefaultPageSize

	// MaxPageSize is the largest page the remote serves.
	MaxPageSize = 500

	// DefaultDownloadThreshold is the default pending download backlog before a drain.
	DefaultDownloadThreshold = archiver.DefaultDownloadThreshold
)

// Config holds all configuration for sg-archive.
type Config struct {
	Output     string           `mapstructure:"output"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	API        APIConfig        `mapstructure:"api"`

	// Rule sections keep the case of entity type names, so they are read with yaml
	// rather than through viper's case-insensitive keys.
	Ignored IgnoredConfig `mapstructure:"-"`
	Filters FilterConfig  `mapstructure:"-"`
	HTML    HTMLConfig    `mapstructure:"-"`

	// Path is the config file that was read, empty when only defaults and env apply.
	Path string `mapstructure:"-"`
}

// ConnectionConfig holds the remote API credentials.
type ConnectionConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	ScriptName        string        `mapstructure:"script_name" yaml:"script_name"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// String returns a safe representation of ConnectionConfig with the API key masked.
func (c ConnectionConfig) String() string {
	return fmt.Sprintf("ConnectionConfig{BaseURL:%s, ScriptName:%s, APIKey:%s}", c.BaseURL, c.ScriptName, maskAPIKey(c.APIKey))
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// ArchiveConfig holds paging and download settings.
type ArchiveConfig struct {
	PageSize          int      `mapstructure:"page_size"`
	MaxPages          int      `mapstructure:"max_pages"`
	Formats           []string `mapstructure:"formats"`
	Download          string   `mapstructure:"download"`
	Workers           int      `mapstructure:"workers"`
	DownloadThreshold int      `mapstructure:"download_threshold"`
	Strict            bool     `mapstructure:"strict"`
	MaxFailuresShown  int      `mapstructure:"max_failures_shown"`
}

// MirrorConfig holds local mirror settings.
type MirrorConfig struct {
	PageCacheSize   int `mapstructure:"page_cache_size"`
	LoadConcurrency int `mapstructure:"load_concurrency"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// IgnoredConfig lists schema parts and files left out of the archive.
type IgnoredConfig struct {
	DataTypes   []string                       `yaml:"data_types"`
	EntityTypes []string                       `yaml:"entity_types"`
	Fields      map[string][]string            `yaml:"fields"`
	FileExts    map[string]map[string][]string `yaml:"file_exts"`
}

// FilterConfig holds per entity type filters in [field, operator, value] form.
type FilterConfig map[string][]any

// HTMLConfig configures the query server.
type HTMLConfig struct {
	// LoadEntityType lists entity types loaded when the server starts.
	LoadEntityType []string `yaml:"load_entity_type"`
	// ListFields selects the fields returned by list endpoints per entity type.
	ListFields map[string][]string `yaml:"list_fields"`
	// Fields lists fields hidden from detail responses per entity type.
	Fields map[string][]string `yaml:"fields"`
}

type rulesFile struct {
	Ignored        IgnoredConfig     `yaml:"ignored"`
	Filters        FilterConfig      `yaml:"filters"`
	HTML           HTMLConfig        `yaml:"html"`
	ConnectionFile string            `yaml:"connection_file"`
	Connection     *ConnectionConfig `yaml:"connection"`
}

// Load reads configuration from path, or from config.yml in the working directory or
// ~/.sg-archive when path is empty, then applies SG_ARCHIVE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("output", "output")
	v.SetDefault("connection.requests_per_second", 10.0)
	v.SetDefault("connection.timeout", 5*time.Minute)

	v.SetDefault("archive.page_size", DefaultPageSize)
	v.SetDefault("archive.max_pages", 0)
	v.SetDefault("archive.formats", codec.DefaultFormats)
	v.SetDefault("archive.download", string(download.ModeMissing))
	v.SetDefault("archive.workers", 0)
	v.SetDefault("archive.download_threshold", DefaultDownloadThreshold)
	v.SetDefault("archive.strict", false)
	v.SetDefault("archive.max_failures_shown", 20)

	v.SetDefault("mirror.page_cache_size", 64)
	v.SetDefault("mirror.load_concurrency", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(homeDir(), ".sg-archive"))
	}

	// Environment variables
	v.SetEnvPrefix("SG_ARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("connection.base_url", "SG_ARCHIVE_CONNECTION_BASE_URL")
	_ = v.BindEnv("connection.script_name", "SG_ARCHIVE_CONNECTION_SCRIPT_NAME")
	_ = v.BindEnv("connection.api_key", "SG_ARCHIVE_CONNECTION_API_KEY")
	_ = v.BindEnv("api.auth_token", "SG_ARCHIVE_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK; defaults and env vars apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if cfg.Path != "" {
		if err := cfg.loadRules(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// loadRules reads the case-sensitive sections of the config file and resolves a
// connection_file relative to it.
func (c *Config) loadRules() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	var rules rulesFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parsing %s: %w", c.Path, err)
	}
	c.Ignored = rules.Ignored
	c.Filters = rules.Filters
	c.HTML = rules.HTML

	if rules.Connection == nil && rules.ConnectionFile != "" {
		connPath := rules.ConnectionFile
		if !filepath.IsAbs(connPath) {
			connPath = filepath.Join(filepath.Dir(c.Path), connPath)
		}
		raw, err := os.ReadFile(connPath)
		if err != nil {
			return fmt.Errorf("reading connection file: %w", err)
		}
		var conn ConnectionConfig
		if err := yaml.Unmarshal(raw, &conn); err != nil {
			return fmt.Errorf("parsing %s: %w", connPath, err)
		}
		// Values set through the environment win over the connection file.
		if c.Connection.BaseURL == "" {
			c.Connection.BaseURL = conn.BaseURL
		}
		if c.Connection.ScriptName == "" {
			c.Connection.ScriptName = conn.ScriptName
		}
		if c.Connection.APIKey == "" {
			c.Connection.APIKey = conn.APIKey
		}
		if conn.RequestsPerSecond > 0 {
			c.Connection.RequestsPerSecond = conn.RequestsPerSecond
		}
		if conn.Timeout > 0 {
			c.Connection.Timeout = conn.Timeout
		}
	}
	return nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("output must not be empty")
	}
	if c.Archive.PageSize <= 0 || c.Archive.PageSize > MaxPageSize {
		return fmt.Errorf("archive.page_size must be between 1 and %d", MaxPageSize)
	}
	if c.Archive.MaxPages < 0 {
		return fmt.Errorf("archive.max_pages must be >= 0")
	}
	if c.Archive.Workers < 0 {
		return fmt.Errorf("archive.workers must be >= 0")
	}
	if c.Archive.DownloadThreshold < 0 {
		return fmt.Errorf("archive.download_threshold must be >= 0")
	}
	if _, err := download.ParseMode(c.Archive.Download); err != nil {
		return fmt.Errorf("archive.download: %w", err)
	}
	if _, err := codec.ParseFormats(c.Archive.Formats); err != nil {
		return fmt.Errorf("archive.formats: %w", err)
	}
	if c.Connection.RequestsPerSecond < 0 {
		return fmt.Errorf("connection.requests_per_second must be >= 0")
	}
	if c.Mirror.PageCacheSize <= 0 {
		return fmt.Errorf("mirror.page_cache_size must be greater than 0")
	}
	if c.Mirror.LoadConcurrency <= 0 {
		return fmt.Errorf("mirror.load_concurrency must be greater than 0")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if _, err := c.FilterSet(); err != nil {
		return err
	}
	return nil
}

// ValidateConnection checks the settings needed to contact the remote.
func (c *Config) ValidateConnection() error {
	if c.Connection.BaseURL == "" {
		return fmt.Errorf("connection.base_url must not be empty")
	}
	if c.Connection.ScriptName == "" {
		return fmt.Errorf("connection.script_name must not be empty")
	}
	if c.Connection.APIKey == "" {
		return fmt.Errorf("connection.api_key must not be empty")
	}
	return nil
}

// FormatList returns the parsed page formats.
func (c *Config) FormatList() ([]codec.Format, error) {
	return codec.ParseFormats(c.Archive.Formats)
}

// FilterSet parses the per entity type filters.
func (c *Config) FilterSet() (map[string]models.Filters, error) {
	out := make(map[string]models.Filters, len(c.Filters))
	for entityType, raw := range c.Filters {
		v, err := models.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("filters.%s: %w", entityType, err)
		}
		fs, err := models.ParseFilters(v)
		if err != nil {
			return nil, fmt.Errorf("filters.%s: %w", entityType, err)
		}
		out[entityType] = fs
	}
	return out, nil
}

// IgnoredRules returns the schema filter of the archiver.
func (c *Config) IgnoredRules() archiver.Ignored {
	return archiver.Ignored{
		DataTypes:   c.Ignored.DataTypes,
		Fields:      c.Ignored.Fields,
		EntityTypes: c.Ignored.EntityTypes,
	}
}

// ExtRules returns the attachment extension rules.
func (c *Config) ExtRules() attachment.ExtRules {
	return attachment.ExtRules(c.Ignored.FileExts)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
