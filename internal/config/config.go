package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one calendar feed.
type SourceConfig struct {
	// Tag keys the source in every document, e.g. "cte" yields "cte_events".
	Tag string `yaml:"tag" json:"tag"`
	// Name is a human-friendly label used in the newsletter.
	Name string `yaml:"name" json:"name"`
	// URL is the listing page (kind "html") or feed endpoint (kind "ics").
	URL string `yaml:"url" json:"url"`
	// Kind selects the scraper: "html" or "ics".
	Kind string `yaml:"kind" json:"kind"`
}

// OracleConfig selects the language model used for classification and text.
// The API key is never part of the config file.
type OracleConfig struct {
	// Provider is one of "anthropic", "openai", "openwebui".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// BaseURL overrides the provider endpoint (required for openwebui).
	BaseURL string `yaml:"base_url" json:"base_url"`

	ClassifyTemperature float64 `yaml:"classify_temperature" json:"classify_temperature"`
	CreativeTemperature float64 `yaml:"creative_temperature" json:"creative_temperature"`

	// CallDelay is the minimum spacing between two oracle calls.
	CallDelay time.Duration `yaml:"call_delay" json:"call_delay"`
	// Timeout bounds a single oracle call.
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	MaxTokens int           `yaml:"max_tokens" json:"max_tokens"`
}

type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

type XLSXConfig struct {
	Path string `yaml:"path" json:"path"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	Region       string `yaml:"region" json:"region"`
	Profile      string `yaml:"profile" json:"profile"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
}

// StorageConfig selects the backend for the history and description tables.
type StorageConfig struct {
	// Backend is one of "file", "redis", "sqlite", "xlsx", "s3".
	Backend string       `yaml:"backend" json:"backend"`
	Redis   RedisConfig  `yaml:"redis" json:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite" json:"sqlite"`
	XLSX    XLSXConfig   `yaml:"xlsx" json:"xlsx"`
	S3      S3Config     `yaml:"s3" json:"s3"`
}

// ScrapeConfig tunes the headless browser.
type ScrapeConfig struct {
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`
	// DetailPages enables visiting each event page for facilitators and descriptions.
	DetailPages bool `yaml:"detail_pages" json:"detail_pages"`
}

// NewsletterConfig controls the Stage 3 email template.
type NewsletterConfig struct {
	Title   string `yaml:"title" json:"title"`
	Heading string `yaml:"heading" json:"heading"`
	Intro   string `yaml:"intro" json:"intro"`
	// CalendarURL is linked from the footer. Empty hides the link.
	CalendarURL string `yaml:"calendar_url" json:"calendar_url"`
	// Image URLs; an empty URL leaves the image out.
	HeaderImage    string `yaml:"header_image" json:"header_image"`
	CalendarIcon   string `yaml:"calendar_icon" json:"calendar_icon"`
	SeparatorImage string `yaml:"separator_image" json:"separator_image"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// DataDir holds events.json, categorized_events.json, newsletter.html,
	// backups and the file storage backend.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// WeeklyMarker is the substring of the time field that marks a weekly series.
	WeeklyMarker string `yaml:"weekly_marker" json:"weekly_marker"`

	// CatchAllCategory receives events that match no explicit series.
	CatchAllCategory string `yaml:"catch_all_category" json:"catch_all_category"`

	// MaxCategories caps the categories requested per source.
	MaxCategories int `yaml:"max_categories" json:"max_categories"`

	// BackupsKeep is how many events.json backups are retained.
	BackupsKeep int `yaml:"backups_keep" json:"backups_keep"`

	Sources []SourceConfig `yaml:"sources" json:"sources"`
	Oracle  OracleConfig   `yaml:"oracle" json:"oracle"`
	Storage StorageConfig  `yaml:"storage" json:"storage"`
	Scrape  ScrapeConfig   `yaml:"scrape" json:"scrape"`

	Newsletter NewsletterConfig `yaml:"newsletter" json:"newsletter"`

	// Schedule is a cron expression for unattended runs in serve mode.
	// Empty disables scheduling.
	Schedule string `yaml:"schedule" json:"schedule"`
	// ScheduleDays is the scrape window length for scheduled runs.
	ScheduleDays int `yaml:"schedule_days" json:"schedule_days"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	DefaultWeeklyMarker = "Weekly"
	DefaultCatchAll     = "Additional Events"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Sources: []SourceConfig{
			{Tag: "cte", Name: "Center for Teaching Excellence", URL: "https://calendar.tamu.edu/cte/all", Kind: "html"},
			{Tag: "elp", Name: "Employee Learning & Professional Development", URL: "https://calendar.tamu.edu/elp/all", Kind: "html"},
		},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		c.LogFormat = "console"
	}
	if c.WeeklyMarker == "" {
		c.WeeklyMarker = DefaultWeeklyMarker
	}
	if c.CatchAllCategory == "" {
		c.CatchAllCategory = DefaultCatchAll
	}
	if c.MaxCategories <= 0 {
		c.MaxCategories = 5
	}
	if c.BackupsKeep <= 0 {
		c.BackupsKeep = 10
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		if c.Sources[i].Kind == "" {
			c.Sources[i].Kind = "html"
		}
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = c.Sources[i].Tag
		}
	}

	o := &c.Oracle
	switch o.Provider {
	case "anthropic", "openai", "openwebui":
	default:
		o.Provider = "openai"
	}
	if o.Model == "" {
		if o.Provider == "anthropic" {
			o.Model = "claude-3-5-haiku-latest"
		} else {
			o.Model = "gpt-4o-mini"
		}
	}
	if o.ClassifyTemperature <= 0 {
		o.ClassifyTemperature = 0.1
	}
	if o.CreativeTemperature <= 0 {
		o.CreativeTemperature = 0.7
	}
	if o.CallDelay <= 0 {
		o.CallDelay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2048
	}

	s := &c.Storage
	switch s.Backend {
	case "file", "redis", "sqlite", "xlsx", "s3":
	default:
		s.Backend = "file"
	}
	if s.Redis.Address == "" {
		s.Redis.Address = "localhost:6379"
	}
	if s.Redis.Prefix == "" {
		s.Redis.Prefix = "eventletter:"
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = filepath.Join(c.DataDir, "cache.db")
	}
	if s.XLSX.Path == "" {
		s.XLSX.Path = filepath.Join(c.DataDir, "cache.xlsx")
	}

	if c.Scrape.Timeout <= 0 {
		c.Scrape.Timeout = 90 * time.Second
	}
	if c.Scrape.SettleDelay <= 0 {
		c.Scrape.SettleDelay = 2 * time.Second
	}
	if c.ScheduleDays <= 0 {
		c.ScheduleDays = 14
	}

	n := &c.Newsletter
	if n.Title == "" {
		n.Title = "Upcoming Offerings"
	}
	if n.Heading == "" {
		n.Heading = "UPCOMING OFFERINGS"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration atomically (temp file + rename) with
// 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventletter-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Source looks up a configured source by tag.
func (c *Config) Source(tag string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Tag == tag {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Tags returns the configured source tags in order.
func (c *Config) Tags() []string {
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, s.Tag)
	}
	return out
}
