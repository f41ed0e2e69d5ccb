package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pevans/newsdigest/discovery"
	"github.com/pevans/newsdigest/scraper"
	"github.com/pevans/newsdigest/stories"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes environment overrides, e.g. NEWSDIGEST_STORAGE_DSN.
const EnvPrefix = "NEWSDIGEST"

// StorageConfig selects the story database.
type StorageConfig struct {
	Type string `yaml:"type"` // "sqlite" or "postgres"
	DSN  string `yaml:"dsn"`
}

// FetchConfig controls page retrieval.
type FetchConfig struct {
	Delay             time.Duration `yaml:"delay"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RespectRobots     bool          `yaml:"respect_robots"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ServeConfig controls the daemon and its HTTP API.
type ServeConfig struct {
	Addr            string `yaml:"addr"`
	FetchSchedule   string `yaml:"fetch_schedule"`
	SummarySchedule string `yaml:"summary_schedule"`
	ScanOnStart     bool   `yaml:"scan_on_start"`
}

// Config is the whole configuration file.
type Config struct {
	Storage StorageConfig      `yaml:"storage"`
	Fetch   *FetchConfig       `yaml:"fetch"`
	Log     LogConfig          `yaml:"log"`
	Serve   ServeConfig        `yaml:"serve"`
	Sites   []scraper.SiteSpec `yaml:"sites"`
}

// Default returns a configuration with every default applied and no sites.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills unset settings. An explicit fetch delay of 0s is kept;
// only a missing fetch section or key falls back to the default.
func (c *Config) applyDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = stories.TypeSQLite
	}
	if c.Storage.DSN == "" && c.Storage.Type == stories.TypeSQLite {
		c.Storage.DSN = "newsdigest.db"
	}

	if c.Fetch == nil {
		c.Fetch = &FetchConfig{Delay: -1}
	}
	if c.Fetch.Delay < 0 {
		c.Fetch.Delay = discovery.DefaultDelay
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = discovery.DefaultUserAgent
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = discovery.DefaultTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = ":8080"
	}
	if c.Serve.FetchSchedule == "" {
		c.Serve.FetchSchedule = "@hourly"
	}
}

// UnmarshalYAML marks an absent delay so it can be defaulted while an
// explicit zero is kept.
func (f *FetchConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain FetchConfig
	raw := plain{Delay: -1}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*f = FetchConfig(raw)
	return nil
}

// Validate checks the storage settings and compiles every site. Invalid
// blocks do not fail validation; see Problems.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case stories.TypeSQLite, stories.TypePostgres:
	default:
		return &scraper.ConfigError{Path: "storage.type", Err: stories.ErrUnsupportedStorage}
	}
	if c.Storage.DSN == "" {
		return &scraper.ConfigError{Path: "storage", Key: "dsn", Err: scraper.ErrMissingKey}
	}

	seen := make(map[string]bool, len(c.Sites))
	for i := range c.Sites {
		site := &c.Sites[i]
		if err := site.Compile("sites"); err != nil {
			return err
		}
		if seen[site.Name] {
			return &scraper.ConfigError{Path: "sites." + site.Name, Err: errors.New("duplicate site name")}
		}
		seen[site.Name] = true
	}
	return nil
}

// Problems lists the errors of every invalid block across all sites.
func (c *Config) Problems() []error {
	var errs []error
	for i := range c.Sites {
		errs = append(errs, c.Sites[i].Problems()...)
	}
	return errs
}

// Site returns the named site.
func (c *Config) Site(name string) (*scraper.SiteSpec, bool) {
	for i := range c.Sites {
		if c.Sites[i].Name == name {
			return &c.Sites[i], true
		}
	}
	return nil, false
}

// FetcherConfig converts the fetch settings for discovery.NewFetcher.
func (c *Config) FetcherConfig() discovery.FetcherConfig {
	return discovery.FetcherConfig{
		Delay:             c.Fetch.Delay,
		UserAgent:         c.Fetch.UserAgent,
		Timeout:           c.Fetch.Timeout,
		RequestsPerSecond: c.Fetch.RequestsPerSecond,
		RespectRobots:     c.Fetch.RespectRobots,
		CacheTTL:          c.Fetch.CacheTTL,
	}
}

// NewViper returns a viper instance reading NEWSDIGEST_* environment
// variables, with dots in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies settings present in v over the file values. Flags
// bound to v take precedence over environment variables, which take
// precedence over the file.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("storage.type", &c.Storage.Type)
	setString("storage.dsn", &c.Storage.DSN)
	setDuration("fetch.delay", &c.Fetch.Delay)
	setString("fetch.user_agent", &c.Fetch.UserAgent)
	setDuration("fetch.timeout", &c.Fetch.Timeout)
	if v.IsSet("fetch.requests_per_second") {
		c.Fetch.RequestsPerSecond = v.GetFloat64("fetch.requests_per_second")
	}
	setBool("fetch.respect_robots", &c.Fetch.RespectRobots)
	setDuration("fetch.cache_ttl", &c.Fetch.CacheTTL)
	setString("log.level", &c.Log.Level)
	setBool("log.development", &c.Log.Development)
	setString("serve.addr", &c.Serve.Addr)
	setString("serve.fetch_schedule", &c.Serve.FetchSchedule)
	setString("serve.summary_schedule", &c.Serve.SummarySchedule)
	setBool("serve.scan_on_start", &c.Serve.ScanOnStart)
}
