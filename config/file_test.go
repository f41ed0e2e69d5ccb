package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pevans/newsdigest/discovery"
	"github.com/pevans/newsdigest/scraper"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
storage:
  type: sqlite
  dsn: /tmp/stories.db
fetch:
  delay: 2s
  user_agent: "test-agent/1.0"
  cache_ttl: 10m
log:
  level: debug
serve:
  addr: ":9090"
  fetch_schedule: "0 * * * *"
sites:
  - name: example
    summary:
      time_period_s: 43200
      output_html_file: example.html
      maximum_score: 5
    blocks:
      - name: top
        url: https://example.com/
        block_selector: "#top"
        story_selector: li.story
        key_regexp: '/story/(\d+)'
        key: {attribute: {href: a}}
        story_url: {attribute: {href: a}}
        title: {InnerText: a}
        inside_lede: {inner_text: p.lede}
        inside_tags_selector: ul.tags a
      - name: feed
        url: https://example.com/rss
        source: feed
        key_regexp: '/story/(\d+)'
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad_ValidConfig verifies every section decodes
func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/tmp/stories.db", cfg.Storage.DSN)
	assert.Equal(t, 2*time.Second, cfg.Fetch.Delay)
	assert.Equal(t, "test-agent/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, discovery.DefaultTimeout, cfg.Fetch.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Fetch.CacheTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Serve.Addr)

	site, ok := cfg.Site("example")
	require.True(t, ok)
	assert.Equal(t, 12*time.Hour, site.Summary.Window())
	assert.Equal(t, 5.0, site.Summary.ScoreCeiling())
	require.Len(t, site.Blocks, 2)

	top := site.Blocks[0]
	assert.Equal(t, scraper.KindInnerText, top.Title.Kind)
	assert.Equal(t, "sites.example.blocks.top.title", top.Title.Path)
	assert.True(t, top.HasDetail())
	assert.True(t, site.Blocks[1].IsFeed())

	_, ok = cfg.Site("missing")
	assert.False(t, ok)
}

// TestLoad_Defaults verifies defaults for a minimal file
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sites: []\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "newsdigest.db", cfg.Storage.DSN)
	assert.Equal(t, discovery.DefaultDelay, cfg.Fetch.Delay)
	assert.Equal(t, discovery.DefaultUserAgent, cfg.Fetch.UserAgent)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.Equal(t, "@hourly", cfg.Serve.FetchSchedule)
}

// TestLoad_ExplicitZeroDelay verifies a configured 0s delay is kept
func TestLoad_ExplicitZeroDelay(t *testing.T) {
	cfg, err := Load(writeConfig(t, "fetch:\n  delay: 0s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Fetch.Delay)

	cfg, err = Load(writeConfig(t, "fetch:\n  user_agent: x\n"))
	require.NoError(t, err)
	assert.Equal(t, discovery.DefaultDelay, cfg.Fetch.Delay)
}

// TestLoad_MissingFile verifies a missing file is reported
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

// TestLoad_InvalidYAML verifies parse errors are reported
func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "sites: [\n"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

// TestLoad_ValidationErrors verifies structural problems fail the load
func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
	}{
		{
			name:    "bad storage type",
			content: "storage: {type: mysql}\n",
			path:    "storage.type",
		},
		{
			name: "duplicate site",
			content: `sites:
  - {name: s, blocks: []}
  - {name: s, blocks: []}
`,
			path: "sites.s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)

			var cfgErr *scraper.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.path, cfgErr.Path)
		})
	}
}

// TestLoad_InvalidBlockIsolated verifies a broken block neither fails the
// load nor affects other blocks and sites
func TestLoad_InvalidBlockIsolated(t *testing.T) {
	cfg, err := Load(writeConfig(t, `sites:
  - name: good
    blocks:
      - name: broken
        url: https://good.test/
        story_selector: li
        key_regexp: '/story/(\d+)'
        key: {attribute: {href: a}}
        story_url: {attribute: {href: a}}
      - name: rss
        url: https://good.test/rss
        source: feed
        key_regexp: '/story/(\d+)'
      - {name: bad-regexp, url: "https://good.test/atom", source: feed, key_regexp: "("}
  - name: other
    blocks:
      - {name: rss, url: "https://other.test/rss", source: feed, key_regexp: '(\d+)'}
`))
	require.NoError(t, err)
	require.Len(t, cfg.Sites, 2)

	good, ok := cfg.Site("good")
	require.True(t, ok)
	require.Len(t, good.Blocks, 3)

	var cfgErr *scraper.ConfigError
	require.ErrorAs(t, good.Blocks[0].Invalid, &cfgErr)
	assert.Equal(t, "sites.good.blocks.broken", cfgErr.Path)
	assert.Equal(t, "block_selector", cfgErr.Key)
	assert.NoError(t, good.Blocks[1].Invalid)
	require.ErrorAs(t, good.Blocks[2].Invalid, &cfgErr)
	assert.Equal(t, "sites.good.blocks.bad-regexp.key_regexp", cfgErr.Path)

	other, ok := cfg.Site("other")
	require.True(t, ok)
	assert.Empty(t, other.Problems())

	assert.Len(t, cfg.Problems(), 2)
}

// TestApplyOverrides_Env verifies environment variables override the file
func TestApplyOverrides_Env(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	t.Setenv("NEWSDIGEST_STORAGE_DSN", "/data/override.db")
	t.Setenv("NEWSDIGEST_FETCH_DELAY", "500ms")
	t.Setenv("NEWSDIGEST_SERVE_SCAN_ON_START", "true")

	cfg.ApplyOverrides(NewViper())

	assert.Equal(t, "/data/override.db", cfg.Storage.DSN)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.Delay)
	assert.True(t, cfg.Serve.ScanOnStart)
	assert.Equal(t, "debug", cfg.Log.Level, "unset keys keep file values")
}

// TestApplyOverrides_FlagBeatsEnv verifies a changed flag wins over env
func TestApplyOverrides_FlagBeatsEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("NEWSDIGEST_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level=error"}))

	v := NewViper()
	require.NoError(t, v.BindPFlag("log.level", flags.Lookup("log-level")))
	cfg.ApplyOverrides(v)

	assert.Equal(t, "error", cfg.Log.Level)
}

// TestFetcherConfig verifies conversion to discovery settings
func TestFetcherConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	fc := cfg.FetcherConfig()
	assert.Equal(t, 2*time.Second, fc.Delay)
	assert.Equal(t, "test-agent/1.0", fc.UserAgent)
	assert.Equal(t, 10*time.Minute, fc.CacheTTL)
}
