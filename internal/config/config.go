// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/contact-harvester/internal/discover"
	"github.com/JakeFAU/contact-harvester/internal/extract"
	"github.com/JakeFAU/contact-harvester/internal/rank"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Source     SourceConfig     `mapstructure:"source"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Rank       RankConfig       `mapstructure:"rank"`
	Discover   DiscoverConfig   `mapstructure:"discover"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Export     ExportConfig     `mapstructure:"export"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig points at the entity list used for fresh runs.
type SourceConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
	Limit  int    `mapstructure:"limit"`
}

// CheckpointConfig locates the checkpoint file.
type CheckpointConfig struct {
	Dir  string `mapstructure:"dir"`
	File string `mapstructure:"file"`
}

// HarvestConfig holds the pipeline policy constants.
type HarvestConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	EntityConcurrency int `mapstructure:"entity_concurrency"`
	MaxContactPages   int `mapstructure:"max_contact_pages"`
	MaxCandidates     int `mapstructure:"max_candidates"`
}

// ExtractConfig controls address exclusion.
type ExtractConfig struct {
	ExcludeSubstrings  []string `mapstructure:"exclude_substrings"`
	PlaceholderDomains []string `mapstructure:"placeholder_domains"`
	ExcludeSuffixes    []string `mapstructure:"exclude_suffixes"`
}

// RankConfig sets the ordered priority keywords.
type RankConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// DiscoverConfig controls contact-page discovery.
type DiscoverConfig struct {
	Keywords        []string `mapstructure:"keywords"`
	LocaleKeywords  []string `mapstructure:"locale_keywords"`
	MaxLinks        int      `mapstructure:"max_links"`
	Scope           string   `mapstructure:"scope"`
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
	FallbackPaths   []string `mapstructure:"fallback_paths"`
}

// FetchConfig governs the fetch service and the scheduler pool.
type FetchConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	QueueDepth       int           `mapstructure:"queue_depth"`
	UserAgent        string        `mapstructure:"user_agent"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	TotalTimeout     time.Duration `mapstructure:"total_timeout"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes"`
	ContactPageDelay time.Duration `mapstructure:"contact_page_delay"`
}

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

// LedgerConfig selects the visited-URL ledger backend.
type LedgerConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the shared Redis ledger.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Export formats.
const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatXLSX     = "xlsx"
	FormatPostgres = "postgres"
)

// ExportConfig controls where final results are written.
type ExportConfig struct {
	Dir      string         `mapstructure:"dir"`
	Formats  []string       `mapstructure:"formats"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the optional Postgres result sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BufferSize  int           `mapstructure:"buffer_size"`
	BatchEvents int           `mapstructure:"batch_events"`
	BatchWait   time.Duration `mapstructure:"batch_wait"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
	LogEvents   bool          `mapstructure:"log_events"`
	Prometheus  bool          `mapstructure:"prometheus"`
}

// MetricsConfig controls the operator listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("checkpoint.dir", "data")
	v.SetDefault("checkpoint.file", "checkpoint.json")
	v.SetDefault("harvest.batch_size", 50)
	v.SetDefault("harvest.entity_concurrency", 10)
	v.SetDefault("harvest.max_contact_pages", 5)
	v.SetDefault("harvest.max_candidates", 3)
	v.SetDefault("extract.exclude_substrings", extract.DefaultConfig().ExcludeSubstrings)
	v.SetDefault("extract.placeholder_domains", extract.DefaultConfig().PlaceholderDomains)
	v.SetDefault("extract.exclude_suffixes", extract.DefaultConfig().ExcludeSuffixes)
	v.SetDefault("rank.keywords", rank.DefaultKeywords)
	v.SetDefault("discover.keywords", discover.DefaultKeywords)
	v.SetDefault("discover.locale_keywords", discover.DefaultLocaleKeywords)
	v.SetDefault("discover.max_links", 10)
	v.SetDefault("discover.scope", string(discover.ScopeSameHost))
	v.SetDefault("discover.exclude_patterns", discover.DefaultExcludePatterns)
	v.SetDefault("fetch.concurrency", 10)
	v.SetDefault("fetch.queue_depth", 20)
	v.SetDefault("fetch.user_agent", "contact-harvester/0.1 (+https://github.com/JakeFAU/contact-harvester)")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.connect_timeout", "10s")
	v.SetDefault("fetch.total_timeout", "30s")
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.contact_page_delay", "500ms")
	v.SetDefault("ledger.backend", LedgerMemory)
	v.SetDefault("ledger.redis.ttl", "24h")
	v.SetDefault("export.dir", "data")
	v.SetDefault("export.formats", []string{FormatCSV, FormatJSON})
	v.SetDefault("export.postgres.table", "harvest_results")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 2048)
	v.SetDefault("progress.batch_events", 256)
	v.SetDefault("progress.batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("progress.prometheus", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Checkpoint.Dir == "" {
		return fmt.Errorf("checkpoint.dir is required")
	}
	if c.Harvest.BatchSize <= 0 {
		return fmt.Errorf("harvest.batch_size must be > 0")
	}
	if c.Harvest.EntityConcurrency <= 0 {
		return fmt.Errorf("harvest.entity_concurrency must be > 0")
	}
	if c.Harvest.MaxContactPages < 0 {
		return fmt.Errorf("harvest.max_contact_pages must be >= 0")
	}
	if c.Harvest.MaxCandidates <= 0 {
		return fmt.Errorf("harvest.max_candidates must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.ConnectTimeout <= 0 || c.Fetch.TotalTimeout <= 0 {
		return fmt.Errorf("fetch.connect_timeout and fetch.total_timeout must be > 0")
	}
	if c.Fetch.ConnectTimeout > c.Fetch.TotalTimeout {
		return fmt.Errorf("fetch.connect_timeout must not exceed fetch.total_timeout")
	}
	if c.Fetch.ContactPageDelay < 0 {
		return fmt.Errorf("fetch.contact_page_delay must be >= 0")
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return fmt.Errorf("fetch.user_agent is required")
	}
	if _, err := discover.ParseScope(c.Discover.Scope); err != nil {
		return fmt.Errorf("discover.scope: %w", err)
	}
	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerRedis:
		if c.Ledger.Redis.Addr == "" {
			return fmt.Errorf("ledger.redis.addr must be set when ledger.backend is redis")
		}
	default:
		return fmt.Errorf("ledger.backend must be %q or %q", LedgerMemory, LedgerRedis)
	}
	for _, f := range c.Export.Formats {
		if !slices.Contains([]string{FormatCSV, FormatJSON, FormatXLSX, FormatPostgres}, f) {
			return fmt.Errorf("export.formats: unknown format %q", f)
		}
	}
	if slices.Contains(c.Export.Formats, FormatPostgres) && c.Export.Postgres.DSN == "" {
		return fmt.Errorf("export.postgres.dsn must be set when postgres export is enabled")
	}
	if c.Export.Dir == "" && c.needsExportDir() {
		return fmt.Errorf("export.dir is required for file exports")
	}
	return nil
}

func (c Config) needsExportDir() bool {
	for _, f := range c.Export.Formats {
		if f != FormatPostgres {
			return true
		}
	}
	return false
}
