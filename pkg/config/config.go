// Package config loads archmap settings from a YAML file, ARCHMAP_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/dd0wney/cluso-archmap/pkg/builder"
	"github.com/dd0wney/cluso-archmap/pkg/encryption"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/notify"
	"github.com/dd0wney/cluso-archmap/pkg/rules"
	"github.com/dd0wney/cluso-archmap/pkg/schedule"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
	"github.com/dd0wney/cluso-archmap/pkg/validation"
)

// EnvPrefix prefixes every environment override, e.g.
// ARCHMAP_STORAGE_BACKEND=sqlite.
const EnvPrefix = "ARCHMAP"

// Config is the full archmap configuration.
type Config struct {
	Storage    snapshot.Options `mapstructure:"storage" yaml:"storage"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Extract    ExtractConfig    `mapstructure:"extract" yaml:"extract"`
	Resolver   ResolverConfig   `mapstructure:"resolver" yaml:"resolver"`
	Builder    BuilderConfig    `mapstructure:"builder" yaml:"builder"`
	Rules      rules.Config     `mapstructure:"rules" yaml:"rules"`
	Logging    logging.Options  `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Notify     notify.Config    `mapstructure:"notify" yaml:"notify"`
	Schedule   schedule.Config  `mapstructure:"schedule" yaml:"schedule"`
}

// EncryptionConfig enables sealed snapshots. Set either KeyFile or
// Passphrase plus Salt, never both.
type EncryptionConfig struct {
	KeyFile    string `mapstructure:"key_file" yaml:"key_file"`
	Passphrase string `mapstructure:"passphrase" yaml:"-"`
	// Salt is hex encoded.
	Salt       string `mapstructure:"salt" yaml:"salt" validate:"omitempty,hexadecimal"`
	Iterations int    `mapstructure:"iterations" yaml:"iterations" validate:"gte=0"`
}

// Enabled reports whether snapshots are sealed.
func (e EncryptionConfig) Enabled() bool {
	return e.KeyFile != "" || e.Passphrase != ""
}

// Sealer builds the snapshot sealer, or returns nil when encryption is off.
func (e EncryptionConfig) Sealer() (encryption.Sealer, error) {
	switch {
	case e.KeyFile != "":
		key, err := encryption.LoadKeyFile(e.KeyFile)
		if err != nil {
			return nil, err
		}
		engine, err := encryption.NewEngine(key)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case e.Passphrase != "":
		salt, err := encryption.DecodeHex(e.Salt, encryption.SaltSize)
		if err != nil {
			return nil, fmt.Errorf("encryption.salt: %w", err)
		}
		engine, err := encryption.NewEngineFromPassphrase(e.Passphrase, salt, e.Iterations)
		if err != nil {
			return nil, err
		}
		return engine, nil
	default:
		return nil, nil
	}
}

// ExtractConfig tunes fact collection.
type ExtractConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size" validate:"gt=0"`
	// Concurrency caps extractors running at once; 0 runs all.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`
}

// ResolverConfig tunes identity resolution.
type ResolverConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
}

// BuilderConfig tunes graph construction.
type BuilderConfig struct {
	LowConfidence float64 `mapstructure:"low_confidence" yaml:"low_confidence"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// Textfile writes metrics after each one-shot command for the node
	// exporter textfile collector.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// SetDefaults registers every default. Keys must be known to viper for
// environment overrides to reach Unmarshal, so secrets get empty defaults.
func SetDefaults(v *viper.Viper) {
	// -- Storage --
	v.SetDefault("storage.backend", snapshot.BackendFile)
	v.SetDefault("storage.dir", filepath.Join(".archmap", "snapshots"))
	v.SetDefault("storage.sqlite_path", filepath.Join(".archmap", "snapshots.db"))
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "archmap")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")

	// -- Encryption --
	v.SetDefault("encryption.key_file", "")
	v.SetDefault("encryption.passphrase", "")
	v.SetDefault("encryption.salt", "")
	v.SetDefault("encryption.iterations", encryption.PBKDF2Iterations)

	// -- Pipeline --
	v.SetDefault("extract.max_file_size", facts.DefaultMaxFileSize)
	v.SetDefault("extract.concurrency", 0)
	v.SetDefault("resolver.workers", 0)
	v.SetDefault("builder.low_confidence", builder.DefaultLowConfidence)

	// -- Rules --
	r := rules.DefaultConfig()
	v.SetDefault("rules.enabled", []string{})
	v.SetDefault("rules.cycle.min_cycle_size", r.Cycle.MinCycleSize)
	v.SetDefault("rules.cycle.ignore_self_loops", r.Cycle.IgnoreSelfLoops)
	v.SetDefault("rules.spf.in_degree_threshold", r.SPF.InDegreeThreshold)
	v.SetDefault("rules.spf.high_centrality", r.SPF.HighCentrality)
	v.SetDefault("rules.spf.centrality", r.SPF.Centrality)
	v.SetDefault("rules.secrets.patterns_file", "")
	v.SetDefault("rules.secrets.no_defaults", false)

	// -- Logging --
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
	v.SetDefault("metrics.textfile", "")

	// -- Notify --
	n := notify.DefaultConfig()
	v.SetDefault("notify.enabled", n.Enabled)
	v.SetDefault("notify.address", n.Address)
	v.SetDefault("notify.buffer_size", n.BufferSize)
	v.SetDefault("notify.send_deadline", n.SendDeadline)
}

// NewViper returns a viper instance with defaults, environment overrides and
// the config file applied. An empty path searches ./archmap.yaml and
// $HOME/.archmap/archmap.yaml; finding neither is not an error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("archmap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".archmap"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with no file or environment applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks struct tags first, then cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	cv := validation.NewConfigValidator("config")
	cv.OneOf("logging.level", c.Logging.Level, []string{"debug", "info", "warn", "error"}).
		OneOf("logging.format", c.Logging.Format, []string{"json", "console"}).
		RangeFloat("builder.low_confidence", c.Builder.LowConfidence, 0, 1).
		When(c.Storage.Backend == snapshot.BackendFile, func(cv *validation.ConfigValidator) {
			cv.Required("storage.dir", c.Storage.Dir)
		}).
		When(c.Storage.Backend == snapshot.BackendSQLite, func(cv *validation.ConfigValidator) {
			cv.Required("storage.sqlite_path", c.Storage.SQLitePath)
		}).
		When(c.Storage.Backend == snapshot.BackendPostgres, func(cv *validation.ConfigValidator) {
			cv.Required("storage.postgres_url", c.Storage.PostgresURL)
		}).
		When(c.Storage.Backend == snapshot.BackendS3, func(cv *validation.ConfigValidator) {
			cv.Required("storage.s3.bucket", c.Storage.S3.Bucket)
		}).
		When(c.Encryption.Passphrase != "", func(cv *validation.ConfigValidator) {
			cv.Required("encryption.salt", c.Encryption.Salt)
		}).
		Custom("encryption", func() error {
			if c.Encryption.KeyFile != "" && c.Encryption.Passphrase != "" {
				return errors.New("key_file and passphrase are mutually exclusive")
			}
			return nil
		}).
		Custom("rules.enabled", func() error {
			known := rules.Names()
			for _, name := range c.Rules.Enabled {
				if !slices.Contains(known, name) {
					return fmt.Errorf("unknown rule %q", name)
				}
			}
			return nil
		}).
		When(c.Metrics.Enabled, func(cv *validation.ConfigValidator) {
			cv.Custom("metrics", func() error {
				if c.Metrics.ListenAddr == "" && c.Metrics.Textfile == "" {
					return errors.New("listen_addr or textfile is required when enabled")
				}
				return nil
			})
		}).
		When(c.Notify.Enabled, func(cv *validation.ConfigValidator) {
			cv.Positive("notify.buffer_size", c.Notify.BufferSize)
		}).
		Custom("schedule", c.Schedule.Validate)

	return cv.Validate()
}
