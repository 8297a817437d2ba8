package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// DefaultConfigFile is the file name looked up when --config is not given.
const DefaultConfigFile = "assetbuilder.yaml"

// Config represents the application configuration.
type Config struct {
	Environment        string        `yaml:"environment"`
	ServicesDir        string        `yaml:"services_dir"`
	Services           []string      `yaml:"services,omitempty"`
	RepoRegex          string        `yaml:"repo_regex,omitempty"`
	BuildNumberFromGit bool          `yaml:"build_number_from_git,omitempty"`
	Build              BuildConfig   `yaml:"build"`
	Assets             AssetsConfig  `yaml:"assets"`
	Publish            PublishConfig `yaml:"publish"`
	Events             EventsConfig  `yaml:"events,omitempty"`
	History            HistoryConfig `yaml:"history,omitempty"`
	Metrics            MetricsConfig `yaml:"metrics,omitempty"`
}

// BuildConfig controls how service build commands are executed.
type BuildConfig struct {
	Workers      int               `yaml:"workers"`
	Shell        string            `yaml:"shell"`
	WatchPattern string            `yaml:"watch_pattern,omitempty"`
	StopGrace    string            `yaml:"stop_grace,omitempty"`
	Interpreter  InterpreterConfig `yaml:"interpreter,omitempty"`
}

// InterpreterConfig describes the interpreter-selection shim placed in front
// of every build command.
type InterpreterConfig struct {
	// VersionFile is looked up in each service directory (".nvmrc").
	VersionFile string `yaml:"version_file,omitempty"`
	// UsePrefix is prepended to shell commands when a version file was found.
	// "{version}" is replaced with its trimmed content.
	UsePrefix string `yaml:"use_prefix,omitempty"`
	// DefaultPrefix is prepended to shell commands otherwise.
	DefaultPrefix string `yaml:"default_prefix,omitempty"`
	// ExecPrefix wraps argument-vector commands.
	ExecPrefix []string `yaml:"exec_prefix,omitempty"`
}

// AssetsConfig controls enumeration and bundling.
type AssetsConfig struct {
	FileTypes       []string `yaml:"file_types"`
	ConcatenateOnly bool     `yaml:"concatenate_only,omitempty"`
	CSSMinify       bool     `yaml:"css_minify,omitempty"`
	JS              JSConfig `yaml:"js,omitempty"`
}

// JSConfig holds the script minifier options.
type JSConfig struct {
	Target    string `yaml:"target,omitempty"`
	KeepNames bool   `yaml:"keep_names,omitempty"`
	// MangleDisabled turns identifier minification off.
	MangleDisabled bool `yaml:"mangle_disabled,omitempty"`
}

// PublishConfig controls uploads to the content store.
type PublishConfig struct {
	CDNURL        string        `yaml:"cdn_url"`
	MaxAge        *int          `yaml:"max_age,omitempty"`
	CompressTypes []string      `yaml:"compress_types,omitempty"`
	Storage       StorageConfig `yaml:"storage"`
	Retry         RetryConfig   `yaml:"retry,omitempty"`
}

// RetryConfig controls retries of transport-level upload failures.
type RetryConfig struct {
	MaxRetries   int              `yaml:"max_retries"`
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay string           `yaml:"initial_delay"`
	MaxDelay     string           `yaml:"max_delay"`
}

// StorageConfig selects and configures the content store backend.
type StorageConfig struct {
	Type      StorageType `yaml:"type"`
	Endpoint  string      `yaml:"endpoint,omitempty"`
	Token     string      `yaml:"token,omitempty"`
	Directory string      `yaml:"directory,omitempty"`
	Timeout   string      `yaml:"timeout,omitempty"`
}

// EventsConfig configures the optional NATS notification on publish.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// HistoryConfig configures the sqlite run history.
type HistoryConfig struct {
	DBPath string `yaml:"db_path,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint used in watch mode.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Load reads, expands, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, foundationerrors.ConfigError(fmt.Sprintf("configuration file not found: %s", path)).
				WithContext("path", path).
				Build()
		}
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "failed to read config file").
			WithContext("path", path).
			Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands environment references in data and decodes it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "failed to unmarshal config").
			Fatal().
			Build()
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MaxAgeSeconds returns the Cache-Control max-age for uploads.
func (p PublishConfig) MaxAgeSeconds() int {
	if p.MaxAge == nil {
		return DefaultMaxAge
	}
	return *p.MaxAge
}

// StopGraceDuration returns how long a watch process gets between SIGTERM
// and SIGKILL.
func (b BuildConfig) StopGraceDuration() time.Duration {
	return parseDurationOr(b.StopGrace, DefaultStopGrace)
}

// TimeoutDuration returns the per-request timeout for the HTTP store.
func (s StorageConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(s.Timeout, DefaultStorageTimeout)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
