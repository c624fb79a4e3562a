package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/vango-dev/pulse/internal/errors"
)

const (
	// TOMLFileName is the preferred configuration file name.
	TOMLFileName = "pulse.toml"

	// JSONFileName is the alternative configuration file name.
	JSONFileName = "pulse.json"

	// EnvFileName is loaded into the environment before overrides apply.
	EnvFileName = ".env"

	// DefaultBackend is the storage backend used when none is configured.
	DefaultBackend = "file"

	// DefaultDir is the file backend directory.
	DefaultDir = ".pulse"

	// DefaultCodec is the value encoding.
	DefaultCodec = "json"

	// DefaultPollInterval is the s3 change feed period.
	DefaultPollInterval = "2s"

	// DefaultAddr is the hub listen address.
	DefaultAddr = ":7070"

	// DefaultHubURL is where clients find a local hub.
	DefaultHubURL = "http://localhost:7070"

	// DefaultLogLevel is the log level.
	DefaultLogLevel = "info"
)

// Backend names accepted in storage.backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendHub    = "hub"
)

// Config represents the complete pulse configuration.
type Config struct {
	// Storage selects and configures the storage adapter.
	Storage StorageConfig `json:"storage,omitempty" toml:"storage"`

	// Hub configures `pulse serve`.
	Hub HubConfig `json:"hub,omitempty" toml:"hub"`

	// Log configures logging.
	Log LogConfig `json:"log,omitempty" toml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// StorageConfig configures the storage adapter.
type StorageConfig struct {
	// Backend is one of memory, file, s3 or hub.
	Backend string `json:"backend,omitempty" toml:"backend"`

	// Dir is the file backend directory, relative to the config file.
	Dir string `json:"dir,omitempty" toml:"dir"`

	// Bucket is the s3 bucket.
	Bucket string `json:"bucket,omitempty" toml:"bucket"`

	// Prefix is prepended to every s3 object key.
	Prefix string `json:"prefix,omitempty" toml:"prefix"`

	// Region is the s3 region.
	Region string `json:"region,omitempty" toml:"region"`

	// Endpoint overrides the s3 endpoint (MinIO, localstack).
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint"`

	// HubURL is the hub backend base URL.
	HubURL string `json:"hubURL,omitempty" toml:"hub_url"`

	// PollInterval is the s3 change feed period (e.g., "2s").
	PollInterval string `json:"pollInterval,omitempty" toml:"poll_interval"`

	// Codec is the value encoding: json or yaml.
	Codec string `json:"codec,omitempty" toml:"codec"`
}

// HubConfig configures the hub server.
type HubConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" toml:"addr"`

	// MaxValueSize bounds stored values in bytes. Zero uses the hub default.
	MaxValueSize int64 `json:"maxValueSize,omitempty" toml:"max_value_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" toml:"level"`
}

// New creates a configuration with defaults.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFromDir loads pulse.toml or pulse.json from dir, in that order. A
// directory with neither yields the defaults. The .env file and environment
// overrides are applied in both cases.
func LoadFromDir(dir string) (*Config, error) {
	if err := loadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		return nil, err
	}

	for _, name := range []string{TOMLFileName, JSONFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return load(path)
		}
	}

	cfg := &Config{configPath: filepath.Join(dir, TOMLFileName)}
	return finish(cfg)
}

// Load loads the configuration file at path. The format follows the
// extension.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(filepath.Join(filepath.Dir(path), EnvFileName)); err != nil {
		return nil, err
	}
	return load(path)
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeInvalidConfig).
				WithDetail("No config file at " + path).
				WithSuggestion("Create " + TOMLFileName + " or drop --config to use defaults.")
		}
		return nil, errors.New(errors.CodeInvalidConfig).WithDetail(path).Wrap(err)
	}

	cfg := &Config{configPath: path}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.New(errors.CodeInvalidConfig).WithDetail("Invalid TOML in " + path).Wrap(err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.New(errors.CodeInvalidConfig).WithDetail("Invalid JSON in " + path).Wrap(err)
		}
	default:
		return nil, errors.New(errors.CodeInvalidConfig).
			WithDetailf("Unsupported config format %q", filepath.Ext(path)).
			WithSuggestion("Use a .toml or .json file.")
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.New(errors.CodeInvalidConfig).WithDetail("Invalid env file " + path).Wrap(err)
	}
	return nil
}

// applyEnv overrides fields from PULSE_* variables.
func (c *Config) applyEnv() {
	overrides := []struct {
		name  string
		field *string
	}{
		{"PULSE_STORAGE", &c.Storage.Backend},
		{"PULSE_DIR", &c.Storage.Dir},
		{"PULSE_BUCKET", &c.Storage.Bucket},
		{"PULSE_PREFIX", &c.Storage.Prefix},
		{"PULSE_REGION", &c.Storage.Region},
		{"PULSE_ENDPOINT", &c.Storage.Endpoint},
		{"PULSE_HUB_URL", &c.Storage.HubURL},
		{"PULSE_ADDR", &c.Hub.Addr},
		{"PULSE_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.field = v
		}
	}
}

// applyDefaults fills in missing values.
func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultBackend
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultDir
	}
	if c.Storage.Codec == "" {
		c.Storage.Codec = DefaultCodec
	}
	if c.Storage.PollInterval == "" {
		c.Storage.PollInterval = DefaultPollInterval
	}
	if c.Storage.HubURL == "" {
		c.Storage.HubURL = DefaultHubURL
	}
	if c.Hub.Addr == "" {
		c.Hub.Addr = DefaultAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendHub:
	case BackendS3:
		if c.Storage.Bucket == "" {
			return errors.New(errors.CodeInvalidConfig).
				WithDetail("storage.bucket is required for the s3 backend").
				WithSuggestion("Set storage.bucket or PULSE_BUCKET.")
		}
	default:
		return errors.New(errors.CodeUnknownStore).WithDetailf("storage.backend = %q", c.Storage.Backend)
	}

	switch c.Storage.Codec {
	case "json", "yaml":
	default:
		return errors.New(errors.CodeInvalidConfig).
			WithDetailf("storage.codec = %q", c.Storage.Codec).
			WithSuggestion("Use json or yaml.")
	}

	if d, err := time.ParseDuration(c.Storage.PollInterval); err != nil || d <= 0 {
		return errors.New(errors.CodeInvalidConfig).
			WithDetailf("storage.poll_interval = %q", c.Storage.PollInterval).
			WithSuggestion(`Use a positive duration such as "2s".`)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return errors.New(errors.CodeInvalidConfig).
			WithDetailf("log.level = %q", c.Log.Level).
			WithSuggestion("Use debug, info, warn or error.")
	}

	if c.Hub.MaxValueSize < 0 {
		return errors.New(errors.CodeInvalidConfig).WithDetail("hub.max_value_size must not be negative")
	}
	return nil
}

// Path returns the path of the config file, or where it would live.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return "."
	}
	return filepath.Dir(c.configPath)
}

// StoragePath returns the absolute-or-config-relative file backend
// directory.
func (c *Config) StoragePath() string {
	if filepath.IsAbs(c.Storage.Dir) {
		return c.Storage.Dir
	}
	return filepath.Join(c.Dir(), c.Storage.Dir)
}

// PollInterval returns the parsed s3 poll interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Storage.PollInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
