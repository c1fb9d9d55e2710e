// Package config loads ivtree settings from YAML files and IVTREE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidNodesPerAlloc = errors.New("pool nodes per alloc must be positive")
	ErrInvalidMaxNodes      = errors.New("pool max nodes must not be negative")
	ErrInvalidBenchCount    = errors.New("bench count must be positive")
	ErrInvalidBenchWidth    = errors.New("bench mask plus width overflows uint64")
	ErrInvalidStressOps     = errors.New("stress ops must be positive")
	ErrInvalidReaders       = errors.New("stress readers must not be negative")
	ErrInvalidKeySpace      = errors.New("stress key space must be positive")
	ErrInvalidValidateEvery = errors.New("stress validate interval must not be negative")
	ErrInvalidLogLevel      = errors.New("invalid log level")
	ErrInvalidLogFormat     = errors.New("invalid log format")
	ErrInvalidSampleRatio   = errors.New("sample ratio must be within [0, 1]")
)

const envPrefix = "IVTREE"

// Config holds every ivtree setting.
type Config struct {
	Pool          PoolConfig          `mapstructure:"pool"          yaml:"pool"`
	Bench         BenchConfig         `mapstructure:"bench"         yaml:"bench"`
	Stress        StressConfig        `mapstructure:"stress"        yaml:"stress"`
	Logging       LoggingConfig       `mapstructure:"logging"       yaml:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// PoolConfig sizes the node pool behind every tree.
type PoolConfig struct {
	NodesPerAlloc int `mapstructure:"nodes_per_alloc" yaml:"nodes_per_alloc"`
	MaxNodes      int `mapstructure:"max_nodes"       yaml:"max_nodes"`
}

// BenchConfig drives the bench command.
type BenchConfig struct {
	Count int    `mapstructure:"count" yaml:"count"`
	Width uint64 `mapstructure:"width" yaml:"width"`
	Seed  uint64 `mapstructure:"seed"  yaml:"seed"`
	Mask  uint64 `mapstructure:"mask"  yaml:"mask"`
}

// StressConfig drives the stress command.
type StressConfig struct {
	Ops           int    `mapstructure:"ops"            yaml:"ops"`
	Readers       int    `mapstructure:"readers"        yaml:"readers"`
	Seed          uint64 `mapstructure:"seed"           yaml:"seed"`
	KeySpace      uint64 `mapstructure:"key_space"      yaml:"key_space"`
	MaxWidth      uint64 `mapstructure:"max_width"      yaml:"max_width"`
	ValidateEvery int    `mapstructure:"validate_every" yaml:"validate_every"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ObservabilityConfig configures telemetry export.
type ObservabilityConfig struct {
	ServiceName  string  `mapstructure:"service_name"  yaml:"service_name"`
	Environment  string  `mapstructure:"environment"   yaml:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"  yaml:"otlp_headers"`
	SampleRatio  float64 `mapstructure:"sample_ratio"  yaml:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"  yaml:"metrics_addr"`
}

// LoadConfig reads configPath (or ivtree.yaml from the usual directories when
// empty), overlays IVTREE_* environment variables and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ivtree")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ivtree")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{NodesPerAlloc: DefaultPoolNodesPerAlloc, MaxNodes: DefaultPoolMaxNodes},
		Bench: BenchConfig{
			Count: DefaultBenchCount, Width: DefaultBenchWidth, Seed: DefaultBenchSeed, Mask: DefaultBenchMask,
		},
		Stress: StressConfig{
			Ops:           DefaultStressOps,
			Readers:       DefaultStressReaders,
			Seed:          DefaultStressSeed,
			KeySpace:      DefaultStressKeySpace,
			MaxWidth:      DefaultStressMaxWidth,
			ValidateEvery: DefaultStressValidateEvery,
		},
		Logging:       LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Observability: ObservabilityConfig{ServiceName: DefaultServiceName, SampleRatio: DefaultSampleRatio},
	}
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("pool.nodes_per_alloc", def.Pool.NodesPerAlloc)
	v.SetDefault("pool.max_nodes", def.Pool.MaxNodes)

	v.SetDefault("bench.count", def.Bench.Count)
	v.SetDefault("bench.width", def.Bench.Width)
	v.SetDefault("bench.seed", def.Bench.Seed)
	v.SetDefault("bench.mask", def.Bench.Mask)

	v.SetDefault("stress.ops", def.Stress.Ops)
	v.SetDefault("stress.readers", def.Stress.Readers)
	v.SetDefault("stress.seed", def.Stress.Seed)
	v.SetDefault("stress.key_space", def.Stress.KeySpace)
	v.SetDefault("stress.max_width", def.Stress.MaxWidth)
	v.SetDefault("stress.validate_every", def.Stress.ValidateEvery)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	v.SetDefault("observability.service_name", def.Observability.ServiceName)
	v.SetDefault("observability.environment", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.otlp_headers", "")
	v.SetDefault("observability.sample_ratio", def.Observability.SampleRatio)
	v.SetDefault("observability.metrics_addr", "")
}

// Validate checks value ranges and returns the first violation.
func (c *Config) Validate() error {
	switch {
	case c.Pool.NodesPerAlloc <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidNodesPerAlloc, c.Pool.NodesPerAlloc)
	case c.Pool.MaxNodes < 0:
		return fmt.Errorf("%w: %d", ErrInvalidMaxNodes, c.Pool.MaxNodes)
	case c.Bench.Count <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidBenchCount, c.Bench.Count)
	case c.Bench.Mask > math.MaxUint64-c.Bench.Width:
		return fmt.Errorf("%w: mask %#x width %d", ErrInvalidBenchWidth, c.Bench.Mask, c.Bench.Width)
	case c.Stress.Ops <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidStressOps, c.Stress.Ops)
	case c.Stress.Readers < 0:
		return fmt.Errorf("%w: %d", ErrInvalidReaders, c.Stress.Readers)
	case c.Stress.KeySpace == 0:
		return ErrInvalidKeySpace
	case c.Stress.ValidateEvery < 0:
		return fmt.Errorf("%w: %d", ErrInvalidValidateEvery, c.Stress.ValidateEvery)
	case c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1:
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Observability.SampleRatio)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	return nil
}
