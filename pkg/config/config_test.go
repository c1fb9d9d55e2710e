package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/ivtree/pkg/config"
)

// Test constants.
const (
	testNodesPerAlloc = 64
	testMaxNodes      = 4096
	testBenchCount    = 512
	testStressOps     = 2500
	testReaders       = 8
	testMask          = 0xfff000
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ivtree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// TestLoadConfig_EmptyFileUsesDefaults verifies that defaults fill an empty file.
func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.DefaultPoolNodesPerAlloc, cfg.Pool.NodesPerAlloc)
	assert.Equal(t, uint64(config.DefaultBenchMask), cfg.Bench.Mask)
	assert.Equal(t, config.DefaultLogFormat, cfg.Logging.Format)
}

// TestLoadConfig_ValidFile verifies that YAML values override defaults.
func TestLoadConfig_ValidFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `pool:
  nodes_per_alloc: 64
  max_nodes: 4096
bench:
  count: 512
  mask: 0xfff000
stress:
  ops: 2500
  readers: 8
logging:
  level: debug
  format: json
observability:
  otlp_endpoint: "localhost:4317"
  otlp_insecure: true
  sample_ratio: 0.5
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, testNodesPerAlloc, cfg.Pool.NodesPerAlloc)
	assert.Equal(t, testMaxNodes, cfg.Pool.MaxNodes)
	assert.Equal(t, testBenchCount, cfg.Bench.Count)
	assert.Equal(t, uint64(testMask), cfg.Bench.Mask)
	assert.Equal(t, uint64(config.DefaultBenchWidth), cfg.Bench.Width)
	assert.Equal(t, testStressOps, cfg.Stress.Ops)
	assert.Equal(t, testReaders, cfg.Stress.Readers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "localhost:4317", cfg.Observability.OTLPEndpoint)
	assert.True(t, cfg.Observability.OTLPInsecure)
	assert.InDelta(t, 0.5, cfg.Observability.SampleRatio, 0.001)
}

// TestLoadConfig_EnvOverride verifies IVTREE_* environment overrides.
func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("IVTREE_STRESS_OPS", "777")
	t.Setenv("IVTREE_LOGGING_LEVEL", "warn")

	cfg, err := config.LoadConfig(writeConfig(t, "stress:\n  ops: 100\n"))
	require.NoError(t, err)

	assert.Equal(t, 777, cfg.Stress.Ops)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

// TestLoadConfig_MissingExplicitFile verifies that an explicit missing path is an error.
func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

// TestLoadConfig_MalformedYAML verifies that parse errors surface.
func TestLoadConfig_MalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "pool: [unterminated"))
	require.Error(t, err)
}

// TestLoadConfig_Invalid verifies each validation rule through the loader.
func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		content string
		want    error
	}{
		"nodes_per_alloc": {"pool:\n  nodes_per_alloc: 0\n", config.ErrInvalidNodesPerAlloc},
		"max_nodes":       {"pool:\n  max_nodes: -1\n", config.ErrInvalidMaxNodes},
		"bench_count":     {"bench:\n  count: 0\n", config.ErrInvalidBenchCount},
		"bench_overflow":  {"bench:\n  mask: 0xffffffffffffffff\n", config.ErrInvalidBenchWidth},
		"stress_ops":      {"stress:\n  ops: 0\n", config.ErrInvalidStressOps},
		"readers":         {"stress:\n  readers: -2\n", config.ErrInvalidReaders},
		"key_space":       {"stress:\n  key_space: 0\n", config.ErrInvalidKeySpace},
		"validate_every":  {"stress:\n  validate_every: -1\n", config.ErrInvalidValidateEvery},
		"log_level":       {"logging:\n  level: loud\n", config.ErrInvalidLogLevel},
		"log_format":      {"logging:\n  format: xml\n", config.ErrInvalidLogFormat},
		"sample_ratio":    {"observability:\n  sample_ratio: 1.5\n", config.ErrInvalidSampleRatio},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tc.content))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

// TestDefaultValidates verifies that the built-in defaults pass validation.
func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	require.NoError(t, config.Default().Validate())
}
