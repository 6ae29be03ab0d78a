package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/pollenflow/types"
)

func TestNewExtractionConfigDefaults(t *testing.T) {
	cfg, err := NewExtractionConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.BatchSize)
	assert.True(t, cfg.KeepMetadata)
	assert.True(t, cfg.KeepRec)
	assert.Empty(t, cfg.Filters)
}

func TestNewExtractionConfigFilters(t *testing.T) {
	cfg, err := NewExtractionConfig(map[string]any{
		"batch_size":       1024,
		"filters.max_area": 625,
		"filters.min_solidity": 0.9,
	})
	require.NoError(t, err)
	require.Len(t, cfg.Filters, 2)

	byProp := map[string]Filter{}
	for _, f := range cfg.Filters {
		byProp[f.Property] = f
	}

	area := byProp["area"]
	assert.Equal(t, "max", area.Constraint)
	assert.True(t, area.Violates(700))
	assert.False(t, area.Violates(625))

	solidity := byProp["solidity"]
	assert.Equal(t, "min", solidity.Constraint)
	assert.True(t, solidity.Violates(0.5))
	assert.False(t, solidity.Violates(0.95))
}

func TestNewExtractionConfigRejectsUnknownOption(t *testing.T) {
	_, err := NewExtractionConfig(map[string]any{"bath_size": 8})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))
	assert.Contains(t, err.Error(), "bath_size")
}

func TestNewExtractionConfigRejectsBadFilter(t *testing.T) {
	for _, spec := range []string{"filters.area", "filters.avg_area", "filters.min_"} {
		_, err := NewExtractionConfig(map[string]any{spec: 1})
		assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration), spec)
	}
}

func TestNewInferenceConfigDefaults(t *testing.T) {
	cfg, err := NewInferenceConfig(nil)
	require.NoError(t, err)

	assert.True(t, cfg.FromRec0)
	assert.True(t, cfg.FromRec1)
	// No fluorescence keys configured: the channel switches itself off.
	assert.False(t, cfg.FromFluorescence)
	assert.Equal(t, [2]int{200, 200}, cfg.RecShape)
	assert.Equal(t, 16, cfg.RecPrecision)
}

func TestNewInferenceConfigFluorescenceKeys(t *testing.T) {
	cfg, err := NewInferenceConfig(map[string]any{
		"fluorescence_keys": []any{"average_std", "average_mean"},
	})
	require.NoError(t, err)
	assert.True(t, cfg.FromFluorescence)
	assert.Equal(t, map[string]string{
		"average_std":  "average_std",
		"average_mean": "average_mean",
	}, cfg.FluorescenceKeys)
}

func TestNewInferenceConfigNeedsOneChannel(t *testing.T) {
	_, err := NewInferenceConfig(map[string]any{
		"from_rec0":         false,
		"from_rec1":         false,
		"from_fluorescence": false,
	})
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))
}

func TestNewInferenceConfigRejectsBadShape(t *testing.T) {
	_, err := NewInferenceConfig(map[string]any{"rec_shape": []any{200}})
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))

	_, err = NewInferenceConfig(map[string]any{"rec_shape": []any{0, 200}})
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))
}

func TestNewMergeConfig(t *testing.T) {
	cfg, err := NewMergeConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyAverage, cfg.Strategy)

	_, err = NewMergeConfig(map[string]any{"strategy": "majority"})
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))
}

func TestNewExportConfigRequiresDirectory(t *testing.T) {
	_, err := NewExportConfig(nil)
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))

	cfg, err := NewExportConfig(map[string]any{"output_directory": "./out"})
	require.NoError(t, err)
	assert.Equal(t, "./out", cfg.OutputDirectory)
}

func TestNewCacheConfig(t *testing.T) {
	cfg, err := NewCacheConfig(nil)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.TTL)

	cfg, err = NewCacheConfig(map[string]any{
		"enabled": true,
		"addr":    "redis:6379",
		"db":      2,
		"ttl":     "90m",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 90*time.Minute, cfg.TTL)

	// Numeric TTLs are seconds.
	cfg, err = NewCacheConfig(map[string]any{"ttl": 30})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.TTL)

	_, err = NewCacheConfig(map[string]any{"enabled": true, "addr": ""})
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))

	_, err = NewCacheConfig(map[string]any{"ttl": "soon"})
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))
}

func TestNewPipelineConfigEagerValidation(t *testing.T) {
	// A misconfigured downstream stage must fail construction even though
	// no record would ever reach it.
	_, err := NewPipelineConfig(Options{
		"extraction.batch_size":   8,
		"export.output_directory": "./out",
		"inference.rec_precision": 99,
	})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.CodeInvalidConfiguration))
}

func TestNewPipelineConfigFromEnvStrings(t *testing.T) {
	// Environment overrides arrive as strings and must coerce.
	cfg, err := NewPipelineConfig(Options{
		"extraction.batch_size":   "16",
		"extraction.keep_rec":     "false",
		"inference.rec_shape":     "100,100",
		"export.output_directory": "./out",
		"pipeline.source_rate":    "2.5",
	})
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Extraction.BatchSize)
	assert.False(t, cfg.Extraction.KeepRec)
	assert.Equal(t, [2]int{100, 100}, cfg.Inference.RecShape)
	assert.Equal(t, 2.5, cfg.Run.SourceRate)
}
