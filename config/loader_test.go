package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	data := []byte(`
extraction:
  batch_size: 8
  filters:
    max_area: 625
inference:
  from_fluorescence: false
export:
  output_directory: ./out
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	opts, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8, opts["extraction.batch_size"])
	assert.Equal(t, 625, opts["extraction.filters.max_area"])
	assert.Equal(t, false, opts["inference.from_fluorescence"])
	assert.Equal(t, "./out", opts["export.output_directory"])
}

func TestLoaderMissingFileIsNotAnError(t *testing.T) {
	opts, err := NewLoader().
		WithConfigPath("/definitely/not/here.yaml").
		WithEnviron(func() []string { return nil }).
		Load()
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extraction:\n  batch_size: 8\n"), 0o644))

	opts, err := NewLoader().
		WithConfigPath(path).
		WithEnviron(func() []string {
			return []string{
				"POLLENFLOW_EXTRACTION_BATCH_SIZE=32",
				"POLLENFLOW_EXPORT_OUTPUT_DIRECTORY=/data/out",
				"UNRELATED=1",
			}
		}).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "32", opts["extraction.batch_size"])
	assert.Equal(t, "/data/out", opts["export.output_directory"])
	_, ok := opts["unrelated"]
	assert.False(t, ok)
}

func TestLoaderEndToEndConfig(t *testing.T) {
	opts, err := NewLoader().
		WithEnviron(func() []string {
			return []string{
				"POLLENFLOW_EXTRACTION_BATCH_SIZE=16",
				"POLLENFLOW_EXPORT_OUTPUT_DIRECTORY=./out",
			}
		}).
		Load()
	require.NoError(t, err)

	cfg, err := NewPipelineConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Extraction.BatchSize)
	assert.Equal(t, "./out", cfg.Export.OutputDirectory)
}
