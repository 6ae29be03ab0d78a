package config

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/pollenflow/types"
)

// RunConfig holds pipeline-level (not stage-level) tunables.
type RunConfig struct {
	// Merge enables the merge stage between inference and export.
	Merge bool
	// MaxConcurrentSources bounds concurrent per-source runs in RunAll.
	MaxConcurrentSources int
	// BatchWorkers bounds concurrent batch processing within one source.
	BatchWorkers int
	// SourceRate limits source admissions per second in RunAll.
	// 0 means unlimited.
	SourceRate float64
}

// DefaultRunConfig returns the pipeline-level defaults.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{MaxConcurrentSources: 4, BatchWorkers: 4}
}

// NewRunConfig builds a RunConfig from a scoped option mapping.
func NewRunConfig(opts map[string]any) (*RunConfig, error) {
	cfg := DefaultRunConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "merge":
			cfg.Merge, err = asBool(name, v)
		case "max_concurrent_sources":
			cfg.MaxConcurrentSources, err = asInt(name, v)
		case "batch_workers":
			cfg.BatchWorkers, err = asInt(name, v)
		case "source_rate":
			cfg.SourceRate, err = asFloat(name, v)
		default:
			err = unknownOption(PrefixPipeline, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.MaxConcurrentSources < 1 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"pipeline max_concurrent_sources must be >= 1, got %d", cfg.MaxConcurrentSources)
	}
	if cfg.BatchWorkers < 1 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"pipeline batch_workers must be >= 1, got %d", cfg.BatchWorkers)
	}
	if cfg.SourceRate < 0 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"pipeline source_rate must be >= 0, got %v", cfg.SourceRate)
	}
	return cfg, nil
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level        string
	Format       string // json or console
	EnableCaller bool
}

// DefaultLogConfig returns the logging defaults.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{Level: "info", Format: "console"}
}

// NewLogConfig builds a LogConfig from a scoped option mapping.
func NewLogConfig(opts map[string]any) (*LogConfig, error) {
	cfg := DefaultLogConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "level":
			cfg.Level, err = asString(name, v)
		case "format":
			cfg.Format, err = asString(name, v)
		case "enable_caller":
			cfg.EnableCaller, err = asBool(name, v)
		default:
			err = unknownOption(PrefixLog, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.Format != "json" && cfg.Format != "console" {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"log format must be json or console, got %q", cfg.Format)
	}
	if _, err := zapcore.ParseLevel(cfg.Level); err != nil {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"unknown log level %q", cfg.Level).WithCause(err)
	}
	return cfg, nil
}

// Build constructs a zap logger from the configuration.
func (c *LogConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = !c.EnableCaller
	return zc.Build()
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	SampleRate   float64
}

// DefaultTelemetryConfig returns the telemetry defaults (disabled).
func DefaultTelemetryConfig() *TelemetryConfig {
	return &TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "pollenflow",
		SampleRate:   1.0,
	}
}

// NewTelemetryConfig builds a TelemetryConfig from a scoped option mapping.
func NewTelemetryConfig(opts map[string]any) (*TelemetryConfig, error) {
	cfg := DefaultTelemetryConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "enabled":
			cfg.Enabled, err = asBool(name, v)
		case "otlp_endpoint":
			cfg.OTLPEndpoint, err = asString(name, v)
		case "service_name":
			cfg.ServiceName, err = asString(name, v)
		case "sample_rate":
			cfg.SampleRate, err = asFloat(name, v)
		default:
			err = unknownOption(PrefixTelemetry, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"telemetry sample_rate must be in [0, 1], got %v", cfg.SampleRate)
	}
	return cfg, nil
}

// JournalConfig configures the per-source run journal.
type JournalConfig struct {
	Enabled bool
	Path    string
}

// DefaultJournalConfig returns the journal defaults (disabled).
func DefaultJournalConfig() *JournalConfig {
	return &JournalConfig{Path: "pollenflow.db"}
}

// NewJournalConfig builds a JournalConfig from a scoped option mapping.
func NewJournalConfig(opts map[string]any) (*JournalConfig, error) {
	cfg := DefaultJournalConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "enabled":
			cfg.Enabled, err = asBool(name, v)
		case "path":
			cfg.Path, err = asString(name, v)
		default:
			err = unknownOption(PrefixJournal, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.Enabled && cfg.Path == "" {
		return nil, types.NewError(types.CodeInvalidConfiguration,
			"journal path is required when the journal is enabled")
	}
	return cfg, nil
}

// CacheConfig configures the Redis-backed classification result cache.
// When enabled, probability vectors are cached by model-input content so
// re-processing an already seen archive skips the classification calls.
type CacheConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DefaultCacheConfig returns the cache defaults (disabled).
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Addr: "localhost:6379",
		TTL:  24 * time.Hour,
	}
}

// NewCacheConfig builds a CacheConfig from a scoped option mapping.
func NewCacheConfig(opts map[string]any) (*CacheConfig, error) {
	cfg := DefaultCacheConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "enabled":
			cfg.Enabled, err = asBool(name, v)
		case "addr":
			cfg.Addr, err = asString(name, v)
		case "password":
			cfg.Password, err = asString(name, v)
		case "db":
			cfg.DB, err = asInt(name, v)
		case "ttl":
			cfg.TTL, err = asDuration(name, v)
		default:
			err = unknownOption(PrefixCache, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.Enabled && cfg.Addr == "" {
		return nil, types.NewError(types.CodeInvalidConfiguration,
			"cache address is required when the cache is enabled")
	}
	if cfg.TTL < 0 {
		return nil, types.NewError(types.CodeInvalidConfiguration,
			"cache ttl must not be negative")
	}
	return cfg, nil
}

// PipelineConfig bundles every per-stage configuration built from one flat
// option mapping. Construction fails fast: any unknown option name or
// out-of-range value surfaces here, before any record is processed.
type PipelineConfig struct {
	Extraction *ExtractionConfig
	Inference  *InferenceConfig
	Merge      *MergeConfig
	Export     *ExportConfig
	Run        *RunConfig
	Log        *LogConfig
	Telemetry  *TelemetryConfig
	Journal    *JournalConfig
	Cache      *CacheConfig
}

// NewPipelineConfig routes one flat option mapping to every stage and
// validates each scoped subset.
func NewPipelineConfig(opts Options) (*PipelineConfig, error) {
	cfg := &PipelineConfig{}
	var err error

	if cfg.Extraction, err = NewExtractionConfig(Route(opts, PrefixExtraction)); err != nil {
		return nil, err
	}
	if cfg.Inference, err = NewInferenceConfig(Route(opts, PrefixInference)); err != nil {
		return nil, err
	}
	if cfg.Merge, err = NewMergeConfig(Route(opts, PrefixMerge)); err != nil {
		return nil, err
	}
	if cfg.Export, err = NewExportConfig(Route(opts, PrefixExport)); err != nil {
		return nil, err
	}
	if cfg.Run, err = NewRunConfig(Route(opts, PrefixPipeline)); err != nil {
		return nil, err
	}
	if cfg.Log, err = NewLogConfig(Route(opts, PrefixLog)); err != nil {
		return nil, err
	}
	if cfg.Telemetry, err = NewTelemetryConfig(Route(opts, PrefixTelemetry)); err != nil {
		return nil, err
	}
	if cfg.Journal, err = NewJournalConfig(Route(opts, PrefixJournal)); err != nil {
		return nil, err
	}
	if cfg.Cache, err = NewCacheConfig(Route(opts, PrefixCache)); err != nil {
		return nil, err
	}
	return cfg, nil
}
