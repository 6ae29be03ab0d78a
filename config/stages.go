package config

import (
	"strings"

	"github.com/BaSui01/pollenflow/types"
)

// filterPrefix namespaces quality-filter options within the extraction
// stage's scoped mapping, e.g. "filters.max_area".
const filterPrefix = "filters" + KeySep

// Filter is one quality predicate over a recording property. A record is
// silently dropped when any of its channels violates any filter.
type Filter struct {
	Property   string
	Constraint string // "min" or "max"
	Bound      float64
}

// Violates reports whether a property value falls outside the bound.
func (f Filter) Violates(value float64) bool {
	if f.Constraint == "min" {
		return value < f.Bound
	}
	return value > f.Bound
}

// ExtractionConfig holds the extraction stage's tunables.
type ExtractionConfig struct {
	// BatchSize is the maximum number of records per emitted batch.
	// 0 means the whole source forms a single batch.
	BatchSize int

	KeepMetadata      bool
	KeepFluorescence  bool
	KeepRecProperties bool
	KeepRec           bool
	KeepLabel         bool

	// Key subsets to retain; empty means keep everything.
	MetadataKeys      []string
	FluorescenceKeys  []string
	RecPropertiesKeys []string

	Filters []Filter
}

// DefaultExtractionConfig returns the extraction defaults.
func DefaultExtractionConfig() *ExtractionConfig {
	return &ExtractionConfig{
		KeepMetadata:      true,
		KeepFluorescence:  true,
		KeepRecProperties: true,
		KeepRec:           true,
		KeepLabel:         true,
	}
}

// NewExtractionConfig builds an ExtractionConfig from a scoped option
// mapping (as produced by Route). Unknown option names are rejected.
func NewExtractionConfig(opts map[string]any) (*ExtractionConfig, error) {
	cfg := DefaultExtractionConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "batch_size":
			cfg.BatchSize, err = asInt(name, v)
		case "keep_metadata":
			cfg.KeepMetadata, err = asBool(name, v)
		case "keep_fluorescence":
			cfg.KeepFluorescence, err = asBool(name, v)
		case "keep_rec_properties":
			cfg.KeepRecProperties, err = asBool(name, v)
		case "keep_rec":
			cfg.KeepRec, err = asBool(name, v)
		case "keep_label":
			cfg.KeepLabel, err = asBool(name, v)
		case "metadata_keys":
			cfg.MetadataKeys, err = asStringSlice(name, v)
		case "fluorescence_keys":
			cfg.FluorescenceKeys, err = asStringSlice(name, v)
		case "rec_properties_keys":
			cfg.RecPropertiesKeys, err = asStringSlice(name, v)
		default:
			if spec, ok := strings.CutPrefix(name, filterPrefix); ok {
				var f Filter
				f, err = parseFilter(spec, v)
				if err == nil {
					cfg.Filters = append(cfg.Filters, f)
				}
				break
			}
			err = unknownOption(PrefixExtraction, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.BatchSize < 0 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"extraction batch_size must be >= 0, got %d", cfg.BatchSize)
	}
	return cfg, nil
}

func parseFilter(spec string, v any) (Filter, error) {
	constraint, property, ok := strings.Cut(spec, "_")
	if !ok || (constraint != "min" && constraint != "max") || property == "" {
		return Filter{}, types.Errorf(types.CodeInvalidConfiguration,
			"unsupported filter %q: want min_<property> or max_<property>", spec)
	}
	bound, err := asFloat(spec, v)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Property: property, Constraint: constraint, Bound: bound}, nil
}

// InferenceConfig holds the inference stage's tunables.
type InferenceConfig struct {
	// Channel selection for the model input.
	FromRec0         bool
	FromRec1         bool
	FromFluorescence bool
	// FluorescenceKeys maps model input names to fluorescence keys. Empty
	// disables the fluorescence channel even when FromFluorescence is set.
	FluorescenceKeys map[string]string

	// RecShape is the expected (width, height) of each recording.
	RecShape [2]int
	// RecPrecision is the bit depth of raw pixels; pixels are normalized
	// by 2^RecPrecision before classification.
	RecPrecision int
	// BatchSize bounds the number of records per classification call.
	// 0 means the whole request batch is classified in one call.
	BatchSize int
}

// DefaultInferenceConfig returns the inference defaults.
func DefaultInferenceConfig() *InferenceConfig {
	return &InferenceConfig{
		FromRec0:         true,
		FromRec1:         true,
		FromFluorescence: true,
		RecShape:         [2]int{200, 200},
		RecPrecision:     16,
		BatchSize:        1024,
	}
}

// NewInferenceConfig builds an InferenceConfig from a scoped option
// mapping. Unknown option names are rejected.
func NewInferenceConfig(opts map[string]any) (*InferenceConfig, error) {
	cfg := DefaultInferenceConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "from_rec0":
			cfg.FromRec0, err = asBool(name, v)
		case "from_rec1":
			cfg.FromRec1, err = asBool(name, v)
		case "from_fluorescence":
			cfg.FromFluorescence, err = asBool(name, v)
		case "fluorescence_keys":
			var keys []string
			keys, err = asStringSlice(name, v)
			if err == nil {
				cfg.FluorescenceKeys = make(map[string]string, len(keys))
				for _, k := range keys {
					cfg.FluorescenceKeys[k] = k
				}
			}
		case "rec_shape":
			cfg.RecShape, err = asIntPair(name, v)
		case "rec_precision":
			cfg.RecPrecision, err = asInt(name, v)
		case "batch_size":
			cfg.BatchSize, err = asInt(name, v)
		default:
			err = unknownOption(PrefixInference, name)
		}
		if err != nil {
			return nil, err
		}
	}
	// A fluorescence channel with no keys selects nothing.
	if cfg.FromFluorescence && len(cfg.FluorescenceKeys) == 0 {
		cfg.FromFluorescence = false
	}
	if !cfg.FromRec0 && !cfg.FromRec1 && !cfg.FromFluorescence {
		return nil, types.NewError(types.CodeInvalidConfiguration,
			"inference needs at least one input channel")
	}
	if cfg.RecShape[0] < 1 || cfg.RecShape[1] < 1 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"inference rec_shape must be positive, got %v", cfg.RecShape)
	}
	if cfg.RecPrecision < 1 || cfg.RecPrecision > 64 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"inference rec_precision must be in [1, 64], got %d", cfg.RecPrecision)
	}
	if cfg.BatchSize < 0 {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"inference batch_size must be >= 0, got %d", cfg.BatchSize)
	}
	return cfg, nil
}

// Merge strategies.
const (
	StrategyAverage = "average"
)

// MergeConfig holds the merge stage's tunables.
type MergeConfig struct {
	// Strategy names the combination applied within one merge group.
	Strategy string
}

// DefaultMergeConfig returns the merge defaults.
func DefaultMergeConfig() *MergeConfig {
	return &MergeConfig{Strategy: StrategyAverage}
}

// NewMergeConfig builds a MergeConfig from a scoped option mapping.
func NewMergeConfig(opts map[string]any) (*MergeConfig, error) {
	cfg := DefaultMergeConfig()
	for name, v := range opts {
		var err error
		switch name {
		case "strategy":
			cfg.Strategy, err = asString(name, v)
		default:
			err = unknownOption(PrefixMerge, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.Strategy != StrategyAverage {
		return nil, types.Errorf(types.CodeInvalidConfiguration,
			"unknown merge strategy %q", cfg.Strategy)
	}
	return cfg, nil
}

// ExportConfig holds the export stage's tunables.
type ExportConfig struct {
	// OutputDirectory is where result tables are appended.
	OutputDirectory string
}

// NewExportConfig builds an ExportConfig from a scoped option mapping.
func NewExportConfig(opts map[string]any) (*ExportConfig, error) {
	cfg := &ExportConfig{}
	for name, v := range opts {
		var err error
		switch name {
		case "output_directory":
			cfg.OutputDirectory, err = asString(name, v)
		default:
			err = unknownOption(PrefixExport, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.OutputDirectory == "" {
		return nil, types.NewError(types.CodeInvalidConfiguration,
			"export output_directory is required")
	}
	return cfg, nil
}
