package config

import (
	"strings"
)

// KeySep separates a stage prefix from an option name in flat option keys.
const KeySep = "."

// Stage prefixes recognized by the pipeline.
const (
	PrefixExtraction = "extraction"
	PrefixInference  = "inference"
	PrefixMerge      = "merge"
	PrefixExport     = "export"
	PrefixPipeline   = "pipeline"
	PrefixLog        = "log"
	PrefixTelemetry  = "telemetry"
	PrefixJournal    = "journal"
	PrefixCache      = "cache"
)

// KnownPrefixes lists every prefix a flat option key may carry.
var KnownPrefixes = []string{
	PrefixExtraction,
	PrefixInference,
	PrefixMerge,
	PrefixExport,
	PrefixPipeline,
	PrefixLog,
	PrefixTelemetry,
	PrefixJournal,
	PrefixCache,
}

// Options is one flat mapping of prefixed option keys to values.
type Options map[string]any

// Route extracts the subset of opts whose keys carry the given prefix and
// strips the prefix, yielding a plain option mapping scoped to that stage.
// Routing is non-destructive: the source mapping is left untouched and may
// be routed once per stage.
func Route(opts Options, prefix string) map[string]any {
	scoped := make(map[string]any)
	p := prefix + KeySep
	for k, v := range opts {
		if name, ok := strings.CutPrefix(k, p); ok && name != "" {
			scoped[name] = v
		}
	}
	return scoped
}

// Unrouted returns the keys of opts whose prefix matches none of the given
// prefixes. Such keys are not an error; they stay available to other
// routing calls.
func Unrouted(opts Options, prefixes ...string) []string {
	var out []string
	for k := range opts {
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(k, p+KeySep) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, k)
		}
	}
	return out
}

// Flatten collapses a nested mapping (as produced by YAML decoding) into
// flat dotted keys: {"extraction": {"batch_size": 8}} becomes
// {"extraction.batch_size": 8}. Scalar leaves and lists are kept as-is.
func Flatten(nested map[string]any) Options {
	flat := make(Options)
	flattenInto(flat, "", nested)
	return flat
}

func flattenInto(flat Options, parent string, nested map[string]any) {
	for k, v := range nested {
		key := k
		if parent != "" {
			key = parent + KeySep + k
		}
		switch sub := v.(type) {
		case map[string]any:
			flattenInto(flat, key, sub)
		case map[any]any:
			// yaml.v3 decodes some nested maps with interface keys.
			conv := make(map[string]any, len(sub))
			for sk, sv := range sub {
				if s, ok := sk.(string); ok {
					conv[s] = sv
				}
			}
			flattenInto(flat, key, conv)
		default:
			flat[key] = v
		}
	}
}
