// Package pollenflow provides a top-level convenience entry point for
// building capture-processing pipelines with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/pollenflow"
//
//	cfg, err := pollenflow.NewConfig(pollenflow.Options{
//		"extraction.batch_size":   256,
//		"inference.rec_shape":     []any{200, 200},
//		"export.output_directory": "out",
//	})
//	p, err := pollenflow.New(cfg, classify)
//	report, err := p.Run(ctx, "captures/a.zip")
//
// This is a thin wrapper around [pipeline.New]; both produce identical
// results. Use this package when you prefer the shorter import path.
package pollenflow

import (
	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/pipeline"
	"github.com/BaSui01/pollenflow/worker"
)

// Options is the flat dotted-key configuration mapping.
type Options = config.Options

// Option configures the pipeline created by [New].
type Option = pipeline.Option

// Pipeline composes the extraction, inference, merge and export stages.
type Pipeline = pipeline.Pipeline

// RunReport summarizes one source run.
type RunReport = pipeline.RunReport

// NewConfig builds and validates a complete pipeline configuration from
// one flat option mapping.
func NewConfig(opts Options) (*config.PipelineConfig, error) {
	return config.NewPipelineConfig(opts)
}

// New creates a [pipeline.Pipeline]. At minimum, a validated configuration
// and a classification function must be supplied.
func New(cfg *config.PipelineConfig, classify worker.ClassifyFunc, opts ...Option) (*Pipeline, error) {
	return pipeline.New(cfg, classify, opts...)
}

// Re-export pipeline options so callers never need to import pipeline/.

// WithLogger sets a custom zap logger.
var WithLogger = pipeline.WithLogger

// WithDecoder sets a custom source decoder.
var WithDecoder = pipeline.WithDecoder

// WithSink sets a custom row sink.
var WithSink = pipeline.WithSink

// WithPostProcess overrides the prediction post-processing function.
var WithPostProcess = pipeline.WithPostProcess

// WithCombine overrides the merge combination function.
var WithCombine = pipeline.WithCombine

// WithCollector sets the Prometheus metrics collector.
var WithCollector = pipeline.WithCollector

// WithJournal sets the run journal.
var WithJournal = pipeline.WithJournal
