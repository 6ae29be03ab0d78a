// Package pipeline composes the processing stages into per-source runs:
// extraction, inference, an optional merge, and export.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/internal/cache"
	"github.com/BaSui01/pollenflow/internal/ctxkeys"
	"github.com/BaSui01/pollenflow/internal/metrics"
	"github.com/BaSui01/pollenflow/journal"
	"github.com/BaSui01/pollenflow/poleno"
	"github.com/BaSui01/pollenflow/sink"
	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
	"github.com/BaSui01/pollenflow/worker"
)

// State names the phase a run is in.
type State string

const (
	StateIdle       State = "idle"
	StateExtracting State = "extracting"
	StateInferring  State = "inferring"
	StateMerging    State = "merging"
	StateExporting  State = "exporting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// RunReport summarizes one source run.
type RunReport struct {
	RunID  string
	Source string
	State  State

	RecordsExtracted int
	RecordsFiltered  int
	Batches          int
	RowsExported     int
	Destinations     []string

	// BatchErrors holds per-batch failures that did not abort the run.
	BatchErrors []error

	Duration time.Duration
}

// Pipeline runs sources through the configured stages. It is safe for
// concurrent use; each Run builds its own stage instances and merge
// accumulator.
type Pipeline struct {
	cfg *config.PipelineConfig

	classify    worker.ClassifyFunc
	postProcess worker.PostProcessFunc
	combine     worker.CombineFunc
	decoder     worker.Decoder
	rowSink     worker.RowSink

	logger    *zap.Logger
	collector *metrics.Collector
	journal   *journal.Journal
	tracer    trace.Tracer
	limiter   *rate.Limiter
	cache     *cache.Manager
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithDecoder replaces the source decoder. Defaults to the Poleno zip
// decoder.
func WithDecoder(d worker.Decoder) Option {
	return func(p *Pipeline) { p.decoder = d }
}

// WithSink replaces the row sink. Defaults to the CSV sink.
func WithSink(s worker.RowSink) Option {
	return func(p *Pipeline) { p.rowSink = s }
}

// WithPostProcess replaces the inference post-processing function.
func WithPostProcess(fn worker.PostProcessFunc) Option {
	return func(p *Pipeline) { p.postProcess = fn }
}

// WithCombine replaces the merge combination function.
func WithCombine(fn worker.CombineFunc) Option {
	return func(p *Pipeline) { p.combine = fn }
}

// WithCollector attaches a metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.collector = c }
}

// WithJournal attaches a run journal.
func WithJournal(j *journal.Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

// New validates the configuration and assembles a Pipeline. The
// classification function is the one mandatory collaborator.
func New(cfg *config.PipelineConfig, classify worker.ClassifyFunc, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, types.NewError(types.CodeInvalidConfiguration, "pipeline configuration is required")
	}
	if classify == nil {
		return nil, types.NewError(types.CodeInvalidConfiguration, "a classification function is required")
	}

	p := &Pipeline{
		cfg:      cfg,
		classify: classify,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("pollenflow"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.decoder == nil {
		p.decoder = poleno.NewZipDecoder(p.logger)
	}
	if p.rowSink == nil {
		p.rowSink = sink.NewCSVSink(p.logger)
	}
	if cfg.Run.SourceRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Run.SourceRate), 1)
	}
	if cfg.Cache != nil && cfg.Cache.Enabled {
		m, err := cache.NewManager(cache.Config{
			Addr:       cfg.Cache.Addr,
			Password:   cfg.Cache.Password,
			DB:         cfg.Cache.DB,
			DefaultTTL: cfg.Cache.TTL,
		}, p.logger)
		if err != nil {
			return nil, err
		}
		p.cache = m
		p.classify = cachedClassify(m, p.classify, p.logger)
	}
	return p, nil
}

// Close releases resources held by the pipeline, such as the prediction
// cache connection. Safe to call when nothing is held.
func (p *Pipeline) Close() error {
	if p.cache != nil {
		return p.cache.Close()
	}
	return nil
}

// Run processes one source end to end and reports what happened. The
// returned error is the run-fatal failure, if any; per-batch failures that
// left the rest of the run intact are reported in RunReport.BatchErrors.
func (p *Pipeline) Run(ctx context.Context, source string) (*RunReport, error) {
	runID := uuid.NewString()
	start := time.Now()
	logger := p.logger.With(
		zap.String("run_id", runID),
		zap.String("source", source),
	)

	ctx = ctxkeys.WithRunID(ctx, runID)
	ctx = ctxkeys.WithSource(ctx, source)
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("source", source),
		attribute.String("run_id", runID),
	))
	defer span.End()

	if err := p.journal.Begin(ctx, runID, source); err != nil {
		logger.Warn("journal begin failed", zap.Error(err))
	}

	r := &run{pipeline: p, report: &RunReport{RunID: runID, Source: source, State: StateIdle}, logger: logger}
	err := r.execute(ctx, source)
	report := r.report
	report.Duration = time.Since(start)

	status := "done"
	report.State = StateDone
	if err != nil {
		status = "failed"
		report.State = StateFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run failed", zap.Error(err))
	} else {
		logger.Info("run finished",
			zap.Int("records", report.RecordsExtracted),
			zap.Int("rows", report.RowsExported),
			zap.Duration("duration", report.Duration))
	}

	if p.collector != nil {
		p.collector.RecordRun(status, report.Duration)
		p.collector.RecordExtraction(report.RecordsExtracted, report.RecordsFiltered, report.Batches)
	}
	if jerr := p.journal.Finish(ctx, runID, journalOutcome(report, err)); jerr != nil {
		logger.Warn("journal finish failed", zap.Error(jerr))
	}
	return report, err
}

// RunAll processes sources concurrently, bounded by the configured source
// concurrency and admission rate. Each source run is isolated: one
// source's failure does not abort its siblings, only context cancellation
// does. The reports slice is index-aligned with sources.
func (p *Pipeline) RunAll(ctx context.Context, sources []string) ([]*RunReport, error) {
	reports := make([]*RunReport, len(sources))

	var mu sync.Mutex
	var failures []error
	var wg sync.WaitGroup
	slots := make(chan struct{}, p.cfg.Run.MaxConcurrentSources)

	for i, source := range sources {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				wg.Wait()
				return reports, err
			}
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return reports, ctx.Err()
		}

		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			defer func() { <-slots }()

			report, err := p.Run(ctx, source)
			mu.Lock()
			reports[i] = report
			if err != nil && !errors.Is(err, context.Canceled) {
				failures = append(failures, err)
			}
			mu.Unlock()
		}(i, source)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return reports, err
	}
	return reports, errors.Join(failures...)
}

// run carries the mutable state of one Run invocation.
type run struct {
	pipeline *Pipeline
	report   *RunReport
	logger   *zap.Logger
	mu       sync.Mutex
}

func (r *run) setState(s State) {
	r.mu.Lock()
	r.report.State = s
	r.mu.Unlock()
}

func (r *run) execute(ctx context.Context, source string) error {
	p := r.pipeline

	extraction := worker.NewExtractionStage(p.cfg.Extraction, p.decoder, p.logger)
	extraction.OnDrop(func(*types.Record) {
		r.mu.Lock()
		r.report.RecordsFiltered++
		r.mu.Unlock()
	})
	inference := worker.NewInferenceStage(p.cfg.Inference, p.classify, p.postProcess, p.logger)
	export := worker.NewExportStage(p.cfg.Export, p.rowSink, p.logger)

	var coord *worker.Coordinator
	if p.cfg.Run.Merge {
		coord = worker.NewCoordinator(p.combine)
	}

	r.setState(StateExtracting)
	batches := extraction.Process(ctx, types.NewRequest(source, nil, nil))
	defer batches.Close()

	var wg sync.WaitGroup
	successes := 0
	runner := newBatchRunner(p.cfg.Run.BatchWorkers)
	defer runner.close()

	// The next batch is pulled only once a worker slot frees up, so
	// extraction cannot materialize more than BatchWorkers batches ahead
	// of classification.
	slots := make(chan struct{}, p.cfg.Run.BatchWorkers)
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		resp, ok, err := batches.Next(ctx)
		if err != nil {
			wg.Wait()
			return r.failStage(err, extraction.Name())
		}
		if !ok {
			break
		}

		batch := resp.Result().(*types.RecordBatch)
		r.mu.Lock()
		r.report.Batches++
		r.report.RecordsExtracted += batch.Len()
		r.mu.Unlock()

		wg.Add(1)
		go func(resp *types.Response) {
			defer wg.Done()
			defer func() { <-slots }()
			err := runner.submit(ctx, func(ctx context.Context) error {
				return r.processBatch(ctx, resp, inference, export, coord)
			})
			r.mu.Lock()
			if err != nil {
				r.report.BatchErrors = append(r.report.BatchErrors, err)
			} else {
				successes++
			}
			r.mu.Unlock()
		}(resp)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if r.report.Batches > 0 && successes == 0 {
		// Nothing survived; surface the first batch failure as the run's.
		return r.report.BatchErrors[0]
	}

	if coord == nil {
		return nil
	}

	r.setState(StateMerging)
	merged, done, err := coord.Close(source)
	if err != nil {
		return r.failStage(err, "merge")
	}
	if p.collector != nil {
		p.collector.SetPendingGroups(coord.Pending())
	}
	if !done {
		return nil
	}
	if p.collector != nil {
		p.collector.RecordMerge(successes)
	}
	return r.export(ctx, export, merged)
}

// runStage collects one stage invocation, recording its duration and any
// failure under the stage's name.
func (r *run) runStage(ctx context.Context, st worker.Stage, req *types.Request) ([]*types.Response, error) {
	begin := time.Now()
	out, err := stream.Collect(ctx, st.Process(ctx, req))
	if r.pipeline.collector != nil {
		r.pipeline.collector.RecordStage(st.Name(), time.Since(begin))
	}
	if err != nil {
		return nil, r.failStage(err, st.Name())
	}
	return out, nil
}

// processBatch takes one extraction batch through inference and then
// either into the merge accumulator or straight to export.
func (r *run) processBatch(ctx context.Context, resp *types.Response, inference, export worker.Stage, coord *worker.Coordinator) error {
	p := r.pipeline

	r.setState(StateInferring)
	out, err := r.runStage(ctx, inference, resp.Forward())
	if err != nil {
		return err
	}
	inferred := out[0]
	if p.collector != nil {
		if result, ok := inferred.Result().(*types.InferenceResult); ok {
			p.collector.RecordClassification(result.Len())
		}
	}

	if coord != nil {
		if _, _, err := coord.Add(inferred); err != nil {
			return r.failStage(err, "merge")
		}
		return nil
	}
	return r.export(ctx, export, inferred)
}

func (r *run) export(ctx context.Context, export worker.Stage, resp *types.Response) error {
	p := r.pipeline

	r.setState(StateExporting)
	rows := 0
	if result, ok := resp.Result().(*types.InferenceResult); ok {
		rows = result.Len()
	}

	out, err := r.runStage(ctx, export, resp.Forward())
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.report.RowsExported += rows
	if dest, ok := out[0].Result().(string); ok {
		r.report.Destinations = append(r.report.Destinations, dest)
	}
	r.mu.Unlock()

	if p.collector != nil {
		p.collector.RecordExport(rows)
	}
	return nil
}

// failStage counts a stage failure and passes the error through.
func (r *run) failStage(err error, stage string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if r.pipeline.collector != nil {
		r.pipeline.collector.RecordFailure(stage, string(types.GetErrorCode(err)))
	}
	return err
}

func journalOutcome(report *RunReport, err error) journal.Outcome {
	out := journal.Outcome{
		State:            string(report.State),
		RecordsExtracted: report.RecordsExtracted,
		RecordsFiltered:  report.RecordsFiltered,
		BatchesProcessed: report.Batches,
		RowsExported:     report.RowsExported,
	}
	if err != nil {
		out.FailureText = err.Error()
		out.FailureCode = string(types.GetErrorCode(err))
		var e *types.Error
		if errors.As(err, &e) {
			out.FailureStage = e.Stage
		}
	}
	return out
}
