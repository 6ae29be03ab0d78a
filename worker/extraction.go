package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
)

// Decoder is the extraction collaborator: it decodes a source archive into
// a lazy stream of records. The archive format is outside the framework;
// poleno.ZipDecoder is the production implementation.
type Decoder interface {
	Decode(ctx context.Context, source string) (*stream.Stream[*types.Record], error)
}

// ExtractionStage decodes a raw source, drops records failing the
// configured quality filters, projects the retained fields, and emits one
// Response per batch of up to BatchSize records with ordinal batch IDs.
//
// The emitted stream is restartable only by calling Process again; an
// unreadable or malformed source fails the whole stage with
// CodeSourceUnreadable rather than partially succeeding.
type ExtractionStage struct {
	cfg     *config.ExtractionConfig
	decoder Decoder
	logger  *zap.Logger
	onDrop  func(rec *types.Record)
}

// NewExtractionStage creates the extraction stage.
func NewExtractionStage(cfg *config.ExtractionConfig, decoder Decoder, logger *zap.Logger) *ExtractionStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionStage{
		cfg:     cfg,
		decoder: decoder,
		logger:  logger.With(zap.String("component", "extraction")),
	}
}

// Name implements Stage.
func (s *ExtractionStage) Name() string { return "extraction" }

// OnDrop registers a callback invoked for every record removed by a
// quality filter. Must be set before Process.
func (s *ExtractionStage) OnDrop(fn func(rec *types.Record)) { s.onDrop = fn }

// Process implements Stage. The request carries no payload; the source
// identity addresses the archive to decode.
func (s *ExtractionStage) Process(ctx context.Context, req *types.Request) *stream.Stream[*types.Response] {
	if req.Payload() != nil {
		return stream.Fail[*types.Response](schemaMismatch(s.Name(), req, req.Payload()))
	}

	records, err := s.decoder.Decode(ctx, req.Source())
	if err != nil {
		return stream.Fail[*types.Response](s.unreadable(req.Source(), err))
	}

	kept := stream.Filter(records, func(rec *types.Record) bool {
		if s.dropRecord(rec) {
			s.logger.Debug("record filtered",
				zap.String("source", req.Source()),
				zap.String("event_id", rec.EventID))
			if s.onDrop != nil {
				s.onDrop(rec)
			}
			return false
		}
		return true
	})
	projected := stream.Map(kept, func(_ context.Context, rec *types.Record) (*types.Record, error) {
		return s.project(rec), nil
	})

	batches := stream.Batch(projected, s.cfg.BatchSize)
	batchID := 0
	return stream.New(func(ctx context.Context) (*types.Response, bool, error) {
		chunk, ok, err := batches.Next(ctx)
		if err != nil {
			return nil, false, s.unreadable(req.Source(), err)
		}
		if !ok {
			return nil, false, nil
		}
		resp := types.NewResponse(req.Source(), types.Batch(batchID), &types.RecordBatch{Records: chunk})
		batchID++
		return resp, true, nil
	}).OnTerminate(batches.Close)
}

// dropRecord reports whether any quality filter is violated on any channel.
// Filtered records are a policy decision, not a failure.
func (s *ExtractionStage) dropRecord(rec *types.Record) bool {
	for _, f := range s.cfg.Filters {
		for _, props := range rec.Properties {
			v, ok := props[f.Property]
			if ok && f.Violates(v) {
				return true
			}
		}
	}
	return false
}

// project applies the keep_* flags and key subsets without mutating the
// decoded record.
func (s *ExtractionStage) project(rec *types.Record) *types.Record {
	out := &types.Record{EventID: rec.EventID}

	if s.cfg.KeepMetadata {
		out.Metadata = subsetAny(rec.Metadata, s.cfg.MetadataKeys)
	}
	if s.cfg.KeepFluorescence {
		out.Fluorescence = subsetVectors(rec.Fluorescence, s.cfg.FluorescenceKeys)
	}
	if s.cfg.KeepRecProperties {
		out.Properties = make([]map[string]float64, len(rec.Properties))
		for i, props := range rec.Properties {
			out.Properties[i] = subsetFloats(props, s.cfg.RecPropertiesKeys)
		}
	}
	if s.cfg.KeepRec {
		out.Rec0 = rec.Rec0
		out.Rec1 = rec.Rec1
	}
	if s.cfg.KeepLabel {
		out.Label = rec.Label
	}
	return out
}

func (s *ExtractionStage) unreadable(source string, err error) error {
	if types.GetErrorCode(err) == types.CodeSourceUnreadable {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewError(types.CodeSourceUnreadable, "cannot decode source").
		WithSource(source).
		WithStage("extraction").
		WithCause(err)
}

func subsetAny(m map[string]any, keys []string) map[string]any {
	if len(keys) == 0 {
		return m
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

func subsetVectors(m map[string][]float64, keys []string) map[string][]float64 {
	if len(keys) == 0 {
		return m
	}
	out := make(map[string][]float64, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

func subsetFloats(m map[string]float64, keys []string) map[string]float64 {
	if len(keys) == 0 {
		return m
	}
	out := make(map[string]float64, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}
