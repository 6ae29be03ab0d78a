package worker

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
)

// ClassifyFunc is the classification collaborator: it maps a shape-checked
// model input to one raw output vector per record. Any function matching
// this signature is acceptable; the stage is agnostic to the model behind
// it.
type ClassifyFunc func(ctx context.Context, in *types.ModelInput) ([][]float64, error)

// PostProcessFunc turns raw model output into a structured prediction.
// Numeric semantics (what "confidence" means) belong to this function, not
// to the stage.
type PostProcessFunc func(raw [][]float64) (*types.Prediction, error)

// ArgMaxPostProcess is the default post-processing: the label is the
// arg-max index of each record's vector and the confidence is its maximum.
func ArgMaxPostProcess(raw [][]float64) (*types.Prediction, error) {
	p := &types.Prediction{
		Probabilities: raw,
		Labels:        make([]int, len(raw)),
		Confidences:   make([]float64, len(raw)),
	}
	for i, probs := range raw {
		best, bestAt := math.Inf(-1), 0
		for j, v := range probs {
			if v > best {
				best, bestAt = v, j
			}
		}
		p.Labels[i] = bestAt
		p.Confidences[i] = best
	}
	return p, nil
}

// InferenceStage runs the injected classification function over one batch
// of decoded records and yields exactly one Response per Request,
// preserving the request's source and batch ID.
type InferenceStage struct {
	cfg         *config.InferenceConfig
	classify    ClassifyFunc
	postProcess PostProcessFunc
	logger      *zap.Logger
}

// NewInferenceStage creates the inference stage. A nil postProcess defaults
// to ArgMaxPostProcess.
func NewInferenceStage(cfg *config.InferenceConfig, classify ClassifyFunc, postProcess PostProcessFunc, logger *zap.Logger) *InferenceStage {
	if postProcess == nil {
		postProcess = ArgMaxPostProcess
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InferenceStage{
		cfg:         cfg,
		classify:    classify,
		postProcess: postProcess,
		logger:      logger.With(zap.String("component", "inference")),
	}
}

// Name implements Stage.
func (s *InferenceStage) Name() string { return "inference" }

// Process implements Stage. A batch whose shape does not match the model's
// input contract fails with CodeShapeMismatch scoped to that batch; other
// batches in the same run are unaffected.
func (s *InferenceStage) Process(ctx context.Context, req *types.Request) *stream.Stream[*types.Response] {
	pulled := false
	return stream.New(func(ctx context.Context) (*types.Response, bool, error) {
		if pulled {
			return nil, false, nil
		}
		pulled = true

		resp, err := s.infer(ctx, req)
		if err != nil {
			return nil, false, err
		}
		return resp, true, nil
	})
}

func (s *InferenceStage) infer(ctx context.Context, req *types.Request) (*types.Response, error) {
	batch, ok := req.Payload().(*types.RecordBatch)
	if !ok {
		return nil, schemaMismatch(s.Name(), req, req.Payload())
	}

	in, err := s.buildInput(batch)
	if err != nil {
		return nil, s.scoped(err, req)
	}

	raw, err := s.classifyChunked(ctx, in)
	if err != nil {
		return nil, s.scoped(err, req)
	}
	if len(raw) != batch.Len() {
		return nil, s.scoped(types.Errorf(types.CodeShapeMismatch,
			"classifier returned %d outputs for %d records", len(raw), batch.Len()), req)
	}

	pred, err := s.postProcess(raw)
	if err != nil {
		return nil, s.scoped(err, req)
	}

	result := &types.InferenceResult{
		EventIDs:   make([]string, batch.Len()),
		Metadata:   make([]map[string]any, batch.Len()),
		Prediction: pred,
	}
	for i, rec := range batch.Records {
		result.EventIDs[i] = rec.EventID
		result.Metadata[i] = rec.Metadata
	}
	return types.NewResponse(req.Source(), req.BatchID(), result), nil
}

// buildInput assembles and shape-checks the configured channels.
func (s *InferenceStage) buildInput(batch *types.RecordBatch) (*types.ModelInput, error) {
	in := &types.ModelInput{}
	wantArea := s.cfg.RecShape[0] * s.cfg.RecShape[1]
	scale := math.Pow(2, float64(s.cfg.RecPrecision))

	if s.cfg.FromRec0 {
		in.Rec0 = make([][]float64, batch.Len())
	}
	if s.cfg.FromRec1 {
		in.Rec1 = make([][]float64, batch.Len())
	}
	if s.cfg.FromFluorescence {
		in.Fluorescence = make(map[string][][]float64, len(s.cfg.FluorescenceKeys))
		for name := range s.cfg.FluorescenceKeys {
			in.Fluorescence[name] = make([][]float64, batch.Len())
		}
	}

	for i, rec := range batch.Records {
		if s.cfg.FromRec0 {
			px, err := normalizeRec(rec.Rec0, wantArea, scale)
			if err != nil {
				return nil, err
			}
			in.Rec0[i] = px
		}
		if s.cfg.FromRec1 {
			px, err := normalizeRec(rec.Rec1, wantArea, scale)
			if err != nil {
				return nil, err
			}
			in.Rec1[i] = px
		}
		if s.cfg.FromFluorescence {
			for outName, key := range s.cfg.FluorescenceKeys {
				vec, ok := rec.Fluorescence[key]
				if !ok {
					return nil, types.Errorf(types.CodeShapeMismatch,
						"record %q misses fluorescence key %q", rec.EventID, key)
				}
				in.Fluorescence[outName][i] = vec
			}
		}
	}
	return in, nil
}

func normalizeRec(im *types.Image, wantArea int, scale float64) ([]float64, error) {
	if im == nil {
		return nil, types.NewError(types.CodeShapeMismatch, "record misses a configured recording channel")
	}
	if im.Area() != wantArea || len(im.Pix) != wantArea {
		return nil, types.Errorf(types.CodeShapeMismatch,
			"recording is %dx%d, want %d pixels", im.Width, im.Height, wantArea)
	}
	out := make([]float64, len(im.Pix))
	for i, v := range im.Pix {
		out[i] = v / scale
	}
	return out, nil
}

// classifyChunked bounds each classification call to the configured batch
// size and concatenates the raw outputs in order.
func (s *InferenceStage) classifyChunked(ctx context.Context, in *types.ModelInput) ([][]float64, error) {
	n := in.Len()
	size := s.cfg.BatchSize
	if size < 1 || size >= n {
		return s.classify(ctx, in)
	}

	var raw [][]float64
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out, err := s.classify(ctx, sliceInput(in, lo, hi))
		if err != nil {
			return nil, err
		}
		raw = append(raw, out...)
	}
	return raw, nil
}

func sliceInput(in *types.ModelInput, lo, hi int) *types.ModelInput {
	out := &types.ModelInput{}
	if in.Rec0 != nil {
		out.Rec0 = in.Rec0[lo:hi]
	}
	if in.Rec1 != nil {
		out.Rec1 = in.Rec1[lo:hi]
	}
	if in.Fluorescence != nil {
		out.Fluorescence = make(map[string][][]float64, len(in.Fluorescence))
		for k, v := range in.Fluorescence {
			out.Fluorescence[k] = v[lo:hi]
		}
	}
	return out
}

// scoped attributes an error to the failing request.
func (s *InferenceStage) scoped(err error, req *types.Request) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if e, ok := err.(*types.Error); ok {
		if e.Source == "" {
			e.WithSource(req.Source()).WithBatch(req.BatchID())
		}
		if e.Stage == "" {
			e.WithStage(s.Name())
		}
		return e
	}
	return types.NewError(types.CodeShapeMismatch, "classification failed").
		WithSource(req.Source()).
		WithBatch(req.BatchID()).
		WithStage(s.Name()).
		WithCause(err)
}
