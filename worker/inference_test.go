package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
)

func inferenceConfig(t *testing.T, overrides map[string]any) *config.InferenceConfig {
	t.Helper()
	opts := map[string]any{
		"rec_shape":     []any{2, 2},
		"rec_precision": 8,
	}
	for k, v := range overrides {
		opts[k] = v
	}
	cfg, err := config.NewInferenceConfig(opts)
	require.NoError(t, err)
	return cfg
}

func constantClassifier(vec []float64) ClassifyFunc {
	return func(_ context.Context, in *types.ModelInput) ([][]float64, error) {
		out := make([][]float64, in.Len())
		for i := range out {
			out[i] = vec
		}
		return out, nil
	}
}

func runInference(t *testing.T, stage *InferenceStage, req *types.Request) (*types.Response, error) {
	t.Helper()
	out, err := stream.Collect(context.Background(), stage.Process(context.Background(), req))
	if err != nil {
		return nil, err
	}
	require.Len(t, out, 1)
	return out[0], nil
}

func TestInferenceStage_ArgMaxPrediction(t *testing.T) {
	stage := NewInferenceStage(inferenceConfig(t, nil), constantClassifier([]float64{0.1, 0.2, 0.6, 0.1}), nil, nil)
	batch := &types.RecordBatch{Records: []*types.Record{
		record("e0", 100), record("e1", 100), record("e2", 100),
	}}

	resp, err := runInference(t, stage, types.NewRequest("a.zip", types.Batch(3), batch))
	require.NoError(t, err)

	assert.Equal(t, "a.zip", resp.Source())
	require.NotNil(t, resp.BatchID())
	assert.Equal(t, 3, *resp.BatchID())

	result := resp.Result().(*types.InferenceResult)
	assert.Equal(t, []string{"e0", "e1", "e2"}, result.EventIDs)
	assert.Equal(t, []int{2, 2, 2}, result.Prediction.Labels)
	assert.Equal(t, []float64{0.6, 0.6, 0.6}, result.Prediction.Confidences)
}

func TestInferenceStage_NormalizesPixels(t *testing.T) {
	var got *types.ModelInput
	classify := func(_ context.Context, in *types.ModelInput) ([][]float64, error) {
		got = in
		return [][]float64{{1}}, nil
	}
	stage := NewInferenceStage(inferenceConfig(t, nil), classify, nil, nil)

	rec := record("e0", 100)
	rec.Rec0 = &types.Image{Width: 2, Height: 2, Pix: []float64{0, 64, 128, 256}}
	_, err := runInference(t, stage, types.NewRequest("a.zip", types.Batch(0), &types.RecordBatch{Records: []*types.Record{rec}}))
	require.NoError(t, err)

	// 8-bit precision scales by 256.
	assert.Equal(t, []float64{0, 0.25, 0.5, 1}, got.Rec0[0])
}

func TestInferenceStage_ShapeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Record)
	}{
		{"missing channel", func(r *types.Record) { r.Rec1 = nil }},
		{"wrong area", func(r *types.Record) {
			r.Rec0 = &types.Image{Width: 3, Height: 3, Pix: make([]float64, 9)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewInferenceStage(inferenceConfig(t, nil), constantClassifier([]float64{1}), nil, nil)
			rec := record("e0", 100)
			tt.mutate(rec)

			_, err := runInference(t, stage, types.NewRequest("a.zip", types.Batch(7), &types.RecordBatch{Records: []*types.Record{rec}}))
			require.Error(t, err)
			assert.Equal(t, types.CodeShapeMismatch, types.GetErrorCode(err))

			var e *types.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "a.zip", e.Source)
			require.NotNil(t, e.BatchID)
			assert.Equal(t, 7, *e.BatchID)
			assert.Equal(t, "inference", e.Stage)
		})
	}
}

func TestInferenceStage_MissingFluorescenceKey(t *testing.T) {
	cfg := inferenceConfig(t, map[string]any{
		"fluorescence_keys": []any{"relative_spectra", "absent_key"},
	})
	stage := NewInferenceStage(cfg, constantClassifier([]float64{1}), nil, nil)

	_, err := runInference(t, stage, types.NewRequest("a.zip", nil, &types.RecordBatch{Records: []*types.Record{record("e0", 100)}}))
	require.Error(t, err)
	assert.Equal(t, types.CodeShapeMismatch, types.GetErrorCode(err))
}

func TestInferenceStage_ChunksClassification(t *testing.T) {
	cfg := inferenceConfig(t, map[string]any{"batch_size": 2})
	var calls []int
	classify := func(_ context.Context, in *types.ModelInput) ([][]float64, error) {
		calls = append(calls, in.Len())
		out := make([][]float64, in.Len())
		for i := range out {
			out[i] = []float64{0.9, 0.1}
		}
		return out, nil
	}
	stage := NewInferenceStage(cfg, classify, nil, nil)

	batch := &types.RecordBatch{Records: []*types.Record{
		record("e0", 100), record("e1", 100), record("e2", 100),
		record("e3", 100), record("e4", 100),
	}}
	resp, err := runInference(t, stage, types.NewRequest("a.zip", nil, batch))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, calls)
	result := resp.Result().(*types.InferenceResult)
	assert.Equal(t, 5, result.Len())
	assert.Equal(t, []int{0, 0, 0, 0, 0}, result.Prediction.Labels)
}

func TestInferenceStage_OutputCountMismatch(t *testing.T) {
	classify := func(_ context.Context, in *types.ModelInput) ([][]float64, error) {
		return [][]float64{{1}}, nil // one output regardless of input size
	}
	stage := NewInferenceStage(inferenceConfig(t, nil), classify, nil, nil)

	batch := &types.RecordBatch{Records: []*types.Record{record("e0", 100), record("e1", 100)}}
	_, err := runInference(t, stage, types.NewRequest("a.zip", nil, batch))
	require.Error(t, err)
	assert.Equal(t, types.CodeShapeMismatch, types.GetErrorCode(err))
}

func TestInferenceStage_RejectsWrongPayload(t *testing.T) {
	stage := NewInferenceStage(inferenceConfig(t, nil), constantClassifier([]float64{1}), nil, nil)

	_, err := runInference(t, stage, types.NewRequest("a.zip", nil, "not a batch"))
	require.Error(t, err)
	assert.Equal(t, types.CodeSchemaMismatch, types.GetErrorCode(err))
}

func TestArgMaxPostProcess(t *testing.T) {
	pred, err := ArgMaxPostProcess([][]float64{
		{0.1, 0.2, 0.6, 0.1},
		{0.7, 0.2, 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, pred.Labels)
	assert.Equal(t, []float64{0.6, 0.7}, pred.Confidences)
}
