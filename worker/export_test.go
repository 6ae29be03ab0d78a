package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
)

type memorySink struct {
	rows map[string][]map[string]any
	fail error
}

func newMemorySink() *memorySink {
	return &memorySink{rows: make(map[string][]map[string]any)}
}

func (s *memorySink) Append(_ context.Context, destination string, rows []map[string]any) error {
	if s.fail != nil {
		return s.fail
	}
	s.rows[destination] = append(s.rows[destination], rows...)
	return nil
}

func exportStage(t *testing.T, sink RowSink) *ExportStage {
	t.Helper()
	cfg, err := config.NewExportConfig(map[string]any{"output_directory": "out"})
	require.NoError(t, err)
	return NewExportStage(cfg, sink, nil)
}

func exportResult() *types.InferenceResult {
	return &types.InferenceResult{
		EventIDs: []string{"e0", "e1"},
		Metadata: []map[string]any{
			{"utcEvent": 1700000000},
			{"utcEvent": 1700000060},
		},
		Prediction: &types.Prediction{
			Probabilities: [][]float64{{0.1, 0.9}, {0.8, 0.2}},
			Labels:        []int{1, 0},
			Confidences:   []float64{0.9, 0.8},
		},
	}
}

func TestExportStage_WritesRows(t *testing.T) {
	sink := newMemorySink()
	stage := exportStage(t, sink)

	out, err := stream.Collect(context.Background(),
		stage.Process(context.Background(), types.NewRequest("run/sample.zip", types.Batch(2), exportResult())))
	require.NoError(t, err)
	require.Len(t, out, 1)

	dest := filepath.Join("out", "sample.2.csv")
	assert.Equal(t, dest, out[0].Result())
	assert.Equal(t, "run/sample.zip", out[0].Source())

	rows := sink.rows[dest]
	require.Len(t, rows, 2)
	assert.Equal(t, "e0", rows[0]["event_id"])
	assert.Equal(t, 1, rows[0]["label"])
	assert.Equal(t, 0.9, rows[0]["confidence"])
	assert.Equal(t, 1700000000, rows[0]["utcEvent"])
	assert.Equal(t, "e1", rows[1]["event_id"])
}

func TestExportStage_RecordLevelDestination(t *testing.T) {
	sink := newMemorySink()
	stage := exportStage(t, sink)

	out, err := stream.Collect(context.Background(),
		stage.Process(context.Background(), types.NewRequest("sample.zip", nil, exportResult())))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "sample.csv"), out[0].Result())
}

func TestExportStage_MetadataCannotShadowIdentityColumns(t *testing.T) {
	sink := newMemorySink()
	stage := exportStage(t, sink)

	result := exportResult()
	result.Metadata[0]["label"] = "spoofed"

	_, err := stream.Collect(context.Background(),
		stage.Process(context.Background(), types.NewRequest("sample.zip", nil, result)))
	require.NoError(t, err)

	rows := sink.rows[filepath.Join("out", "sample.csv")]
	assert.Equal(t, 1, rows[0]["label"])
}

func TestExportStage_SinkUnavailable(t *testing.T) {
	sink := newMemorySink()
	sink.fail = errors.New("disk full")
	stage := exportStage(t, sink)

	_, err := stream.Collect(context.Background(),
		stage.Process(context.Background(), types.NewRequest("sample.zip", types.Batch(0), exportResult())))
	require.Error(t, err)
	assert.Equal(t, types.CodeSinkUnavailable, types.GetErrorCode(err))

	var e *types.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "sample.zip", e.Source)
	assert.Equal(t, "export", e.Stage)
	assert.Empty(t, sink.rows, "a failed append must not leave rows behind")
}

func TestExportStage_RejectsWrongPayload(t *testing.T) {
	stage := exportStage(t, newMemorySink())

	_, err := stream.Collect(context.Background(),
		stage.Process(context.Background(), types.NewRequest("sample.zip", nil, &types.RecordBatch{})))
	require.Error(t, err)
	assert.Equal(t, types.CodeSchemaMismatch, types.GetErrorCode(err))
}

func TestExportStage_LazyUntilPulled(t *testing.T) {
	sink := newMemorySink()
	stage := exportStage(t, sink)

	s := stage.Process(context.Background(), types.NewRequest("sample.zip", nil, exportResult()))
	assert.Empty(t, sink.rows, "no rows before the first pull")

	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, sink.rows, 1)
}
