package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
)

// RowSink persists flattened classification rows to a named destination.
// Append must be idempotent with respect to headers: repeated calls for
// the same destination extend it without rewriting earlier rows.
type RowSink interface {
	Append(ctx context.Context, destination string, rows []map[string]any) error
}

// ExportStage flattens inference results into tabular rows and hands them
// to a RowSink. Rows for distinct batches of the same source land in
// distinct destinations so that no cross-Request buffering is needed.
type ExportStage struct {
	cfg    *config.ExportConfig
	sink   RowSink
	logger *zap.Logger
}

// NewExportStage creates the export stage.
func NewExportStage(cfg *config.ExportConfig, sink RowSink, logger *zap.Logger) *ExportStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportStage{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(zap.String("component", "export")),
	}
}

// Name identifies the stage.
func (s *ExportStage) Name() string { return "export" }

// Process writes one Request's rows and emits a single Response whose
// result is the destination path.
func (s *ExportStage) Process(ctx context.Context, req *types.Request) *stream.Stream[*types.Response] {
	fired := false
	return stream.New(func(ctx context.Context) (*types.Response, bool, error) {
		if fired {
			return nil, false, nil
		}
		fired = true
		resp, err := s.export(ctx, req)
		if err != nil {
			return nil, false, err
		}
		return resp, true, nil
	})
}

func (s *ExportStage) export(ctx context.Context, req *types.Request) (*types.Response, error) {
	result, ok := req.Payload().(*types.InferenceResult)
	if !ok {
		return nil, schemaMismatch(s.Name(), req, req.Payload())
	}

	dest := s.Destination(req.Source(), req.BatchID())
	rows := flattenResult(result)
	if err := s.sink.Append(ctx, dest, rows); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var e *types.Error
		if errors.As(err, &e) && e.Code == types.CodeSinkUnavailable {
			return nil, e.WithSource(req.Source()).WithStage(s.Name())
		}
		return nil, types.NewError(types.CodeSinkUnavailable, "cannot append rows").
			WithSource(req.Source()).
			WithBatch(req.BatchID()).
			WithStage(s.Name()).
			WithCause(err)
	}

	s.logger.Debug("rows exported",
		zap.String("destination", dest),
		zap.Int("rows", len(rows)))
	return types.NewResponse(req.Source(), req.BatchID(), dest), nil
}

// Destination maps a source identity and optional batch id to an output
// path: <dir>/<stem>.csv for record-level results, <dir>/<stem>.<id>.csv
// for batch-level ones.
func (s *ExportStage) Destination(source string, batchID *int) string {
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	name := stem + ".csv"
	if batchID != nil {
		name = fmt.Sprintf("%s.%d.csv", stem, *batchID)
	}
	return filepath.Join(s.cfg.OutputDirectory, name)
}

// flattenResult turns one result into sink rows: identity and prediction
// columns first, then whatever metadata each record carried.
func flattenResult(result *types.InferenceResult) []map[string]any {
	rows := make([]map[string]any, 0, result.Len())
	for i, id := range result.EventIDs {
		row := map[string]any{
			"event_id":   id,
			"label":      result.Prediction.Labels[i],
			"confidence": result.Prediction.Confidences[i],
		}
		if i < len(result.Metadata) {
			for k, v := range result.Metadata[i] {
				if _, taken := row[k]; !taken {
					row[k] = v
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}
