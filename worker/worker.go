// Package worker implements the pipeline stages: extraction, inference,
// merge, and export.
//
// Extraction, inference, and export are pull-push stages: each consumes one
// Request and produces a lazy stream of Responses, doing no work until a
// consumer pulls. Merge is a collate stage: it consumes a finite collection
// of Responses sharing a source identity and collapses each group into one
// record-level Response. Stages hold no mutable shared state; the merge
// Coordinator is the one exception and guards its accumulation with a
// mutex.
package worker

import (
	"context"

	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
)

// Stage is a pull-push pipeline unit: one Request in, a lazy sequence of
// Responses out. Failures surface through the stream's terminal error.
type Stage interface {
	// Name identifies the stage in logs and error context.
	Name() string
	// Process consumes the request. The returned stream performs no work
	// until pulled.
	Process(ctx context.Context, req *types.Request) *stream.Stream[*types.Response]
}

var (
	_ Stage = (*ExtractionStage)(nil)
	_ Stage = (*InferenceStage)(nil)
	_ Stage = (*ExportStage)(nil)
)

// schemaMismatch builds the error for a payload type a stage does not
// recognize.
func schemaMismatch(stage string, req *types.Request, payload any) error {
	return types.Errorf(types.CodeSchemaMismatch,
		"unexpected payload type %T", payload).
		WithSource(req.Source()).
		WithBatch(req.BatchID()).
		WithStage(stage)
}
