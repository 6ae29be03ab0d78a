// Package sink persists flattened result rows to their destinations.
package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/types"
)

// CSVSink appends rows to per-destination CSV files. The first append to a
// destination writes the header and fixes the column order; later appends
// conform to it, writing empty cells for columns a row does not carry.
// Implements worker.RowSink.
type CSVSink struct {
	logger *zap.Logger
}

// NewCSVSink creates a sink.
func NewCSVSink(logger *zap.Logger) *CSVSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSink{logger: logger.With(zap.String("component", "csv_sink"))}
}

// Append implements worker.RowSink.
func (s *CSVSink) Append(ctx context.Context, destination string, rows []map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return unavailable(destination, "cannot create output directory", err)
	}

	header, fresh, err := destinationHeader(destination, rows)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(destination, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return unavailable(destination, "cannot open destination", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(header); err != nil {
			return unavailable(destination, "cannot write header", err)
		}
	}
	cells := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			if v, ok := row[col]; ok {
				cells[i] = fmt.Sprint(v)
			} else {
				cells[i] = ""
			}
		}
		if err := w.Write(cells); err != nil {
			return unavailable(destination, "cannot write row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return unavailable(destination, "cannot flush rows", err)
	}

	s.logger.Debug("rows appended",
		zap.String("destination", destination),
		zap.Int("rows", len(rows)))
	return nil
}

// destinationHeader returns the column order for the destination: the
// existing file's header when present, a fresh one otherwise.
func destinationHeader(destination string, rows []map[string]any) ([]string, bool, error) {
	f, err := os.Open(destination)
	if os.IsNotExist(err) {
		return freshHeader(rows), true, nil
	}
	if err != nil {
		return nil, false, unavailable(destination, "cannot read destination", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		return nil, false, unavailable(destination, "cannot parse existing header", err)
	}
	return header, false, nil
}

// freshHeader fixes the column order: identity and prediction columns
// first, then the union of the remaining keys sorted.
func freshHeader(rows []map[string]any) []string {
	leading := []string{"event_id", "label", "confidence"}
	isLeading := map[string]bool{}
	for _, col := range leading {
		isLeading[col] = true
	}

	seen := map[string]bool{}
	var rest []string
	for _, row := range rows {
		for k := range row {
			if !isLeading[k] && !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	return append(leading, rest...)
}

func unavailable(destination, msg string, err error) error {
	return types.NewError(types.CodeSinkUnavailable, msg).
		WithStage("export").
		WithCause(fmt.Errorf("%s: %w", destination, err))
}
