package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/internal/ctxkeys"
	"github.com/BaSui01/pollenflow/types"
)

// modelClient delegates classification to an external HTTP service. One
// request carries a whole batch; the service answers with one
// probability vector per record, in order.
type modelClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

type classifyRequest struct {
	Rec0         [][]float64            `json:"rec0,omitempty"`
	Rec1         [][]float64            `json:"rec1,omitempty"`
	Fluorescence map[string][][]float64 `json:"fluorescence,omitempty"`
}

type classifyResponse struct {
	Probabilities [][]float64 `json:"probabilities"`
}

func newModelClient(endpoint string, timeout time.Duration, logger *zap.Logger) *modelClient {
	return &modelClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(zap.String("component", "model_client")),
	}
}

// Classify implements worker.ClassifyFunc over HTTP.
func (c *modelClient) Classify(ctx context.Context, in *types.ModelInput) ([][]float64, error) {
	body, err := json.Marshal(classifyRequest{
		Rec0:         in.Rec0,
		Rec1:         in.Rec1,
		Fluorescence: in.Fluorescence,
	})
	if err != nil {
		return nil, fmt.Errorf("encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if runID, ok := ctxkeys.RunID(ctx); ok {
		req.Header.Set("X-Run-ID", runID)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classify request: status %d: %s", resp.StatusCode, snippet)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode classify response: %w", err)
	}

	c.logger.Debug("classified batch",
		zap.Int("records", in.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out.Probabilities, nil
}
