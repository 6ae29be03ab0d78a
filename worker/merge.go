package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/types"
)

// ErrGroupCollapsed is returned when a contribution arrives for a merge
// group that was already collapsed and emitted.
var ErrGroupCollapsed = errors.New("merge group already collapsed")

// CombineFunc merges the result payloads of one group into a single
// payload. All inputs are guaranteed non-empty; a singleton slice must be
// returned unchanged (identity).
type CombineFunc func(results []any) (any, error)

// MergeStage combines Responses sharing a source identity into one
// record-level Response per source (batch ID cleared).
type MergeStage struct {
	cfg     *config.MergeConfig
	combine CombineFunc
	logger  *zap.Logger
}

// NewMergeStage creates the merge stage. A nil combine defaults to the
// configured strategy (arithmetic averaging).
func NewMergeStage(cfg *config.MergeConfig, combine CombineFunc, logger *zap.Logger) *MergeStage {
	if combine == nil {
		combine = AverageResults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeStage{
		cfg:     cfg,
		combine: combine,
		logger:  logger.With(zap.String("component", "merge")),
	}
}

// Name identifies the stage.
func (s *MergeStage) Name() string { return "merge" }

// Merge collapses the given collection in batch mode: groups are fully
// known upfront. It emits one Response per distinct source, in first-seen
// source order. A group whose members disagree on result schema fails with
// CodeMergeSchemaConflict for that group only; sibling groups still merge,
// so errors are reported per group alongside the successful Responses.
func (s *MergeStage) Merge(ctx context.Context, responses []*types.Response) ([]*types.Response, []error) {
	var order []string
	groups := make(map[string][]*types.Response)
	for _, resp := range responses {
		src := resp.Source()
		if _, ok := groups[src]; !ok {
			order = append(order, src)
		}
		groups[src] = append(groups[src], resp)
	}

	var merged []*types.Response
	var errs []error
	for _, src := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return merged, errs
		}
		resp, err := s.collapse(src, groups[src])
		if err != nil {
			s.logger.Warn("merge group failed", zap.String("source", src), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		merged = append(merged, resp)
	}
	return merged, errs
}

// collapse combines one group into a record-level Response.
func (s *MergeStage) collapse(source string, group []*types.Response) (*types.Response, error) {
	seen := make(map[int]bool, len(group))
	results := make([]any, len(group))
	for i, resp := range group {
		if id := resp.BatchID(); id != nil {
			if seen[*id] {
				return nil, types.Errorf(types.CodeMergeSchemaConflict,
					"duplicate batch id %d in merge group", *id).
					WithSource(source).
					WithStage(s.Name())
			}
			seen[*id] = true
		}
		results[i] = resp.Result()
	}

	combined, err := s.combine(results)
	if err != nil {
		if e, ok := err.(*types.Error); ok {
			if e.Source == "" {
				e.WithSource(source)
			}
			if e.Stage == "" {
				e.WithStage(s.Name())
			}
			return nil, e
		}
		return nil, types.NewError(types.CodeMergeSchemaConflict, "cannot combine group").
			WithSource(source).
			WithStage(s.Name()).
			WithCause(err)
	}
	return types.NewResponse(source, nil, combined), nil
}

// AverageResults is the default combination strategy: arithmetic averaging
// of compatible numeric result payloads. All members of a group must share
// the same structural schema; a singleton group is returned unchanged.
func AverageResults(results []any) (any, error) {
	if len(results) == 0 {
		return nil, types.NewError(types.CodeMergeSchemaConflict, "empty merge group")
	}
	if len(results) == 1 {
		// Identity transform: no averaging needed.
		return results[0], nil
	}

	switch first := results[0].(type) {
	case float64:
		sum := 0.0
		for _, r := range results {
			v, ok := r.(float64)
			if !ok {
				return nil, conflict(results[0], r)
			}
			sum += v
		}
		return sum / float64(len(results)), nil

	case []float64:
		vecs := make([][]float64, len(results))
		for i, r := range results {
			v, ok := r.([]float64)
			if !ok {
				return nil, conflict(results[0], r)
			}
			if len(v) != len(first) {
				return nil, types.Errorf(types.CodeMergeSchemaConflict,
					"vector length %d != %d in merge group", len(v), len(first))
			}
			vecs[i] = v
		}
		return averageVectors(vecs), nil

	case map[string]float64:
		keys := sortedKeys(first)
		out := make(map[string]float64, len(first))
		for _, r := range results {
			m, ok := r.(map[string]float64)
			if !ok {
				return nil, conflict(results[0], r)
			}
			if len(m) != len(first) {
				return nil, keyConflict()
			}
			for _, k := range keys {
				v, ok := m[k]
				if !ok {
					return nil, keyConflict()
				}
				out[k] += v
			}
		}
		for _, k := range keys {
			out[k] /= float64(len(results))
		}
		return out, nil

	case *types.InferenceResult:
		return averageInferenceResults(results)

	default:
		return nil, types.Errorf(types.CodeMergeSchemaConflict,
			"unsupported result type %T", results[0])
	}
}

// averageInferenceResults averages per-record probability vectors across
// the group and re-derives labels and confidences from the averaged
// vectors. Members must cover the same records in the same order.
func averageInferenceResults(results []any) (any, error) {
	members := make([]*types.InferenceResult, len(results))
	first, _ := results[0].(*types.InferenceResult)
	for i, r := range results {
		m, ok := r.(*types.InferenceResult)
		if !ok {
			return nil, conflict(results[0], r)
		}
		if m.Len() != first.Len() {
			return nil, types.Errorf(types.CodeMergeSchemaConflict,
				"record count %d != %d in merge group", m.Len(), first.Len())
		}
		for j, id := range m.EventIDs {
			if id != first.EventIDs[j] {
				return nil, types.Errorf(types.CodeMergeSchemaConflict,
					"record order differs in merge group at index %d", j)
			}
		}
		members[i] = m
	}

	n := first.Len()
	probs := make([][]float64, n)
	for j := 0; j < n; j++ {
		vecs := make([][]float64, len(members))
		want := len(first.Prediction.Probabilities[j])
		for i, m := range members {
			v := m.Prediction.Probabilities[j]
			if len(v) != want {
				return nil, types.Errorf(types.CodeMergeSchemaConflict,
					"probability vector length %d != %d in merge group", len(v), want)
			}
			vecs[i] = v
		}
		probs[j] = averageVectors(vecs)
	}

	pred, err := ArgMaxPostProcess(probs)
	if err != nil {
		return nil, err
	}
	return &types.InferenceResult{
		EventIDs:   first.EventIDs,
		Metadata:   first.Metadata,
		Prediction: pred,
	}, nil
}

func averageVectors(vecs [][]float64) []float64 {
	out := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(vecs))
	}
	return out
}

func conflict(want, got any) error {
	return types.Errorf(types.CodeMergeSchemaConflict,
		"mixed result types %T and %T in merge group", want, got)
}

func keyConflict() error {
	return types.NewError(types.CodeMergeSchemaConflict,
		"result keys differ within merge group")
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Coordinator accumulates streamed Responses into merge groups keyed by
// source identity. It is the one pipeline component with cross-Request
// state; accumulation is a critical section so that concurrent
// contributions for the same source fold in strictly one at a time and
// each group collapses and emits exactly once.
//
// Completeness is signaled either by an expected-contribution count
// (Expect, matching the upstream's announced batch count) or by an
// explicit Close for streaming callers that cannot know the count upfront.
type Coordinator struct {
	combine CombineFunc

	mu     sync.Mutex
	groups map[string]*mergeGroup
}

type mergeGroup struct {
	expected  int // 0 = unknown, wait for Close
	members   []*types.Response
	seen      map[int]bool
	collapsed bool
}

// NewCoordinator creates a Coordinator. A nil combine defaults to
// AverageResults.
func NewCoordinator(combine CombineFunc) *Coordinator {
	if combine == nil {
		combine = AverageResults
	}
	return &Coordinator{
		combine: combine,
		groups:  make(map[string]*mergeGroup),
	}
}

// Expect declares how many contributions the group for source will
// receive. If that many have already arrived the group collapses now and
// the combined Response is returned with done=true.
func (c *Coordinator) Expect(source string, n int) (*types.Response, bool, error) {
	if n < 1 {
		return nil, false, fmt.Errorf("expected contribution count must be >= 1, got %d", n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	g := c.group(source)
	if g.collapsed {
		return nil, false, ErrGroupCollapsed
	}
	g.expected = n
	return c.maybeCollapse(source, g)
}

// Add folds one contribution into its group. When the group becomes
// complete the combined record-level Response is returned with done=true
// and the group is destroyed.
func (c *Coordinator) Add(resp *types.Response) (*types.Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := c.group(resp.Source())
	if g.collapsed {
		return nil, false, ErrGroupCollapsed
	}
	if id := resp.BatchID(); id != nil {
		if g.seen[*id] {
			return nil, false, types.Errorf(types.CodeMergeSchemaConflict,
				"duplicate batch id %d in merge group", *id).
				WithSource(resp.Source()).
				WithStage("merge")
		}
		g.seen[*id] = true
	}
	g.members = append(g.members, resp)
	return c.maybeCollapse(resp.Source(), g)
}

// Close is the explicit terminal signal for streaming contribution: the
// group collapses with whatever has accumulated. done=false when nothing
// arrived for the source.
func (c *Coordinator) Close(source string) (*types.Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[source]
	if !ok || g.collapsed {
		return nil, false, nil
	}
	if len(g.members) == 0 {
		delete(c.groups, source)
		return nil, false, nil
	}
	return c.collapse(source, g)
}

// Abandon discards a group without emitting, e.g. when the source's run
// was aborted. Other sources' groups are unaffected.
func (c *Coordinator) Abandon(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, source)
}

// Pending returns the number of groups still accumulating.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, g := range c.groups {
		if !g.collapsed {
			n++
		}
	}
	return n
}

func (c *Coordinator) group(source string) *mergeGroup {
	g, ok := c.groups[source]
	if !ok {
		g = &mergeGroup{seen: make(map[int]bool)}
		c.groups[source] = g
	}
	return g
}

func (c *Coordinator) maybeCollapse(source string, g *mergeGroup) (*types.Response, bool, error) {
	if g.expected == 0 || len(g.members) < g.expected {
		return nil, false, nil
	}
	return c.collapse(source, g)
}

// collapse emits the group and leaves a tombstone so late contributions
// for the same source fail with ErrGroupCollapsed instead of silently
// starting a second group.
func (c *Coordinator) collapse(source string, g *mergeGroup) (*types.Response, bool, error) {
	results := make([]any, len(g.members))
	for i, m := range g.members {
		results[i] = m.Result()
	}
	g.collapsed = true
	g.members = nil
	g.seen = nil
	combined, err := c.combine(results)
	if err != nil {
		if e, ok := err.(*types.Error); ok {
			if e.Source == "" {
				e.WithSource(source)
			}
			if e.Stage == "" {
				e.WithStage("merge")
			}
		}
		return nil, false, err
	}
	return types.NewResponse(source, nil, combined), true, nil
}
