package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	runIDKey  contextKey = "run_id"
	sourceKey contextKey = "source"
)

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSource 设置当前处理的源归档
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// Source 获取当前处理的源归档
func Source(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sourceKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
