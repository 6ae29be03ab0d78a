package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/internal/cache"
	"github.com/BaSui01/pollenflow/types"
	"github.com/BaSui01/pollenflow/worker"
)

// cachedClassify wraps a classification function with the Redis-backed
// prediction cache. Keys are content hashes of the model input, so a hit
// does not depend on which archive the batch came from. Cache failures
// other than a miss degrade to calling through; classification never
// fails because the cache is unhealthy.
func cachedClassify(m *cache.Manager, classify worker.ClassifyFunc, logger *zap.Logger) worker.ClassifyFunc {
	logger = logger.With(zap.String("component", "prediction_cache"))
	return func(ctx context.Context, in *types.ModelInput) ([][]float64, error) {
		key, err := cache.InputKey(in)
		if err != nil {
			logger.Warn("cache key derivation failed", zap.Error(err))
			return classify(ctx, in)
		}

		probs, err := m.GetPredictions(ctx, key)
		if err == nil && len(probs) == in.Len() {
			logger.Debug("cache hit", zap.Int("records", in.Len()))
			return probs, nil
		}
		if err != nil && !cache.IsCacheMiss(err) {
			logger.Warn("cache lookup failed", zap.Error(err))
		}

		probs, err = classify(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := m.SetPredictions(ctx, key, probs, 0); err != nil {
			logger.Warn("cache store failed", zap.Error(err))
		}
		return probs, nil
	}
}
