// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 运行指标
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec

	// 提取指标
	recordsExtracted prometheus.Counter
	recordsFiltered  prometheus.Counter
	batchesEmitted   prometheus.Counter

	// 推理指标
	batchesClassified prometheus.Counter
	recordsClassified prometheus.Counter

	// 合并指标
	mergeCollapses prometheus.Counter
	mergeGroupSize prometheus.Histogram
	pendingGroups  prometheus.Gauge

	// 导出指标
	rowsExported prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 运行指标
	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of source runs",
		},
		[]string{"status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one source run",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"status"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent inside each stage per request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	c.stageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of stage failures",
		},
		[]string{"stage", "code"},
	)

	// 提取指标
	c.recordsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Total number of records decoded from sources",
		},
	)

	c.recordsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_filtered_total",
			Help:      "Total number of records dropped by quality filters",
		},
	)

	c.batchesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_emitted_total",
			Help:      "Total number of record batches produced by extraction",
		},
	)

	// 推理指标
	c.batchesClassified = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_classified_total",
			Help:      "Total number of batches classified",
		},
	)

	c.recordsClassified = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_classified_total",
			Help:      "Total number of records classified",
		},
	)

	// 合并指标
	c.mergeCollapses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_collapses_total",
			Help:      "Total number of merge groups collapsed",
		},
	)

	c.mergeGroupSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_group_size",
			Help:      "Number of contributions per collapsed merge group",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	c.pendingGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "merge_pending_groups",
			Help:      "Number of merge groups still accumulating",
		},
	)

	// 导出指标
	c.rowsExported = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_exported_total",
			Help:      "Total number of result rows written to sinks",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 运行指标记录
// =============================================================================

// RecordRun 记录一次数据源运行
func (c *Collector) RecordRun(status string, duration time.Duration) {
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStage 记录单个阶段耗时
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordFailure 记录阶段失败
func (c *Collector) RecordFailure(stage, code string) {
	c.stageFailures.WithLabelValues(stage, code).Inc()
}

// =============================================================================
// 📦 阶段指标记录
// =============================================================================

// RecordExtraction 记录提取结果
func (c *Collector) RecordExtraction(extracted, filtered, batches int) {
	c.recordsExtracted.Add(float64(extracted))
	c.recordsFiltered.Add(float64(filtered))
	c.batchesEmitted.Add(float64(batches))
}

// RecordClassification 记录推理结果
func (c *Collector) RecordClassification(records int) {
	c.batchesClassified.Inc()
	c.recordsClassified.Add(float64(records))
}

// RecordMerge 记录合并组折叠
func (c *Collector) RecordMerge(groupSize int) {
	c.mergeCollapses.Inc()
	c.mergeGroupSize.Observe(float64(groupSize))
}

// SetPendingGroups 记录待合并组数量
func (c *Collector) SetPendingGroups(n int) {
	c.pendingGroups.Set(float64(n))
}

// RecordExport 记录导出行数
func (c *Collector) RecordExport(rows int) {
	c.rowsExported.Add(float64(rows))
}
