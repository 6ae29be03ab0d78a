/*
包 metrics 提供基于 Prometheus 的流水线指标采集能力，覆盖
提取、推理、合并与导出四个阶段。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 指标，按流水线阶段分组管理。

# 主要能力

  - 运行指标：数据源运行总数与耗时，按 status 分组；
    各阶段耗时 Histogram 与失败计数，按 stage/code 分组。
  - 提取指标：解码记录数、被质量过滤器丢弃的记录数、产出批次数。
  - 推理指标：已分类批次数与记录数。
  - 合并指标：合并组折叠计数、组大小分布、待合并组 Gauge。
  - 导出指标：已写出的结果行数。
*/
package metrics
