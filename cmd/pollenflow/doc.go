// Copyright (c) Pollenflow Authors.
// Licensed under the MIT License.

/*
Package main 提供 Pollenflow 流水线的命令行入口。

# 概述

cmd/pollenflow 是花粉捕获处理流水线的可执行入口：从 Poleno 压缩归档中
提取粒子事件，经外部分类服务推理后，按需合并批次并导出 CSV 结果。
程序支持 YAML 配置文件加载、结构化日志（zap）、Prometheus 指标采集
与 OpenTelemetry 追踪。

# 核心类型

  - modelClient — 外部分类服务的 HTTP 客户端，实现 worker.ClassifyFunc

# 主要能力

  - 子命令：run（处理归档）、check（校验配置）、version
  - 分类委托：批量 POST 模型输入，按序接收概率向量
  - Metrics 端点：--metrics-addr 暴露 /metrics（Prometheus）
  - 优雅取消：SIGINT/SIGTERM 取消全部运行中的源
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
