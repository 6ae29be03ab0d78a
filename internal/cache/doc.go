// 版权所有 2024 Pollenflow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的分类结果缓存，支持连接池、健康检查
与 JSON 序列化。

# 概述

本包封装 go-redis 客户端，以模型输入的内容哈希为键缓存每个批次的
概率向量。重复处理同一归档（或含相同事件的归档）时，推理阶段直接
命中缓存，跳过昂贵的分类调用。Manager 负责连接生命周期管理，包括
初始化、健康检查与优雅关闭。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 GetPredictions/SetPredictions/Delete 操作。
  - Config：缓存配置，包含地址、密码、默认 TTL、连接池大小
    与健康检查间隔等参数。

# 主要能力

  - 内容寻址：InputKey 对模型输入做 SHA-256 哈希，批次内容相同
    即命中，与归档路径无关
  - 未命中语义：ErrCacheMiss 区分未命中与连接故障，
    调用方据此降级为直接分类
  - 健康检查：后台定时探活，异常时通过 zap 日志输出诊断信息
*/
package cache
