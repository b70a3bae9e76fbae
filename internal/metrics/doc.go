// 版权所有 2024 GraphRepair Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、校验网关、
修复流程、节点目录缓存与数据库五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，同时实现各业务包声明的 Recorder 接口。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 网关指标：按 outcome（success/invalid/timeout/unavailable）统计次数与耗时。
  - 修复指标：运行结果、每次运行的校验轮数、策略调度、图编辑结果、检查点写入、活跃运行数。
  - 缓存指标：节点目录缓存的 hit/miss/shared_hit/error 计数。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
