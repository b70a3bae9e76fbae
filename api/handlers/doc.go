// 版权所有 2024 GraphRepair Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 GraphRepair HTTP API 的请求处理器实现。

# 概述

handlers 包实现检查点读写、静态连接分析、修复流推送以及健康检查
的全部端点。所有 Handler 均基于标准 net/http，路由使用 Go 1.22
的方法模式（如 "POST /api/v1/analyze"），并通过 Swagger 注解生成文档。

# 核心类型

  - CheckpointHandler - 检查点保存、按 ID 恢复、镜像更新、会话列表与最新版本
  - AnalyzeHandler    - 缺失连接、候选来源与新节点建议
  - RepairHandler     - 修复运行，SSE（data: {record} … data: [DONE]）与 WebSocket 两种推送
  - HealthHandler     - /health、/healthz、/ready、/readyz、/version
  - Response          - 统一 JSON 响应结构（success + data + error + timestamp）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteCreated / WriteError / WriteJSON
  - 请求校验：DecodeAndValidate（大小限制 + 严格解码 + validator 标签）
  - ToAPIError 将存储、目录与网关哨兵错误映射为错误码，再映射为 HTTP 状态码
  - 会话占用返回 409，客户端断开时运行随请求上下文取消
  - 就绪检查使用 errgroup 并行执行
*/
package handlers
