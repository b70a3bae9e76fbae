// 版权所有 2024 GraphRepair Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 GraphRepair 服务端程序入口。

# 概述

cmd/graphrepair 是工作流图修复引擎的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及配置热重载。

# 核心类型

  - Server      - 主服务器，组装检查点存储、节点目录、校验网关与修复编排，
    管理 API、Metrics 双端口及优雅关闭
  - Middleware  - HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、RateLimiter（基于 IP）、JWTAuth
  - 存储后端：memory、file、redis、gorm（postgres / mysql / sqlite / sqlite3）、
    badger、mongo
  - 配置热重载：日志级别与修复参数在运行期生效，仅影响新的修复运行
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
