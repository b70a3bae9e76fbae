// 版权所有 2024 GraphRepair Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查、
指标上报与事务重试。

# 概述

PoolManager 封装 GORM 与 database/sql 的连接池配置，统一管理
连接生命周期、空闲回收与最大连接数。后台健康检查定时探活，
异常时通过 zap 日志输出诊断信息，并可将连接数上报给 StatsRecorder。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置，含事务重试次数。
  - StatsRecorder：连接数与查询耗时的接收方，通常为 metrics.Collector。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 健康检查：后台定时 PingContext 探活，Close 时停止。
  - 查询计时：注册 gorm 回调，按 create/query/update/delete 上报耗时。
  - 事务管理：WithTransactionRetry 对死锁、序列化失败等瞬时错误
    指数退避重试；Transactor 将其提供给检查点的 gorm 存储。
*/
package database
