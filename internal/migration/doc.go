// 版权所有 2024 GraphRepair Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理检查点表 workflow_version 的 Schema 迁移，支持
PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，SQLite 使用纯 Go 驱动，
无需 CGO。表结构与 checkpoint.WorkflowVersion 一致。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close，ctx 取消时在当前迁移结束后停止。
  - Config：数据库类型、连接 URL、迁移表名、锁超时与日志。
  - CLI：`graphrepair migrate` 子命令的分发与格式化输出。

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig 复用应用配置
中的 database 段；NewMigratorFromURL 直接使用连接 URL。
*/
package migration
