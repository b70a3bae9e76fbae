/*
包 cache 提供基于 Redis 的共享缓存管理能力。

# 概述

Manager 封装 go-redis 客户端，负责连接生命周期（初始化、后台健康检查、
优雅关闭）以及带键前缀的字符串 / JSON 读写。catalog.CachedCatalog 用它在
多个服务实例之间共享节点类型目录，避免每个修复循环都向执行后端拉取
完整的 object_info。

# 错误语义

  - ErrCacheMiss：键不存在或已过期，调用方应回源。
  - ErrClosed：Close 之后的任何调用。
*/
package cache
