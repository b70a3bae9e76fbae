// 版权所有 2024 GraphRepair Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 GraphRepair 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → GRAPHREPAIR_ 环境变量 的顺序叠加，
// 覆盖 HTTP 服务、检查点存储、校验网关、节点目录、修复编排以及
// 各存储后端与可观测性组件。
//
// HotReloadManager 监听配置文件并在运行期应用可热重载字段
// （日志级别、修复迭代上限等），保留历史快照并支持回滚；
// ConfigAPIHandler 以 HTTP 形式暴露脱敏配置与变更记录。
package config
