/*
Package types 提供 graphrepair 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 checkpoint、gateway、repair、
api 等上层模块提供统一的错误码契约。

# 核心类型

  - Error / ErrorCode - 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - AsError / IsErrorCode / IsRetryable - 沿错误链提取结构化错误
*/
package types
