package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/graphrepair/analyzer"
	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/repair"
)

// =============================================================================
// 通用响应
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 检查点
// =============================================================================

// SaveCheckpointRequest 保存一个工作流版本
type SaveCheckpointRequest struct {
	// 会话 ID
	SessionID string `json:"session_id" validate:"required,max=128" example:"session-1"`
	// 工作流图（提交格式）
	Workflow graph.Graph `json:"workflow" validate:"required,min=1"`
	// 编辑器镜像，原样保存
	Mirror json.RawMessage `json:"mirror,omitempty"`
	// 检查点类型，默认 initial
	CheckpointType string `json:"checkpoint_type,omitempty" validate:"omitempty,oneof=initial pre-edit post-edit debug_complete fatal"`
	// 描述
	Description string `json:"description,omitempty" validate:"max=512"`
	// 其余审计属性
	Attributes map[string]any `json:"attributes,omitempty"`
}

// CheckpointAttributes 合并显式字段与自由属性
func (r *SaveCheckpointRequest) CheckpointAttributes(now time.Time) checkpoint.Attributes {
	attrs := make(checkpoint.Attributes, len(r.Attributes)+3)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	t := r.CheckpointType
	if t == "" {
		t = string(checkpoint.TypeInitial)
	}
	attrs[checkpoint.AttrCheckpointType] = t
	if r.Description != "" {
		attrs[checkpoint.AttrDescription] = r.Description
	}
	if _, ok := attrs[checkpoint.AttrTimestamp]; !ok {
		attrs[checkpoint.AttrTimestamp] = now.UTC().Format(time.RFC3339)
	}
	return attrs
}

// SaveCheckpointResponse 保存结果
type SaveCheckpointResponse struct {
	CheckpointID uint64 `json:"checkpoint_id" example:"42"`
	SessionID    string `json:"session_id" example:"session-1"`
}

// UpdateMirrorRequest 替换检查点的编辑器镜像
type UpdateMirrorRequest struct {
	Mirror json.RawMessage `json:"mirror" validate:"required"`
}

// CheckpointListResponse 会话的检查点审计列表
type CheckpointListResponse struct {
	SessionID   string            `json:"session_id"`
	Checkpoints []checkpoint.Meta `json:"checkpoints"`
	Total       int               `json:"total"`
}

// =============================================================================
// 分析与修复
// =============================================================================

// AnalyzeRequest 对工作流做静态连接分析
type AnalyzeRequest struct {
	Workflow graph.Graph `json:"workflow" validate:"required,min=1"`
}

// AnalyzeResponse 分析结果
type AnalyzeResponse = analyzer.Result

// RepairRequest 启动一次修复运行
type RepairRequest = repair.Request

// RepairRecord 修复流中的一条记录
type RepairRecord = repair.Record

// =============================================================================
// 健康检查
// =============================================================================

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status" example:"healthy"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项检查结果
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}
