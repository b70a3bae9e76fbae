// config 包的 HTTP 配置管理 API。
//
// 提供脱敏配置查询、运行期字段更新、热重载触发与变更历史查询。
package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/BaSui01/graphrepair/api"
)

// --- API 类型定义 ---

// ConfigAPIHandler 处理配置 API 请求
type ConfigAPIHandler struct {
	manager *HotReloadManager
}

type configData struct {
	Message         string         `json:"message,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Fields          []FieldInfo    `json:"fields,omitempty"`
	Changes         []ConfigChange `json:"changes,omitempty"`
	Version         int            `json:"version,omitempty"`
	RequiresRestart bool           `json:"requires_restart,omitempty"`
}

// FieldInfo 描述一个可热重载字段
type FieldInfo struct {
	Path            string `json:"path"`
	Description     string `json:"description"`
	RequiresRestart bool   `json:"requires_restart"`
	Sensitive       bool   `json:"sensitive"`
	CurrentValue    any    `json:"current_value,omitempty"`
}

// ConfigUpdateRequest 字段路径到新值的映射
type ConfigUpdateRequest struct {
	Updates map[string]any `json:"updates"`
}

// NewConfigAPIHandler 创建配置 API 处理器
func NewConfigAPIHandler(manager *HotReloadManager) *ConfigAPIHandler {
	return &ConfigAPIHandler{manager: manager}
}

// RegisterRoutes 注册配置 API 路由
func (h *ConfigAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/config", h.HandleGet)
	mux.HandleFunc("PUT /api/v1/config", h.HandleUpdate)
	mux.HandleFunc("POST /api/v1/config/reload", h.HandleReload)
	mux.HandleFunc("GET /api/v1/config/fields", h.HandleFields)
	mux.HandleFunc("GET /api/v1/config/changes", h.HandleChanges)
}

// HandleGet 返回脱敏后的当前配置
func (h *ConfigAPIHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeAPIJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data: configData{
			Config:  h.manager.SanitizedConfig(),
			Version: h.manager.GetCurrentVersion(),
		},
		Timestamp: time.Now(),
	})
}

// HandleUpdate 更新一个或多个已注册字段
func (h *ConfigAPIHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Updates) == 0 {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "no updates provided")
		return
	}

	paths := make([]string, 0, len(req.Updates))
	for path := range req.Updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var failures []string
	requiresRestart := false
	for _, path := range paths {
		if field, known := hotReloadableFields[path]; known && field.RequiresRestart {
			requiresRestart = true
		}
		if err := h.manager.UpdateField(path, req.Updates[path]); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
	}

	if len(failures) > 0 {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("some updates failed: %v", failures))
		return
	}

	writeAPIJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data: configData{
			Message:         "configuration updated",
			Config:          h.manager.SanitizedConfig(),
			Version:         h.manager.GetCurrentVersion(),
			RequiresRestart: requiresRestart,
		},
		Timestamp: time.Now(),
	})
}

// HandleReload 从文件重新加载配置
func (h *ConfigAPIHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ReloadFromFile(); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Sprintf("failed to reload configuration: %v", err))
		return
	}
	writeAPIJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data: configData{
			Message: "configuration reloaded",
			Config:  h.manager.SanitizedConfig(),
			Version: h.manager.GetCurrentVersion(),
		},
		Timestamp: time.Now(),
	})
}

// HandleFields 列出可热重载字段
func (h *ConfigAPIHandler) HandleFields(w http.ResponseWriter, r *http.Request) {
	current := h.manager.GetConfig()
	fields := make([]FieldInfo, 0, len(hotReloadableFields))
	for path, field := range hotReloadableFields {
		info := FieldInfo{
			Path:            path,
			Description:     field.Description,
			RequiresRestart: field.RequiresRestart,
			Sensitive:       field.Sensitive,
		}
		if !field.Sensitive {
			if v, err := getNestedField(reflectValue(current), path); err == nil {
				info.CurrentValue = v
			}
		}
		fields = append(fields, info)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })

	writeAPIJSON(w, http.StatusOK, api.Response{
		Success:   true,
		Data:      configData{Fields: fields},
		Timestamp: time.Now(),
	})
}

// HandleChanges 返回最近的变更，?limit= 默认 50
func (h *ConfigAPIHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	writeAPIJSON(w, http.StatusOK, api.Response{
		Success:   true,
		Data:      configData{Changes: h.manager.GetChangeLog(limit)},
		Timestamp: time.Now(),
	})
}

// --- 辅助方法 ---

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeAPIJSON(w, status, api.Response{
		Success:   false,
		Error:     &api.ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// writeAPIJSON 先序列化再写头，编码失败时返回 500
func writeAPIJSON(w http.ResponseWriter, status int, data any) {
	buf, err := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
