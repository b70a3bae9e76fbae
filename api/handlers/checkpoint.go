package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/api"
	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/types"
)

// =============================================================================
// 💾 检查点 Handler
// =============================================================================

// CheckpointRecorder 接收检查点写入指标
type CheckpointRecorder interface {
	RecordCheckpointWrite(checkpointType string)
}

// CheckpointHandler 检查点读写接口
type CheckpointHandler struct {
	store    checkpoint.Store
	logger   *zap.Logger
	recorder CheckpointRecorder
	maxBody  int64
	now      func() time.Time
}

// CheckpointOption 配置 CheckpointHandler
type CheckpointOption func(*CheckpointHandler)

// WithCheckpointRecorder 上报写入指标
func WithCheckpointRecorder(r CheckpointRecorder) CheckpointOption {
	return func(h *CheckpointHandler) { h.recorder = r }
}

// WithCheckpointMaxBody 限制请求体大小
func WithCheckpointMaxBody(n int64) CheckpointOption {
	return func(h *CheckpointHandler) { h.maxBody = n }
}

// NewCheckpointHandler 创建检查点处理器
func NewCheckpointHandler(store checkpoint.Store, logger *zap.Logger, opts ...CheckpointOption) *CheckpointHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &CheckpointHandler{
		store:   store,
		logger:  logger.With(zap.String("handler", "checkpoint")),
		maxBody: DefaultMaxBodyBytes,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 注册检查点路由
func (h *CheckpointHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/checkpoints", h.HandleSave)
	mux.HandleFunc("GET /api/v1/checkpoints/{id}", h.HandleGet)
	mux.HandleFunc("PUT /api/v1/checkpoints/{id}/mirror", h.HandleUpdateMirror)
	mux.HandleFunc("GET /api/v1/sessions/{session}/checkpoints", h.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{session}/latest", h.HandleLatest)
}

// HandleSave 保存一个工作流版本
// @Summary 保存检查点
// @Tags 检查点
// @Accept json
// @Produce json
// @Param request body api.SaveCheckpointRequest true "检查点"
// @Success 201 {object} Response{data=api.SaveCheckpointResponse}
// @Failure 400 {object} Response
// @Failure 503 {object} Response "存储不可用"
// @Router /api/v1/checkpoints [post]
func (h *CheckpointHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req api.SaveCheckpointRequest
	if !DecodeAndValidate(w, r, &req, h.maxBody, h.logger) {
		return
	}

	attrs := req.CheckpointAttributes(h.now())
	id, err := h.store.Save(r.Context(), req.SessionID, req.Workflow, req.Mirror, attrs)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordCheckpointWrite(string(attrs.Type()))
	}

	h.logger.Debug("checkpoint saved",
		zap.String("session_id", req.SessionID),
		zap.Uint64("checkpoint_id", id),
		zap.String("checkpoint_type", string(attrs.Type())),
	)
	WriteCreated(w, api.SaveCheckpointResponse{CheckpointID: id, SessionID: req.SessionID})
}

// HandleGet 按 ID 读取检查点
// @Summary 恢复检查点
// @Tags 检查点
// @Produce json
// @Param id path int true "检查点 ID"
// @Success 200 {object} Response{data=checkpoint.Checkpoint}
// @Failure 404 {object} Response
// @Router /api/v1/checkpoints/{id} [get]
func (h *CheckpointHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.checkpointID(w, r)
	if !ok {
		return
	}

	cp, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, cp)
}

// HandleUpdateMirror 仅替换检查点的编辑器镜像
// @Summary 更新镜像
// @Tags 检查点
// @Accept json
// @Produce json
// @Param id path int true "检查点 ID"
// @Param request body api.UpdateMirrorRequest true "镜像"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/checkpoints/{id}/mirror [put]
func (h *CheckpointHandler) HandleUpdateMirror(w http.ResponseWriter, r *http.Request) {
	id, ok := h.checkpointID(w, r)
	if !ok {
		return
	}

	var req api.UpdateMirrorRequest
	if !DecodeAndValidate(w, r, &req, h.maxBody, h.logger) {
		return
	}

	updated, err := h.store.UpdateMirror(r.Context(), id, req.Mirror)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}
	if !updated {
		WriteRequestError(w, r, types.NewError(types.ErrNotFound, "checkpoint not found"), h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"checkpoint_id": id, "updated": true})
}

// HandleList 列出会话的检查点（升序）
// @Summary 检查点列表
// @Tags 检查点
// @Produce json
// @Param session path string true "会话 ID"
// @Success 200 {object} Response{data=api.CheckpointListResponse}
// @Router /api/v1/sessions/{session}/checkpoints [get]
func (h *CheckpointHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	metas, err := h.store.List(r.Context(), session)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}
	if metas == nil {
		metas = []checkpoint.Meta{}
	}
	WriteSuccess(w, api.CheckpointListResponse{SessionID: session, Checkpoints: metas, Total: len(metas)})
}

// HandleLatest 读取会话最新检查点
// @Summary 最新检查点
// @Tags 检查点
// @Produce json
// @Param session path string true "会话 ID"
// @Success 200 {object} Response{data=checkpoint.Checkpoint}
// @Failure 404 {object} Response
// @Router /api/v1/sessions/{session}/latest [get]
func (h *CheckpointHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	cp, err := h.store.GetLatestCheckpoint(r.Context(), session)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, cp)
}

func (h *CheckpointHandler) checkpointID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, "checkpoint id must be a positive integer"), h.logger)
		return 0, false
	}
	return id, true
}

func (h *CheckpointHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	session := strings.TrimSpace(r.PathValue("session"))
	if session == "" || len(session) > 128 {
		WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, "invalid session id"), h.logger)
		return "", false
	}
	return session, true
}
