package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/api"
	"github.com/BaSui01/graphrepair/repair"
	"github.com/BaSui01/graphrepair/types"
)

// =============================================================================
// 🔧 修复流 Handler
// =============================================================================

// RepairRunner 启动一次修复运行，*repair.Orchestrator 实现该接口
type RepairRunner interface {
	Run(ctx context.Context, req repair.Request) (<-chan repair.Record, error)
}

// RunTracker 跟踪进行中的流式运行数
type RunTracker interface {
	RunStarted()
	RunFinished()
}

// RepairHandler 以 SSE 或 WebSocket 推送修复记录
type RepairHandler struct {
	runner         RepairRunner
	logger         *zap.Logger
	tracker        RunTracker
	maxBody        int64
	originPatterns []string
	readTimeout    time.Duration
}

// RepairOption 配置 RepairHandler
type RepairOption func(*RepairHandler)

// WithRunTracker 上报活跃运行数
func WithRunTracker(t RunTracker) RepairOption {
	return func(h *RepairHandler) { h.tracker = t }
}

// WithRepairMaxBody 限制请求体大小
func WithRepairMaxBody(n int64) RepairOption {
	return func(h *RepairHandler) { h.maxBody = n }
}

// WithOriginPatterns 允许跨域的 WebSocket 来源
func WithOriginPatterns(patterns ...string) RepairOption {
	return func(h *RepairHandler) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// WithRequestReadTimeout WebSocket 首条请求消息的等待时间
func WithRequestReadTimeout(d time.Duration) RepairOption {
	return func(h *RepairHandler) { h.readTimeout = d }
}

// NewRepairHandler 创建修复处理器
func NewRepairHandler(runner RepairRunner, logger *zap.Logger, opts ...RepairOption) *RepairHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &RepairHandler{
		runner:      runner,
		logger:      logger.With(zap.String("handler", "repair")),
		maxBody:     DefaultMaxBodyBytes,
		readTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 注册修复路由
func (h *RepairHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/repair/stream", h.HandleStream)
	mux.HandleFunc("GET /api/v1/repair/ws", h.HandleWebSocket)
}

func (h *RepairHandler) track() func() {
	if h.tracker == nil {
		return func() {}
	}
	h.tracker.RunStarted()
	return h.tracker.RunFinished
}

// HandleStream 以 SSE 推送修复记录
// @Summary 修复工作流（SSE）
// @Description 每条记录一行 `data: {record}`，结束时发送 `data: [DONE]`
// @Tags 修复
// @Accept json
// @Produce text/event-stream
// @Param request body api.RepairRequest true "修复请求"
// @Success 200 {object} api.RepairRecord
// @Failure 400 {object} Response
// @Failure 409 {object} Response "会话正在修复"
// @Router /api/v1/repair/stream [post]
func (h *RepairHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req api.RepairRequest
	if !DecodeAndValidate(w, r, &req, h.maxBody, h.logger) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteRequestError(w, r, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	records, err := h.runner.Run(r.Context(), req)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}
	defer h.track()()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// 客户端断开后继续读完通道，运行随请求上下文取消而结束
	broken := false
	for rec := range records {
		if broken {
			continue
		}
		if err := writeSSE(w, rec); err != nil {
			h.logger.Warn("repair stream write failed",
				zap.String("session_id", req.SessionID),
				zap.Error(err),
			)
			broken = true
			continue
		}
		flusher.Flush()
	}
	if broken {
		return
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, rec repair.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	_, err = w.Write(buf)
	return err
}

// HandleWebSocket 在 WebSocket 上运行修复
// @Summary 修复工作流（WebSocket）
// @Description 首条消息为 RepairRequest，随后每条消息一条记录
// @Tags 修复
// @Router /api/v1/repair/ws [get]
func (h *RepairHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.maxBody)

	req, apiErr := h.readRequest(r.Context(), conn)
	if apiErr != nil {
		h.closeWithError(r.Context(), conn, apiErr, websocket.StatusPolicyViolation)
		return
	}

	// 客户端关闭连接时取消运行
	ctx := conn.CloseRead(r.Context())

	records, err := h.runner.Run(ctx, *req)
	if err != nil {
		h.closeWithError(ctx, conn, ToAPIError(err), websocket.StatusTryAgainLater)
		return
	}
	defer h.track()()

	broken := false
	for rec := range records {
		if broken {
			continue
		}
		if err := wsjson.Write(ctx, conn, rec); err != nil {
			h.logger.Warn("repair websocket write failed",
				zap.String("session_id", req.SessionID),
				zap.Error(err),
			)
			broken = true
		}
	}
	if !broken {
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}
}

func (h *RepairHandler) readRequest(ctx context.Context, conn *websocket.Conn) (*repair.Request, *types.Error) {
	readCtx, cancel := context.WithTimeout(ctx, h.readTimeout)
	defer cancel()

	var req repair.Request
	if err := wsjson.Read(readCtx, conn, &req); err != nil {
		msg := "invalid repair request"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timed out waiting for repair request"
		}
		return nil, types.NewError(types.ErrInvalidRequest, msg).WithCause(err)
	}
	if apiErr := ValidateStruct(&req); apiErr != nil {
		return nil, apiErr
	}
	return &req, nil
}

func (h *RepairHandler) closeWithError(ctx context.Context, conn *websocket.Conn, apiErr *types.Error, status websocket.StatusCode) {
	h.logger.Warn("repair websocket rejected",
		zap.String("code", string(apiErr.Code)),
		zap.String("message", apiErr.Message),
		zap.Error(apiErr.Cause),
	)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = wsjson.Write(writeCtx, conn, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(apiErr.Code),
			Message:   apiErr.Message,
			Retryable: apiErr.Retryable,
		},
		Timestamp: time.Now(),
	})
	_ = conn.Close(status, string(apiErr.Code))
}
