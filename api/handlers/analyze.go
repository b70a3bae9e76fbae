package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/analyzer"
	"github.com/BaSui01/graphrepair/api"
	"github.com/BaSui01/graphrepair/catalog"
)

// =============================================================================
// 🔍 连接分析 Handler
// =============================================================================

// AnalyzeHandler 对提交的工作流执行静态连接分析
type AnalyzeHandler struct {
	catalog catalog.TypeCatalog
	logger  *zap.Logger
	maxBody int64
}

// NewAnalyzeHandler 创建分析处理器
func NewAnalyzeHandler(cat catalog.TypeCatalog, logger *zap.Logger, maxBody int64) *AnalyzeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeHandler{
		catalog: cat,
		logger:  logger.With(zap.String("handler", "analyze")),
		maxBody: maxBody,
	}
}

// RegisterRoutes 注册分析路由
func (h *AnalyzeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/analyze", h.HandleAnalyze)
}

// HandleAnalyze 分析缺失连接、候选来源与新节点建议
// @Summary 连接分析
// @Tags 分析
// @Accept json
// @Produce json
// @Param request body api.AnalyzeRequest true "工作流"
// @Success 200 {object} Response{data=api.AnalyzeResponse}
// @Failure 400 {object} Response
// @Failure 503 {object} Response "节点目录不可用"
// @Router /api/v1/analyze [post]
func (h *AnalyzeHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req api.AnalyzeRequest
	if !DecodeAndValidate(w, r, &req, h.maxBody, h.logger) {
		return
	}

	res, err := analyzer.Analyze(r.Context(), req.Workflow, h.catalog)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}

	h.logger.Debug("workflow analyzed",
		zap.Int("nodes", len(req.Workflow)),
		zap.Int("missing", len(res.MissingConnections)),
	)
	WriteSuccess(w, res)
}
