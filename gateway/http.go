package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/internal/tlsutil"
)

// DefaultTimeout bounds a single validation attempt.
const DefaultTimeout = 30 * time.Second

// Recorder receives gateway outcomes ("success", "invalid", "timeout", "unavailable").
type Recorder interface {
	RecordGatewayRequest(outcome string, duration time.Duration)
}

// HTTPGateway posts graphs to {base}/api/prompt.
type HTTPGateway struct {
	baseURL  string
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) { g.client = c }
}

// WithRecorder reports outcomes to a metrics sink.
func WithRecorder(r Recorder) HTTPOption {
	return func(g *HTTPGateway) { g.recorder = r }
}

// NewHTTPGateway creates a gateway for baseURL. timeout <= 0 selects DefaultTimeout.
func NewHTTPGateway(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...HTTPOption) *HTTPGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  tlsutil.SecureHTTPClient(0),
		logger:  logger.With(zap.String("component", "gateway")),
		tracer:  otel.Tracer("graphrepair/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type promptRequest struct {
	Prompt   graph.Graph `json:"prompt"`
	ClientID string      `json:"client_id"`
}

type promptResponse struct {
	PromptID   string               `json:"prompt_id"`
	Error      json.RawMessage      `json:"error"`
	NodeErrors map[string]NodeError `json:"node_errors"`
}

// Validate implements Gateway.
func (g *HTTPGateway) Validate(ctx context.Context, gr graph.Graph, correlationID string) (*Result, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx, span := g.tracer.Start(ctx, "gateway.validate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.correlation_id", correlationID),
			attribute.Int("graph.nodes", len(gr)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := g.do(ctx, gr, correlationID)
	outcome := outcomeOf(res, err)
	g.record(outcome, time.Since(start))
	span.SetAttributes(attribute.String("gateway.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("validation request failed",
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		return nil, err
	}
	g.logger.Debug("validation finished",
		zap.String("correlation_id", correlationID),
		zap.Bool("success", res.Success),
		zap.Int("node_errors", len(res.NodeErrors)),
	)
	return res, nil
}

func (g *HTTPGateway) do(ctx context.Context, gr graph.Graph, correlationID string) (*Result, error) {
	body, err := json.Marshal(promptRequest{Prompt: gr, ClientID: correlationID})
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, g.baseURL+"/api/prompt", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.transportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.transportError(ctx, attemptCtx, err)
	}
	return decodeResponse(resp.StatusCode, data)
}

// transportError 区分调用方取消、单次超时与连接失败
func (g *HTTPGateway) transportError(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(attempt.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, g.timeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// decodeResponse 将状态码与响应体映射为校验结果
func decodeResponse(status int, data []byte) (*Result, error) {
	if status == http.StatusOK {
		var pr promptResponse
		_ = json.Unmarshal(data, &pr)
		if len(pr.NodeErrors) == 0 {
			return &Result{Success: true, PromptID: pr.PromptID}, nil
		}
		return failedResult(pr, data), nil
	}

	var pr promptResponse
	if err := json.Unmarshal(data, &pr); err != nil || (len(pr.Error) == 0 && len(pr.NodeErrors) == 0) {
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
		}
		// 无法解析的 4xx 仍然是一次校验失败
		return &Result{
			Error: &Diagnostic{Type: "http_error", Message: fmt.Sprintf("status %d", status), Details: string(data)},
			Raw:   json.RawMessage(mustQuote(data)),
		}, nil
	}
	return failedResult(pr, data), nil
}

func failedResult(pr promptResponse, raw []byte) *Result {
	res := &Result{NodeErrors: pr.NodeErrors}
	if len(pr.Error) > 0 {
		var d Diagnostic
		if err := json.Unmarshal(pr.Error, &d); err == nil {
			res.Error = &d
		} else {
			var s string
			_ = json.Unmarshal(pr.Error, &s)
			res.Error = &Diagnostic{Type: "error", Message: s}
		}
	}
	if json.Valid(raw) {
		res.Raw = append(json.RawMessage(nil), raw...)
	}
	return res
}

func mustQuote(data []byte) []byte {
	q, _ := json.Marshal(string(data))
	return q
}

func outcomeOf(res *Result, err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case err != nil:
		return "unavailable"
	case res.Success:
		return "success"
	default:
		return "invalid"
	}
}

func (g *HTTPGateway) record(outcome string, d time.Duration) {
	if g.recorder != nil {
		g.recorder.RecordGatewayRequest(outcome, d)
	}
}
