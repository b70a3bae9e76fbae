// ScriptedGateway 校验网关的测试替身实现。
//
// 按脚本依次返回校验结果或错误，脚本用尽后重复最后一步。
package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/graphrepair/gateway"
	"github.com/BaSui01/graphrepair/graph"
)

// --- 脚本步骤 ---

// Step 是网关的一次应答
type Step struct {
	Result *gateway.Result
	Err    error
	Delay  time.Duration
}

// Pass 返回校验通过的步骤
func Pass() Step {
	return Step{Result: &gateway.Result{Success: true, PromptID: "mock-prompt"}}
}

// Reject 返回给定的失败结果
func Reject(res *gateway.Result) Step {
	return Step{Result: res}
}

// Error 返回基础设施错误（如 gateway.ErrTimeout）
func Error(err error) Step {
	return Step{Err: err}
}

// MissingInput 模拟某个节点缺少必需输入
func MissingInput(nodeID, classType, input string) Step {
	return Reject(&gateway.Result{
		Error: &gateway.Diagnostic{Type: "prompt_outputs_failed_validation", Message: "Prompt outputs failed validation"},
		NodeErrors: map[string]gateway.NodeError{
			nodeID: {
				ClassType: classType,
				Errors: []gateway.Diagnostic{{
					Type:      "required_input_missing",
					Message:   "Required input is missing",
					Details:   input,
					ExtraInfo: map[string]any{"input_name": input},
				}},
			},
		},
	})
}

// ValueNotInList 模拟枚举参数取值不在可选列表中
func ValueNotInList(nodeID, classType, input string, received any, options ...string) Step {
	opts := make([]any, len(options))
	for i, o := range options {
		opts[i] = o
	}
	return Reject(&gateway.Result{
		Error: &gateway.Diagnostic{Type: "prompt_outputs_failed_validation", Message: "Prompt outputs failed validation"},
		NodeErrors: map[string]gateway.NodeError{
			nodeID: {
				ClassType: classType,
				Errors: []gateway.Diagnostic{{
					Type:    "value_not_in_list",
					Message: "Value not in list",
					ExtraInfo: map[string]any{
						"input_name":     input,
						"received_value": received,
						"input_config":   []any{opts, map[string]any{}},
					},
				}},
			},
		},
	})
}

// RawFailure 模拟只有原始文本的失败
func RawFailure(text string) Step {
	raw, _ := json.Marshal(text)
	return Reject(&gateway.Result{Raw: raw})
}

// --- ScriptedGateway ---

// ScriptedGateway 按脚本应答的网关替身
type ScriptedGateway struct {
	mu    sync.Mutex
	steps []Step
	next  int
	calls []Call
	hook  func(call int, g graph.Graph)
}

// Call 记录一次提交
type Call struct {
	Graph         graph.Graph
	CorrelationID string
}

// NewScriptedGateway 创建空脚本的网关，未配置步骤时始终通过
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{}
}

// Then 追加脚本步骤
func (g *ScriptedGateway) Then(steps ...Step) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps = append(g.steps, steps...)
	return g
}

// Repeat 追加 n 次相同步骤
func (g *ScriptedGateway) Repeat(n int, step Step) *ScriptedGateway {
	for i := 0; i < n; i++ {
		g.Then(step)
	}
	return g
}

// OnCall 注册每次调用时的回调（在应答前执行）
func (g *ScriptedGateway) OnCall(fn func(call int, g graph.Graph)) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hook = fn
	return g
}

// Validate 实现 gateway.Gateway
func (g *ScriptedGateway) Validate(ctx context.Context, gr graph.Graph, correlationID string) (*gateway.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, Call{Graph: gr.Clone(), CorrelationID: correlationID})
	n := len(g.calls)
	step := Pass()
	if len(g.steps) > 0 {
		idx := g.next
		if idx >= len(g.steps) {
			idx = len(g.steps) - 1
		} else {
			g.next++
		}
		step = g.steps[idx]
	}
	hook := g.hook
	g.mu.Unlock()

	if hook != nil {
		hook(n, gr)
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}

// Calls 返回所有调用记录
func (g *ScriptedGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount 返回调用次数
func (g *ScriptedGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// LastGraph 返回最后一次提交的图
func (g *ScriptedGateway) LastGraph() graph.Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1].Graph
}
