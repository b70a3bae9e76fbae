package repair

import (
	"context"
	"fmt"

	"github.com/BaSui01/graphrepair/analyzer"
	"github.com/BaSui01/graphrepair/internal/ctxkeys"
)

// Narrator turns events into human-readable text deltas. It is the hook for
// an external reasoning service; the default renders fixed templates.
type Narrator interface {
	Narrate(ctx context.Context, ev Event) (string, error)
}

// NarratorFunc adapts a function to Narrator.
type NarratorFunc func(ctx context.Context, ev Event) (string, error)

// Narrate implements Narrator.
func (f NarratorFunc) Narrate(ctx context.Context, ev Event) (string, error) { return f(ctx, ev) }

type phrasebook struct {
	validating string
	valid      string
	invalid    string
	handoff    string
	toolCall   string
	toolResult string
	analysis   string
	fixApplied string
	action     string
	checkpoint string
	complete   string
}

var phrasebooks = map[string]phrasebook{
	"en": {
		validating: "Validating workflow (iteration %d)...\n\n",
		valid:      "Workflow validation successful.\n\n",
		invalid:    "Validation failed: %s on nodes %v.\n\n",
		handoff:    "▸ **Switching to %s repair** (%s)\n\n",
		toolCall:   "⚙ *%s repair is using %s...*\n\n",
		toolResult: "● *Tool execution completed*\n\n```\n%s\n```\n\n",
		analysis:   "Connection analysis: %d missing inputs, %d auto-fixable, %d need new nodes.\n\n",
		fixApplied: "Fixes applied: %d changed, %d failed (version %d).\n\n",
		action:     "Action required: %s\n\n",
		checkpoint: "Checkpoint %d saved (%s).\n\n",
		complete:   "Repair finished: %s after %d iterations.\n\n",
	},
	"zh": {
		validating: "正在校验工作流（第 %d 轮）...\n\n",
		valid:      "工作流校验通过。\n\n",
		invalid:    "校验失败：%s，涉及节点 %v。\n\n",
		handoff:    "▸ **切换到 %s 修复**（%s）\n\n",
		toolCall:   "⚙ *%s 修复正在调用 %s...*\n\n",
		toolResult: "● *工具执行完成*\n\n```\n%s\n```\n\n",
		analysis:   "连接分析：缺失 %d 个输入，可自动修复 %d 个，需新增节点 %d 个。\n\n",
		fixApplied: "已应用修复：变更 %d 项，失败 %d 项（版本 %d）。\n\n",
		action:     "需要人工处理：%s\n\n",
		checkpoint: "已保存检查点 %d（%s）。\n\n",
		complete:   "修复结束：%s，共 %d 轮。\n\n",
	},
}

// TemplateNarrator renders events with fixed per-locale templates. The locale
// comes from the context and falls back to English.
type TemplateNarrator struct{}

// Narrate implements Narrator.
func (TemplateNarrator) Narrate(ctx context.Context, ev Event) (string, error) {
	pb, ok := phrasebooks[ctxkeys.Locale(ctx)]
	if !ok {
		pb = phrasebooks["en"]
	}

	switch p := ev.Payload.(type) {
	case StatePayload:
		if p.To == StateValidate {
			return fmt.Sprintf(pb.validating, ev.Iteration), nil
		}
		return "", nil
	case ValidationPayload:
		if p.Success {
			return pb.valid, nil
		}
		return fmt.Sprintf(pb.invalid, p.Classification.Category, p.Classification.AffectedNodes), nil
	case HandoffPayload:
		return fmt.Sprintf(pb.handoff, p.To, p.Reason), nil
	case ToolPayload:
		if ev.Kind == EventToolCall {
			return fmt.Sprintf(pb.toolCall, ev.Strategy, p.Tool), nil
		}
		return fmt.Sprintf(pb.toolResult, truncate(p.Preview, 200)), nil
	case FixPayload:
		changed := 0
		for _, d := range p.Applied {
			if !d.NoOp {
				changed++
			}
		}
		return fmt.Sprintf(pb.fixApplied, changed, len(p.Failed), p.VersionID), nil
	case *ExternalAction:
		return fmt.Sprintf(pb.action, p.Message), nil
	case CheckpointPayload:
		return fmt.Sprintf(pb.checkpoint, p.CheckpointID, p.CheckpointType), nil
	case MessagePayload:
		return p.Message + "\n\n", nil
	case *analyzer.Result:
		return fmt.Sprintf(pb.analysis, p.Summary.TotalMissing, p.Summary.AutoFixable, p.Summary.RequiresNewNodes), nil
	case *Summary:
		return fmt.Sprintf(pb.complete, p.Status, p.Iterations), nil
	}
	return "", nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
