package repair

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/gateway"
)

var (
	imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".webp"}
	imageInputNames = []string{"image", "img", "picture", "photo"}
	imageErrorHints = []string{"invalid image", "image file", "image not found"}

	modelValueHints = []string{".ckpt", ".safetensors", ".pt", ".pth", ".bin", "checkpoint", "lora", "vae", "controlnet", "clip", "unet"}
	modelInputHints = []string{"model", "ckpt", "checkpoint", "lora", "vae", "clip", "controlnet", "unet"}
	modelErrorHints = []string{"model not found", "missing model", "file not found"}
)

// modelFolder describes where a model family is installed.
type modelFolder struct {
	kind   string
	hints  []string
	folder string
	common []string
}

// modelFolders is checked in order; the first entry whose hint matches wins
// and checkpoints are the fallback.
var modelFolders = []modelFolder{
	{"lora", []string{"lora"}, "models/loras", []string{"lcm-lora-sdxl.safetensors", "detail-tweaker-xl.safetensors"}},
	{"controlnet", []string{"controlnet", "control_"}, "models/controlnet", []string{"control_v11p_sd15_canny.pth", "control_v11p_sd15_openpose.pth", "diffusers_xl_canny_mid.safetensors"}},
	{"vae", []string{"vae"}, "models/vae", []string{"vae-ft-mse-840000-ema-pruned.safetensors", "sdxl_vae.safetensors"}},
	{"clip", []string{"clip", "t5xxl"}, "models/clip", []string{"clip_l.safetensors", "t5xxl_fp16.safetensors"}},
	{"unet", []string{"unet", "flux1"}, "models/unet", []string{"flux1-dev.safetensors", "flux1-schnell.safetensors"}},
	{"upscale", []string{"upscale", "esrgan"}, "models/upscale_models", []string{"RealESRGAN_x4plus.pth", "4x-UltraSharp.pth"}},
	{"embedding", []string{"embedding", "textual_inversion"}, "models/embeddings", []string{"EasyNegative.safetensors"}},
	{"ipadapter", []string{"ipadapter", "ip-adapter"}, "models/ipadapter", []string{"ip-adapter_sd15.safetensors"}},
}

var checkpointFolder = modelFolder{
	kind:   "checkpoint",
	folder: "models/checkpoints",
	common: []string{"sd_xl_base_1.0.safetensors", "v1-5-pruned-emaonly.safetensors", "sd_xl_refiner_1.0.safetensors"},
}

// MatchType tells how a replacement value was chosen.
type MatchType string

const (
	MatchExact           MatchType = "exact"
	MatchCaseInsensitive MatchType = "case_insensitive"
	MatchPartial         MatchType = "partial"
	MatchDefault         MatchType = "default"
	MatchImage           MatchType = "image_replacement"
)

// Resolution is the parameter strategy's decision for one failing input.
type Resolution struct {
	NodeID string          `json:"node_id"`
	Input  string          `json:"input"`
	Value  any             `json:"value,omitempty"`
	Match  MatchType       `json:"match_type,omitempty"`
	Action *ExternalAction `json:"action,omitempty"`
}

// ParameterStrategy replaces invalid literal inputs with valid catalog
// options and flags assets that have to be supplied by a human.
type ParameterStrategy struct {
	catalog catalog.TypeCatalog
	applier *fixer.Applier
}

// NewParameterStrategy creates the parameter strategy.
func NewParameterStrategy(cat catalog.TypeCatalog, applier *fixer.Applier) *ParameterStrategy {
	return &ParameterStrategy{catalog: cat, applier: applier}
}

// Kind implements Strategy.
func (s *ParameterStrategy) Kind() StrategyKind { return StrategyParameter }

// Repair implements Strategy.
func (s *ParameterStrategy) Repair(ctx context.Context, in Input) (*Outcome, error) {
	if in.Verdict == nil {
		return &Outcome{Message: "no diagnostics"}, nil
	}

	var updates []fixer.ParameterUpdate
	var actions []ExternalAction
	for _, id := range in.Verdict.NodeIDs() {
		node, ok := in.Graph[id]
		if !ok {
			continue
		}
		for _, d := range in.Verdict.NodeErrors[id].Errors {
			name := d.InputName()
			if name == "" {
				continue
			}
			current, present := node.Inputs[name]
			if present && current.IsEdge() {
				continue
			}

			var spec *catalog.InputSpec
			nodeSpec, err := s.catalog.GetOne(ctx, node.ClassType)
			switch {
			case err == nil:
				if is, _, ok := nodeSpec.Input(name); ok {
					spec = &is
				}
			case !errors.Is(err, catalog.ErrNotFound):
				return nil, fmt.Errorf("load node type %s: %w", node.ClassType, err)
			}
			// 连线输入由连接策略处理
			if spec != nil && !spec.IsWidget() {
				continue
			}

			value := ""
			if present {
				value = fmt.Sprint(current.Value)
			} else if v, ok := d.ReceivedValue(); ok {
				value = fmt.Sprint(v)
			}
			// 缺失且无取值时没有可修正的参数
			if !present && value == "" {
				continue
			}

			in.emit(EventToolCall, StrategyParameter, ToolPayload{Tool: "find_matching_parameter_value"})
			r := ResolveParameter(id, name, value, spec, d)
			in.emit(EventToolResult, StrategyParameter, ToolPayload{Tool: "find_matching_parameter_value", Preview: previewResolution(r)})

			if r.Action != nil {
				actions = append(actions, *r.Action)
				in.emit(EventExternalAction, StrategyParameter, r.Action)
				continue
			}
			updates = append(updates, fixer.ParameterUpdate{NodeID: id, Input: name, Value: r.Value})
		}
	}

	out := &Outcome{Actions: actions, Message: fmt.Sprintf("%d parameters resolved, %d need attention", len(updates), len(actions))}
	if len(updates) == 0 {
		return out, nil
	}

	in.emit(EventToolCall, StrategyParameter, ToolPayload{Tool: "update_workflow_parameter"})
	applied, err := s.applier.UpdateParameters(ctx, in.SessionID, updates)
	if err != nil {
		return nil, err
	}
	res := outcomeFrom(applied, out.Message)
	res.Actions = actions
	return res, nil
}

// ResolveParameter decides how to repair one failing literal input. Image
// inputs are checked before model inputs since image names often contain
// model keywords.
func ResolveParameter(nodeID, input, value string, spec *catalog.InputSpec, d gateway.Diagnostic) Resolution {
	r := Resolution{NodeID: nodeID, Input: input}
	lowerValue := strings.ToLower(value)
	lowerInput := strings.ToLower(input)
	lowerErr := strings.ToLower(d.Message + " " + d.Details)

	options := d.Options()
	if spec != nil && spec.IsEnum() {
		options = spec.Options
	}

	switch {
	case containsAny(lowerValue, imageExtensions) || contains(imageInputNames, lowerInput) || containsAny(lowerErr, imageErrorHints):
		var images []string
		for _, o := range options {
			if containsAny(strings.ToLower(o), imageExtensions) {
				images = append(images, o)
			}
		}
		if len(images) == 0 {
			r.Action = &ExternalAction{
				Kind: ActionManualFix, NodeID: nodeID, Input: input, Value: value,
				Message: fmt.Sprintf("Missing image file: %s. Add an image to the input folder or choose an existing one.", value),
			}
			return r
		}
		sort.Strings(images)
		r.Value, r.Match = images[0], MatchImage
		return r

	case containsAny(lowerValue, modelValueHints) || containsAny(lowerInput, modelInputHints) || containsAny(lowerErr, modelErrorHints):
		if v, m, ok := closeMatch(value, options); ok {
			r.Value, r.Match = v, m
			return r
		}
		f := detectModelFolder(lowerValue + " " + lowerInput)
		r.Action = &ExternalAction{
			Kind: ActionDownloadRequired, NodeID: nodeID, Input: input, Value: value,
			Message:      fmt.Sprintf("Missing %s model: %s", f.kind, value),
			Folder:       f.folder,
			ModelType:    f.kind,
			CommonModels: f.common,
		}
		return r

	case len(options) > 0:
		r.Value, r.Match = MatchOption(value, options)
		return r

	default:
		r.Action = &ExternalAction{
			Kind: ActionManualFix, NodeID: nodeID, Input: input, Value: value,
			Message: fmt.Sprintf("Parameter '%s' is not an enumerable type and requires manual configuration", input),
		}
		return r
	}
}

// MatchOption picks a replacement for value among options: exact match, then
// a case and separator insensitive match, then the best token overlap, then
// the first option.
func MatchOption(value string, options []string) (string, MatchType) {
	if len(options) == 0 {
		return value, MatchDefault
	}
	if v, m, ok := closeMatch(value, options); ok {
		return v, m
	}

	current := strings.Fields(normalizeOption(value))
	best, bestScore := "", 0
	for _, o := range options {
		parts := strings.Fields(normalizeOption(o))
		score := 0
		for _, p := range current {
			for _, vp := range parts {
				if strings.Contains(vp, p) || strings.Contains(p, vp) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best, bestScore = o, score
		}
	}
	if bestScore > 0 {
		return best, MatchPartial
	}
	return options[0], MatchDefault
}

func closeMatch(value string, options []string) (string, MatchType, bool) {
	for _, o := range options {
		if o == value {
			return o, MatchExact, true
		}
	}
	norm := normalizeOption(value)
	for _, o := range options {
		if normalizeOption(o) == norm {
			return o, MatchCaseInsensitive, true
		}
	}
	return "", "", false
}

func normalizeOption(s string) string {
	return strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(s))
}

func detectModelFolder(hint string) modelFolder {
	for _, f := range modelFolders {
		if containsAny(hint, f.hints) {
			return f
		}
	}
	return checkpointFolder
}

func previewResolution(r Resolution) string {
	if r.Action != nil {
		return string(r.Action.Kind) + ": " + r.Action.Message
	}
	return fmt.Sprintf("%s.%s -> %v (%s)", r.NodeID, r.Input, r.Value, r.Match)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
