package analyzer

import (
	"sort"

	"github.com/BaSui01/graphrepair/catalog"
)

// providers lists the usual node types for common type tags, in preference
// order.
var providers = map[string][]string{
	"MODEL":        {"CheckpointLoaderSimple", "CheckpointLoader", "UNETLoader"},
	"CLIP":         {"CheckpointLoaderSimple", "CheckpointLoader", "CLIPLoader"},
	"VAE":          {"CheckpointLoaderSimple", "CheckpointLoader", "VAELoader"},
	"CONDITIONING": {"CLIPTextEncode"},
	"LATENT":       {"EmptyLatentImage", "VAEEncode"},
	"IMAGE":        {"LoadImage", "VAEDecode"},
	"MASK":         {"LoadImageMask"},
	"CONTROL_NET":  {"ControlNetLoader"},
	"LORA":         {"LoraLoader"},
	"IPADAPTER":    {"IPAdapterModelLoader"},
}

// SuggestNodeTypes lists node types that could feed an input of the given
// types. Known providers present in the catalog come first with high
// confidence; when none apply, every catalog type declaring a matching output
// is suggested with medium confidence, sorted by name. Each class appears once.
func SuggestNodeTypes(expected catalog.TypeConstraint, specs map[string]*catalog.NodeTypeSpec) []NodeTypeSuggestion {
	out := []NodeTypeSuggestion{}
	seen := map[string]int{}

	add := func(s NodeTypeSuggestion) {
		if i, ok := seen[s.ClassType]; ok {
			if out[i].Confidence == Medium && s.Confidence == High {
				out[i] = s
			}
			return
		}
		seen[s.ClassType] = len(out)
		out = append(out, s)
	}

	for _, tag := range expected {
		var static []NodeTypeSuggestion
		for _, class := range providers[tag] {
			spec, ok := specs[class]
			if !ok {
				continue
			}
			idx := outputIndexOf(spec, tag)
			if idx < 0 {
				continue
			}
			static = append(static, NodeTypeSuggestion{ClassType: class, OutputType: tag, OutputIndex: idx, Confidence: High})
		}
		if len(static) > 0 {
			for _, s := range static {
				add(s)
			}
			continue
		}

		names := make([]string, 0, len(specs))
		for name := range specs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if idx := outputIndexOf(specs[name], tag); idx >= 0 {
				add(NodeTypeSuggestion{ClassType: name, OutputType: tag, OutputIndex: idx, Confidence: Medium})
			}
		}
	}
	return out
}

func outputIndexOf(spec *catalog.NodeTypeSpec, tag string) int {
	for i, out := range spec.Outputs {
		if out.Contains(tag) {
			return i
		}
	}
	return -1
}
