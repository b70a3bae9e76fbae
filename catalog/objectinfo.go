package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// objectInfoEntry mirrors one entry of the backend's object_info payload.
type objectInfoEntry struct {
	Input struct {
		Required json.RawMessage `json:"required"`
		Optional json.RawMessage `json:"optional"`
	} `json:"input"`
	Output      []json.RawMessage `json:"output"`
	OutputName  []string          `json:"output_name"`
	DisplayName string            `json:"display_name"`
	Category    string            `json:"category"`
}

// ParseObjectInfo decodes an object_info payload ({class: entry, ...}).
// Input declaration order is preserved.
func ParseObjectInfo(data []byte) (map[string]*NodeTypeSpec, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode object_info: %w", err)
	}
	specs := make(map[string]*NodeTypeSpec, len(raw))
	for name, body := range raw {
		spec, err := parseEntry(name, body)
		if err != nil {
			return nil, err
		}
		specs[name] = spec
	}
	return specs, nil
}

func parseEntry(name string, body json.RawMessage) (*NodeTypeSpec, error) {
	var entry objectInfoEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("decode node type %s: %w", name, err)
	}
	spec := &NodeTypeSpec{
		Name:        name,
		DisplayName: entry.DisplayName,
		Category:    entry.Category,
		OutputNames: entry.OutputName,
	}

	var err error
	if spec.Required, err = parseInputs(entry.Input.Required); err != nil {
		return nil, fmt.Errorf("node type %s required inputs: %w", name, err)
	}
	if spec.Optional, err = parseInputs(entry.Input.Optional); err != nil {
		return nil, fmt.Errorf("node type %s optional inputs: %w", name, err)
	}

	for i, out := range entry.Output {
		c, _, err := parseDeclaredType(out)
		if err != nil {
			return nil, fmt.Errorf("node type %s output %d: %w", name, i, err)
		}
		spec.Outputs = append(spec.Outputs, c)
	}
	return spec, nil
}

// parseInputs walks a JSON object in document order.
func parseInputs(data json.RawMessage) ([]InputSpec, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var inputs []InputSpec
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected input name, got %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("input %s: %w", key, err)
		}
		in, err := parseInput(key, value)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// parseInput handles the [type, config] tuple form.
func parseInput(name string, value json.RawMessage) (InputSpec, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(value, &tuple); err != nil || len(tuple) == 0 {
		// a bare type string is accepted as well
		c, opts, perr := parseDeclaredType(value)
		if perr != nil {
			return InputSpec{}, fmt.Errorf("input %s: %w", name, perr)
		}
		return InputSpec{Name: name, Types: c, Options: opts}, nil
	}

	c, opts, err := parseDeclaredType(tuple[0])
	if err != nil {
		return InputSpec{}, fmt.Errorf("input %s: %w", name, err)
	}
	in := InputSpec{Name: name, Types: c, Options: opts}

	if len(tuple) > 1 {
		var cfg map[string]any
		if json.Unmarshal(tuple[1], &cfg) == nil {
			in.Default = cfg["default"]
			if len(in.Options) == 0 {
				if list, ok := cfg["options"].([]any); ok {
					in.Options = stringList(list)
					in.Types = TypeConstraint{ComboType}
				}
			}
		}
	}
	return in, nil
}

// parseDeclaredType accepts either a type string or a list of enum options.
func parseDeclaredType(raw json.RawMessage) (TypeConstraint, []string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseConstraint(s), nil, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		return TypeConstraint{ComboType}, stringList(list), nil
	}
	return nil, nil, fmt.Errorf("unsupported type declaration %s", string(raw))
}

func stringList(list []any) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}
