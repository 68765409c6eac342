package handlers

import (
	"context"

	"github.com/flowkit-dev/flowkit"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/object"
)

var _ flowkit.Handler = (*ScriptHandler)(nil)

// ScriptHandler serves "logic:script" nodes: a Risor script evaluated
// with the merged input bound to the "input" global. A map result
// becomes the node output directly; any other value is wrapped under
// "result".
type ScriptHandler struct{}

func NewScriptHandler() *ScriptHandler {
	return &ScriptHandler{}
}

func (h *ScriptHandler) Type() string {
	return "logic:script"
}

func (h *ScriptHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	var cfg flowkit.ScriptConfig
	if err := flowkit.DecodeConfig(config, &cfg); err != nil {
		return nil, flowkit.NewConfigError("script node: malformed config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	value, err := risor.Eval(ctx, cfg.Code, risor.WithGlobals(map[string]any{
		"input": input,
	}))
	if err != nil {
		return nil, flowkit.NewConfigError("script evaluation failed: %s", err.Error())
	}

	result := risorValueToGo(value)
	if output, ok := result.(map[string]any); ok {
		return output, nil
	}
	return map[string]any{"result": result}, nil
}

func risorValueToGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		result := make([]any, 0, len(o.Value()))
		for _, item := range o.Value() {
			result = append(result, risorValueToGo(item))
		}
		return result
	case *object.Map:
		result := make(map[string]any, len(o.Value()))
		for key, value := range o.Value() {
			result[key] = risorValueToGo(value)
		}
		return result
	default:
		return obj.Inspect()
	}
}
