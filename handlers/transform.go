package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
)

var _ flowkit.Handler = (*TransformHandler)(nil)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// TransformHandler serves "logic:transform" nodes: simple in-process
// transformations of a single input field.
type TransformHandler struct{}

func NewTransformHandler() *TransformHandler {
	return &TransformHandler{}
}

func (h *TransformHandler) Type() string {
	return "logic:transform"
}

func (h *TransformHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	var cfg flowkit.TransformConfig
	if err := flowkit.DecodeConfig(config, &cfg); err != nil {
		return nil, flowkit.NewConfigError("transform node: malformed config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	value, ok := input[cfg.Field]
	if !ok {
		return nil, flowkit.NewConfigError("transform node: field %q not present in input", cfg.Field)
	}
	text := stringifyValue(value)

	var result any
	switch cfg.TransformType {
	case "uppercase":
		result = strings.ToUpper(text)
	case "lowercase":
		result = strings.ToLower(text)
	case "extract_number":
		match := numberPattern.FindString(text)
		if match == "" {
			return nil, flowkit.NewConfigError("transform node: no number found in field %q", cfg.Field)
		}
		number, err := strconv.ParseFloat(match, 64)
		if err != nil {
			return nil, flowkit.NewConfigError("transform node: %s", err.Error())
		}
		result = number
	}

	return map[string]any{
		"result": result,
		"field":  cfg.Field,
	}, nil
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
