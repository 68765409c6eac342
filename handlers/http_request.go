package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
)

var _ flowkit.Handler = (*HTTPRequestHandler)(nil)

// HTTPRequestHandler serves "action:http_request" nodes: an arbitrary
// HTTP call with templated URL, headers, and JSON body.
type HTTPRequestHandler struct {
	client *http.Client
}

func NewHTTPRequestHandler(opts Options) *HTTPRequestHandler {
	return &HTTPRequestHandler{client: opts.client()}
}

func (h *HTTPRequestHandler) Type() string {
	return "action:http_request"
}

func (h *HTTPRequestHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	var cfg flowkit.HTTPRequestConfig
	if err := flowkit.DecodeConfig(flowkit.RenderConfig(config, input), &cfg); err != nil {
		return nil, flowkit.NewConfigError("http_request node: malformed config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(cfg.Body) > 0 {
		payload, err := json.Marshal(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, flowkit.NewConfigError("http_request node: invalid request: %s", err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, flowkit.NewTransportError("http request failed: %s", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, flowkit.NewTransportError("failed to read response body: %s", err.Error())
	}

	// Responses that are not JSON pass through as a plain string.
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}

	return map[string]any{
		"status": resp.StatusCode,
		"url":    cfg.URL,
		"data":   data,
	}, nil
}
