package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	defaultSummarizeModel = "claude-3-5-haiku-latest"
	summarizeMaxTokens    = 1024
)

var _ flowkit.Handler = (*SummarizeHandler)(nil)

// SummarizeHandler serves "logic:ai_summarizer" nodes: summarizes the
// selected text, or the whole merged input, with the Anthropic API.
type SummarizeHandler struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
}

func NewSummarizeHandler(opts Options) *SummarizeHandler {
	baseURL := opts.AnthropicBaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	model := opts.AnthropicModel
	if model == "" {
		model = defaultSummarizeModel
	}
	return &SummarizeHandler{
		client:  opts.client(),
		apiKey:  opts.AnthropicAPIKey,
		baseURL: baseURL,
		model:   model,
	}
}

func (h *SummarizeHandler) Type() string {
	return "logic:ai_summarizer"
}

func (h *SummarizeHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	var cfg flowkit.SummarizeConfig
	if err := flowkit.DecodeConfig(config, &cfg); err != nil {
		return nil, flowkit.NewConfigError("ai_summarizer node: malformed config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if h.apiKey == "" {
		return nil, flowkit.NewConfigError("anthropic API key not configured")
	}

	text := flowkit.RenderTemplate(cfg.Text, input)
	if text == "" {
		serialized, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize input: %w", err)
		}
		text = string(serialized)
	}

	payload, err := json.Marshal(map[string]any{
		"model":      h.model,
		"max_tokens": summarizeMaxTokens,
		"messages": []map[string]any{
			{
				"role":    "user",
				"content": fmt.Sprintf("%s\n\n%s", cfg.Prompt, text),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", h.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, flowkit.NewTransportError("failed to call anthropic API: %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, flowkit.NewTransportError("failed to call anthropic API: status %d", resp.StatusCode)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, flowkit.NewTransportError("failed to decode anthropic response: %s", err.Error())
	}
	summary := ""
	if len(result.Content) > 0 {
		summary = result.Content[0].Text
	}

	return map[string]any{
		"summary": summary,
		"model":   h.model,
	}, nil
}
