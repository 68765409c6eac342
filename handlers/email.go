package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
)

const resendBaseURL = "https://api.resend.com"

var _ flowkit.Handler = (*EmailHandler)(nil)

// EmailHandler serves "action:email" nodes via the Resend API. Subject
// and body are rendered against the merged input before sending.
type EmailHandler struct {
	client  *http.Client
	apiKey  string
	baseURL string
	from    string
}

func NewEmailHandler(opts Options) *EmailHandler {
	baseURL := opts.ResendBaseURL
	if baseURL == "" {
		baseURL = resendBaseURL
	}
	from := opts.EmailFrom
	if from == "" {
		from = "workflows@flowkit.dev"
	}
	return &EmailHandler{
		client:  opts.client(),
		apiKey:  opts.ResendAPIKey,
		baseURL: baseURL,
		from:    from,
	}
}

func (h *EmailHandler) Type() string {
	return "action:email"
}

func (h *EmailHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	var cfg flowkit.EmailConfig
	if err := flowkit.DecodeConfig(config, &cfg); err != nil {
		return nil, flowkit.NewConfigError("email node: malformed config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if h.apiKey == "" {
		return nil, flowkit.NewConfigError("email API key not configured")
	}

	from := cfg.From
	if from == "" {
		from = h.from
	}
	subject := flowkit.RenderTemplate(cfg.Subject, input)
	body := flowkit.RenderTemplate(cfg.Body, input)

	payload, err := json.Marshal(map[string]any{
		"from":    from,
		"to":      []string{cfg.To},
		"subject": subject,
		"text":    body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, flowkit.NewTransportError("failed to send email: %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, flowkit.NewTransportError("failed to send email: status %d", resp.StatusCode)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, flowkit.NewTransportError("failed to decode email response: %s", err.Error())
	}

	return map[string]any{
		"email_id": result.ID,
		"sent_to":  cfg.To,
		"subject":  subject,
		"sent_at":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}
