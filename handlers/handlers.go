// Package handlers provides the built-in node handlers: triggers, data
// sources, actions, and logic steps. Handlers are stateless; per-run
// state arrives through the run context and the merged input, and any
// string-valued config field may carry {{path}} template placeholders
// resolved against the input.
package handlers

import (
	"net/http"
	"time"

	"github.com/flowkit-dev/flowkit"
)

// Options configures the built-in handlers. Base URLs exist so tests
// can point a handler at a local server; empty values select the real
// provider endpoints.
type Options struct {
	HTTPClient *http.Client

	WeatherAPIKey  string
	WeatherBaseURL string

	GitHubBaseURL string

	ResendAPIKey  string
	ResendBaseURL string
	EmailFrom     string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// DefaultHandlers returns every built-in handler, ready to hand to a
// registry.
func DefaultHandlers(opts Options) []flowkit.Handler {
	return []flowkit.Handler{
		NewScheduleTriggerHandler(),
		NewWebhookTriggerHandler(),
		NewWeatherHandler(opts),
		NewGitHubHandler(opts),
		NewEmailHandler(opts),
		NewHTTPRequestHandler(opts),
		NewTransformHandler(),
		NewSummarizeHandler(opts),
		NewScriptHandler(),
	}
}
