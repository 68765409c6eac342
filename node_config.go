package flowkit

import (
	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"
)

// Node config schemas, one per node type. A node's config is stored as
// an untyped mapping; these structs give each type a validated shape so
// bad configs are rejected at load or enqueue time instead of deep
// inside a handler mid-run.

// ScheduleTriggerConfig configures a "trigger:schedule" node.
type ScheduleTriggerConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `json:"schedule"`
}

// Validate checks the cron expression parses.
func (c *ScheduleTriggerConfig) Validate() error {
	if c.Schedule == "" {
		return NewConfigError("schedule trigger requires a cron expression")
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return NewConfigError("invalid cron expression %q: %s", c.Schedule, err.Error())
	}
	return nil
}

// WebhookTriggerConfig configures a "trigger:webhook" node. Webhook
// token management lives outside this subsystem, so there is nothing
// to validate.
type WebhookTriggerConfig struct {
	Path string `json:"path,omitempty"`
}

func (c *WebhookTriggerConfig) Validate() error { return nil }

// WeatherConfig configures a "data:weather" node.
type WeatherConfig struct {
	City  string `json:"city"`
	Units string `json:"units,omitempty"`
}

func (c *WeatherConfig) Validate() error {
	if c.City == "" {
		return NewConfigError("weather node requires a city")
	}
	switch c.Units {
	case "", "metric", "imperial", "standard":
		return nil
	}
	return NewConfigError("weather node: unknown units %q", c.Units)
}

// GitHubConfig configures a "data:github" node.
type GitHubConfig struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	DataType string `json:"data_type,omitempty"`
}

func (c *GitHubConfig) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return NewConfigError("github node requires owner and repo")
	}
	switch c.DataType {
	case "", "commits", "issues", "prs":
		return nil
	}
	return NewConfigError("github node: unknown data type %q", c.DataType)
}

// EmailConfig configures an "action:email" node. Subject and Body may
// contain {{path}} template placeholders.
type EmailConfig struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
}

func (c *EmailConfig) Validate() error {
	if c.To == "" {
		return NewConfigError("email node requires a recipient")
	}
	if c.Subject == "" && c.Body == "" {
		return NewConfigError("email node requires a subject or body")
	}
	return nil
}

// HTTPRequestConfig configures an "action:http_request" node.
type HTTPRequestConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

func (c *HTTPRequestConfig) Validate() error {
	if c.URL == "" {
		return NewConfigError("http_request node requires a URL")
	}
	return nil
}

// TransformConfig configures a "logic:transform" node.
type TransformConfig struct {
	TransformType string `json:"transform_type"`
	Field         string `json:"field"`
}

func (c *TransformConfig) Validate() error {
	switch c.TransformType {
	case "uppercase", "lowercase", "extract_number":
	default:
		return NewConfigError("transform node: unknown transform type %q", c.TransformType)
	}
	if c.Field == "" {
		return NewConfigError("transform node requires a field")
	}
	return nil
}

// SummarizeConfig configures a "logic:ai_summarizer" node.
type SummarizeConfig struct {
	Prompt string `json:"prompt"`
	// Text selects what to summarize; when empty the whole merged
	// input is serialized and used.
	Text string `json:"text,omitempty"`
}

func (c *SummarizeConfig) Validate() error {
	if c.Prompt == "" {
		return NewConfigError("ai_summarizer node requires a prompt")
	}
	return nil
}

// ScriptConfig configures a "logic:script" node.
type ScriptConfig struct {
	Code string `json:"code"`
}

func (c *ScriptConfig) Validate() error {
	if c.Code == "" {
		return NewConfigError("script node requires code")
	}
	return nil
}

// nodeConfigValidator is implemented by every typed config schema.
type nodeConfigValidator interface {
	Validate() error
}

// nodeConfigSchemas maps node types to their config schema. Types not
// listed here carry free-form configs and are validated by their
// handler at execution time.
var nodeConfigSchemas = map[string]func() nodeConfigValidator{
	"trigger:schedule":    func() nodeConfigValidator { return &ScheduleTriggerConfig{} },
	"trigger:webhook":     func() nodeConfigValidator { return &WebhookTriggerConfig{} },
	"data:weather":        func() nodeConfigValidator { return &WeatherConfig{} },
	"data:github":         func() nodeConfigValidator { return &GitHubConfig{} },
	"action:email":        func() nodeConfigValidator { return &EmailConfig{} },
	"action:http_request": func() nodeConfigValidator { return &HTTPRequestConfig{} },
	"logic:transform":     func() nodeConfigValidator { return &TransformConfig{} },
	"logic:ai_summarizer": func() nodeConfigValidator { return &SummarizeConfig{} },
	"logic:script":        func() nodeConfigValidator { return &ScriptConfig{} },
}

// ValidateNodeConfig decodes a node's config against the schema for
// its type and validates it. Unknown node types pass through; the
// registry decides at execution time whether they are supported.
func ValidateNodeConfig(node *Node) error {
	newSchema, ok := nodeConfigSchemas[node.Type]
	if !ok {
		return nil
	}
	schema := newSchema()
	if err := DecodeConfig(node.Config, schema); err != nil {
		return NewConfigError("node %q: malformed config: %s", node.ID, err.Error())
	}
	if err := schema.Validate(); err != nil {
		return NewConfigError("node %q: %s", node.ID, err.Error())
	}
	return nil
}

// DecodeConfig decodes an untyped config mapping into a typed schema
// via a JSON round-trip.
func DecodeConfig(config map[string]any, out any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
