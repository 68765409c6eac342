package handlers

import (
	"context"
	"time"

	"github.com/flowkit-dev/flowkit"
)

// Confirm the interfaces are implemented correctly.
var (
	_ flowkit.Handler = (*ScheduleTriggerHandler)(nil)
	_ flowkit.Handler = (*WebhookTriggerHandler)(nil)
)

// ScheduleTriggerHandler serves "trigger:schedule" nodes. The actual
// firing decision is the scheduler's; when the node runs as part of a
// scheduled execution it just echoes the trigger metadata downstream.
type ScheduleTriggerHandler struct{}

func NewScheduleTriggerHandler() *ScheduleTriggerHandler {
	return &ScheduleTriggerHandler{}
}

func (h *ScheduleTriggerHandler) Type() string {
	return "trigger:schedule"
}

func (h *ScheduleTriggerHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	output := map[string]any{
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
		"trigger_type": string(flowkit.TriggerTypeSchedule),
	}
	for key, value := range input {
		output[key] = value
	}
	return output, nil
}

// WebhookTriggerHandler serves "trigger:webhook" nodes, wrapping the
// received payload for downstream nodes.
type WebhookTriggerHandler struct{}

func NewWebhookTriggerHandler() *WebhookTriggerHandler {
	return &WebhookTriggerHandler{}
}

func (h *WebhookTriggerHandler) Type() string {
	return "trigger:webhook"
}

func (h *WebhookTriggerHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	return map[string]any{
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
		"trigger_type": string(flowkit.TriggerTypeWebhook),
		"payload":      input,
	}, nil
}
