package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
)

const githubBaseURL = "https://api.github.com"

var _ flowkit.Handler = (*GitHubHandler)(nil)

// GitHubHandler serves "data:github" nodes: recent commits, issues, or
// pull requests for a repository, authenticated with the user's github
// integration token.
type GitHubHandler struct {
	client  *http.Client
	baseURL string
}

func NewGitHubHandler(opts Options) *GitHubHandler {
	baseURL := opts.GitHubBaseURL
	if baseURL == "" {
		baseURL = githubBaseURL
	}
	return &GitHubHandler{client: opts.client(), baseURL: baseURL}
}

func (h *GitHubHandler) Type() string {
	return "data:github"
}

func (h *GitHubHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	var cfg flowkit.GitHubConfig
	if err := flowkit.DecodeConfig(flowkit.RenderConfig(config, input), &cfg); err != nil {
		return nil, flowkit.NewConfigError("github node: malformed config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	integration, err := rc.Integration("github")
	if err != nil {
		return nil, err
	}

	dataType := cfg.DataType
	if dataType == "" {
		dataType = "commits"
	}
	var resource string
	switch dataType {
	case "commits":
		resource = "commits"
	case "issues":
		resource = "issues"
	case "prs":
		resource = "pulls"
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/%s?per_page=10", h.baseURL, cfg.Owner, cfg.Repo, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+integration.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, flowkit.NewTransportError("failed to fetch github data: %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, flowkit.NewTransportError("failed to fetch github data: status %d", resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, flowkit.NewTransportError("failed to decode github response: %s", err.Error())
	}

	return map[string]any{
		"data_type":  dataType,
		"repository": fmt.Sprintf("%s/%s", cfg.Owner, cfg.Repo),
		"items":      items,
		"count":      len(items),
	}, nil
}
