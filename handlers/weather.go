package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
)

const openWeatherBaseURL = "https://api.openweathermap.org"

var _ flowkit.Handler = (*WeatherHandler)(nil)

// WeatherHandler serves "data:weather" nodes: current conditions for a
// city from the OpenWeather API.
type WeatherHandler struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func NewWeatherHandler(opts Options) *WeatherHandler {
	baseURL := opts.WeatherBaseURL
	if baseURL == "" {
		baseURL = openWeatherBaseURL
	}
	return &WeatherHandler{
		client:  opts.client(),
		apiKey:  opts.WeatherAPIKey,
		baseURL: baseURL,
	}
}

func (h *WeatherHandler) Type() string {
	return "data:weather"
}

// weatherResponse is the subset of the OpenWeather payload we keep.
type weatherResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func (h *WeatherHandler) Execute(ctx context.Context, config, input map[string]any, rc *flowkit.RunContext) (map[string]any, error) {
	var cfg flowkit.WeatherConfig
	if err := flowkit.DecodeConfig(flowkit.RenderConfig(config, input), &cfg); err != nil {
		return nil, flowkit.NewConfigError("weather node: malformed config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if h.apiKey == "" {
		return nil, flowkit.NewConfigError("weather API key not configured")
	}
	units := cfg.Units
	if units == "" {
		units = "metric"
	}

	query := url.Values{}
	query.Set("q", cfg.City)
	query.Set("units", units)
	query.Set("appid", h.apiKey)
	endpoint := fmt.Sprintf("%s/data/2.5/weather?%s", h.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, flowkit.NewTransportError("failed to fetch weather data: %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, flowkit.NewTransportError("failed to fetch weather data: status %d", resp.StatusCode)
	}

	var data weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, flowkit.NewTransportError("failed to decode weather response: %s", err.Error())
	}

	description := ""
	if len(data.Weather) > 0 {
		description = data.Weather[0].Description
	}
	return map[string]any{
		"temperature": data.Main.Temp,
		"description": description,
		"humidity":    data.Main.Humidity,
		"city":        data.Name,
		"country":     data.Sys.Country,
	}, nil
}
