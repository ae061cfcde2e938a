package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"

	defaultModel       = "claude-3-5-sonnet-20241022"
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7

	// Analysis calls run at a lower temperature. Whether this matters for
	// lesson quality is unestablished; treat it as a tunable.
	analysisTemperature = 0.3
	analysisMaxTokens   = 1024
)

// AnthropicClient talks to the Anthropic Messages API. It is the decision
// service behind both the vision decision call and the text-only failure
// analysis call.
type AnthropicClient struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float64
	Client      *http.Client
}

type anthropicMessage struct {
	Role    string        `json:"role"`
	Content []interface{} `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageContent struct {
	Type   string      `json:"type"`
	Source imageSource `json:"source"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicClient builds a client from the environment. ANTHROPIC_API_KEY
// is required; AGENT_MODEL overrides the default model.
func NewAnthropicClient() *AnthropicClient {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		zap.L().Fatal("ANTHROPIC_API_KEY environment variable not set")
	}

	model := os.Getenv("AGENT_MODEL")
	if model == "" {
		model = defaultModel
	}

	return &AnthropicClient{
		APIKey:      apiKey,
		ModelName:   model,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		Client:      &http.Client{Timeout: 90 * time.Second},
	}
}

// Model returns the configured model name, for telemetry.
func (c *AnthropicClient) Model() string {
	return c.ModelName
}

// DecideWithVision sends a filmstrip image plus the structured prompt and
// returns the raw response text. The caller is responsible for extracting
// JSON; the service is allowed to wrap it in prose.
func (c *AnthropicClient) DecideWithVision(ctx context.Context, imageBase64, mediaType, system, prompt string) (string, error) {
	messages := []anthropicMessage{
		{
			Role: "user",
			Content: []interface{}{
				imageContent{
					Type: "image",
					Source: imageSource{
						Type:      "base64",
						MediaType: mediaType,
						Data:      imageBase64,
					},
				},
				textContent{Type: "text", Text: prompt},
			},
		},
	}

	requestBody := map[string]interface{}{
		"model":       c.ModelName,
		"max_tokens":  c.MaxTokens,
		"temperature": c.Temperature,
		"system":      system,
		"messages":    messages,
	}

	return c.sendRequest(ctx, requestBody)
}

// Analyze sends a text-only analysis request at analysis temperature.
func (c *AnthropicClient) Analyze(ctx context.Context, prompt string) (string, error) {
	messages := []anthropicMessage{
		{
			Role:    "user",
			Content: []interface{}{textContent{Type: "text", Text: prompt}},
		},
	}

	requestBody := map[string]interface{}{
		"model":       c.ModelName,
		"max_tokens":  analysisMaxTokens,
		"temperature": analysisTemperature,
		"messages":    messages,
	}

	return c.sendRequest(ctx, requestBody)
}

func (c *AnthropicClient) sendRequest(ctx context.Context, requestBody map[string]interface{}) (string, error) {
	requestBodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", anthropicEndpoint, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var response anthropicResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("Anthropic API error %s: %s", response.Error.Type, response.Error.Message)
	}

	for _, block := range response.Content {
		if block.Type == "text" && block.Text != "" {
			zap.L().Debug("Anthropic response content", zap.Int("length", len(block.Text)))
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no text content in Anthropic API response")
}
