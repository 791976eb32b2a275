package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"Retoucher/core"
	"Retoucher/lib/sl"
)

const defaultTimeout = 60 * time.Second

// Completer is the conversational completion contract shared by every
// model-backed step.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

type ClientOptions struct {
	Name        string
	BaseUrl     string
	ApiKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Headers     map[string]string
	Timeout     time.Duration
}

// CompletionClient talks to an OpenAI-compatible chat completions endpoint.
type CompletionClient struct {
	name        string
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	headers     map[string]string
	httpClient  *http.Client
	log         *slog.Logger
}

func NewCompletionClient(opts ClientOptions, log *slog.Logger) *CompletionClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &CompletionClient{
		name:        opts.Name,
		endpoint:    strings.TrimSuffix(opts.BaseUrl, "/") + "/chat/completions",
		apiKey:      opts.ApiKey,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		headers:     opts.Headers,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log.With(sl.Module(opts.Name)),
	}
}

func (c *CompletionClient) Model() string {
	return c.model
}

func (c *CompletionClient) Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	request := NewChatRequest(c.model, systemPrompt, messages)
	return c.send(ctx, request)
}

// send posts a prepared request and returns the first choice content.
func (c *CompletionClient) send(ctx context.Context, request *ChatRequest) (string, error) {
	if request.MaxTokens == 0 {
		request.MaxTokens = c.maxTokens
	}
	request.Temperature = c.temperature

	jsonBytes, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBytes))
	if err != nil {
		return "", fmt.Errorf("making request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", core.NewCollaboratorError(c.name, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("closing response body", sl.Err(err))
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewCollaboratorError(c.name, fmt.Errorf("reading response body: %w", err))
	}
	c.log.With(
		slog.Int("status", resp.StatusCode),
		sl.Text("body", string(body)),
	).Debug("response body")

	var chatCompletion ChatCompletion
	decodeErr := json.Unmarshal(body, &chatCompletion)
	if chatCompletion.Error != nil && chatCompletion.Error.Message != "" {
		return "", core.CollaboratorFailure(c.name, "api error: %s", chatCompletion.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", core.CollaboratorFailure(c.name, "unexpected status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", core.NewCollaboratorError(c.name, fmt.Errorf("decoding response: %w", decodeErr))
	}
	if len(chatCompletion.Choices) == 0 {
		return "", core.CollaboratorFailure(c.name, "empty choices")
	}

	content := strings.TrimSpace(chatCompletion.Choices[0].Message.Content)
	if content == "" {
		return "", core.CollaboratorFailure(c.name, "empty content")
	}
	c.log.With(
		slog.String("model", chatCompletion.Model),
		slog.Int("choices", len(chatCompletion.Choices)),
	).Debug("chat completion")
	return content, nil
}
