package contradiction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// perCallTimeout bounds a single LLM classification call, separate from the
// caller's overall context so one slow call doesn't stall the whole turn.
const perCallTimeout = 15 * time.Second

// ollamaPerCallTimeout is higher to account for local model cold-start.
const ollamaPerCallTimeout = 90 * time.Second

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaClassifier classifies contradiction candidates using a local Ollama
// chat model, selectable via crt.WithClassifier.
type OllamaClassifier struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClassifier creates a Classifier backed by Ollama's chat API.
func NewOllamaClassifier(baseURL, model string) *OllamaClassifier {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClassifier{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: ollamaPerCallTimeout + 5*time.Second,
		},
	}
}

type ollamaChatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (c *OllamaClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	callCtx, cancel := context.WithTimeout(ctx, ollamaPerCallTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: formatPrompt(in)}},
		Stream:    false,
		KeepAlive: "72h",
	})
	if err != nil {
		return Classification{}, fmt.Errorf("contradiction: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Classification{}, fmt.Errorf("contradiction: create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("contradiction: ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Classification{}, fmt.Errorf("contradiction: ollama status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Classification{}, fmt.Errorf("contradiction: decode ollama response: %w", err)
	}
	return parseClassifierResponse(result.Message.Content)
}

// OpenAIClassifier classifies contradiction candidates using the OpenAI chat
// completions API.
type OpenAIClassifier struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClassifier creates a Classifier backed by OpenAI chat completions.
func NewOpenAIClassifier(apiKey, model string) *OpenAIClassifier {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClassifier{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
	}
}

type openAIChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIChatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: formatPrompt(in)}},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("contradiction: marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Classification{}, fmt.Errorf("contradiction: create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("contradiction: openai request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Classification{}, fmt.Errorf("contradiction: openai status %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Classification{}, fmt.Errorf("contradiction: decode openai response: %w", err)
	}
	if len(result.Choices) == 0 {
		return Classification{}, fmt.Errorf("contradiction: openai response had no choices")
	}
	return parseClassifierResponse(result.Choices[0].Message.Content)
}
