package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedback-insights/internal/models"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-4o-mini"
	DefaultDimensions     = 1536
)

type Client struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Dimensions     int
	client         *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.BaseURL = url
		}
	}
}

func WithEmbeddingModel(model string, dimensions int) Option {
	return func(c *Client) {
		if model != "" {
			c.EmbeddingModel = model
		}
		if dimensions > 0 {
			c.Dimensions = dimensions
		}
	}
}

func WithChatModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.ChatModel = model
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		APIKey:         apiKey,
		BaseURL:        DefaultBaseURL,
		EmbeddingModel: DefaultEmbeddingModel,
		ChatModel:      DefaultChatModel,
		Dimensions:     DefaultDimensions,
		client:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type EmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatMessage represents a message in chat completion
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embed returns the embedding of text. Every failure, including a vector of
// the wrong length, is reported as a *models.ProviderError.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := EmbeddingRequest{
		Input:      []string{text},
		Model:      c.EmbeddingModel,
		Dimensions: c.Dimensions,
	}

	var embResp EmbeddingResponse
	if err := c.post(ctx, "embed", "/embeddings", req, &embResp); err != nil {
		return nil, err
	}

	if len(embResp.Data) == 0 {
		return nil, models.NewProviderError("embed", 0, errors.New("no embeddings returned"))
	}

	vector := embResp.Data[0].Embedding
	if len(vector) != c.Dimensions {
		return nil, models.NewProviderError("embed", 0,
			fmt.Errorf("expected %d dimensions, got %d", c.Dimensions, len(vector)))
	}

	return vector, nil
}

// ChatCompletion generates a chat completion. When jsonMode is set the model
// is asked to answer with a single JSON object.
func (c *Client) ChatCompletion(ctx context.Context, messages []ChatMessage, jsonMode bool) (string, error) {
	// Convert to OpenAI message format
	apiMessages := make([]Message, len(messages))
	for i, msg := range messages {
		apiMessages[i] = Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := ChatRequest{
		Model:    c.ChatModel,
		Messages: apiMessages,
		Stream:   false,
	}
	if jsonMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	var chatResp ChatResponse
	if err := c.post(ctx, "chat", "/chat/completions", req, &chatResp); err != nil {
		return "", err
	}

	if len(chatResp.Choices) == 0 {
		return "", models.NewProviderError("chat", 0, errors.New("no completion returned"))
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.NewProviderError(op, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.NewProviderError(op, resp.StatusCode, fmt.Errorf("API request failed: %s", string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewProviderError(op, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}
