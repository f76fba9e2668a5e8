// Chat client implementations, one per provider kind.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	ollamamodel "github.com/cloudwego/eino-ext/components/model/ollama"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	qwenmodel "github.com/cloudwego/eino-ext/components/model/qwen"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
)

// ========== eino-backed clients (aggregator, dashscope, ollama) ==========

// einoChatClient adapts an eino chat model to the ChatClient surface.
type einoChatClient struct {
	chatModel model.BaseChatModel
	provider  string
	modelID   string
}

func (c *einoChatClient) ChatCompletion(ctx context.Context, messages []*schema.Message) (*models.Completion, error) {
	response, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}

	completion := &models.Completion{
		Content:  response.Content,
		Model:    c.modelID,
		Provider: c.provider,
	}
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		completion.TokensUsed = response.ResponseMeta.Usage.TotalTokens
	}
	return completion, nil
}

func (c *einoChatClient) ChatCompletionStream(ctx context.Context, messages []*schema.Message) (<-chan models.StreamDelta, error) {
	reader, err := c.chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	deltas := make(chan models.StreamDelta, 32)
	go func() {
		defer close(deltas)
		defer reader.Close()
		for {
			chunk, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case deltas <- models.StreamDelta{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if chunk.Content == "" {
				continue
			}
			select {
			case deltas <- models.StreamDelta{Content: chunk.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deltas, nil
}

// newAggregatorClient serves OpenAI-compatible cloud endpoints: openai,
// anthropic and openrouter types, plus any unknown type.
func newAggregatorClient(ctx context.Context, provider *db.Provider, settings *models.EffectiveSettings) (ChatClient, error) {
	temperature := float32(settings.Temperature)
	chatModel, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		BaseURL:     baseURLOrDefault(provider),
		APIKey:      provider.APIKey,
		Model:       settings.Model,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s chat model: %w", provider.Type, err)
	}
	return &einoChatClient{chatModel: chatModel, provider: provider.Name, modelID: settings.Model}, nil
}

func newDashScopeClient(ctx context.Context, provider *db.Provider, settings *models.EffectiveSettings) (ChatClient, error) {
	temperature := float32(settings.Temperature)
	chatModel, err := qwenmodel.NewChatModel(ctx, &qwenmodel.ChatModelConfig{
		BaseURL:     baseURLOrDefault(provider),
		APIKey:      provider.APIKey,
		Model:       settings.Model,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dashscope chat model: %w", err)
	}
	return &einoChatClient{chatModel: chatModel, provider: provider.Name, modelID: settings.Model}, nil
}

func newOllamaClient(ctx context.Context, provider *db.Provider, settings *models.EffectiveSettings) (ChatClient, error) {
	baseURL := baseURLOrDefault(provider)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	chatModel, err := ollamamodel.NewChatModel(ctx, &ollamamodel.ChatModelConfig{
		BaseURL: baseURL,
		Model:   settings.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama chat model: %w", err)
	}
	return &einoChatClient{chatModel: chatModel, provider: provider.Name, modelID: settings.Model}, nil
}

// ========== perplexity ==========

const perplexityDefaultBaseURL = "https://api.perplexity.ai"

// perplexityClient talks to the Perplexity chat completions API
// directly. It implements only ChatCompletion; streaming requests
// degrade through the generator's word-chunk fallback.
type perplexityClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	provider    string
	httpClient  *http.Client
}

func newPerplexityClient(provider *db.Provider, settings *models.EffectiveSettings) *perplexityClient {
	baseURL := provider.BaseURL
	if baseURL == "" {
		baseURL = perplexityDefaultBaseURL
	}
	return &perplexityClient{
		apiKey:      provider.APIKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       settings.Model,
		temperature: settings.Temperature,
		provider:    provider.Name,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityRequest struct {
	Model       string              `json:"model"`
	Messages    []perplexityMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
}

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *perplexityClient) ChatCompletion(ctx context.Context, messages []*schema.Message) (*models.Completion, error) {
	payload := perplexityRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    make([]perplexityMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, perplexityMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode perplexity request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build perplexity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perplexity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("perplexity API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed perplexityResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode perplexity response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("perplexity response contained no choices")
	}

	return &models.Completion{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
		Model:      c.model,
		Provider:   c.provider,
	}, nil
}

// ========== builtin ==========

// builtinClient answers in-process by extracting the context sentences
// most related to the question. It needs no network or credentials and
// does not stream.
type builtinClient struct {
	model    string
	provider string
}

func newBuiltinClient(provider *db.Provider, settings *models.EffectiveSettings) *builtinClient {
	return &builtinClient{model: settings.Model, provider: provider.Name}
}

func (c *builtinClient) ChatCompletion(_ context.Context, messages []*schema.Message) (*models.Completion, error) {
	query, corpus := splitPromptInput(messages)
	answer := extractiveAnswer(corpus, query, 3)
	if answer == "" {
		answer = "No relevant passages were found in the selected documents."
	}
	return &models.Completion{
		Content:    answer,
		TokensUsed: len(strings.Fields(corpus)) + len(strings.Fields(answer)),
		Model:      c.model,
		Provider:   c.provider,
	}, nil
}

// splitPromptInput recovers the question and the grounding corpus from
// the assembled message list: the corpus is the system content, the
// question the last user message.
func splitPromptInput(messages []*schema.Message) (query, corpus string) {
	for _, msg := range messages {
		switch msg.Role {
		case schema.System:
			corpus = msg.Content
		case schema.User:
			query = msg.Content
		}
	}
	return query, corpus
}
