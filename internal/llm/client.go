package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"chathistory/internal/config"
	"chathistory/internal/models"
)

var (
	// ErrEmptyResponse is returned when the completion carries no text.
	ErrEmptyResponse = errors.New("llm returned empty response")
	// ErrEmptyHistory is returned when GenerateReply is called without messages.
	ErrEmptyHistory = errors.New("message history is empty")
)

// APIError wraps any transport, status or decoding failure from the remote API.
type APIError struct {
	Provider string
	Err      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client issues chat completions against one configured provider.
type Client struct {
	chat         model.BaseChatModel
	provider     string
	defaultModel string
}

// New builds a client for cfg.Name ("openai", "claude" or "gemini").
// The API key and base URL are read once here, never per call.
func New(ctx context.Context, cfg config.ProviderConfig) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Name))
	if provider == "" {
		provider = config.DefaultProvider
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = config.DefaultModel
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultBaseURL
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: baseURL,
			Model:   modelName,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: cfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" && cfg.BaseURL != config.DefaultBaseURL {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &Client{chat: chatModel, provider: provider, defaultModel: modelName}, nil
}

// NewWithModel wraps an already constructed eino chat model.
func NewWithModel(chatModel model.BaseChatModel, defaultModel string) *Client {
	return &Client{chat: chatModel, provider: "custom", defaultModel: defaultModel}
}

// DefaultModel is the model used when GenerateReply gets an empty name.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

// GenerateReply sends the chronological history in a single blocking request
// and returns the first completion's text. No timeout or retry is applied.
func (c *Client) GenerateReply(ctx context.Context, history []models.Message, modelName string) (string, error) {
	if len(history) == 0 {
		return "", ErrEmptyHistory
	}

	var opts []model.Option
	if modelName != "" && modelName != c.defaultModel {
		opts = append(opts, model.WithModel(modelName))
	}

	resp, err := c.chat.Generate(ctx, convertMessages(history), opts...)
	if err != nil {
		return "", &APIError{Provider: c.provider, Err: err}
	}
	if resp == nil || resp.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Content, nil
}

func convertMessages(history []models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
