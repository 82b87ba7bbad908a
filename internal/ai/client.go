package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"personalchat/internal/config"
)

// Client adapts one configured provider's chat model to the streaming and
// non-streaming query shapes the ingest controller consumes.
type Client struct {
	chatModel model.ToolCallingChatModel
	provider  string
}

// NewClient constructs the chat model for a provider out of app config.
func NewClient(ctx context.Context, cfg *config.Config, provider string) (*Client, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &Client{chatModel: chatModel, provider: provider}, nil
}

// StreamChat sends a prepared context and delivers each text increment to
// onChunk in arrival order. The stream is lazy, finite, and non-restartable;
// there is no mid-stream cancellation beyond ctx. Returns the full reply.
func (c *Client) StreamChat(ctx context.Context, contextText, modelName string, onChunk func(string) error) (string, error) {
	if contextText == "" {
		return "", errors.New("context text cannot be empty")
	}
	reader, err := c.chatModel.Stream(ctx, contextMessages(contextText), callOptions(modelName)...)
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	var full string
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			// flow finished
			break
		}
		if err != nil {
			return full, fmt.Errorf("stream recv: %w", err)
		}
		full += chunk.Content
		if onChunk != nil {
			if err := onChunk(chunk.Content); err != nil {
				return full, err
			}
		}
	}
	return full, nil
}

// Chat sends a prepared context in non-streaming mode and returns the single
// completed payload's text.
func (c *Client) Chat(ctx context.Context, contextText, modelName string) (string, error) {
	if contextText == "" {
		return "", errors.New("context text cannot be empty")
	}
	resp, err := c.chatModel.Generate(ctx, contextMessages(contextText), callOptions(modelName)...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Content, nil
}

func contextMessages(contextText string) []*schema.Message {
	return []*schema.Message{{Role: schema.User, Content: contextText}}
}

// callOptions applies the chat's model selection when it differs from the
// provider default.
func callOptions(modelName string) []model.Option {
	if modelName == "" {
		return nil
	}
	return []model.Option{model.WithModel(modelName)}
}
