package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ProviderConfig selects and configures one credential family.
type ProviderConfig struct {
	// Kind is anthropic, openai, or gemini.
	Kind string

	APIKey  string
	BaseURL string

	// Model overrides the per-kind default.
	Model string

	// MaxTokens caps the completion length. Defaults to 4096.
	MaxTokens int
}

// NewProvider constructs the provider for config.Kind.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: API key is required", cfg.Kind)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "anthropic":
		model := cfg.Model
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			options = append(options, option.WithBaseURL(cfg.BaseURL))
		}
		return &anthropicProvider{
			client:    anthropic.NewClient(options...),
			model:     model,
			maxTokens: cfg.MaxTokens,
		}, nil
	case "openai", "openai-codex":
		model := cfg.Model
		if model == "" {
			model = openai.GPT4o
		}
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		return &openaiProvider{
			client: openai.NewClientWithConfig(clientCfg),
			model:  model,
		}, nil
	case "gemini", "gemini-cli":
		model := cfg.Model
		if model == "" {
			model = "gemini-2.0-flash"
		}
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return &geminiProvider{client: client, model: model}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

type anthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func (p *anthropicProvider) Name() string  { return "anthropic" }
func (p *anthropicProvider) Model() string { return p.model }

func (p *anthropicProvider) Complete(ctx context.Context, system string, history []Message) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

type openaiProvider struct {
	client *openai.Client
	model  string
}

func (p *openaiProvider) Name() string  { return "openai" }
func (p *openaiProvider) Model() string { return p.model }

func (p *openaiProvider) Complete(ctx context.Context, system string, history []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

type geminiProvider struct {
	client *genai.Client
	model  string
}

func (p *geminiProvider) Name() string  { return "gemini" }
func (p *geminiProvider) Model() string { return p.model }

func (p *geminiProvider) Complete(ctx context.Context, system string, history []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		break
	}
	return b.String(), nil
}
