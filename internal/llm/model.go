// Package llm wraps langchaingo chat completion backends behind the small
// surface the message pipeline needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/copbot/copbot-go/internal/chat"
	"github.com/copbot/copbot-go/internal/config"
	"github.com/copbot/copbot-go/internal/metrics"
	"github.com/copbot/copbot-go/internal/models"
)

// Sampling parameters for conversation replies.
const (
	completionTemperature = 0.7
	completionMaxTokens   = 2048
	completionTopP        = 0.8
)

// Title inference bounds.
const (
	titleMaxTokens = 50
	titleMaxLen    = 50
)

const titleSystemPrompt = `Generate a short, descriptive title (3 to 6 words) for a conversation that begins with the user's message. Respond with the title only, without quotes or trailing punctuation.`

// Model wraps a langchaingo LLM for chat completion and title inference.
type Model struct {
	llm       llms.Model
	modelName string
	collector *metrics.Collector
}

// NewModel creates an LLM model based on configuration. collector may be nil.
func NewModel(cfg config.Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("Groq API key required")
		}
		// Groq exposes an OpenAI-compatible API; only the base URL differs.
		model, err = openai.New(
			openai.WithToken(cfg.GroqAPIKey),
			openai.WithModel(cfg.LLMModel),
			openai.WithBaseURL(cfg.GroqBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create groq model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderBedrock:
		awscfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awscfg)
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
		collector: collector,
	}, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Complete generates a reply for the full conversation context. Failures are
// returned as *chat.CompletionError so callers can phrase them for the user.
func (m *Model) Complete(ctx context.Context, entries []chat.Entry) (string, error) {
	messages := toMessageContent(entries)

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(completionTemperature),
		llms.WithMaxTokens(completionMaxTokens),
		llms.WithTopP(completionTopP),
	)
	if err != nil {
		return "", classify(err)
	}

	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Content) == "" {
		return "", &chat.CompletionError{
			Kind: chat.CompletionEmptyResponse,
			Err:  errors.New("no response choices"),
		}
	}

	if m.collector != nil {
		in, out := tokenUsage(response.Choices[0])
		m.collector.RecordLLMUsage(metrics.OpCompletion, time.Since(start), in, out)
	}

	return response.Choices[0].Content, nil
}

// InferTitle derives a short session title from the first user message. The
// result is sanitized and capped; an unusable response falls back to the
// default title.
func (m *Model) InferTitle(ctx context.Context, firstMessage string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, titleSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, firstMessage),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(completionTemperature),
		llms.WithMaxTokens(titleMaxTokens),
	)
	if err != nil {
		return "", classify(err)
	}
	if len(response.Choices) == 0 {
		return "", &chat.CompletionError{
			Kind: chat.CompletionEmptyResponse,
			Err:  errors.New("no response choices"),
		}
	}

	if m.collector != nil {
		in, out := tokenUsage(response.Choices[0])
		m.collector.RecordLLMUsage(metrics.OpTitleInference, time.Since(start), in, out)
	}

	return sanitizeTitle(response.Choices[0].Content), nil
}

// toMessageContent converts conversation entries to langchaingo messages.
func toMessageContent(entries []chat.Entry) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(entries))
	for _, entry := range entries {
		var role llms.ChatMessageType
		switch entry.Role {
		case chat.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case chat.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		messages = append(messages, llms.TextParts(role, entry.Content))
	}
	return messages
}

// sanitizeTitle normalizes a model-produced title: first line only, wrapping
// quotes stripped, length capped. An empty result falls back to the default
// title.
func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)

	if runes := []rune(title); len(runes) > titleMaxLen {
		title = strings.TrimSpace(string(runes[:titleMaxLen]))
	}

	if title == "" {
		return models.DefaultTitle
	}
	return title
}

var statusCodeRe = regexp.MustCompile(`status code:? (\d{3})`)

// classify folds a backend error into a *chat.CompletionError.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &chat.CompletionError{Kind: chat.CompletionTimeout, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &chat.CompletionError{Kind: chat.CompletionTimeout, Err: err}
		}
		return &chat.CompletionError{Kind: chat.CompletionTransport, Err: err}
	}

	// langchaingo surfaces non-2xx responses as formatted messages rather
	// than typed errors, so the status code is fished out of the text.
	if match := statusCodeRe.FindStringSubmatch(err.Error()); match != nil {
		code, _ := strconv.Atoi(match[1])
		return &chat.CompletionError{Kind: chat.CompletionHTTPStatus, Status: code, Err: err}
	}

	return &chat.CompletionError{Kind: chat.CompletionTransport, Err: err}
}

// tokenUsage extracts token counts from a choice's generation info, when the
// provider reports them.
func tokenUsage(choice *llms.ContentChoice) (in, out int64) {
	if choice == nil || choice.GenerationInfo == nil {
		return 0, 0
	}
	if v, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
		in = int64(v)
	}
	if v, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
		out = int64(v)
	}
	return in, out
}
