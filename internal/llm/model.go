// Package llm drafts auto-reply text using a configurable model provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/strand/internal/autoreply"
	"github.com/raphaelgruber/strand/internal/config"
	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/raphaelgruber/strand/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model wraps an LLM provider for drafting auto-replies.
type Model struct {
	llm       llms.Model
	bedrock   *bedrockClient
	modelName string
	collector *metrics.Collector

	mu       sync.Mutex
	disabled error
}

var _ autoreply.Drafter = (*Model)(nil)

// NewModel creates an LLM model based on configuration. The static
// provider drafts nothing; callers wire no model for it.
func NewModel(cfg config.Config, collector *metrics.Collector) (*Model, error) {
	m := &Model{
		modelName: cfg.LLMModel,
		collector: collector,
	}

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err := ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		m.llm = model

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		m.llm = model

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err := anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		m.llm = model

	case config.ProviderBedrock:
		bedrock, err := newBedrockClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("create bedrock client: %w", err)
		}
		m.bedrock = bedrock

	case config.ProviderStatic:
		return nil, fmt.Errorf("static provider uses canned answers, not a model")

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return m, nil
}

// Model returns the configured model name.
func (m *Model) Model() string {
	return m.modelName
}

// Draft rewrites a rule's canned answer into a reply to the customer's
// message. After a fatal provider error (bad key, exhausted quota) the
// model stops calling out and fails every draft immediately, so the
// caller's canned-answer fallback takes over for good.
func (m *Model) Draft(ctx context.Context, trigger models.Message, rule autoreply.Rule) (string, error) {
	m.mu.Lock()
	if m.disabled != nil {
		err := m.disabled
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	systemPrompt := `You are a support assistant replying on behalf of a busy shop owner.
Rewrite the canned answer into a short, friendly reply to the customer's message.
Keep every fact from the canned answer. Do not invent prices, hours, or policies.
Reply with the message text only.`

	userPrompt := fmt.Sprintf(`Customer message:
%s

Canned answer (%s):
%s

Reply:`, trigger.Text, rule.Name, rule.Answer)

	start := time.Now()
	text, usage, err := m.generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		if m.collector != nil {
			m.collector.RecordError(metrics.OpDraft)
		}
		err = wrapFatalError(err)
		if errors.Is(err, ErrFatalAPI) {
			m.mu.Lock()
			m.disabled = err
			m.mu.Unlock()
		}
		return "", fmt.Errorf("draft reply: %w", err)
	}
	if m.collector != nil {
		m.collector.RecordLLMUsage(metrics.OpDraft, time.Since(start), usage.input, usage.output)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("draft reply: empty response")
	}
	return text, nil
}

// generate produces text with a system prompt. Only Bedrock reports
// token usage; langchaingo providers return it in provider-specific
// shapes we do not chase.
func (m *Model) generate(ctx context.Context, systemPrompt, userPrompt string) (string, tokenUsage, error) {
	if m.bedrock != nil {
		return m.bedrock.converse(ctx, systemPrompt, userPrompt)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", tokenUsage{}, fmt.Errorf("generate with system: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", tokenUsage{}, fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, tokenUsage{}, nil
}

// ErrFatalAPI marks provider errors that will not succeed on retry,
// such as auth or billing failures.
var ErrFatalAPI = errors.New("fatal llm api error")

var fatalAPIPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalAPIPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI. Non-fatal
// errors pass through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
