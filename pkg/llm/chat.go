package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/config"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// MaxRetries bounds retries of a transient failure that happens before
	// any text has streamed.
	MaxRetries int
	RetryBase  time.Duration
}

// chatBackend streams one completion, handing each text fragment to onDelta
// in arrival order. It returns nil once the provider signals the end.
type chatBackend interface {
	stream(ctx context.Context, system, prompt string, config ChatConfig, onDelta func(string) error) error
}

// ChatEngine is an engine that uses an LLM to stream answers.
type ChatEngine struct {
	config  ChatConfig
	backend chatBackend
}

var _ types.Generator = (*ChatEngine)(nil)

func applyChatDefaults(config ChatConfig) ChatConfig {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	if config.Temperature < 0 {
		config.Temperature = 0
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBase <= 0 {
		config.RetryBase = defaultRetryBase
	}
	return config
}

// NewChatEngine creates a ChatEngine on top of a langchaingo model.
func NewChatEngine(model llms.Model, config ChatConfig) *ChatEngine {
	return &ChatEngine{config: applyChatDefaults(config), backend: langchainBackend{model: model}}
}

// NewOpenAIChatEngine creates a ChatEngine on top of the OpenAI streaming API.
func NewOpenAIChatEngine(client *openai.Client, config ChatConfig) *ChatEngine {
	return &ChatEngine{config: applyChatDefaults(config), backend: openAIBackend{client: client}}
}

// NewChatEngineFromConfig builds the provider named by cfg.
func NewChatEngineFromConfig(cfg config.LLMConfig) (*ChatEngine, error) {
	chatConfig := ChatConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout(),
		MaxRetries:  cfg.Retries(),
	}

	switch cfg.Provider {
	case config.ProviderOllama, "":
		llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return NewChatEngine(llm, chatConfig), nil
	case config.ProviderOpenAI:
		client, err := newOpenAIClient(cfg.APIKey(), cfg.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		return NewOpenAIChatEngine(client, chatConfig), nil
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", models.ErrValidation, cfg.Provider)
	}
}

// GenerateStream streams the answer to prompt. The channel carries text
// deltas in order followed by exactly one Done or Err delta, then closes.
// Cancelling ctx stops the producer.
func (ce *ChatEngine) GenerateStream(ctx context.Context, system, prompt string) (<-chan models.Delta, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", models.ErrValidation)
	}

	out := make(chan models.Delta)

	go func() {
		defer close(out)

		streamCtx := ctx
		if ce.config.Timeout > 0 {
			var cancel context.CancelFunc
			streamCtx, cancel = context.WithTimeout(ctx, ce.config.Timeout)
			defer cancel()
		}

		send := func(d models.Delta) bool {
			select {
			case out <- d:
				return true
			case <-streamCtx.Done():
				return false
			}
		}

		fragments := 0
		onDelta := func(text string) error {
			if text == "" {
				return nil
			}
			fragments++
			if !send(models.Delta{Text: text}) {
				return streamCtx.Err()
			}
			return nil
		}

		// Only a failure before the first fragment is retried.
		var err error
		for attempt := 0; ; attempt++ {
			err = ce.backend.stream(streamCtx, system, prompt, ce.config, onDelta)
			if err == nil || fragments > 0 || attempt >= ce.config.MaxRetries || streamCtx.Err() != nil {
				break
			}
			err = classifyError(err)
			if !errors.Is(err, models.ErrProviderTransient) {
				break
			}
			delay := retryDelay(ce.config.RetryBase, attempt)
			logger.Warn("generation attempt %d failed, retrying in %s: %v", attempt+1, delay, err)
			if sleepErr := sleepContext(streamCtx, delay); sleepErr != nil {
				err = sleepErr
				break
			}
		}

		if err == nil {
			err = streamCtx.Err()
		}
		if err != nil {
			logger.Debug("generation stream failed after %d fragments: %v", fragments, err)
			// The terminal delta must reach the consumer even when the
			// stream's own deadline fired.
			select {
			case out <- models.Delta{Err: classifyError(err)}:
			case <-ctx.Done():
			}
			return
		}

		logger.Debug("generation stream finished with %d fragments", fragments)
		send(models.Delta{Done: true})
	}()

	return out, nil
}

type langchainBackend struct {
	model llms.Model
}

func (b langchainBackend) stream(ctx context.Context, system, prompt string, config ChatConfig, onDelta func(string) error) error {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	opts := []llms.CallOption{
		llms.WithTemperature(config.Temperature),
		llms.WithMaxTokens(config.MaxTokens),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onDelta(string(chunk))
		}),
	}
	if config.Model != "" {
		opts = append(opts, llms.WithModel(config.Model))
	}

	if _, err := b.model.GenerateContent(ctx, content, opts...); err != nil {
		return fmt.Errorf("chat error: %w", err)
	}
	return nil
}

type openAIBackend struct {
	client *openai.Client
}

func (b openAIBackend) stream(ctx context.Context, system, prompt string, config ChatConfig, onDelta func(string) error) error {
	req := openai.ChatCompletionRequest{
		Model:       config.Model,
		MaxTokens:   config.MaxTokens,
		Temperature: float32(config.Temperature),
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("chat error: %w", err)
	}
	defer stream.Close()

	// Recv reports io.EOF for the [DONE] marker and for a connection that
	// closed early alike; only a finish reason proves the answer is whole.
	finished := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !finished {
				return fmt.Errorf("%w: chat stream closed before completion", models.ErrProviderTransient)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("chat stream error: %w", err)
		}
		for _, choice := range resp.Choices {
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
			if choice.FinishReason != "" {
				finished = true
			}
		}
	}
}
