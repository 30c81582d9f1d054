package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/cyberrag/internal/models"
)

// ChatConfig represents the configuration for a chat client.
type ChatConfig struct {
	Model       string
	BaseURL     string // Ollama server URL
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
	// SkipModelCheck disables the model listing done at construction.
	SkipModelCheck bool
	Logger         *slog.Logger
}

// Options override the client defaults for a single request. A nil
// Temperature or a zero MaxTokens keeps the configured default.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer for Options.Temperature; Temperature(0)
// requests greedy decoding.
func Temperature(t float64) *float64 { return &t }

// Client sends assembled conversations to an Ollama chat model.
type Client struct {
	config ChatConfig
	llm    llms.Model
	log    *slog.Logger
}

const modelCheckTimeout = 5 * time.Second

// NewWithConfig creates a Client talking to the Ollama server in config.
// The model listing check is advisory: a missing model only logs a warning.
func NewWithConfig(ctx context.Context, config ChatConfig) (*Client, error) {
	if err := applyChatDefaults(&config); err != nil {
		return nil, err
	}

	opts := []ollama.Option{
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	}
	if config.HTTPClient != nil {
		opts = append(opts, ollama.WithHTTPClient(config.HTTPClient))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, models.NewError(models.KindModelUnavailable, "new chat client", fmt.Errorf("failed to initialize LLM: %w", err))
	}

	c := NewWithModel(config, llm)

	if !config.SkipModelCheck {
		checkCtx, cancel := context.WithTimeout(ctx, modelCheckTimeout)
		defer cancel()

		ok, err := ModelAvailable(checkCtx, config.BaseURL, config.Model, config.HTTPClient)
		switch {
		case err != nil:
			c.log.Warn("Could not verify model availability", slog.String("model", config.Model), slog.Any("error", err))
		case !ok:
			c.log.Warn("Model not found on Ollama server, pull it before querying",
				slog.String("model", config.Model), slog.String("base_url", config.BaseURL))
		default:
			c.log.Info("Model is available", slog.String("model", config.Model))
		}
	}

	return c, nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(config ChatConfig, model llms.Model) *Client {
	_ = applyChatDefaults(&config)
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		llm:    model,
		log:    logger.With("component", "llm_client", "model", config.Model),
	}
}

func applyChatDefaults(config *ChatConfig) error {
	if config.Model == "" {
		config.Model = "qwen:0.5b"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return models.Errorf(models.KindInvalidInput, "new chat client", "temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return models.Errorf(models.KindInvalidInput, "new chat client", "max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	return nil
}

func (c *Client) Model() string { return c.config.Model }

// Send blocks until the full answer is available. Failures are returned as
// error results rather than Go errors so a bad request never ends a session.
func (c *Client) Send(ctx context.Context, messages []models.Message, opts Options) Result {
	content, err := toMessageContent(messages)
	if err != nil {
		return FailWith(models.KindInvalidInput, err)
	}

	resp, err := c.llm.GenerateContent(ctx, content, c.callOptions(opts)...)
	if err != nil {
		c.log.Error("Chat request failed", slog.Any("error", err))
		return Fail(models.KindTransport, c.describe(err))
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Fail(models.KindTransport, c.describe(errors.New("no response from LLM")))
	}

	return Ok(resp.Choices[0].Content)
}

// Stream starts a streaming request. The returned Stream must be drained or
// closed by the caller.
func (c *Client) Stream(ctx context.Context, messages []models.Message, opts Options) *Stream {
	content, err := toMessageContent(messages)
	if err != nil {
		return failedStream(err)
	}
	callOpts := c.callOptions(opts)

	return newStream(ctx, func(ctx context.Context, emit emitFunc) error {
		streamOpts := append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return emit(string(chunk))
		}))

		if _, err := c.llm.GenerateContent(ctx, content, streamOpts...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("Streaming request failed", slog.Any("error", err))
			return models.NewError(models.KindTransport, "", errors.New(c.describe(err)))
		}
		return nil
	})
}

func (c *Client) callOptions(opts Options) []llms.CallOption {
	temperature := c.config.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := c.config.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	return []llms.CallOption{
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	}
}

func (c *Client) describe(err error) string {
	detail := fmt.Sprintf("LLM request failed: %v", err)
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "not found") || strings.Contains(lower, "connection refused") {
		detail += fmt.Sprintf(". Please ensure model '%s' is pulled and Ollama is running.", c.config.Model)
	}
	return detail
}

func toMessageContent(messages []models.Message) ([]llms.MessageContent, error) {
	if len(messages) == 0 {
		return nil, models.Errorf(models.KindInvalidInput, "send", "messages cannot be empty")
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleUser:
			role = llms.ChatMessageTypeHuman
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			return nil, models.Errorf(models.KindInvalidRole, "send", "unknown role %q", m.Role)
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	return content, nil
}
