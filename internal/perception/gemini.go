package perception

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-backed client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultGeminiConfig returns sensible Gemini defaults.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:       "gemini-2.0-flash",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// GeminiClient implements Client against the Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *zap.Logger
}

// NewGeminiClient builds a Gemini client. The API key is required.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	def := DefaultGeminiConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, cfg: cfg, logger: logger.Named("gemini")}, nil
}

// Complete sends one generation request. 429 and transient 5xx responses are
// retried with backoff, matching the local client's discipline.
func (g *GeminiClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.MaxTokens
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = g.cfg.Temperature
	}

	genCfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Temperature:     genai.Ptr(float32(temperature)),
	}
	if opts.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}

		result, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, genCfg)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				g.logger.Debug("retryable Gemini error", zap.Error(err), zap.Int("attempt", attempt))
				continue
			}
			return "", fmt.Errorf("gemini request: %w", err)
		}

		text := result.Text()
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("empty completion returned")
		}
		return strings.TrimSpace(text), nil
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "UNAVAILABLE")
}
