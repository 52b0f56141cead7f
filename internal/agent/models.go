package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	errx "github.com/nomai-core/server/internal/core/error"
	logx "github.com/nomai-core/server/pkg/logger"
)

// ModelConfig holds the configuration for the chat model.
type ModelConfig struct {
	Model       string  `envconfig:"CHAT_MODEL" default:"gemini-2.0-flash"`
	MaxTokens   int     `envconfig:"CHAT_MAX_TOKENS" default:"4000"`
	Temperature float32 `envconfig:"CHAT_TEMPERATURE" default:"0.4"`
}

// NewGenaiClient creates the shared Gemini client. The client is stateless
// per call and safe to reuse across requests; missing credentials are a
// fatal configuration error.
func NewGenaiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errx.EnvVariableMissing("GEMINI_API_KEY")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, errx.New(err, errx.CodeConfigurationError, "failed to initialize Gemini client")
	}
	return client, nil
}

// NewChatModel creates the streaming chat model the Driver runs against.
func NewChatModel(ctx context.Context, client *genai.Client, cfg ModelConfig) (*gemini.ChatModel, error) {
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.Model).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return cm, nil
}
