package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/nomai-core/server/internal/agent"
	agenttools "github.com/nomai-core/server/internal/agent/tools"
	"github.com/nomai-core/server/internal/chat/repo"
	"github.com/nomai-core/server/internal/core"
	"github.com/nomai-core/server/internal/nutrition"
	"github.com/nomai-core/server/internal/web"
	logx "github.com/nomai-core/server/pkg/logger"
	pkgredis "github.com/nomai-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis  pkgredis.Config
	Server web.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Components
	ChatModel    agent.ModelConfig
	Agent        agent.Config
	Nutrition    nutrition.Config
	Conversation ConversationConfig
}

// ConversationConfig tunes history retention.
type ConversationConfig struct {
	TTL string `envconfig:"CONVERSATION_TTL" default:"720h"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	env := core.ParseEnvironment(cfg.Environment)
	logx.Init(logx.LoggerOpts{Environment: env})

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		logx.Fatal().Err(err).Str("ttl", cfg.Conversation.TTL).Msg("invalid CONVERSATION_TTL")
	}

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise Redis client")
	}
	defer rdb.Close()

	client, err := agent.NewGenaiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise Gemini client")
	}

	nutritionSvc := nutrition.NewService(client, cfg.Nutrition)

	chatModel, err := agent.NewChatModel(ctx, client, cfg.ChatModel)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise chat model")
	}

	driver, err := agent.NewDriver(ctx, chatModel, agenttools.All(nutritionSvc), cfg.Agent)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise agent driver")
	}

	historyRepo := repo.NewRedisHistoryRepository(rdb, ttl)
	server := web.NewServer(historyRepo, driver, nutritionSvc, env)

	if err := server.ListenAndServe(ctx, cfg.Server); err != nil && err != http.ErrServerClosed {
		logx.Fatal().Err(err).Msg("server error")
	}
	logx.Info().Msg("server stopped")
}
