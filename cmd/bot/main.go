package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/bizchat/internal/actions"
	"github.com/xaenox/bizchat/internal/bot"
	"github.com/xaenox/bizchat/internal/buttons"
	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/classifier"
	"github.com/xaenox/bizchat/internal/dispatch"
	"github.com/xaenox/bizchat/internal/gateway"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"github.com/xaenox/bizchat/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := "config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Seed configured media, one active asset per category
	for _, m := range cfg.Media {
		asset := &models.MediaAsset{OwnerID: cfg.Agent.OwnerID, Category: m.Category, URL: m.URL, Caption: m.Caption, Active: true}
		if err := store.UpsertMediaAsset(ctx, asset); err != nil {
			logger.Fatal("Failed to seed media asset", zap.Error(err), zap.String("category", m.Category))
		}
	}

	// Initialize Telegram
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	businessAddr := cfg.Agent.BusinessAddress
	if businessAddr == "" {
		businessAddr = api.Self.UserName
	}
	gw := gateway.NewTelegram(api, gateway.TelegramConfig{
		SendTimeout: cfg.Telegram.SendTimeout,
		SendRate:    cfg.Telegram.SendRate,
		SendBurst:   cfg.Telegram.SendBurst,
	}, logger)

	// Initialize the booking engine, executor and dispatchers
	engine := calendar.NewEngine(store, calendar.Config{
		DefaultTimezone:     cfg.Calendar.DefaultTimezone,
		SlotStep:            cfg.Calendar.SlotStep,
		AppointmentDuration: cfg.Calendar.AppointmentDuration,
	}, nil, logger)

	executor := actions.NewExecutor(store, engine, gw, cfg.Actions.Timeout, nil, logger)

	reasoner := dispatch.NewOpenAIReasoner(dispatch.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, logger)

	loop := dispatch.NewLoop(store, reasoner, executor, classifier.NewKeywordClassifier(), dispatch.Config{
		SystemPrompt: cfg.Agent.SystemPrompt,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Params: dispatch.Params{
			Temperature:     cfg.OpenAI.Temperature,
			MaxTokens:       cfg.OpenAI.MaxTokens,
			ReasoningEffort: cfg.OpenAI.ReasoningEffort,
			Verbosity:       cfg.OpenAI.Verbosity,
		},
	}, logger)

	table := buttons.NewTable(store, engine, gw, buttons.Config{
		SlotDays: cfg.Calendar.AvailabilityDays,
	}, nil, logger)

	// Initialize bot
	b := bot.New(api, store, engine, gw, loop, table, bot.Config{
		AgentID:      cfg.Agent.ID,
		OwnerID:      cfg.Agent.OwnerID,
		BusinessAddr: businessAddr,
	}, logger)

	logger.Info("Bot started",
		zap.String("agent_id", cfg.Agent.ID),
		zap.String("username", api.Self.UserName),
		zap.String("catalog_version", actions.CatalogVersion))

	// Start the bot
	if err := b.Start(ctx); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}
