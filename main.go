package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"grantradar/internal/adapter/gemini"
	"grantradar/internal/app"
	"grantradar/internal/config"
	"grantradar/internal/logger"
)

func main() {
	// Initialize structured logger with correlation id support
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Bootstrap Infrastructure (DB, migrations, Weaviate, NSQ)
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()

	// 3. Gemini Adapters
	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	evaluator, err := gemini.NewEvaluator(ctx, cfg.GeminiAPIKey)
	if err != nil {
		slog.Error("failed to create evaluator", "error", err)
		os.Exit(1)
	}
	extractor, err := gemini.NewExtractor(ctx, cfg.GeminiAPIKey)
	if err != nil {
		slog.Error("failed to create extractor", "error", err)
		os.Exit(1)
	}

	// 4. Wire Application
	application, err := app.New(cfg, deps.DB, deps.Index, app.AI{
		Embedder:  embedder,
		Evaluator: evaluator,
		Extractor: extractor,
	}, deps.NSQProducer, log)
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	// 5. Scraped Snapshot Consumer
	if cfg.EnableConsumer {
		nsqCfg := nsq.NewConfig()
		consumer, err := nsq.NewConsumer(config.TopicGrantScraped, "backend", nsqCfg)
		if err != nil {
			slog.Error("failed to create NSQ consumer", "error", err)
		} else {
			consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
				return application.ScrapedConsumer.HandleMessage(m)
			}))
			if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
				slog.Error("failed to connect to NSQLookupd", "error", err)
			} else {
				slog.Info("NSQ scraped consumer connected", "topic", config.TopicGrantScraped)
			}
			defer consumer.Stop()
		}
	}

	// 6. Serve
	if err := application.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
