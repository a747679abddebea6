package main

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/api"
	"kanban-api/board"
	"kanban-api/enrich"
	"kanban-api/ordering"
	"kanban-api/storage"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	files, err := storage.OpenFileStore(cfg.TasksDir, storage.WithLogger(logger))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var (
		rc        *redis.Client
		deduper   api.Deduper
		notifiers board.Notifiers
		queue     *storage.QueuePublisher
		archive   *storage.TableArchive
		events    *api.Broker
	)
	if cfg.RedisURL != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisURL))
		deduper = api.NewRedisDeduper(rc, cfg.IdempotencyTTL)
		if cfg.EventsChannel != "" {
			notifiers = append(notifiers, storage.NewChannelPublisher(rc, cfg.EventsChannel))
			events = api.NewBroker()
			go api.SubscribeEvents(context.Background(), logger, rc, cfg.EventsChannel, events)
		}
	}
	if cfg.EventsQueue != "" {
		if queue, err = storage.NewQueuePublisher(cfg.StorageConnStr, cfg.EventsQueue); err != nil {
			log.Fatalf("events queue: %v", err)
		}
		notifiers = append(notifiers, queue)
	}
	if cfg.ReportsTable != "" {
		if archive, err = storage.NewTableArchive(cfg.StorageConnStr, cfg.ReportsTable); err != nil {
			log.Fatalf("reports table: %v", err)
		}
	}
	if cfg.StorageProvision {
		if err := storage.Provision(context.Background(), logger, queue, archive); err != nil {
			log.Fatalf("provision storage: %v", err)
		}
	}

	// A nil redis client turns the cache into a pass-through.
	records := storage.NewCache(files, rc, cfg.CacheTTL)
	svc := board.NewService(records, ordering.New(),
		board.WithNotifier(notifiers),
		board.WithLogger(logger),
	)
	n, err := svc.Rebuild(context.Background())
	if err != nil {
		log.Fatalf("rebuild index: %v", err)
	}
	logger.WithFields(log.Fields{"tasks": n, "dir": files.Root()}).Info("board loaded")

	deps := api.Deps{
		Service: svc,
		Deduper: deduper,
		Events:  events,
		Logger:  logger,
		Version: version,
	}
	if archive != nil {
		deps.Reports = archive
	}
	if chain := buildProviders(cfg, logger); chain.Len() > 0 {
		opts := []enrich.AnalyzerOption{enrich.WithTimeout(cfg.AITimeout), enrich.WithLogger(logger)}
		if archive != nil {
			opts = append(opts, enrich.WithArchive(archive))
		}
		deps.Analyzer = enrich.NewAnalyzer(svc, chain, opts...)
		logger.WithField("providers", chain.Names()).Info("analysis enabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding, "Idempotency-Key"},
	}))
	e.Use(api.RequestMetrics(logger))
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, deps)

	e.Logger.Fatal(e.Start(":" + cfg.Port))
}

func buildProviders(cfg Config, logger *log.Logger) *enrich.Chain {
	var providers []enrich.Provider
	for _, name := range cfg.AIProviders {
		switch name {
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				logger.Debug("anthropic provider skipped: no api key")
				continue
			}
			p, err := enrich.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
			if err != nil {
				log.Fatalf("anthropic provider: %v", err)
			}
			providers = append(providers, p)
		case "ollama":
			if cfg.OllamaHost == "" {
				logger.Debug("ollama provider skipped: no host")
				continue
			}
			providers = append(providers, enrich.NewOllamaProvider(cfg.OllamaHost, cfg.OllamaModel, cfg.AITimeout))
		}
	}
	return enrich.NewChain(logger, providers...)
}
