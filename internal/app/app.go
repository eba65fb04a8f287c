package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"grantradar/features/grant"
	"grantradar/features/ingest"
	searchhttp "grantradar/features/search"
	"grantradar/internal/adapter/grantsgov"
	"grantradar/internal/config"
	"grantradar/internal/middleware"
	"grantradar/internal/scheduler"
	"grantradar/internal/search"
)

// Database is satisfied by *sql.DB; the interface keeps New mockable with
// sqlmock.
type Database interface {
	PingContext(ctx context.Context) error
}

// VectorIndex is the slice of the Weaviate store both pipelines use.
type VectorIndex interface {
	Put(ctx context.Context, g grant.Grant, vec []float32) error
	SetOpen(ctx context.Context, grantID string, open bool) error
	SearchOpen(ctx context.Context, vector []float32, limit int) ([]search.Candidate, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// AI bundles the Gemini-backed adapters so New stays mockable without a
// live API key.
type AI struct {
	Embedder  search.Embedder
	Evaluator search.Evaluator
	Extractor ingest.Extractor
}

type App struct {
	Handler         http.Handler
	SearchService   *search.Service
	IngestService   *ingest.Service
	ScrapedConsumer *ingest.ScrapedConsumer
	Scheduler       *scheduler.Scheduler

	port int
}

func New(
	cfg *config.Config,
	db Database,
	index VectorIndex,
	ai AI,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {

	// Cast db to *sql.DB for repositories that require it. This allows us
	// to use interfaces in the signature (for mocking with sqlmock) while
	// keeping raw-SQL repositories.
	sqlDB := db.(*sql.DB)

	// Feature: Grant
	grantRepo := grant.NewPostgresRepo(sqlDB)
	runRepo := ingest.NewPostgresRunRepo(sqlDB)
	grantHandler := grant.NewHandler(grantRepo, runRepo)

	// Feature: Ingest
	ingestService := ingest.NewService(grantRepo, index, ai.Embedder, ai.Extractor, taskPub, runRepo)
	feed := grantsgov.NewClient(cfg.GrantsFeedURL)
	ingestHandler := ingest.NewHandler(ingestService, feed, runRepo)

	// Feature: Search
	queryLogger, err := search.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = search.NewQueryLogger(os.Stdout)
	}

	searchService, err := search.NewService(ai.Embedder, index, grantRepo, ai.Evaluator, queryLogger, search.Options{
		TopK:            cfg.SearchTopK,
		EvalConcurrency: cfg.EvalConcurrency,
		EvalTimeout:     cfg.EvalTimeout,
	})
	if err != nil {
		return nil, err
	}
	searchHandler := searchhttp.NewHandler(searchService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	auth := middleware.RequireAuth(cfg.AuthSecret)
	protected := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(enableCORS(auth(h).ServeHTTP))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /search/stream", protected(searchHandler.Stream))

	mux.Handle("GET /grants", protected(grantHandler.List))
	mux.Handle("GET /stats", protected(grantHandler.GetStats))

	mux.Handle("POST /ingest/run", protected(ingestHandler.Run))
	mux.Handle("GET /ingest/runs", protected(ingestHandler.ListRuns))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	app := &App{
		Handler:         mux,
		SearchService:   searchService,
		IngestService:   ingestService,
		ScrapedConsumer: ingest.NewScrapedConsumer(ingestService),
		port:            cfg.ServerPort,
	}

	if cfg.EnableScheduler {
		app.Scheduler = scheduler.New(feed, ingestService, cfg.IngestInterval)
	}

	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if a.Scheduler != nil {
			a.Scheduler.Stop()
		}
		a.SearchService.Close()
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
