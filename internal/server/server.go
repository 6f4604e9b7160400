package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tubegraph/backend/internal/config"
	"github.com/tubegraph/backend/internal/queue"
	mid "github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/internal/storage"
	"github.com/tubegraph/backend/internal/util"
	"github.com/tubegraph/backend/pkg/ai"
	oai "github.com/tubegraph/backend/pkg/ai/ollama"
	gai "github.com/tubegraph/backend/pkg/ai/openai"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/store"
	"github.com/tubegraph/backend/pkg/store/cypher"
	"github.com/tubegraph/backend/pkg/store/memory"
	pgstore "github.com/tubegraph/backend/pkg/store/pgx"
	"github.com/tubegraph/backend/pkg/youtube"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func runMigrations(databaseURL string) error {
	path := util.GetEnvString("MIGRATIONS_PATH", "migrations")
	m, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(util.GetEnvString("CONFIG_PATH", "config.toml"))
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	// Graph storage
	var graphStore store.GraphStorage

	switch cfg.Store.Adapter {
	case config.StoreAdapterPostgres:
		databaseURL := util.GetEnv("DATABASE_URL")
		if err := runMigrations(databaseURL); err != nil {
			logger.Fatal("Failed to run migrations", "err", err)
		}

		poolCfg, err := pgxpool.ParseConfig(databaseURL)
		if err != nil {
			logger.Fatal("Invalid DATABASE_URL", "err", err)
		}
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
		pgConn, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pgConn.Close()

		pg, err := pgstore.NewGraphDBStorageWithConnection(ctx, pgConn, cfg.Enrichment.Metric)
		if err != nil {
			logger.Fatal("Could not create graph storage", "err", err)
		}
		graphStore = pg

	case config.StoreAdapterCypher:
		cy, err := cypher.NewGraphCypherStorage(ctx, cypher.NewGraphCypherStorageParams{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Metric:   cfg.Enrichment.Metric,
		})
		if err != nil {
			logger.Fatal("Could not create graph storage", "err", err)
		}
		graphStore = cy

	case config.StoreAdapterMemory:
		mem, err := memory.NewStorage(cfg.Enrichment.Metric)
		if err != nil {
			logger.Fatal("Could not create graph storage", "err", err)
		}
		logger.Warn("Using the in-memory store, the graph will not survive a restart")
		graphStore = mem

	default:
		logger.Fatal("Unknown store adapter", "adapter", cfg.Store.Adapter)
	}
	defer graphStore.Close(context.Background())

	// Embedding client, used to answer graph search queries
	adapter := util.GetEnv("AI_ADAPTER")
	var embedder ai.EmbeddingClient

	switch adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),

			BaseURL: util.GetEnv("AI_EMBED_URL"),
			ApiKey:  util.GetEnv("AI_EMBED_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		embedder = client
	default:
		embedder = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
		})
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}

	var yt *youtube.Client
	if apiKey := util.GetEnv("YOUTUBE_API_KEY"); apiKey != "" {
		yt, err = youtube.NewClient(youtube.NewClientParams{APIKey: apiKey})
		if err != nil {
			logger.Fatal("Could not create YouTube client", "err", err)
		}
	} else {
		logger.Warn("YOUTUBE_API_KEY is not set, registration and catalog routes will be unavailable")
	}

	masterAPIKey := util.GetEnv("MASTER_API_KEY")
	masterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	masterUserRole := util.GetEnv("MASTER_USER_ROLE")

	app := &mid.App{
		Config:   cfg,
		Store:    graphStore,
		Embedder: embedder,
		Queue:    ch,
		S3:       s3Client,
		YouTube:  yt,
		Key:      &k,

		MasterAPIKey:   masterAPIKey,
		MasterUserID:   masterUserID,
		MasterUserRole: masterUserRole,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("Request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("16M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
