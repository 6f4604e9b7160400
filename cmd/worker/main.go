package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tubegraph/backend/internal/config"
	"github.com/tubegraph/backend/internal/queue"
	"github.com/tubegraph/backend/internal/storage"
	"github.com/tubegraph/backend/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tubegraph/backend/pkg/ai"
	oai "github.com/tubegraph/backend/pkg/ai/ollama"
	gai "github.com/tubegraph/backend/pkg/ai/openai"
	"github.com/tubegraph/backend/pkg/enrich"
	"github.com/tubegraph/backend/pkg/leaselock"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/logger/console"
	"github.com/tubegraph/backend/pkg/store"
	"github.com/tubegraph/backend/pkg/store/cypher"
	"github.com/tubegraph/backend/pkg/store/memory"
	pgstore "github.com/tubegraph/backend/pkg/store/pgx"
	"github.com/tubegraph/backend/pkg/youtube"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load(util.GetEnvString("CONFIG_PATH", "config.toml"))
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}

	// Embedding client
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

	if err := embedder.LoadModel(ctx); err != nil {
		logger.Warn("Embedding model warmup failed", "err", err)
	}

	// Graph storage
	var (
		graphStore store.GraphStorage
		locker     *leaselock.Locker
	)

	switch cfg.Store.Adapter {
	case config.StoreAdapterPostgres:
		poolCfg, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
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
		locker = leaselock.New(pgConn)

	case config.StoreAdapterCypher:
		cy, err := cypher.NewGraphCypherStorage(ctx, cypher.NewGraphCypherStorageParams{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Metric:   cfg.Enrichment.Metric,
		})
		if err != nil {
			logger.Fatal("Could not connect to graph database", "err", err)
		}
		graphStore = cy

	case config.StoreAdapterMemory:
		mem, err := memory.NewStorage(cfg.Enrichment.Metric)
		if err != nil {
			logger.Fatal("Could not create in-memory storage", "err", err)
		}
		graphStore = mem
		logger.Warn("Using in-memory storage, the graph will not survive a restart")
	}
	defer graphStore.Close(context.Background())

	engine, err := enrich.NewEngine(enrich.NewEngineParams{
		Store:    graphStore,
		Embedder: embedder,
		Config:   cfg.Enrichment,
	})
	if err != nil {
		logger.Fatal("Could not create enrichment engine", "err", err)
	}

	// YouTube client, only needed for catalog expansion
	var yt *youtube.Client
	if key := util.GetEnv("YOUTUBE_API_KEY"); key != "" {
		yt, err = youtube.NewClient(youtube.NewClientParams{APIKey: key})
		if err != nil {
			logger.Fatal("Could not create YouTube client", "err", err)
		}
	} else {
		logger.Warn("YOUTUBE_API_KEY not set, catalog jobs will fail")
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	logger.Info("Listening for messages")

	// Create a single consumer channel with prefetch=1
	// This ensures only ONE message is delivered at a time across all queues
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.QueueEnrich:
					processingErr = queue.ProcessEnrichMessage(ctx, engine, graphStore, embedder, s3Client, locker, string(qm.msg.Body))
				case queue.QueueCatalog:
					processingErr = queue.ProcessCatalogMessage(ctx, yt, graphStore, string(qm.msg.Body))
				}

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					err = qm.msg.Ack(false)
					if err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				metrics := embedder.GetMetrics()
				embedDuration := time.Duration(metrics.DurationMs) * time.Millisecond
				embedHours := int(embedDuration.Hours())
				embedMinutes := int(embedDuration.Minutes()) % 60
				embedSeconds := int(embedDuration.Seconds()) % 60
				logger.Info(
					"Embedding metrics",
					"total_tokens", metrics.TotalTokens,
					"duration", fmt.Sprintf("%02d:%02d:%02d", embedHours, embedMinutes, embedSeconds),
				)

				processingDuration := time.Since(startTime)
				hours := int(processingDuration.Hours())
				minutes := int(processingDuration.Minutes()) % 60
				seconds := int(processingDuration.Seconds()) % 60
				logger.Info(
					"Processing time",
					"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
				)
				logger.Info("Waiting for next message")
				embedder.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// If message has been retried 10 times, send to dead-letter
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
