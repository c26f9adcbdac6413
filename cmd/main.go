package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"csv-rag/internal/chromemdb"
	"csv-rag/internal/config"
	"csv-rag/internal/db"
	"csv-rag/internal/embedding"
	"csv-rag/internal/helper"
	"csv-rag/internal/llmservice"
	"csv-rag/internal/parser"
	"csv-rag/internal/rag"
	"csv-rag/internal/server"
)

const (
	configFilePath = "./configs/config.yaml"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	_ = godotenv.Load()

	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	dryRun := flag.Bool("dry-run", false, "Parse and chunk the folder, print the chunks and exit")
	skipIngest := flag.Bool("skip-ingest", false, "Serve the existing index without ingesting")
	reset := flag.Bool("reset", false, "Clear the vector store before ingesting")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(&cfg.Log)
	if *reset {
		cfg.Ingest.Reset = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		printChunks(ctx, cfg)
		return
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.Ingest.BatchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	store, closeStore, err := newStore(ctx, cfg, embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector store")
	}
	defer closeStore()

	model, err := llmservice.NewModel(&cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing LLM")
	}

	app := rag.NewRAG(store, model, cfg)

	if !*skipIngest {
		added, err := app.Ingest(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Error ingesting folder")
		}
		log.Info().Int("chunks", added).Str("folder", cfg.Ingest.Folder).Msg("Ingestion complete")

		if m, ok := store.(*chromemdb.VectorDBManager); ok && cfg.VectorStore.SnapshotFile != "" {
			if err := m.Export(ctx); err != nil {
				log.Fatal().Err(err).Msg("Error exporting snapshot")
			}
		}
	}

	if err := server.New(app, &cfg.Server).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
}

func setupLogger(cfg *config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using debug")
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}
}

func newStore(ctx context.Context, cfg *config.Config, embedder embeddings.Embedder) (rag.Store, func(), error) {
	switch cfg.VectorStore.Type {
	case config.StorePGVector:
		s, err := db.NewStore(ctx, &cfg.Database, embedder, cfg.Ingest.Dedup)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		m, err := chromemdb.NewVectorDBManager(&cfg.VectorStore, embedder, cfg.Ingest.Dedup)
		if err != nil {
			return nil, nil, err
		}
		if cfg.VectorStore.InMemory && cfg.VectorStore.SnapshotFile != "" {
			switch _, err := os.Stat(cfg.VectorStore.SnapshotFile); {
			case err == nil:
				if err := m.Import(ctx); err != nil {
					return nil, nil, err
				}
				log.Info().Str("file", cfg.VectorStore.SnapshotFile).Msg("Imported snapshot")
			case !errors.Is(err, os.ErrNotExist):
				return nil, nil, err
			}
		}
		return m, func() {}, nil
	}
}

func printChunks(ctx context.Context, cfg *config.Config) {
	p := parser.NewParser(&cfg.Ingest)
	docs, err := p.LoadFolder(ctx, cfg.Ingest.Folder)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing folder")
	}
	chunks, err := p.Split(docs)
	if err != nil {
		log.Fatal().Err(err).Msg("Error splitting documents")
	}
	log.Info().Int("rows", len(docs)).Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
}
