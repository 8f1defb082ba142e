package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/hirakuhq/hiraku/db"
	"github.com/hirakuhq/hiraku/internal/api"
	"github.com/hirakuhq/hiraku/internal/auth"
	"github.com/hirakuhq/hiraku/internal/chat"
	"github.com/hirakuhq/hiraku/internal/config"
	"github.com/hirakuhq/hiraku/internal/database"
	"github.com/hirakuhq/hiraku/internal/document"
	"github.com/hirakuhq/hiraku/internal/knowledge"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/rag"
)

// reindexTimeout bounds the startup re-index so a large backlog or an
// unreachable embedder cannot block serving forever.
const reindexTimeout = 10 * time.Minute

// runServe initializes every component and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	addr, err := parseServeAddr(cfg.Addr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}
	cfg.Addr = addr

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting hiraku", "version", Version, "addr", cfg.Addr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, cleanup, err := database.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer cleanup()

	// One Ollama client per model: the chat model generates, the
	// embedding model vectorizes.
	chatModel, err := ollama.New(
		ollama.WithServerURL(cfg.OllamaHost),
		ollama.WithModel(cfg.ModelName),
	)
	if err != nil {
		return fmt.Errorf("creating chat model client: %w", err)
	}

	embedClient, err := ollama.New(
		ollama.WithServerURL(cfg.OllamaHost),
		ollama.WithModel(cfg.EmbedderModel),
	)
	if err != nil {
		return fmt.Errorf("creating embedder client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedClient, embeddings.WithStripNewLines(true))
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	users, err := auth.NewStore(pool, logger)
	if err != nil {
		return fmt.Errorf("creating user store: %w", err)
	}
	tokens, err := auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token manager: %w", err)
	}
	chats, err := chat.NewStore(pool, pool, logger)
	if err != nil {
		return fmt.Errorf("creating chat store: %w", err)
	}
	knowledgeStore, err := knowledge.NewStore(pool, pool, logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}

	processor := document.NewProcessor(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxUploadBytes, logger)
	indexer, err := rag.NewIndexer(processor, embedder, knowledgeStore, logger)
	if err != nil {
		return fmt.Errorf("creating indexer: %w", err)
	}
	defer indexer.Close()

	engine, err := rag.NewEngine(knowledgeStore, embedder, chatModel, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	// Pick up files uploaded before a crash or schema reset. Failures
	// here are logged, not fatal; the server can run with a partial
	// index.
	go func() {
		reindexCtx, reindexCancel := context.WithTimeout(ctx, reindexTimeout)
		defer reindexCancel()
		if _, err := indexer.ReindexRoot(reindexCtx, cfg.UploadDir); err != nil {
			logger.Warn("startup re-index aborted", "error", err)
		}
	}()

	server, err := api.NewServer(cfg, api.Deps{
		Pool:      pool,
		Users:     users,
		Tokens:    tokens,
		Chats:     chats,
		Knowledge: knowledgeStore,
		Engine:    engine,
		Indexer:   indexer,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return server.Run(ctx)
}

// newLogger builds the process logger from config, with the DEBUG
// environment variable as an override.
func newLogger(cfg *config.Config) log.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}
