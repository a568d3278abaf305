package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elf-memory/elf/internal/chunking"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/obslog"
	"github.com/elf-memory/elf/internal/providers"
	"github.com/elf-memory/elf/internal/store"
	"github.com/elf-memory/elf/internal/vectorstore"
)

// env mirrors the teacher's cmd/server/main.go env(k, def) helper: an
// explicit environment variable always wins over a built-in default.
func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// loadConfig reads the YAML config named by --config and initializes the
// global zerolog logger, the first two steps every elfctl subcommand needs.
func loadConfig(service string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	obslog.Init(service, logLevel, devLogs)
	return cfg, nil
}

// openStore connects to Postgres with the pool size and vector dimension
// named in cfg, running the schema-ensure step on first connect (spec §6).
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn := env("ELF_POSTGRES_DSN", cfg.Storage.Postgres.DSN)
	st, err := store.Open(ctx, dsn, cfg.Storage.Postgres.PoolMaxConns, cfg.Storage.Qdrant.VectorDim)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return st, nil
}

// openVectorStore connects to qdrant and ensures the configured collection
// exists with its dense+BM25 vector configuration (spec §4.4).
func openVectorStore(ctx context.Context, cfg *config.Config) (*vectorstore.Store, error) {
	vec, err := vectorstore.Open(ctx, vectorstore.Config{
		URL:        env("ELF_QDRANT_URL", cfg.Storage.Qdrant.URL),
		Collection: cfg.Storage.Qdrant.Collection,
		VectorDim:  cfg.Storage.Qdrant.VectorDim,
		APIKey:     os.Getenv("ELF_QDRANT_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("open qdrant store: %w", err)
	}
	return vec, nil
}

// buildTokenizer loads the tiktoken encoding named by cfg.Chunking.
func buildTokenizer(cfg *config.Config) (*chunking.Tokenizer, error) {
	tok, err := chunking.NewTokenizer(cfg.Chunking.TokenizerRepo)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return tok, nil
}

// buildProviders wires a single HTTPProvider, satisfying Embedder, Reranker,
// Extractor, and Expander alike, against the JSON/HTTP backend named by
// ELF_PROVIDERS_BASE_URL. ELF_PROVIDERS_BASE_URL is required: retrieval's
// rerank pass runs unconditionally on every non-empty search (internal/
// retrieval/retrieval.go), so a Reranker is never optional at runtime, the
// same "required secret or fatal" posture the teacher's main.go takes with
// DATABASE_URL.
func buildProviders() *providers.HTTPProvider {
	baseURL := os.Getenv("ELF_PROVIDERS_BASE_URL")
	if baseURL == "" {
		log.Fatal().Msg("ELF_PROVIDERS_BASE_URL is required (embedding/rerank/extract/expand HTTP backend)")
	}
	timeoutMs := 0
	if v := env("ELF_PROVIDERS_TIMEOUT_MS", ""); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &timeoutMs); err != nil {
			timeoutMs = 0
		}
	}
	return providers.NewHTTPProvider(providers.HTTPClientConfig{
		BaseURL: baseURL,
		APIKey:  os.Getenv("ELF_PROVIDERS_API_KEY"),
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
	})
}
