package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elf-memory/elf/internal/providers"
	"github.com/elf-memory/elf/internal/retrieval"
	"github.com/elf-memory/elf/internal/session"
	"github.com/elf-memory/elf/internal/sharing"
	"github.com/elf-memory/elf/internal/transport/httpapi"
	"github.com/elf-memory/elf/internal/transport/mcp"
	"github.com/elf-memory/elf/internal/writepipeline"
)

var httpAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ELF HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "address the HTTP server listens on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("elf-api")
	if err != nil {
		return err
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	vec, err := openVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer vec.Close()

	tok, err := buildTokenizer(cfg)
	if err != nil {
		return err
	}
	provider := buildProviders()

	wp := writepipeline.NewService(st, cfg, provider, tok)
	retr := retrieval.NewService(st, vec, st, provider, provider, provider, cfg)
	sess := session.NewService(st, retr, cfg)
	shr := sharing.NewService(st, cfg)

	extractor := writepipeline.ProviderExtractor{
		Provider: provider,
		Cfg: providers.ExtractConfig{
			ProviderID:  cfg.Providers.Extract.ProviderID,
			Model:       cfg.Providers.Extract.Model,
			Temperature: cfg.Providers.Extract.Temperature,
			TimeoutMs:   cfg.Providers.Extract.TimeoutMs,
		},
	}

	authenticator := buildAuthenticator(cfg)
	srv := httpapi.NewServer(cfg, wp, retr, sess, shr, extractor, authenticator)

	// Registering the MCP tool set at startup exercises internal/transport/mcp
	// as a reference wiring, even though no stdio/SSE transport drives
	// Registry.Call yet (out of scope per spec §1's "thin reference adapters
	// only" framing for boundary transports).
	registry := mcp.NewDefaultRegistry(wp, retr, sess, shr, extractor)
	toolNames := make([]string, 0, len(registry.List()))
	for _, t := range registry.List() {
		toolNames = append(toolNames, t.Name)
	}
	log.Info().Strs("tools", toolNames).Msg("MCP tool registry ready")

	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-shutdownCtx.Done()
	log.Info().Msg("shutting down gracefully...")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}
