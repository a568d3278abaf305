package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elf-memory/elf/internal/indexworker"
	"github.com/elf-memory/elf/internal/obslog"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the indexing and search-trace outbox queues",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("elf-worker")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	w := indexworker.New(st, vec, provider, tok, cfg, obslog.Component("indexworker"))

	log.Info().Msg("starting outbox worker")
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}
