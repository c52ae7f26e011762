package ragstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/ragstore/api"
	"github.com/liliang-cn/ragstore/internal/domain"
	"github.com/liliang-cn/ragstore/internal/embedder"
	"github.com/liliang-cn/ragstore/internal/metadata"
	"github.com/liliang-cn/ragstore/internal/processor"
	"github.com/liliang-cn/ragstore/internal/rerank"
	"github.com/liliang-cn/ragstore/internal/store/blob"
	"github.com/liliang-cn/ragstore/internal/store/pg"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API service",
	Long:  `Start the HTTP server exposing upload, query, and document management endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}

		logger := log.Logger

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		metaStore, err := pg.New(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Embed.Dimension, logger)
		if err != nil {
			return fmt.Errorf("failed to open metadata store: %w", err)
		}
		defer metaStore.Close()

		blobStore, err := blob.New(ctx, cfg.Blob, logger)
		if err != nil {
			return fmt.Errorf("failed to open blob store: %w", err)
		}

		emb := embedder.NewOpenAIEmbedder(cfg.OpenAI, cfg.Embed.Dimension)
		extractor := metadata.New(cfg.OpenAI, logger)

		reranker, err := rerank.FromConfig(cfg.Reranker, cfg.OpenAI, logger)
		if err != nil && !errors.Is(err, domain.ErrRerankerUnavailable) {
			return fmt.Errorf("failed to build reranker: %w", err)
		}
		if reranker != nil {
			defer func() {
				if err := reranker.Close(); err != nil {
					logger.Warn().Err(err).Msg("reranker close failed")
				}
			}()
		}

		svc := processor.New(cfg, metaStore, blobStore, emb, extractor, reranker, logger)
		server := api.NewServer(cfg, svc, logger)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-quit:
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return server.Stop(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host address")
}
