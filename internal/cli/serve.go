package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docs2md/internal/batch"
	"github.com/joseph-ayodele/docs2md/internal/export"
	"github.com/joseph-ayodele/docs2md/internal/repository"
	"github.com/joseph-ayodele/docs2md/internal/server"
)

const reapInterval = time.Minute

func newServeCommand(a *app) *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
		workers  int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("http-addr") {
				a.cfg.Server.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("grpc-addr") {
				a.cfg.Server.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("workers") {
				a.cfg.Pipeline.Workers = workers
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (overrides config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel files per batch (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if !logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}

	arts, err := repository.NewArtifactRepository(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open artifact store", "backend", cfg.Storage.ArtifactBackend, "error", err)
		return err
	}
	defer func() {
		if err := arts.Close(); err != nil {
			logger.Error("failed to close artifact store", "error", err)
		}
	}()

	svc := batch.NewService(batch.ConfigFrom(cfg),
		batch.NewProcessor(cfg, nil, logger),
		arts,
		export.NewPackager(cfg.Pipeline.PreviewLength, logger),
		logger,
	)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.New(svc, cfg, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := server.NewHealthServer(logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("docs2md listening", "http_addr", cfg.Server.HTTPAddr, "workers", cfg.Pipeline.Workers)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return health.Serve(lis)
	})
	g.Go(func() error {
		svc.RunReaper(gctx, reapInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		health.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// batches first: waiting uploads return once their batch is cancelled
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("batches still running at shutdown", "error", err)
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		health.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("stopped.")
	return nil
}
