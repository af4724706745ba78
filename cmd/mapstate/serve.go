package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/config"
	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/server"
	mapsync "github.com/alfredjeanlab/mapstate/internal/sync"
	"github.com/alfredjeanlab/mapstate/internal/telemetry"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the mapstate HTTP server",
	GroupID: "system",
	Long: `Start the HTTP API, plus the optional gRPC health endpoint, NATS event
relay and backup scheduler. Configuration comes from MAPSTATE_* environment
variables and the optional TOML file named by MAPSTATE_CONFIG.`,
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		shutdownTracing, err := telemetry.Init(ctx, "mapstate", version, cfg.OTLPEndpoint)
		if err != nil {
			return err
		}

		// Open the KV store.
		store, err := openStore(cfg)
		if err != nil {
			_ = shutdownTracing(ctx)
			return err
		}
		logger.Info("kv store opened", "backend", cfg.KVBackend)

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				_ = shutdownTracing(ctx)
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (MAPSTATE_NATS_URL not set)")
		}

		srv := server.New(store, publisher, server.Options{
			AdminToken:    cfg.AdminToken,
			PublicURL:     cfg.PublicURL,
			AllowedOrigin: cfg.AllowedOrigin,
			SessionTTL:    cfg.SessionTTL,
			HistoryLimit:  cfg.LocationHistory,
			ListLimit:     cfg.ListLimit,
		})

		// Feed live streams from the bus so every replica sees every update.
		var relay *events.NATSSubscriber
		if cfg.NATSURL != "" {
			relay, err = events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create event relay, streams stay local", "err", err)
			} else if err := srv.RelayFrom(ctx, relay); err != nil {
				logger.Error("failed to start event relay, streams stay local", "err", err)
				relay.Close()
				relay = nil
			}
		}

		if cfg.PresenceTimeout > 0 {
			srv.StartPresenceReaper(cfg.PresenceTimeout, 0)
			logger.Info("presence reaper started", "timeout", cfg.PresenceTimeout)
		}

		// Start gRPC health listener.
		var grpcServer *grpc.Server
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				srv.Close()
				publisher.Close()
				store.Close()
				_ = shutdownTracing(ctx)
				return err
			}
			gs, hs := server.NewGRPCServer()
			go srv.WatchHealth(ctx, hs, 10*time.Second)
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := gs.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
			grpcServer = gs
		}

		// Start HTTP server. Request contexts derive from ctx so that open
		// event streams end when shutdown begins.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start sync scheduler if any destinations are configured.
		var scheduler *mapsync.Scheduler
		if cfg.SyncInterval > 0 {
			if dests := buildDestinations(ctx, cfg, logger); len(dests) > 0 {
				scheduler = mapsync.NewScheduler(store, nil, dests, cfg.SyncInterval, logger)
				scheduler.Start(ctx)
				logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
			}
		}

		logger.Info("mapstate server started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
			"version", version,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		srv.Close()
		if relay != nil {
			relay.Close()
		}
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("error flushing traces", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore connects the configured KV backend.
func openStore(cfg *config.Config) (kv.Store, error) {
	switch cfg.KVBackend {
	case config.BackendBolt:
		s, err := kv.NewBoltStore(kv.BoltConfig{Path: cfg.KVBoltPath})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendREST:
		s, err := kv.NewRESTStore(kv.RESTConfig{
			URL:     cfg.KVRESTURL,
			Token:   cfg.KVRESTToken,
			Timeout: cfg.KVTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}
}

// buildDestinations returns the backup destinations enabled in cfg. A
// destination that cannot be set up is logged and skipped.
func buildDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []mapsync.Destination {
	var dests []mapsync.Destination

	if cfg.SyncS3Bucket != "" {
		s3Dest, err := mapsync.NewS3Destination(ctx, mapsync.S3Config{
			Bucket:   cfg.SyncS3Bucket,
			Key:      cfg.SyncS3Key,
			Region:   cfg.SyncS3Region,
			Endpoint: cfg.SyncS3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}

	if cfg.SyncFile != "" {
		dests = append(dests, mapsync.NewFileDestination(cfg.SyncFile))
		logger.Info("sync file destination enabled", "path", cfg.SyncFile)
	}

	if cfg.SyncGitRepo != "" {
		dests = append(dests, mapsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}

	return dests
}
