package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/config"
	"github.com/koustreak/recordbase/internal/filestore/minio"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/paging"
	"github.com/koustreak/recordbase/internal/recordapi"
	"github.com/koustreak/recordbase/internal/server"
	"github.com/koustreak/recordbase/internal/subscription"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the record API server.

The store is opened with the configured driver and its schema loaded.
Every committed write is published to live subscriptions and, when the
archive is enabled, to object storage. SIGINT and SIGTERM trigger a
graceful shutdown.

Example:
  recordbase serve --config ./recordbase.yaml
  RECORDBASE_DATABASE_DSN=./app.db recordbase serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.LoggerConfig())
	log.With().Str("driver", cfg.Database.Driver).Str("address", cfg.Server.Address).Logger().Info("starting recordbase")

	db, reg, err := openRegistry(ctx, cfg, log)
	if err != nil {
		log.ErrorWith("failed to open store", err, nil)
		return err
	}
	defer db.Close()

	capture := changes.NewCapture(db, log)
	hub := subscription.NewHub(subscription.HubOptions{QueueSize: cfg.Subscriptions.QueueSize, Logger: log})
	capture.AddSink(hub)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Schema.PollInterval > 0 {
		g.Go(func() error {
			reg.Watch(gctx, cfg.Schema.PollInterval)
			return nil
		})
	}

	if cfg.Archive.Enabled {
		store, err := minio.New(ctx, cfg.FilestoreConfig())
		if err != nil {
			log.ErrorWith("failed to connect archive store", err, nil)
			return err
		}
		defer store.Close()

		archiver := changes.NewArchiver(store, changes.ArchiveOptions{
			Bucket:        cfg.Archive.Bucket,
			Buffer:        cfg.Archive.Buffer,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			Logger:        log,
		})
		capture.AddSink(archiver)
		g.Go(func() error { return archiver.Run(gctx) })
	}

	svc := recordapi.New(db, reg, capture, hub, recordapi.Options{
		Authorizer:   cfg.Authorizer(),
		Limits:       cfg.Limits(),
		Paging:       paging.Options{CountTimeout: cfg.Records.CountTimeout, Logger: log},
		QueryTimeout: cfg.Database.QueryTimeout,
		Logger:       log,
	})

	srv := server.New(svc, server.Options{
		Address:         cfg.Server.Address,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateRPS:         cfg.Server.RateLimit.RPS,
		RateBurst:       cfg.Server.RateLimit.Burst,
		JWTSecret:       cfg.Server.JWTSecret,
		Keepalive:       cfg.Subscriptions.Keepalive,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Health:          db.Ping,
		OnShutdown:      []func(){hub.Close},
		Logger:          log,
	})
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	hub.Close()
	if err != nil {
		log.ErrorWith("recordbase stopped", err, nil)
		return err
	}
	log.Info("recordbase stopped")
	return nil
}
