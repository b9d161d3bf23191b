package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apiserver "github.com/causewatch/causewatch/internal/api_server"
	"github.com/causewatch/causewatch/internal/archive"
	"github.com/causewatch/causewatch/internal/catalog"
	"github.com/causewatch/causewatch/internal/config"
	"github.com/causewatch/causewatch/internal/events"
	"github.com/causewatch/causewatch/internal/fetcher"
	"github.com/causewatch/causewatch/internal/jobs"
	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/internal/store/model"
	"github.com/causewatch/causewatch/pkg/log"
	"github.com/causewatch/causewatch/pkg/metrics"
	"github.com/causewatch/causewatch/pkg/migrations"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}
		if err := cfg.Validate(); err != nil {
			zap.S().Fatalw("invalid configuration", "error", err)
		}

		logger := log.InitLog(log.Level(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting ingestion daemon")
		defer zap.S().Info("Ingestion daemon stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if cfg.Service.MigrationFolder != "" {
			if err := migrations.MigrateStore(db, cfg.Service.MigrationFolder); err != nil {
				zap.S().Fatalw("running migrations", "error", err)
			}
		} else {
			if err := s.InitialMigration(); err != nil {
				zap.S().Fatalw("running initial migration", "error", err)
			}
		}

		producer := newEventProducer(cfg)
		defer func() { _ = producer.Close() }()

		registry := jobs.NewRegistry()
		registerFetchRunners(cfg, s, producer, registry)
		registerSyncRunner(cfg, s, producer, registry)

		scheduler := jobs.NewScheduler(s, jobs.SchedulerConfig{
			Interval:  cfg.Ingest.ScheduleInterval,
			Window:    cfg.Ingest.ScheduleWindow,
			JitterMax: cfg.Ingest.ScheduleJitterMax,
		})

		processor := jobs.NewProcessor(s, registry, jobs.ProcessorConfig{
			Interval:        cfg.Ingest.ProcessInterval,
			BatchSize:       cfg.Ingest.ProcessBatchSize,
			MaxRetries:      cfg.Ingest.MaxRetries,
			BackoffBase:     cfg.Ingest.RetryBackoffBase,
			StuckJobTimeout: cfg.Ingest.StuckJobTimeout,
			JobTimeout:      cfg.Ingest.JobTimeout,
			Delays: map[model.JobKind]fetcher.DelayWindow{
				model.KindTwitterFetch:   {Min: cfg.Ingest.TwitterDelayMin, Max: cfg.Ingest.TwitterDelayMax},
				model.KindFarcasterFetch: {Min: cfg.Ingest.FarcasterDelayMin, Max: cfg.Ingest.FarcasterDelayMax},
			},
		})

		maintenance := jobs.NewMaintenance(s, jobs.MaintenanceConfig{
			Interval:        cfg.Ingest.MaintenanceInterval,
			RetentionWindow: cfg.Ingest.RetentionWindow,
			PerProjectCap:   cfg.Ingest.PostsPerProjectCap,
		})

		prometheusRegisterStats(s)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		go scheduler.Start(ctx)
		go processor.Start(ctx)
		go maintenance.Start(ctx)

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.StatusAddress)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.NewStatusServer(cfg.Service.StatusAddress, s, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("running status server", "error", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

func newEventProducer(cfg *config.Config) *events.EventProducer {
	var writer events.Writer = &events.StdoutWriter{}

	if len(cfg.Service.Kafka.Brokers) > 0 {
		version, err := cfg.Service.Kafka.ParsedVersion()
		if err != nil {
			zap.S().Errorw("invalid kafka version, falling back to stdout", "error", err)
		} else if kafkaWriter, err := events.NewKafkaWriter(cfg.Service.Kafka.Brokers, cfg.Service.Kafka.ClientID, version); err != nil {
			zap.S().Errorw("failed to create kafka writer, falling back to stdout", "error", err)
		} else {
			writer = kafkaWriter
		}
	}

	opts := []events.ProducerOptions{}
	if cfg.Service.Kafka.Topic != "" {
		opts = append(opts, events.WithOutputTopic(cfg.Service.Kafka.Topic))
	}
	return events.NewEventProducer(writer, opts...)
}

func registerFetchRunners(cfg *config.Config, s store.Store, producer *events.EventProducer, registry *jobs.Registry) {
	archiver := newArchiver(cfg)

	fetchOpts := fetcher.Options{
		Lookback:  cfg.Ingest.LookbackWindow,
		MaxItems:  cfg.Ingest.FetchPageSize,
		ScanLimit: cfg.Ingest.FetchScanLimit,
	}

	if cfg.Ingest.ScraperBaseURL != "" {
		sessions, err := fetcher.NewScraperSessionProvider(fetcher.ScraperOptions{
			BaseURL:  cfg.Ingest.ScraperBaseURL,
			Username: cfg.Ingest.ScraperUsername,
			Password: cfg.Ingest.ScraperPassword,
		})
		if err != nil {
			zap.S().Errorw("failed to create scraper client, twitter fetch disabled", "error", err)
		} else {
			twitter := fetcher.NewTwitterFetcher(sessions, fetchOpts)
			registry.Register(model.KindTwitterFetch, jobs.NewFetchRunner(s, twitter, producer, archiver))
		}
	}

	if cfg.Ingest.FarcasterAPIURL != "" {
		source, err := fetcher.NewFarcasterClient(fetcher.FarcasterOptions{
			BaseURL: cfg.Ingest.FarcasterAPIURL,
		})
		if err != nil {
			zap.S().Errorw("failed to create farcaster client, farcaster fetch disabled", "error", err)
		} else {
			farcaster := fetcher.NewFarcasterFetcher(source, fetchOpts)
			registry.Register(model.KindFarcasterFetch, jobs.NewFetchRunner(s, farcaster, producer, archiver))
		}
	}
}

func registerSyncRunner(cfg *config.Config, s store.Store, producer *events.EventProducer, registry *jobs.Registry) {
	if cfg.Ingest.CatalogURL == "" {
		return
	}

	hostname, _ := os.Hostname()
	holder := fmt.Sprintf("%s-%s", hostname, uuid.NewString())

	synchronizer := catalog.NewSynchronizer(s, catalog.NewClient(catalog.ClientOptions{BaseURL: cfg.Ingest.CatalogURL}), catalog.SyncConfig{
		PageSize:         cfg.Ingest.SyncPageSize,
		BatchSize:        cfg.Ingest.SyncBatchSize,
		Concurrency:      cfg.Ingest.SyncConcurrency,
		FailureThreshold: cfg.Ingest.SyncFailureThreshold,
		LockTTL:          cfg.Ingest.LockTTL,
		Holder:           holder,
	})

	registry.Register(model.KindCauseSync, jobs.RunnerFunc(func(ctx context.Context, job *model.Job) (map[string]any, error) {
		summary, err := synchronizer.Run(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(summary); err == nil {
			if err := producer.Write(ctx, jobs.CauseSyncEventKind, bytes.NewReader(data)); err != nil {
				zap.S().Named("sync_runner").Warnw("failed to publish sync event", "error", err)
			}
		}
		return summary.Metadata(), nil
	}))
}

func newArchiver(cfg *config.Config) jobs.Archiver {
	if cfg.Service.Archive.Endpoint == "" {
		return nil
	}

	archiver, err := archive.NewMinioArchiver(
		archive.WithEndpoint(cfg.Service.Archive.Endpoint),
		archive.WithBucket(cfg.Service.Archive.Bucket),
		archive.WithAccessKey(cfg.Service.Archive.AccessKey),
		archive.WithSecretKey(cfg.Service.Archive.SecretKey),
		archive.WithSSL(cfg.Service.Archive.UseSSL),
	)
	if err != nil {
		zap.S().Errorw("failed to create snapshot archiver", "error", err)
		return nil
	}
	return archiver
}

func prometheusRegisterStats(s store.Store) {
	// collector reads the store on every scrape
	prometheus.MustRegister(metrics.NewIngestionStatsCollector(s))
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
