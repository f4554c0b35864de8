package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"PerpRisk/internal/config"
	"PerpRisk/internal/core"
	"PerpRisk/internal/ingestion"
	"PerpRisk/internal/keeper"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/observability"
	"PerpRisk/internal/persistence"
	"PerpRisk/internal/projection"
	"PerpRisk/internal/query"
	"PerpRisk/internal/server"
	"PerpRisk/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := observability.NewLogger("main")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := observability.NewLoggerTo(os.Stdout, "main", observability.ParseLogLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("perprisk exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("perprisk shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()

	// Every long-running component reports its exit here.
	errChan := make(chan error, 16)
	spawn := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("component", name).Msg("component stopped")
				errChan <- err
			}
		}()
	}

	// Storage and recovery
	var (
		st          store.Store = store.NewMemoryStore()
		ledgerSvc               = ledger.NewService(logger)
		guard                   = ingestion.NewSequenceGuard()
		persistChan chan core.Output
		pool        *pgxpool.Pool
		snapMgr     *persistence.SnapshotManager
		querySvc    *query.QueryService
		rp          = &persistence.RecoveryPoint{}
		err         error
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx); err != nil {
			return err
		}
		if pool, err = pgxpool.New(ctx, cfg.PostgresDSN); err != nil {
			return err
		}
		defer pool.Close()

		st = store.NewPostgresStore(db, logger)
		snapMgr = persistence.NewSnapshotManager(pool, metrics, logger)
		if rp, err = snapMgr.Recover(ctx); err != nil {
			return err
		}
		ledgerSvc.Tracker().Restore(rp.Balances)
		guard.Restore(rp.PriceSequences)
		persistChan = make(chan core.Output, cfg.PersistChanSize)
		querySvc = query.NewQueryService(db)
		health.AddCheck("postgres", db.PingContext)
	} else {
		logger.Warn().Msg("PERP_POSTGRES_DSN not set, running in memory without an event log")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = store.ConnectRedis(ctx, cfg.RedisURL); err != nil {
			return err
		}
		defer rdb.Close()
		st = store.NewCachedStore(st, rdb, cfg.RedisTTL)
		health.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	opts := core.Options{
		Store:         st,
		Ledger:        ledgerSvc,
		Metrics:       metrics,
		Logger:        logger,
		NodeID:        cfg.NodeID,
		StartSequence: rp.Sequence,
		ChainTip:      rp.ChainTip,
		Persist:       persistChan,
	}
	eng, err := core.NewEngine(opts)
	if err != nil {
		return err
	}
	logger.Info().Int64("sequence", eng.Sequence()).Msg("engine ready")

	if persistChan != nil {
		worker := persistence.NewWorker(persistence.NewEventLogWriter(pool), persistChan,
			persistence.WorkerConfig{BatchSize: cfg.PersistBatchSize}, metrics, logger)
		snapshotter := persistence.NewSnapshotter(snapMgr, cfg.SnapshotInterval, func() *persistence.SnapshotData {
			return persistence.NewSnapshotData(eng.Checkpoint(), guard.State())
		})
		snapshotter.SetLast(rp.Sequence)
		worker.OnFlush(snapshotter.OnFlush)
		spawn("persist_worker", worker.Run)
	}

	// Read models
	proj := projection.NewWorker(cfg.ProjectionChanSize, cfg.ProjectionPerUser, metrics, logger)
	if snapMgr != nil {
		n, err := proj.Rebuild(ctx, snapMgr, 1000)
		if err != nil {
			return err
		}
		logger.Info().Int("events", n).Msg("projections rebuilt")
	}
	eng.AddSink(proj)
	spawn("projection_worker", proj.Run)

	stream := server.NewStreamHub(metrics, logger)
	eng.AddSink(stream)
	spawn("stream_hub", func(ctx context.Context) error {
		stream.Run(ctx)
		return nil
	})

	// Price feed and outbound events
	var subscriber *ingestion.PriceSubscriber
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return err
		}

		var seen ingestion.SeenStore
		if rdb != nil {
			seen = ingestion.NewRedisSeenStore(rdb, 24*time.Hour)
		}
		ing := ingestion.NewPriceIngestor(eng, ingestion.NewDeduplicator(cfg.DedupCapacity, seen), guard, metrics, logger)
		subscriber = ingestion.NewPriceSubscriber(js, ing, "", logger)
		if err := subscriber.Subscribe(ctx); err != nil {
			return err
		}
		health.AddCheck("nats", func(context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return errors.New("nats: " + nc.Status().String())
			}
			return nil
		})

		if cfg.EventSink == config.SinkNATS {
			pub := ingestion.NewOutboundPublisher(js, cfg.PublishChanSize, metrics, logger)
			eng.AddSink(pub)
			spawn("nats_publisher", pub.Run)
		}
	}
	if cfg.EventSink == config.SinkKafka {
		kcfg := ingestion.DefaultKafkaConfig(cfg.KafkaBrokers)
		kcfg.Topic = cfg.KafkaTopic
		sink, err := ingestion.NewKafkaSink(kcfg, cfg.PublishChanSize, metrics, logger)
		if err != nil {
			return err
		}
		eng.AddSink(sink)
		spawn("kafka_sink", sink.Run)
	}

	if cfg.BootstrapFile != "" {
		b, err := config.LoadBootstrap(cfg.BootstrapFile)
		if err != nil {
			return err
		}
		if _, err := b.Apply(ctx, eng, logger); err != nil {
			return err
		}
	}

	if cfg.KeeperEnabled {
		k := keeper.New(eng, keeper.Config{
			Liquidator:        cfg.KeeperLiquidator,
			Interval:          cfg.KeeperInterval,
			MaxLiquidationPct: cfg.KeeperMaxLiquidationPct,
			SettleFunding:     cfg.KeeperSettleFunding,
		}, logger)
		spawn("keeper", k.Run)
	}

	// Surfaces
	svc := server.NewService(server.ServiceDeps{Engine: eng, Query: querySvc, Projections: proj})
	grpcSrv := server.NewGRPCServer(cfg.GRPCAddr, svc, metrics, logger)
	spawn("grpc", grpcSrv.StartGRPC)

	httpSrv, err := server.NewHTTPServer(cfg.HTTPAddr, svc, server.HTTPDeps{
		Health:   health,
		Stream:   stream,
		Gatherer: reg,
	}, metrics, logger)
	if err != nil {
		return err
	}
	spawn("http", httpSrv.StartHTTP)

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		spawn("metrics", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				_ = metricsSrv.Close()
			}()
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	health.SetReady(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("event_sink", cfg.EventSink).
		Bool("keeper", cfg.KeeperEnabled).
		Msg("perprisk started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
	}

	health.SetReady(false)
	grpcSrv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()

	// Workers flush on cancellation; give them a moment before closing pools.
	time.Sleep(500 * time.Millisecond)
	return runErr
}
