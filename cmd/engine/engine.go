package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"exchangeCore/internal/bus"
	"exchangeCore/internal/config"
	"exchangeCore/internal/pipeline"
	"exchangeCore/internal/processor"
	"exchangeCore/internal/state"
	"exchangeCore/internal/storage"
	"exchangeCore/internal/storage/postgres"
)

// engine owns the pipeline and everything it was built from.
type engine struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	closers  []func() error
	metrics  *http.Server
}

func newEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *engine, err error) {
	e := &engine{logger: logger}
	defer func() {
		if err != nil {
			e.closeDeps()
		}
	}()

	kv, err := e.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithStore(kv),
	}
	if cfg.JournalPath != "" {
		opts = append(opts, pipeline.WithJournal(storage.NewJournalWriter(cfg.JournalPath)))
	}

	pub, err := e.openPublisher(cfg)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		opts = append(opts, pipeline.WithPublisher(pub))
	}

	if cfg.RedisAddr != "" {
		marker := pipeline.NewRedisMarker(pipeline.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		e.closers = append(e.closers, marker.Close)
		if err := marker.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		opts = append(opts, pipeline.WithMarker(marker))
	}

	metrics := pipeline.NewMetrics(nil)
	opts = append(opts, pipeline.WithMetrics(metrics))
	if cfg.MetricsAddr != "" {
		e.serveMetrics(cfg.MetricsAddr, metrics)
	}

	ledger := state.NewLedger(kv, logger)
	e.pipeline = pipeline.New(pipeline.Config{
		RingSize:             cfg.RingSize,
		IdempotencyCacheSize: cfg.IdempotencyCacheSize,
		PublishWorkers:       cfg.PublishWorkers,
		StorageBatchSize:     cfg.StorageBatchSize,
		Retry:                bus.RetryPolicy{MaxRetries: cfg.PublishRetries, BaseDelay: cfg.RetryBackoff},
	}, processor.NewRegistry(ledger, time.Now, logger), opts...)

	logger.Info("engine ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("bus", cfg.BusDriver),
		zap.Int("ring_size", cfg.RingSize),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)
	return e, nil
}

func (e *engine) openStore(ctx context.Context, cfg config.Config) (storage.KV, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return storage.NewMemoryKV(), nil
	}
}

func (e *engine) openPublisher(cfg config.Config) (bus.Publisher, error) {
	var (
		pub bus.Publisher
		err error
	)
	switch cfg.BusDriver {
	case config.BusKafka:
		pub, err = bus.NewKafkaPublisher(bus.KafkaConfig{Brokers: cfg.KafkaBrokers})
	case config.BusNATS:
		pub, err = bus.NewNATSPublisher(bus.NATSConfig{URL: cfg.NATSURL, SubjectRoot: cfg.NATSSubjectRoot})
	case config.BusLog:
		pub = bus.NewLogPublisher(e.logger.Named("bus"))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, pub.Close)
	return pub, nil
}

func (e *engine) serveMetrics(addr string, metrics *pipeline.Metrics) {
	e.metrics = &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := e.metrics.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server", zap.Error(err))
		}
	}()
}

// Close drains the pipeline before releasing the store and the bus.
func (e *engine) Close() error {
	var err error
	if e.pipeline != nil {
		err = e.pipeline.Close()
	}
	e.closeDeps()
	return err
}

func (e *engine) closeDeps() {
	if e.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("close dependency", zap.Error(err))
		}
	}
	e.closers = nil
}
