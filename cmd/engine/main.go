package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "engine",
		Short:        "AMM settlement engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply events from a JSONL file",
		RunE:  runReplay,
	}
	addEngineFlags(replayCmd)
	replayCmd.Flags().String("in", "", "input events JSONL")
	replayCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path, empty disables resume")
	root.AddCommand(replayCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Consume events from Kafka",
		RunE:  runConsumer,
	}
	addEngineFlags(runCmd)
	runCmd.Flags().String("kafka-input-topic", "", "Kafka topic carrying inbound events")
	runCmd.Flags().String("kafka-group-id", "exchange-core", "Kafka consumer group")
	root.AddCommand(runCmd)

	positionsCmd := &cobra.Command{
		Use:   "positions",
		Short: "List the stored positions of a pool as JSONL",
		RunE:  runPositions,
	}
	positionsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	positionsCmd.Flags().String("store", "memory", "durable store (memory, postgres)")
	positionsCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	positionsCmd.Flags().String("pool", "", "pool pair, e.g. BTC/USDT")
	positionsCmd.Flags().Int("page-size", 100, "positions fetched per store scan")
	root.AddCommand(positionsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().Int("ring-size", 1024, "inbound queue capacity")
	cmd.Flags().Int("idempotency-cache-size", 100_000, "processed event ids kept in memory")
	cmd.Flags().String("store", "memory", "durable store (memory, postgres)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Int("storage-batch-size", 256, "results merged per storage write")
	cmd.Flags().String("journal", "", "optional JSONL journal of event outcomes")
	cmd.Flags().String("bus", "log", "message bus (none, log, kafka, nats)")
	cmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers (comma-separated)")
	cmd.Flags().String("nats-url", "", "NATS server URL")
	cmd.Flags().String("nats-subject-root", "exchange", "NATS subject prefix")
	cmd.Flags().Int("publish-workers", 4, "publisher goroutines")
	cmd.Flags().Int("publish-retries", 2, "retries per message")
	cmd.Flags().Duration("retry-backoff", 100*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("redis-addr", "", "Redis address for shared idempotency, empty disables")
	cmd.Flags().String("redis-password", "", "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database")
	cmd.Flags().Duration("redis-ttl", 24*time.Hour, "processed event marker TTL")
	cmd.Flags().String("metrics-addr", "", "Prometheus listen address, empty disables")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
