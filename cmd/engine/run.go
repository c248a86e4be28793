package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"exchangeCore/internal/config"
	"exchangeCore/internal/ingest"
)

func runConsumer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	source, err := ingest.NewKafkaSource(ingest.KafkaSourceConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaInputTopic,
		GroupID: cfg.KafkaGroupID,
	}, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("consumer start",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaInputTopic),
		zap.String("group", cfg.KafkaGroupID),
	)
	runErr := source.Run(ctx, eng.pipeline)
	if err := eng.Close(); err != nil {
		logger.Error("close engine", zap.Error(err))
	}
	return runErr
}
