package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"exchangeCore/internal/config"
	"exchangeCore/internal/ingest"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	checkpoints := ingest.NewCheckpointStore(cfg.CheckpointPath, true)
	var offset uint64
	if cp, ok, err := checkpoints.Load(); err != nil {
		return err
	} else if ok {
		offset = cp.Offset
		logger.Info("resume from checkpoint", zap.Uint64("offset", offset), zap.String("last_event_id", cp.LastEventID))
	}

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	progress, replayErr := ingest.ReplayFile(ctx, cfg.In, offset, eng.pipeline, logger)
	// everything submitted is applied and stored before the checkpoint moves
	if err := eng.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	if err := checkpoints.Save(progress.Offset, progress.LastEventID); err != nil {
		return err
	}

	logger.Info("replay complete",
		zap.String("in", cfg.In),
		zap.Uint64("offset", progress.Offset),
		zap.Int("submitted", progress.Submitted),
		zap.Int("invalid", progress.Invalid),
	)
	if replayErr != nil && ctx.Err() == nil {
		return replayErr
	}
	return nil
}
