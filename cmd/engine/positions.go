package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"exchangeCore/internal/config"
	"exchangeCore/internal/state"
)

func runPositions(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	pair, _ := cmd.Flags().GetString("pool")
	if pair == "" {
		return fmt.Errorf("pool pair is required")
	}
	pageSize, _ := cmd.Flags().GetInt("page-size")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	e := &engine{logger: logger}
	defer e.closeDeps()
	kv, err := e.openStore(ctx, cfg)
	if err != nil {
		return err
	}

	n, err := writePositions(ctx, state.NewLedger(kv, logger), pair, pageSize, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	logger.Info("positions listed", zap.String("pool", pair), zap.Int("count", n))
	return nil
}

// writePositions pages through a pool's positions and writes one JSON line
// per position.
func writePositions(ctx context.Context, ledger *state.Ledger, pair string, pageSize int, w io.Writer) (int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	enc := json.NewEncoder(w)
	total := 0
	cursor := ""
	for {
		page, next, err := ledger.PositionsByPool(ctx, pair, pageSize, cursor)
		if err != nil {
			return total, err
		}
		for _, position := range page {
			if err := enc.Encode(position); err != nil {
				return total, fmt.Errorf("write position %s: %w", position.Identifier, err)
			}
			total++
		}
		if next == "" {
			return total, nil
		}
		cursor = next
	}
}
