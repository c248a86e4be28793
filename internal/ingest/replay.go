package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"exchangeCore/internal/model"
)

const maxLineSize = 4 * 1024 * 1024

// Submitter accepts events in order.
type Submitter interface {
	Submit(ctx context.Context, ev *model.Event) error
}

// Progress reports how far a replay got. Offset counts input lines, including
// the skipped and malformed ones, so it can be fed back as the next start.
type Progress struct {
	Offset      uint64
	LastEventID string
	Submitted   int
	Invalid     int
}

// ReplayFile submits the events of a JSONL file starting after line offset.
// Malformed lines are logged and skipped.
func ReplayFile(ctx context.Context, path string, offset uint64, sink Submitter, logger *zap.Logger) (Progress, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	progress := Progress{Offset: offset}

	file, err := os.Open(path)
	if err != nil {
		return progress, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var line uint64
	for scanner.Scan() {
		line++
		if line <= offset {
			continue
		}

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			progress.Offset = line
			continue
		}

		ev, err := DecodeEvent(raw)
		if err != nil {
			logger.Warn("skip malformed event", zap.Uint64("line", line), zap.Error(err))
			progress.Invalid++
			progress.Offset = line
			continue
		}

		if err := sink.Submit(ctx, ev); err != nil {
			return progress, fmt.Errorf("submit line %d: %w", line, err)
		}
		progress.Offset = line
		progress.LastEventID = ev.ID
		progress.Submitted++
	}
	if err := scanner.Err(); err != nil {
		return progress, fmt.Errorf("scan input: %w", err)
	}

	return progress, nil
}

// DecodeEvent parses one JSON event and checks it carries an id, a kind and
// the payload the kind needs.
func DecodeEvent(raw []byte) (*model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event id is empty")
	}

	var hasPayload bool
	switch ev.Kind {
	case model.KindAmmPool:
		hasPayload = ev.Pool != nil
	case model.KindAmmOrder:
		hasPayload = ev.Order != nil
	case model.KindAmmPositionCreate, model.KindAmmPositionCollectFee, model.KindAmmPositionClose:
		hasPayload = ev.Position != nil
	case model.KindCoinDeposit, model.KindCoinWithdrawal:
		hasPayload = ev.Balance != nil
	default:
		return nil, fmt.Errorf("event %s: unknown kind %q", ev.ID, ev.Kind)
	}
	if !hasPayload {
		return nil, fmt.Errorf("event %s: %s payload missing", ev.ID, ev.Kind)
	}
	return &ev, nil
}
