package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"exchangeCore/internal/model"
)

const (
	TopicPoolUpdate        = "amm_pool_update"
	TopicPositionUpdate    = "amm_position_update"
	TopicOrderUpdate       = "amm_order_update"
	TopicTickUpdate        = "tick_update"
	TopicAccountUpdate     = "coin_account_update"
	TopicTransactionResult = "transaction_result"
)

// Publisher forwards one payload to a topic. Messages with the same key keep
// their relative order.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// Message is one encoded bus message.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// TransactionResult is published when a result carries no pool, position or
// order.
type TransactionResult struct {
	EventID      string          `json:"event_id"`
	Kind         model.EventKind `json:"kind"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// MessagesFor derives the bus messages of a result. Everything that belongs to
// a pool is keyed by its pair, accounts by account key. Replayed duplicates
// publish nothing.
func MessagesFor(r *model.Result) ([]Message, error) {
	if r == nil || r.Duplicate {
		return nil, nil
	}

	var msgs []Message
	add := func(topic, key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s message: %w", topic, err)
		}
		msgs = append(msgs, Message{Topic: topic, Key: key, Payload: data})
		return nil
	}

	if r.Pool != nil {
		if err := add(TopicPoolUpdate, r.Pool.Pair, r.Pool); err != nil {
			return nil, err
		}
	}
	if r.Position != nil {
		if err := add(TopicPositionUpdate, r.Position.PoolPair, r.Position); err != nil {
			return nil, err
		}
	}
	if r.Order != nil {
		if err := add(TopicOrderUpdate, r.Order.PoolPair, r.Order); err != nil {
			return nil, err
		}
	}
	for _, tick := range r.Ticks {
		if err := add(TopicTickUpdate, tick.PoolPair, tick); err != nil {
			return nil, err
		}
	}
	for _, account := range r.Accounts {
		if err := add(TopicAccountUpdate, account.Key, account); err != nil {
			return nil, err
		}
	}
	if !r.HasEntity() {
		tx := TransactionResult{EventID: r.EventID, Kind: r.Kind, Success: r.Success, ErrorMessage: r.ErrorMessage}
		if err := add(TopicTransactionResult, r.EventID, tx); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}
