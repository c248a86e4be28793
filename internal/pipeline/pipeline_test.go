package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"exchangeCore/internal/bus"
	"exchangeCore/internal/model"
	"exchangeCore/internal/processor"
	"exchangeCore/internal/state"
	"exchangeCore/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type recorder struct {
	mu   sync.Mutex
	msgs []bus.Message
	fail bool
}

func (r *recorder) Publish(_ context.Context, topic, key string, payload []byte) error {
	if r.fail {
		return errors.New("broker down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, bus.Message{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) byKey(key string) []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Message
	for _, msg := range r.msgs {
		if msg.Key == key {
			out = append(out, msg)
		}
	}
	return out
}

type fakeMarker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *fakeMarker) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id], nil
}

func (m *fakeMarker) Mark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
	return nil
}

func deposit(id, key, coin, amount string) *model.Event {
	return &model.Event{ID: id, Kind: model.KindCoinDeposit, Balance: &model.BalanceParams{
		AccountKey: key,
		Coin:       coin,
		Amount:     decimal.RequireFromString(amount),
	}}
}

func newTestPipeline(t *testing.T, cfg Config, opts ...Option) (*Pipeline, *state.Ledger) {
	t.Helper()
	ledger := state.NewLedger(nil, nil)
	opts = append([]Option{WithClock(testClock), WithResults(1024)}, opts...)
	return New(cfg, processor.NewRegistry(ledger, testClock, nil), opts...), ledger
}

func drain(p *Pipeline) []*model.Result {
	var out []*model.Result
	for res := range p.Results() {
		out = append(out, res)
	}
	return out
}

func TestPipelineAppliesEventsInOrder(t *testing.T) {
	kv := storage.NewMemoryKV()
	pub := &recorder{}
	p, ledger := newTestPipeline(t, Config{RingSize: 8, PublishWorkers: 3}, WithStore(kv), WithPublisher(pub))
	ctx := context.Background()

	events := []*model.Event{
		{ID: "pool-1", Kind: model.KindAmmPool, Pool: &model.PoolParams{
			Pair: "BTC/USDT", Token0: "BTC", Token1: "USDT",
			FeePercentage: decimal.RequireFromString("0.003"), TickSpacing: 60,
		}},
		deposit("dep-1", "alice:BTC", "BTC", "100"),
		deposit("dep-2", "alice:USDT", "USDT", "100"),
		{ID: "pos-1", Kind: model.KindAmmPositionCreate, Position: &model.AmmPosition{
			Identifier: "p-1", PoolPair: "BTC/USDT",
			OwnerAccountKey0: "alice:BTC", OwnerAccountKey1: "alice:USDT",
			TickLowerIndex: -600, TickUpperIndex: 600,
			Amount0Initial: decimal.NewFromInt(50), Amount1Initial: decimal.NewFromInt(50),
			Status: model.PositionPending,
		}},
		deposit("dep-3", "bob:BTC", "BTC", "10"),
		{ID: "swap-1", Kind: model.KindAmmOrder, Order: &model.AmmOrder{
			Identifier: "o-1", PoolPair: "BTC/USDT",
			OwnerAccountKey0: "bob:BTC", OwnerAccountKey1: "bob:USDT",
			ZeroForOne: true, AmountSpecified: decimal.NewFromInt(5),
			Status: model.OrderProcessing,
		}},
	}
	for _, ev := range events {
		if err := p.Submit(ctx, ev); err != nil {
			t.Fatalf("Submit(%s) error = %v", ev.ID, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	results := drain(p)
	if len(results) != len(events) {
		t.Fatalf("expected %d results, got %d", len(events), len(results))
	}
	for i, res := range results {
		if res.EventID != events[i].ID {
			t.Fatalf("result %d is %s, want %s", i, res.EventID, events[i].ID)
		}
		if !res.Success {
			t.Fatalf("event %s failed: %s", res.EventID, res.ErrorMessage)
		}
	}

	pool, err := ledger.Pool(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	raw, err := kv.Get(ctx, storage.CFPools, "BTC/USDT")
	if err != nil {
		t.Fatalf("stored pool: %v", err)
	}
	var stored model.AmmPool
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decode stored pool: %v", err)
	}
	if !stored.SqrtPrice.Equal(pool.SqrtPrice) || stored.CurrentTick != pool.CurrentTick {
		t.Fatalf("stored pool %s/%d differs from ledger %s/%d", stored.SqrtPrice, stored.CurrentTick, pool.SqrtPrice, pool.CurrentTick)
	}
	for _, key := range []string{"alice:BTC", "alice:USDT", "bob:BTC", "bob:USDT"} {
		if _, err := kv.Get(ctx, storage.CFAccounts, key); err != nil {
			t.Fatalf("account %s not stored: %v", key, err)
		}
	}
	if _, err := kv.Get(ctx, storage.CFPositionIndex, model.PositionIndexKey("BTC/USDT", "p-1")); err != nil {
		t.Fatalf("position index not stored: %v", err)
	}
	if _, err := kv.Get(ctx, storage.CFOrders, "o-1"); err != nil {
		t.Fatalf("order not stored: %v", err)
	}

	// every message about the pool lands on one worker, so its updates keep
	// the order they were produced in
	var topics []string
	for _, msg := range pub.byKey("BTC/USDT") {
		topics = append(topics, msg.Topic)
	}
	want := []string{
		bus.TopicPoolUpdate,
		bus.TopicPoolUpdate, bus.TopicPositionUpdate, bus.TopicTickUpdate, bus.TopicTickUpdate,
		bus.TopicPoolUpdate, bus.TopicOrderUpdate,
	}
	if fmt.Sprint(topics) != fmt.Sprint(want) {
		t.Fatalf("unexpected topic order %v, want %v", topics, want)
	}
	if len(pub.byKey("dep-1")) != 1 {
		t.Fatalf("expected one transaction result for dep-1")
	}

	if got := testutil.ToFloat64(p.Metrics().processed.WithLabelValues(string(model.KindCoinDeposit), "success")); got != 3 {
		t.Fatalf("expected 3 processed deposits, got %v", got)
	}
}

func TestPipelineReplayIsIdempotent(t *testing.T) {
	kv := storage.NewMemoryKV()
	p, ledger := newTestPipeline(t, Config{}, WithStore(kv))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := p.Submit(ctx, deposit("dep-1", "alice:BTC", "BTC", "1")); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := p.Submit(ctx, deposit("dep-2", "alice:BTC", "BTC", "0")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Submit(ctx, deposit("dep-2", "alice:BTC", "BTC", "2")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	results := drain(p)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if results[0].Duplicate || !results[1].Duplicate || !results[2].Duplicate {
		t.Fatalf("unexpected duplicate flags %v %v %v", results[0].Duplicate, results[1].Duplicate, results[2].Duplicate)
	}
	if !results[1].Success || len(results[1].Accounts) != 1 {
		t.Fatal("a replay must return the cached success result")
	}
	// failures are not cached, so a corrected retry with the same id applies
	if results[3].Success || results[4].Duplicate || !results[4].Success {
		t.Fatalf("unexpected outcome for dep-2: %+v / %+v", results[3], results[4])
	}

	account, _, err := ledger.AccountOrNew(ctx, "alice:BTC", "BTC")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.Available.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected balance 3, got %s", account.Available)
	}
	if got := testutil.ToFloat64(p.Metrics().duplicates); got != 2 {
		t.Fatalf("expected 2 duplicates, got %v", got)
	}
}

func TestPipelineSharedMarker(t *testing.T) {
	marker := &fakeMarker{seen: map[string]bool{"dep-1": true}}
	calls := 0
	procs := map[model.EventKind]processor.Processor{
		model.KindCoinDeposit: processor.ProcessorFunc(func(_ context.Context, ev *model.Event) *model.Result {
			calls++
			res := model.NewResult(ev, testNow)
			res.Success = true
			return res
		}),
	}
	p := New(Config{}, procs, WithMarker(marker), WithResults(4))
	ctx := context.Background()
	if err := p.Submit(ctx, deposit("dep-1", "a:BTC", "BTC", "1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Submit(ctx, deposit("dep-2", "a:BTC", "BTC", "1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	results := drain(p)
	if !results[0].Duplicate || !results[0].Success || results[0].HasEntity() {
		t.Fatalf("expected an entity-less duplicate, got %+v", results[0])
	}
	if calls != 1 {
		t.Fatalf("expected one processor call, got %d", calls)
	}
	if !marker.seen["dep-2"] {
		t.Fatal("successful event not marked")
	}
}

func TestPipelineConcurrentProducers(t *testing.T) {
	p, ledger := newTestPipeline(t, Config{RingSize: 4})
	ctx := context.Background()

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				id := fmt.Sprintf("dep-%d-%d", i, j)
				if err := p.Submit(ctx, deposit(id, "pool:USDT", "USDT", "1")); err != nil {
					t.Errorf("Submit(%s) error = %v", id, err)
				}
			}
		}(i)
	}
	wg.Wait()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := len(drain(p)); n != producers*perProducer {
		t.Fatalf("expected %d results, got %d", producers*perProducer, n)
	}
	account, _, err := ledger.AccountOrNew(ctx, "pool:USDT", "USDT")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.Available.Equal(decimal.NewFromInt(producers * perProducer)) {
		t.Fatalf("expected %d, got %s", producers*perProducer, account.Available)
	}
}

func TestPipelineRecoversFromPanicsAndUnknownKinds(t *testing.T) {
	procs := map[model.EventKind]processor.Processor{
		model.KindCoinDeposit: processor.ProcessorFunc(func(context.Context, *model.Event) *model.Result {
			panic("boom")
		}),
		model.KindCoinWithdrawal: processor.ProcessorFunc(func(context.Context, *model.Event) *model.Result {
			return nil
		}),
	}
	p := New(Config{}, procs, WithResults(4))
	ctx := context.Background()
	for _, ev := range []*model.Event{
		deposit("a", "x:BTC", "BTC", "1"),
		{ID: "b", Kind: model.KindCoinWithdrawal},
		{ID: "c", Kind: "escrow_mint"},
	} {
		if err := p.Submit(ctx, ev); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	results := drain(p)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, res := range results {
		if res.Success || res.ErrorMessage == "" {
			t.Fatalf("expected failure for %s, got %+v", res.EventID, res)
		}
	}
	if results[2].ErrorMessage != `no processor for event kind: "escrow_mint"` {
		t.Fatalf("unexpected message %q", results[2].ErrorMessage)
	}
}

func TestPipelineCountsPublishFailures(t *testing.T) {
	pub := &recorder{fail: true}
	p, _ := newTestPipeline(t, Config{Retry: bus.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}}, WithPublisher(pub))
	if err := p.Submit(context.Background(), deposit("dep-1", "alice:BTC", "BTC", "1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	drain(p)

	if got := testutil.ToFloat64(p.Metrics().publishErrors.WithLabelValues(bus.TopicAccountUpdate)); got != 1 {
		t.Fatalf("expected 1 publish error, got %v", got)
	}
	if got := testutil.ToFloat64(p.Metrics().publishErrors.WithLabelValues(bus.TopicTransactionResult)); got != 1 {
		t.Fatalf("expected 1 publish error, got %v", got)
	}
}

func TestPipelineJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "journal.jsonl")
	p, _ := newTestPipeline(t, Config{StorageBatchSize: 2}, WithJournal(storage.NewJournalWriter(path)))
	ctx := context.Background()
	for _, ev := range []*model.Event{
		deposit("dep-1", "alice:BTC", "BTC", "1"),
		deposit("dep-1", "alice:BTC", "BTC", "1"),
		deposit("dep-2", "alice:BTC", "BTC", "-1"),
	} {
		if err := p.Submit(ctx, ev); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	drain(p)

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer file.Close()

	var records []storage.JournalRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record storage.JournalRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode journal line: %v", err)
		}
		records = append(records, record)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 journal records, got %d", len(records))
	}
	if !records[1].Duplicate || records[2].Success {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Submit(context.Background(), deposit("late", "a:BTC", "BTC", "1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := p.Submit(context.Background(), nil); !errors.Is(err, ErrNilEvent) {
		t.Fatalf("expected ErrNilEvent, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestSubmitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	procs := map[model.EventKind]processor.Processor{
		model.KindCoinDeposit: processor.ProcessorFunc(func(_ context.Context, ev *model.Event) *model.Result {
			<-block
			return model.NewResult(ev, testNow)
		}),
	}
	p := New(Config{RingSize: 1}, procs)
	defer func() {
		close(block)
		_ = p.Close()
	}()

	ctx := context.Background()
	// one event held by the processor, one filling the queue
	if err := p.Submit(ctx, deposit("1", "a:BTC", "BTC", "1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(p.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.Submit(ctx, deposit("2", "a:BTC", "BTC", "1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(timeout, deposit("3", "a:BTC", "BTC", "1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
