package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"exchangeCore/internal/bus"
	"exchangeCore/internal/model"
	"exchangeCore/internal/processor"
	"exchangeCore/internal/storage"
)

var (
	ErrClosed      = errors.New("pipeline closed")
	ErrNilEvent    = errors.New("event is nil")
	ErrUnknownKind = errors.New("no processor for event kind")
)

const (
	defaultRingSize         = 1024
	defaultCacheSize        = 100_000
	defaultPublishWorkers   = 4
	defaultStorageBatchSize = 256
)

// Config sizes the pipeline's queues and worker pools.
type Config struct {
	RingSize             int
	IdempotencyCacheSize int
	PublishWorkers       int
	StorageBatchSize     int
	Retry                bus.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.RingSize <= 0 {
		c.RingSize = defaultRingSize
	}
	if c.IdempotencyCacheSize <= 0 {
		c.IdempotencyCacheSize = defaultCacheSize
	}
	if c.PublishWorkers <= 0 {
		c.PublishWorkers = defaultPublishWorkers
	}
	if c.StorageBatchSize <= 0 {
		c.StorageBatchSize = defaultStorageBatchSize
	}
	if c.Retry.MaxRetries == 0 && c.Retry.BaseDelay == 0 {
		c.Retry = bus.DefaultRetryPolicy()
	}
	return c
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStore stages every result into kv.
func WithStore(kv storage.KV) Option {
	return func(p *Pipeline) { p.store = kv }
}

// WithJournal appends one line per processed event.
func WithJournal(journal *storage.JournalWriter) Option {
	return func(p *Pipeline) { p.journal = journal }
}

// WithPublisher forwards result messages to the bus.
func WithPublisher(pub bus.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithMarker adds a shared idempotency tier behind the local cache.
func WithMarker(marker Marker) Option {
	return func(p *Pipeline) { p.marker = marker }
}

func WithMetrics(metrics *Metrics) Option {
	return func(p *Pipeline) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// WithResults exposes every result on a buffered channel. Results are dropped
// when the subscriber falls behind.
func WithResults(buffer int) Option {
	return func(p *Pipeline) {
		if buffer < 1 {
			buffer = 1
		}
		p.results = make(chan *model.Result, buffer)
	}
}

func WithClock(clock processor.Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// Pipeline applies events one at a time in submission order. Storage and
// publishing run behind it on their own goroutines.
type Pipeline struct {
	cfg        Config
	processors map[model.EventKind]processor.Processor
	logger     *zap.Logger
	metrics    *Metrics
	clock      processor.Clock

	store     storage.KV
	journal   *storage.JournalWriter
	publisher bus.Publisher
	marker    Marker
	idem      *idempotency

	queue     chan *model.Event
	storeCh   chan *model.Result
	publishCh []chan bus.Message
	results   chan *model.Result

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
	group     errgroup.Group
}

// New starts the consumer and its workers.
func New(cfg Config, processors map[model.EventKind]processor.Processor, opts ...Option) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:        cfg,
		processors: processors,
		logger:     zap.NewNop(),
		clock:      time.Now,
		queue:      make(chan *model.Event, cfg.RingSize),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	p.idem = newIdempotency(cfg.IdempotencyCacheSize, p.marker, p.logger)

	// background: an accepted event is always carried through
	ctx := context.Background()

	if p.store != nil || p.journal != nil {
		p.storeCh = make(chan *model.Result, cfg.RingSize)
		p.group.Go(func() error { return p.writeLoop(ctx) })
	}
	if p.publisher != nil {
		p.publishCh = make([]chan bus.Message, cfg.PublishWorkers)
		for i := range p.publishCh {
			ch := make(chan bus.Message, cfg.RingSize)
			p.publishCh[i] = ch
			p.group.Go(func() error { return p.publishLoop(ctx, ch) })
		}
	}
	p.group.Go(func() error { return p.consume(ctx) })
	return p
}

// Submit enqueues ev, blocking while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, ev *model.Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- ev:
		p.metrics.queueDepth.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results is nil unless WithResults was given. It is closed by Close.
func (p *Pipeline) Results() <-chan *model.Result {
	return p.results
}

// Metrics returns the collectors in use.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Close stops accepting events, drains the queue and waits for storage and
// publishing to finish.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		p.closeErr = p.group.Wait()
		if p.results != nil {
			close(p.results)
		}
	})
	return p.closeErr
}

func (p *Pipeline) consume(ctx context.Context) error {
	defer func() {
		if p.storeCh != nil {
			close(p.storeCh)
		}
		for _, ch := range p.publishCh {
			close(ch)
		}
	}()

	for ev := range p.queue {
		p.metrics.queueDepth.Set(float64(len(p.queue)))
		res := p.apply(ctx, ev)
		p.fanOut(res)
	}
	return nil
}

func (p *Pipeline) apply(ctx context.Context, ev *model.Event) *model.Result {
	if res, ok := p.idem.lookup(ctx, ev); ok {
		p.metrics.duplicates.Inc()
		p.logger.Debug("duplicate event", zap.String("event_id", ev.ID), zap.String("kind", string(ev.Kind)))
		return res
	}

	proc, ok := p.processors[ev.Kind]
	if !ok {
		res := model.NewResult(ev, p.clock())
		res.Fail(fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind))
		p.metrics.processed.WithLabelValues(string(ev.Kind), status(false)).Inc()
		return res
	}

	start := time.Now()
	res := p.dispatch(ctx, proc, ev)
	p.metrics.duration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())
	p.metrics.processed.WithLabelValues(string(ev.Kind), status(res.Success)).Inc()
	if !res.Success {
		p.logger.Info("event failed",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("error", res.ErrorMessage),
		)
	}

	p.idem.remember(ctx, res)
	return res
}

// dispatch runs one processor; a panic or a nil result becomes a failure.
func (p *Pipeline) dispatch(ctx context.Context, proc processor.Processor, ev *model.Event) (res *model.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor panic", zap.String("event_id", ev.ID), zap.Any("panic", r))
			res = model.NewResult(ev, p.clock()).Fail(fmt.Errorf("%w: %v", processor.ErrPanic, r))
		}
	}()
	res = proc.Process(ctx, ev)
	if res == nil {
		res = model.NewResult(ev, p.clock()).Fail(fmt.Errorf("%w: nil result", processor.ErrPanic))
	}
	return res
}

func (p *Pipeline) fanOut(res *model.Result) {
	if p.storeCh != nil {
		p.storeCh <- res
	}

	if len(p.publishCh) > 0 {
		msgs, err := bus.MessagesFor(res)
		if err != nil {
			p.logger.Error("encode bus messages", zap.String("event_id", res.EventID), zap.Error(err))
		}
		for _, msg := range msgs {
			p.publishCh[p.shard(msg.Key)] <- msg
		}
	}

	if p.results != nil {
		select {
		case p.results <- res:
		default:
			p.logger.Warn("results subscriber behind, dropping", zap.String("event_id", res.EventID))
		}
	}
}

// shard keeps every message with the same key on one worker.
func (p *Pipeline) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.publishCh)))
}

func (p *Pipeline) publishLoop(ctx context.Context, ch <-chan bus.Message) error {
	for msg := range ch {
		if err := bus.PublishWithRetry(ctx, p.publisher, msg, p.cfg.Retry, p.logger); err != nil {
			p.metrics.publishErrors.WithLabelValues(msg.Topic).Inc()
			continue
		}
		p.metrics.published.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// writeLoop is the single storage writer. Results are merged into one batch
// per flush so later snapshots of the same key win.
func (p *Pipeline) writeLoop(ctx context.Context) error {
	batch := storage.Batch{}
	var records []storage.JournalRecord
	pending := 0

	flush := func() {
		if pending == 0 {
			return
		}
		p.flush(ctx, batch, records)
		batch = storage.Batch{}
		records = nil
		pending = 0
	}

	for res := range p.storeCh {
		encoded, err := storage.EncodeResult(res)
		if err != nil {
			p.metrics.storageErrors.Inc()
			p.logger.Error("encode result", zap.String("event_id", res.EventID), zap.Error(err))
		} else {
			batch.Merge(encoded)
		}
		records = append(records, storage.NewJournalRecord(res))
		pending++

		if pending >= p.cfg.StorageBatchSize || len(p.storeCh) == 0 {
			flush()
		}
	}
	flush()
	return nil
}

func (p *Pipeline) flush(ctx context.Context, batch storage.Batch, records []storage.JournalRecord) {
	if p.store != nil {
		for _, cf := range storage.ColumnFamilies {
			values := batch[cf]
			if len(values) == 0 {
				continue
			}
			if err := p.store.BatchPut(ctx, cf, values); err != nil {
				p.metrics.storageErrors.Inc()
				p.logger.Error("storage write failed", zap.String("cf", cf), zap.Int("values", len(values)), zap.Error(err))
				continue
			}
			p.metrics.storageWrites.Add(float64(len(values)))
		}
	}
	if p.journal != nil {
		if err := p.journal.Append(records); err != nil {
			p.metrics.storageErrors.Inc()
			p.logger.Error("journal append failed", zap.Int("records", len(records)), zap.Error(err))
		}
	}
}
