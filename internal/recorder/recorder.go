package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/hubconn/internal/buffer"
	"github.com/rickgao/hubconn/internal/connection"
	"github.com/rickgao/hubconn/internal/model"
)

// Schema creates the events table.
const Schema = `
CREATE TABLE IF NOT EXISTS platform_events (
	id          BIGSERIAL PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL,
	namespace   TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	address     TEXT NOT NULL DEFAULT '',
	attributes  JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS platform_events_received_at_idx ON platform_events (received_at);
`

const insertEvent = `
	INSERT INTO platform_events (received_at, namespace, event_type, address, attributes)
	VALUES ($1, $2, $3, $4, $5)
`

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds recorder settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // queued events beyond this are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics holds recorder counters.
type Metrics struct {
	Inserts int64
	Errors  int64
	Flushes int64
	Dropped int64
}

// eventRow is one platform_events row.
type eventRow struct {
	ReceivedAt time.Time
	Namespace  string
	EventType  string
	Address    string
	Attributes []byte
}

// Recorder consumes events from the bus and writes them to the database.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	input *buffer.GrowableBuffer[connection.Event]
	db    DB

	batch   []eventRow
	batchMu sync.Mutex

	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Recorder.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = defaults.BufferSize
	}

	initial := cfg.BatchSize * 2
	if initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}

	return &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "recorder"),
		input:  buffer.NewGrowableBuffer[connection.Event](initial, cfg.BufferSize),
		db:     db,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the events table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create platform_events: %w", err)
	}
	return nil
}

// Attach subscribes the recorder to every event on bus. Stop detaches it.
func (r *Recorder) Attach(bus *connection.EventBus) {
	r.unsubscribe = bus.SubscribeAll(func(ev connection.Event) {
		r.Record(ev)
	})
}

// Record queues ev. It never blocks; it returns false when the event was
// dropped because the queue is full or the recorder stopped.
func (r *Recorder) Record(ev connection.Event) bool {
	return r.input.Send(ev)
}

// Start begins consuming events and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.consumeLoop()
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
		"buffer_size", r.cfg.BufferSize,
	)
	return nil
}

// Stop detaches from the bus, waits for the loops and writes what is left.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.input.Close()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush
	for _, ev := range r.input.DrainTo(0) {
		r.add(ev)
	}
	r.flush(ctx)

	r.logger.Info("recorder stopped", "inserts", r.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	m := r.metrics
	m.Dropped = r.input.Stats().Dropped
	return m
}

// consumeLoop moves queued events into the batch.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.input.Ready():
			for {
				events := r.input.DrainTo(r.cfg.BatchSize)
				if len(events) == 0 {
					break
				}
				for _, ev := range events {
					if r.add(ev) {
						r.flush(r.ctx)
					}
				}
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush(r.ctx)
		}
	}
}

// add appends ev to the batch and reports whether the batch is full.
func (r *Recorder) add(ev connection.Event) bool {
	row, err := transform(ev)
	if err != nil {
		r.logger.Warn("skipping unencodable event", "event", ev.Key.String(), "error", err)
		return false
	}

	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	r.batch = append(r.batch, row)
	return len(r.batch) >= r.cfg.BatchSize
}

// transform converts an event to a row. Opaque frames are stored under
// "text" or "list".
func transform(ev connection.Event) (eventRow, error) {
	attrs := ev.Attributes
	switch ev.Frame.Kind {
	case model.FrameText:
		attrs = model.Attributes{"text": ev.Frame.Text}
	case model.FrameList:
		attrs = model.Attributes{"list": ev.Frame.List}
	}
	if attrs == nil {
		attrs = model.Attributes{}
	}

	data, err := json.Marshal(attrs)
	if err != nil {
		return eventRow{}, err
	}

	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return eventRow{
		ReceivedAt: receivedAt.UTC(),
		Namespace:  ev.Key.Namespace,
		EventType:  ev.Key.Type,
		Address:    ev.Subject.Address,
		Attributes: data,
	}, nil
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	if err := r.batchInsert(ctx, batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertEvent, row.ReceivedAt, row.Namespace, row.EventType, row.Address, row.Attributes)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
