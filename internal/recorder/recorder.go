package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/wsclient/internal/broadcast"
	"github.com/rickgao/wsclient/internal/connection"
)

// finalFlushTimeout bounds the flush Stop performs after the loops exit.
const finalFlushTimeout = 5 * time.Second

const (
	insertMessageSQL = `INSERT INTO ws_messages (conn_id, received_at, payload) VALUES ($1, $2, $3)`
	insertEventSQL   = `INSERT INTO ws_events (conn_id, kind, status, detail, at) VALUES ($1, $2, $3, $4, $5)`
)

// Store sends a batch of statements. Satisfied by *pgxpool.Pool.
type Store interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Source is the set of streams a recorder consumes. Satisfied by *connection.Client.
type Source interface {
	StatusStream() broadcast.Stream[connection.Status]
	MessageStream() broadcast.Stream[connection.Message]
	EventStream() broadcast.Stream[connection.Event]
}

// Config holds recorder settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default recorder settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Stats provides recorder counters.
type Stats struct {
	Messages int64 // Message rows written
	Events   int64 // Status and event rows written
	Flushes  int64
	Errors   int64 // Failed batches
	Dropped  int64 // Rows lost with a failed batch
	Backlog  int   // Items published to the source but not yet read
}

type rowKind uint8

const (
	rowMessage rowKind = iota
	rowEvent
)

// row is one pending insert into ws_messages or ws_events.
type row struct {
	kind    rowKind
	connID  string
	at      time.Time
	payload string // ws_messages.payload (JSON text)
	event   string // ws_events.kind
	status  string
	detail  string
}

// Recorder batches stream items into Postgres.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	db     Store

	statuses *broadcast.Subscription[connection.Status]
	messages *broadcast.Subscription[connection.Message]
	events   *broadcast.Subscription[connection.Event]

	// Batching
	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drained chan struct{}

	metrics Stats
}

// New creates a Recorder writing to db.
func New(cfg Config, db Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Recorder{
		cfg:     cfg,
		db:      db,
		logger:  logger.With("component", "recorder"),
		batch:   make([]row, 0, cfg.BatchSize),
		drained: make(chan struct{}),
	}
}

// Start subscribes to src and begins writing. Items published after Start
// returns are recorded; the status stream also yields its current value.
func (r *Recorder) Start(ctx context.Context, src Source) error {
	if src == nil {
		return fmt.Errorf("recorder: nil source")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.statuses = src.StatusStream().Subscribe()
	r.messages = src.MessageStream().Subscribe()
	r.events = src.EventStream().Subscribe()

	r.wg.Add(2)
	go r.consumeLoop()
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Drained is closed once consumption has ended: every source stream has
// closed and its rows are in the batch, or Stop gave up waiting for that.
func (r *Recorder) Drained() <-chan struct{} {
	return r.drained
}

// Stop detaches from the source, waits (bounded by ctx) until the items
// already published have been read, then stops the loops and flushes the
// remaining batch. Items published after Stop begins are not recorded.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.logger.Info("stopping recorder")

	r.statuses.Drain()
	r.messages.Drain()
	r.events.Drain()

	select {
	case <-r.drained:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out, abandoning unread items", "backlog", r.backlog())
	}

	r.cancel()
	r.flushTicker.Stop()

	// Releases the pumps if the drain above was cut short.
	r.statuses.Unsubscribe()
	r.messages.Unsubscribe()
	r.events.Unsubscribe()

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

	// r.ctx is cancelled and ctx may be too; the last batch still gets a bounded attempt.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	r.flush(flushCtx)

	stats := r.Stats()
	r.logger.Info("recorder stopped",
		"messages", stats.Messages,
		"events", stats.Events,
		"errors", stats.Errors,
	)
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	backlog := r.backlog()

	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	stats := r.metrics
	stats.Backlog = backlog
	return stats
}

// backlog is the number of items published but not yet read.
func (r *Recorder) backlog() int {
	if r.statuses == nil {
		return 0
	}
	return r.statuses.Pending() + r.messages.Pending() + r.events.Pending()
}

// consumeLoop reads all three subscriptions until they close or ctx ends.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()
	defer close(r.drained)

	statuses, messages, events := r.statuses.C(), r.messages.C(), r.events.C()
	for statuses != nil || messages != nil || events != nil {
		select {
		case <-r.ctx.Done():
			return
		case s, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			r.add(statusRow(s, time.Now()))
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			rw, err := messageRow(m)
			if err != nil {
				r.logger.Warn("skipping unencodable message", "conn_id", m.ConnID, "error", err)
				continue
			}
			r.add(rw)
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.add(eventRow(e))
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

func (r *Recorder) add(rw row) {
	r.batchMu.Lock()
	r.batch = append(r.batch, rw)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

func statusRow(s connection.Status, at time.Time) row {
	return row{kind: rowEvent, event: "status", status: s.String(), at: at}
}

func eventRow(e connection.Event) row {
	rw := row{kind: rowEvent, connID: e.ConnID, event: string(e.Type), at: e.At}
	if e.Err != nil {
		rw.detail = e.Err.Error()
	}
	return rw
}

func messageRow(m connection.Message) (row, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return row{}, err
	}
	return row{kind: rowMessage, connID: m.ConnID, at: m.ReceivedAt, payload: string(payload)}, nil
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
	r.batch = make([]row, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	messages, events, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.metrics.Dropped += int64(len(batch))
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Messages += messages
	r.metrics.Events += events
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed rows",
		"messages", messages,
		"events", events,
		"duration", time.Since(start),
	)
}

func (r *Recorder) batchInsert(ctx context.Context, rows []row) (messages, events int64, err error) {
	batch := &pgx.Batch{}
	for _, rw := range rows {
		switch rw.kind {
		case rowMessage:
			batch.Queue(insertMessageSQL, rw.connID, rw.at, rw.payload)
		default:
			batch.Queue(insertEventSQL, rw.connID, rw.event, rw.status, rw.detail, rw.at)
		}
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, rw := range rows {
		if _, err := results.Exec(); err != nil {
			return 0, 0, err
		}
		if rw.kind == rowMessage {
			messages++
		} else {
			events++
		}
	}
	return messages, events, nil
}
