package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig contains configuration for the batch writer.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

// WriterMetrics tracks writer statistics.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// readingRow represents a row in the health_readings table.
type readingRow struct {
	ReadingID  string // UUID
	ReceivedAt int64  // Microseconds
	Metric     string
	Level      float64
	PeerID     string // UUID
}

// PostgresWriter batches readings into the health_readings table.
// Record only appends to the pending batch; inserts happen on the flush goroutine.
type PostgresWriter struct {
	cfg    WriterConfig
	db     DB
	logger *slog.Logger

	// Batching
	batch   []readingRow
	batchMu sync.Mutex
	kick    chan struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewPostgresWriter creates a new PostgresWriter.
func NewPostgresWriter(cfg WriterConfig, db DB, logger *slog.Logger) *PostgresWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &PostgresWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]readingRow, 0, cfg.BatchSize),
		kick:   make(chan struct{}, 1),
		ctx:    context.Background(),
	}
}

// Start begins the flush loop.
func (w *PostgresWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("health writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the flush loop and writes whatever is pending.
func (w *PostgresWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping health writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("health writer stopped")
	case <-ctx.Done():
		w.logger.Warn("health writer stop timed out")
	}

	// Final flush with the caller's context; ours is canceled.
	w.flushWith(ctx)

	return nil
}

// Record queues a reading for insertion.
func (w *PostgresWriter) Record(ctx context.Context, r Reading) error {
	row := w.transform(r)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stats returns current metrics.
func (w *PostgresWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Pending returns the number of queued rows.
func (w *PostgresWriter) Pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// flushLoop flushes on interval or when Record fills a batch.
func (w *PostgresWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushWith(w.ctx)
		case <-w.kick:
			w.flushWith(w.ctx)
		}
	}
}

// transform converts a Reading to a readingRow.
func (w *PostgresWriter) transform(r Reading) readingRow {
	return readingRow{
		ReadingID:  r.ID.String(),
		ReceivedAt: r.ReceivedAt.UnixMicro(),
		Metric:     r.Metric,
		Level:      r.Level,
		PeerID:     r.PeerID.String(),
	}
}

// flushWith writes the current batch to the database.
func (w *PostgresWriter) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]readingRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed health readings",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *PostgresWriter) batchInsert(ctx context.Context, rows []readingRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO health_readings (reading_id, received_at, metric, level, peer_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (reading_id) DO NOTHING
		`, r.ReadingID, r.ReceivedAt, r.Metric, r.Level, r.PeerID)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
