package worker

import (
	"context"
	"errors"
	"time"

	"assessx-live/internal/domain"
	"github.com/rs/zerolog"
)

// flushTimeout bounds writing one popped batch. Popped records are written
// and requeued even after shutdown starts because they exist nowhere else.
const flushTimeout = 30 * time.Second

// Queue is the pending result list the worker drains.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (domain.ScoringRecord, bool, error)
	TryPop(ctx context.Context) (domain.ScoringRecord, bool, error)
	Record(ctx context.Context, record domain.ScoringRecord) error
}

// Store is the durable destination for drained records.
type Store interface {
	Record(ctx context.Context, record domain.ScoringRecord) error
	RecordBatch(ctx context.Context, records []domain.ScoringRecord) (int, error)
}

// ResultWorker moves queued scoring records into the result store in batches.
type ResultWorker struct {
	queue      Queue
	store      Store
	batchSize  int
	popTimeout time.Duration
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewResultWorker(queue Queue, store Store, batchSize int, log zerolog.Logger) *ResultWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ResultWorker{
		queue:      queue,
		store:      store,
		batchSize:  batchSize,
		popTimeout: time.Second,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "result_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

// processNext blocks for one record, then takes whatever else is queued up to
// the batch size and writes them together.
func (w *ResultWorker) processNext(ctx context.Context) int {
	first, ok, err := w.queue.Pop(ctx, w.popTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return 0
	}
	if !ok {
		return 0
	}

	batch := []domain.ScoringRecord{first}
	for len(batch) < w.batchSize {
		next, ok, err := w.queue.TryPop(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("LPop error")
			break
		}
		if !ok {
			break
		}
		batch = append(batch, next)
	}

	if failed := w.flush(ctx, batch); failed > 0 {
		w.sleep(ctx)
	}
	return len(batch)
}

// flush writes a batch and returns how many records were requeued.
func (w *ResultWorker) flush(ctx context.Context, batch []domain.ScoringRecord) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	inserted, err := w.store.RecordBatch(ctx, batch)
	if err == nil {
		if dup := len(batch) - inserted; dup > 0 {
			w.log.Info().Int("duplicates", dup).Msg("Dropped already stored results")
		}
		w.log.Debug().Int("count", inserted).Msg("Persisted results")
		return 0
	}

	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch insert failed, falling back to single inserts")
	failed := 0
	for _, record := range batch {
		err := w.store.Record(ctx, record)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrAlreadySubmitted):
		default:
			failed++
			w.log.Error().Err(err).
				Str("test_code", record.TestCode).
				Str("conn_id", record.ConnectionID).
				Msg("Persist error, requeueing")
			if err := w.queue.Record(ctx, record); err != nil {
				w.log.Error().Err(err).Str("conn_id", record.ConnectionID).Msg("Requeue failed, result lost")
			}
		}
	}
	return failed
}

// drain processes all remaining items in the queue before shutdown.
func (w *ResultWorker) drain(ctx context.Context) {
	drained := 0
	for {
		var batch []domain.ScoringRecord
		for len(batch) < w.batchSize {
			record, ok, err := w.queue.TryPop(ctx)
			if err != nil || !ok {
				break
			}
			batch = append(batch, record)
		}
		if len(batch) == 0 {
			break
		}
		if failed := w.flush(ctx, batch); failed > 0 {
			break
		}
		drained += len(batch)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func (w *ResultWorker) sleep(ctx context.Context) {
	if w.retryDelay <= 0 {
		return
	}
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
