package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/domain/usage"
	"github.com/artpar/quotagate/ports"
)

// BatchStore is a record store that accepts batched writes.
type BatchStore interface {
	ports.UsageRecordStore
	AppendBatch(ctx context.Context, records []usage.Record) error
}

// BufferedRecordStore buffers usage records and writes them in batches.
// Reads flush the buffer first so Sum and List see every appended record.
type BufferedRecordStore struct {
	store         BatchStore
	buffer        []usage.Record
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	metrics       ports.Metrics
	logger        zerolog.Logger
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewBufferedRecordStore creates a buffered record store. m may be nil.
func NewBufferedRecordStore(store BatchStore, batchSize int, flushInterval time.Duration, m ports.Metrics, logger zerolog.Logger) *BufferedRecordStore {
	if batchSize == 0 {
		batchSize = 100
	}
	if flushInterval == 0 {
		flushInterval = 2 * time.Second
	}

	r := &BufferedRecordStore{
		store:         store,
		buffer:        make([]usage.Record, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       m,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Append queues a record, writing the batch once it is full.
// A failed batch write is logged and counted by flushLocked, so Append
// itself never reports it.
func (r *BufferedRecordStore) Append(ctx context.Context, rec usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, rec)

	if len(r.buffer) >= r.batchSize {
		r.flushLocked(ctx)
	}
	return nil
}

// Sum flushes pending records and sums the stored ones.
func (r *BufferedRecordStore) Sum(ctx context.Context, tenantID, feature, periodDate string) (int64, error) {
	if err := r.Flush(ctx); err != nil {
		return 0, err
	}
	return r.store.Sum(ctx, tenantID, feature, periodDate)
}

// List flushes pending records and lists the stored ones.
func (r *BufferedRecordStore) List(ctx context.Context, tenantID string, limit int) ([]usage.Record, error) {
	if err := r.Flush(ctx); err != nil {
		return nil, err
	}
	return r.store.List(ctx, tenantID, limit)
}

// DeleteBefore flushes pending records and prunes those recorded before cutoff.
func (r *BufferedRecordStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := r.Flush(ctx); err != nil {
		return 0, err
	}
	if p, ok := r.store.(RecordPruner); ok {
		return p.DeleteBefore(ctx, cutoff)
	}
	return 0, nil
}

// Pending returns the number of buffered records.
func (r *BufferedRecordStore) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Flush forces immediate write of queued records.
func (r *BufferedRecordStore) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

// flushLocked writes the buffer. A failed batch is dropped and counted.
func (r *BufferedRecordStore) flushLocked(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}

	records := make([]usage.Record, len(r.buffer))
	copy(records, r.buffer)
	r.buffer = r.buffer[:0]

	if err := r.store.AppendBatch(ctx, records); err != nil {
		r.logger.Error().Err(err).Int("records", len(records)).Msg("write usage records")
		if r.metrics != nil {
			for range records {
				r.metrics.RecordAppendFailed()
			}
		}
		return err
	}
	return nil
}

func (r *BufferedRecordStore) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			r.Flush(ctx)
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the flush loop and writes remaining records.
func (r *BufferedRecordStore) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		// Final flush with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err = r.Flush(ctx)
	})
	return err
}

// Ensure interface compliance.
var _ ports.UsageRecordStore = (*BufferedRecordStore)(nil)
