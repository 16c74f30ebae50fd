package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/vectorsuite/orchestrator/internal/logging"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/store"
)

// bufferedWriter batches result persistence: producers append to an
// in-memory queue under a short lock; a periodic task and a size trigger
// drain the queue into one DB transaction. Stop flushes whatever remains.
type bufferedWriter struct {
	results store.ResultStore
	log     *logging.Logger

	mu    sync.Mutex
	queue []model.Result
	stop  chan struct{}
	done  chan struct{}

	interval  time.Duration
	batchSize int
}

func newBufferedWriter(results store.ResultStore, log *logging.Logger, interval time.Duration, batchSize int) *bufferedWriter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &bufferedWriter{
		results:   results,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Add appends r to the queue, flushing immediately when the size trigger
// is reached.
func (w *bufferedWriter) Add(r model.Result) {
	w.mu.Lock()
	w.queue = append(w.queue, r)
	trigger := len(w.queue) >= w.batchSize
	w.mu.Unlock()

	if trigger {
		w.Flush(context.Background())
	}
}

// Flush drains the queue into one DB transaction.
func (w *bufferedWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	if w.results == nil {
		return
	}
	records := make([]store.ResultRecord, len(batch))
	for i, r := range batch {
		records[i] = store.ResultRecordFromModel(r)
	}
	if err := w.results.InsertResults(ctx, records); err != nil && w.log != nil {
		w.log.WithFields(map[string]interface{}{"count": len(records)}).WithError(err).Warn("result batch flush failed")
	}
}

// run periodically flushes on interval until Stop is called.
func (w *bufferedWriter) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Flush(context.Background())
		}
	}
}

// Stop signals the periodic flush loop to exit after one final flush.
func (w *bufferedWriter) Stop() {
	close(w.stop)
	<-w.done
}
