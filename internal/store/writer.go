package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/langobservatory/telegen/internal/record"
)

const writerBatchSize = 64

const (
	QueuePressureOK        = "ok"
	QueuePressureElevated  = "elevated"
	QueuePressureHigh      = "high"
	QueuePressureSaturated = "saturated"
)

// QueueDiagnostics captures writer queue pressure and drop signals.
type QueueDiagnostics struct {
	QueueCapacity           int              `json:"queue_capacity"`
	QueueDepth              int              `json:"queue_depth"`
	QueueDepthHighWatermark int              `json:"queue_depth_high_watermark"`
	QueueUtilizationPct     int              `json:"queue_utilization_pct"`
	QueuePressureState      string           `json:"queue_pressure_state"`
	EnqueueAcceptedTotal    int64            `json:"enqueue_accepted_total"`
	EnqueueDroppedTotal     int64            `json:"enqueue_dropped_total"`
	WriteDroppedTotal       int64            `json:"write_dropped_total"`
	WriteFailuresByClass    map[string]int64 `json:"write_failures_by_class,omitempty"`
}

// WriteFailure describes trace records that could not be persisted.
type WriteFailure struct {
	Operation   string
	BatchSize   int
	FailedCount int
	Err         error
	ErrorClass  string
}

// WriteFailureHandler receives asynchronous trace write failure signals.
type WriteFailureHandler func(WriteFailure)

var noopWriteFailureHandler = WriteFailureHandler(func(WriteFailure) {})

// WriterMetrics holds optional callbacks the Writer invokes at key pipeline
// points.
type WriterMetrics struct {
	// OnEnqueue is called each time a trace is successfully placed on the queue.
	OnEnqueue func()
	// OnDrop is called each time a trace is dropped because the queue is full.
	OnDrop func()
	// OnFlush is called after each batch is flushed to storage.
	OnFlush func(batchSize int, duration time.Duration)
}

// Writer batches trace inserts behind a bounded queue so generation never
// blocks on storage. A full queue drops the trace and reports it instead.
type Writer struct {
	store Store
	queue chan *record.Trace
	wg    sync.WaitGroup

	started            atomic.Bool
	stopped            atomic.Bool
	stopOnce           sync.Once
	doneOnce           sync.Once
	done               chan struct{}
	queueMu            sync.RWMutex
	lifecycleMu        sync.RWMutex
	workerCancel       context.CancelFunc
	writeFailureHandle atomic.Value // WriteFailureHandler
	metrics            atomic.Value // *WriterMetrics

	queueDepthHighWatermark atomic.Int64
	enqueueAcceptedTotal    atomic.Int64
	enqueueDroppedTotal     atomic.Int64
	writeDroppedTotal       atomic.Int64

	writeFailureBusy       atomic.Int64
	writeFailureConstraint atomic.Int64
	writeFailureIO         atomic.Int64
	writeFailureOther      atomic.Int64
}

func NewWriter(store Store, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	writer := &Writer{
		store: store,
		queue: make(chan *record.Trace, bufferSize),
		done:  make(chan struct{}),
	}
	writer.writeFailureHandle.Store(noopWriteFailureHandler)
	writer.metrics.Store(&WriterMetrics{})
	return writer
}

// SetWriteFailureHandler replaces the callback used for dropped trace write
// signals.
func (w *Writer) SetWriteFailureHandler(handler WriteFailureHandler) {
	if w == nil {
		return
	}
	if handler == nil {
		handler = noopWriteFailureHandler
	}
	w.writeFailureHandle.Store(handler)
}

// SetMetrics replaces the metric callbacks used by the writer pipeline.
func (w *Writer) SetMetrics(m *WriterMetrics) {
	if w == nil {
		return
	}
	if m == nil {
		m = &WriterMetrics{}
	}
	w.metrics.Store(m)
}

func (w *Writer) loadMetrics() *WriterMetrics {
	m, _ := w.metrics.Load().(*WriterMetrics)
	return m
}

// QueueLen returns the current number of items waiting in the write queue.
func (w *Writer) QueueLen() int {
	if w == nil {
		return 0
	}
	return len(w.queue)
}

func (w *Writer) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		// Keep the writer usable when Start is called without a live context.
		ctx = context.Background()
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.lifecycleMu.Lock()
	w.workerCancel = cancel
	w.lifecycleMu.Unlock()

	w.wg.Add(1)
	go func(workerCtx context.Context) {
		defer w.wg.Done()
		defer w.markDone()

		for {
			select {
			case <-workerCtx.Done():
				return
			case tr, ok := <-w.queue:
				if !ok {
					return
				}

				batch := make([]*record.Trace, 0, writerBatchSize)
				if tr != nil {
					batch = append(batch, tr)
				}
			drain:
				for len(batch) < writerBatchSize {
					select {
					case <-workerCtx.Done():
						// Use a fresh context so the drain flush is not
						// rejected by the store due to cancellation.
						w.flushBatch(context.Background(), batch)
						return
					case next, ok := <-w.queue:
						if !ok {
							w.flushBatch(context.Background(), batch)
							return
						}
						if next != nil {
							batch = append(batch, next)
						}
					default:
						break drain
					}
				}
				w.flushBatch(workerCtx, batch)
			}
		}
	}(workerCtx)
}

func (w *Writer) Enqueue(tr *record.Trace) bool {
	if w.stopped.Load() {
		return false
	}
	w.queueMu.RLock()
	defer w.queueMu.RUnlock()
	if w.stopped.Load() {
		return false
	}

	select {
	case w.queue <- tr:
		w.enqueueAcceptedTotal.Add(1)
		w.observeQueueDepth(len(w.queue))
		if m := w.loadMetrics(); m != nil && m.OnEnqueue != nil {
			m.OnEnqueue()
		}
		return true
	default:
		w.enqueueDroppedTotal.Add(1)
		w.observeQueueDepth(cap(w.queue))
		if m := w.loadMetrics(); m != nil && m.OnDrop != nil {
			m.OnDrop()
		}
		return false
	}
}

func (w *Writer) Stop() {
	_ = w.Shutdown(context.Background())
}

func (w *Writer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.queueMu.Lock()
		close(w.queue)
		w.queueMu.Unlock()
		if !w.started.Load() {
			w.markDone()
		}
	})

	select {
	case <-w.done:
		w.wg.Wait()
		w.cancelWorker()
		return nil
	case <-ctx.Done():
		w.cancelWorker()
		return ctx.Err()
	}
}

func (w *Writer) cancelWorker() {
	if w == nil {
		return
	}
	w.lifecycleMu.RLock()
	cancel := w.workerCancel
	w.lifecycleMu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Writer) markDone() {
	w.doneOnce.Do(func() {
		close(w.done)
	})
}

func (w *Writer) reportWriteFailure(failure WriteFailure) {
	if w == nil || failure.FailedCount <= 0 {
		return
	}
	failure.ErrorClass = ClassifyWriteError(failure.Err)
	w.writeDroppedTotal.Add(int64(failure.FailedCount))
	count := int64(failure.FailedCount)
	switch failure.ErrorClass {
	case WriteErrorClassBusy:
		w.writeFailureBusy.Add(count)
	case WriteErrorClassConstraint:
		w.writeFailureConstraint.Add(count)
	case WriteErrorClassIO:
		w.writeFailureIO.Add(count)
	default:
		w.writeFailureOther.Add(count)
	}
	handler, ok := w.writeFailureHandle.Load().(WriteFailureHandler)
	if !ok || handler == nil {
		return
	}
	handler(failure)
}

// Diagnostics returns a point-in-time snapshot of queue pressure and
// dropped-trace counters.
func (w *Writer) Diagnostics() QueueDiagnostics {
	if w == nil {
		return QueueDiagnostics{}
	}

	queueCapacity := cap(w.queue)
	queueDepth := len(w.queue)
	queueDepthHighWatermark := int(w.queueDepthHighWatermark.Load())
	if queueDepth > queueDepthHighWatermark {
		queueDepthHighWatermark = queueDepth
	}

	queueUtilPct := queueUtilizationPct(queueDepth, queueCapacity)

	snapshot := QueueDiagnostics{
		QueueCapacity:           queueCapacity,
		QueueDepth:              queueDepth,
		QueueDepthHighWatermark: queueDepthHighWatermark,
		QueueUtilizationPct:     queueUtilPct,
		QueuePressureState:      queuePressureState(queueUtilPct),
		EnqueueAcceptedTotal:    w.enqueueAcceptedTotal.Load(),
		EnqueueDroppedTotal:     w.enqueueDroppedTotal.Load(),
		WriteDroppedTotal:       w.writeDroppedTotal.Load(),
	}

	byClass := make(map[string]int64)
	if v := w.writeFailureBusy.Load(); v > 0 {
		byClass[WriteErrorClassBusy] = v
	}
	if v := w.writeFailureConstraint.Load(); v > 0 {
		byClass[WriteErrorClassConstraint] = v
	}
	if v := w.writeFailureIO.Load(); v > 0 {
		byClass[WriteErrorClassIO] = v
	}
	if v := w.writeFailureOther.Load(); v > 0 {
		byClass[WriteErrorClassOther] = v
	}
	if len(byClass) > 0 {
		snapshot.WriteFailuresByClass = byClass
	}

	return snapshot
}

func (w *Writer) observeQueueDepth(depth int) {
	if w == nil || depth < 0 {
		return
	}
	depthValue := int64(depth)
	for {
		current := w.queueDepthHighWatermark.Load()
		if depthValue <= current {
			return
		}
		if w.queueDepthHighWatermark.CompareAndSwap(current, depthValue) {
			return
		}
	}
}

func queueUtilizationPct(depth, capacity int) int {
	if capacity <= 0 || depth <= 0 {
		return 0
	}
	if depth >= capacity {
		return 100
	}
	return int((int64(depth) * 100) / int64(capacity))
}

func queuePressureState(utilizationPct int) string {
	switch {
	case utilizationPct >= 100:
		return QueuePressureSaturated
	case utilizationPct >= 80:
		return QueuePressureHigh
	case utilizationPct >= 50:
		return QueuePressureElevated
	default:
		return QueuePressureOK
	}
}

func (w *Writer) flushBatch(ctx context.Context, batch []*record.Trace) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	defer func() {
		if m := w.loadMetrics(); m != nil && m.OnFlush != nil {
			m.OnFlush(len(batch), time.Since(start))
		}
	}()

	if len(batch) == 1 {
		if err := w.store.InsertTrace(ctx, batch[0]); err != nil {
			w.reportWriteFailure(WriteFailure{
				Operation:   "insert_trace",
				BatchSize:   1,
				FailedCount: 1,
				Err:         err,
			})
		}
		return
	}
	if err := w.store.InsertBatch(ctx, batch); err != nil {
		// Fall back to per-item writes so a batch-level failure does not
		// drop every trace in the batch.
		failedWrites := 0
		var fallbackErr error
		for _, tr := range batch {
			if traceErr := w.store.InsertTrace(ctx, tr); traceErr != nil {
				failedWrites++
				if fallbackErr == nil {
					fallbackErr = traceErr
				}
			}
		}
		if failedWrites > 0 {
			w.reportWriteFailure(WriteFailure{
				Operation:   "insert_batch_fallback",
				BatchSize:   len(batch),
				FailedCount: failedWrites,
				Err:         errors.Join(err, fallbackErr),
			})
		}
	}
}
