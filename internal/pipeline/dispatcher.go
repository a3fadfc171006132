package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/recast/internal/telemetry"
)

var (
	// ErrQueueFull is returned by StartRun when every queue slot is taken.
	ErrQueueFull = errors.New("pipeline: dispatch queue is full")
	// ErrDispatcherClosed is returned by StartRun after Drain.
	ErrDispatcherClosed = errors.New("pipeline: dispatcher is not accepting runs")
)

// Processor processes one run. Implemented by *Orchestrator.
type Processor interface {
	Process(ctx context.Context, runID uuid.UUID) error
}

// Gate reports whether new runs may start.
type Gate interface {
	Enabled(ctx context.Context) bool
}

// Handle tracks one submitted run until its Process call returns.
type Handle struct {
	ID    uuid.UUID
	RunID uuid.UUID

	done chan struct{}
	err  error
}

func newHandle(runID uuid.UUID) *Handle {
	return &Handle{ID: uuid.New(), RunID: runID, done: make(chan struct{})}
}

// Done is closed when processing has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the outcome of Process. It is nil until Done is closed, and nil
// after a successful hand-off to rendering. A retry shows up as
// *RetryScheduledError.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until processing finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Dispatcher runs submitted runs on a fixed number of workers. A run already
// waiting or in progress in this process is not submitted twice; StartRun
// returns the existing handle instead.
type Dispatcher struct {
	proc    Processor
	gate    Gate
	logger  *slog.Logger
	workers int

	mu      sync.Mutex
	queue   chan *Handle
	active  map[uuid.UUID]*Handle
	closed  bool
	started atomic.Bool
	group   *errgroup.Group

	inFlight atomic.Int64
	outcomes metric.Int64Counter
}

// NewDispatcher creates a Dispatcher with the given worker count and queue
// capacity. A nil gate always allows.
func NewDispatcher(proc Processor, gate Gate, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	meter := telemetry.Meter("recast/dispatcher")
	outcomes, _ := meter.Int64Counter("recast.dispatch.outcomes",
		metric.WithDescription("Finished dispatches by outcome (ok, retry, error)"),
	)
	d := &Dispatcher{
		proc:     proc,
		gate:     gate,
		logger:   logger,
		workers:  max(workers, 1),
		queue:    make(chan *Handle, max(queueSize, 1)),
		active:   make(map[uuid.UUID]*Handle),
		outcomes: outcomes,
	}
	_, _ = meter.Int64ObservableGauge("recast.dispatch.queue_depth",
		metric.WithDescription("Runs waiting for a worker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(d.QueueDepth()))
			return nil
		}),
	)
	return d
}

// Start launches the workers. Runs are processed with ctx, not with the
// context passed to StartRun. It is safe to call only once.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		d.logger.Warn("dispatcher: Start called more than once, ignoring")
		return
	}
	g := new(errgroup.Group)
	for range d.workers {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	d.mu.Lock()
	d.group = g
	d.mu.Unlock()
}

// StartRun submits a run for processing and returns its handle.
func (d *Dispatcher) StartRun(ctx context.Context, runID uuid.UUID) (*Handle, error) {
	if d.gate != nil && !d.gate.Enabled(ctx) {
		return nil, ErrGenerationDisabled
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}
	if h, ok := d.active[runID]; ok {
		return h, nil
	}
	h := newHandle(runID)
	select {
	case d.queue <- h:
	default:
		return nil, ErrQueueFull
	}
	d.active[runID] = h
	d.logger.Info("dispatcher: run submitted", "run_id", runID, "handle_id", h.ID)
	return h, nil
}

// Active reports whether the run is queued or in progress in this process.
func (d *Dispatcher) Active(runID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[runID]
	return ok
}

// QueueDepth returns the number of runs waiting for a worker.
func (d *Dispatcher) QueueDepth() int { return len(d.queue) }

// InFlight returns the number of runs currently being processed.
func (d *Dispatcher) InFlight() int { return int(d.inFlight.Load()) }

// Drain stops accepting runs, lets the workers finish what is queued, and
// blocks until they exit or ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	g := d.group
	d.mu.Unlock()
	if g == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("dispatcher: drain timed out", "queued", d.QueueDepth(), "in_flight", d.InFlight())
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for h := range d.queue {
		d.inFlight.Add(1)
		err := d.proc.Process(ctx, h.RunID)
		d.inFlight.Add(-1)

		d.record(ctx, h, err)

		d.mu.Lock()
		delete(d.active, h.RunID)
		d.mu.Unlock()
		h.finish(err)
	}
}

func (d *Dispatcher) record(ctx context.Context, h *Handle, err error) {
	outcome := "ok"
	var retry *RetryScheduledError
	switch {
	case err == nil:
		d.logger.Info("dispatcher: run processed", "run_id", h.RunID, "handle_id", h.ID)
	case errors.As(err, &retry):
		outcome = "retry"
		d.logger.Info("dispatcher: run scheduled for retry", "run_id", h.RunID, "retry_count", retry.RetryCount)
	default:
		outcome = "error"
		d.logger.Error("dispatcher: run processing failed", "run_id", h.RunID, "handle_id", h.ID, "error", err)
	}
	d.outcomes.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
