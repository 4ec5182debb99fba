package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/admitlog/internal/ancillary"
	"github.com/roach88/admitlog/internal/guard"
	"github.com/roach88/admitlog/internal/identity"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/lock"
	"github.com/roach88/admitlog/internal/metrics"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/visit"
)

// Defaults for Engine options.
const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 5
	DefaultBackoff     = 10 * time.Millisecond
	DefaultLockTimeout = 30 * time.Second
)

const tracerName = "github.com/roach88/admitlog/internal/engine"

// Status is the final classification of a processed event.
type Status string

const (
	StatusApplied Status = "applied"
	StatusIgnored Status = "ignored"
	StatusFailed  Status = "failed"
)

// Change is one entity touched by an applied event.
type Change struct {
	EntityType string `json:"entity_type"`
	EntityKey  string `json:"entity_key"`
	Outcome    string `json:"outcome"`
}

// Result reports what ProcessEvent did with one event.
type Result struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	Status      Status    `json:"status"`
	Kind        ir.Kind   `json:"kind"`
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Code        string    `json:"code,omitempty"`
	Err         error     `json:"-"`
	Changes     []Change  `json:"changes,omitempty"`
	Attempts    int       `json:"attempts"`
	ProcessedAt time.Time `json:"processed_at,omitzero"`
}

// Engine applies ADT events to a store.
//
// Thread-safety model:
//   - ProcessEvent, Enqueue and the query methods: safe from any goroutine
//   - Run: call once; it owns the worker pool until the queue is closed
//
// Events for the same encounter or patient are serialized by the locker;
// everything else runs concurrently.
type Engine struct {
	store      *store.Store
	clock      *Clock
	locker     lock.Locker
	guard      *guard.Guard
	resolver   *identity.Resolver
	reconciler *visit.Reconciler
	ancillary  *ancillary.Handler
	queue      *eventQueue
	ids        IDGenerator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	workers     int
	retry       retryPolicy
	lockTimeout time.Duration
	onResult    func(Result)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the processing clock. Use ResumeClock when reopening a
// store that already holds events.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocker sets the per-key locker. Defaults to an in-process lock.Local;
// use lock.Redis when several processes share a store.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLogger sets the logger used by the engine and its handlers.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records processing metrics. Nil disables them.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithWorkers sets the size of the worker pool used by Run and Ingest.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRetry sets how often a transaction is attempted on storage
// conflicts and the initial backoff between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.retry = retryPolicy{maxAttempts: maxAttempts, backoff: backoff}
		}
	}
}

// WithLockTimeout bounds how long an event waits for its keys.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithIDGenerator sets the generator of processing IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithResultHandler is called with every Result produced by Run. It is
// called from worker goroutines and must be safe for concurrent use.
func WithResultHandler(fn func(Result)) Option {
	return func(e *Engine) { e.onResult = fn }
}

// New creates an Engine writing to s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		queue:       newEventQueue(),
		ids:         UUIDv7Generator{},
		logger:      slog.Default(),
		workers:     DefaultWorkers,
		retry:       retryPolicy{maxAttempts: DefaultMaxAttempts, backoff: DefaultBackoff},
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = NewClock(nil)
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.guard = guard.New(e.logger)
	e.resolver = identity.New(identity.WithLogger(e.logger))
	e.reconciler = visit.New(visit.WithLogger(e.logger))
	e.ancillary = ancillary.New(ancillary.WithLogger(e.logger))
	return e
}

// ProcessEvent applies one event and classifies the outcome. It never
// returns an error: failures are reported in Result.Err and isolated to
// the event.
func (e *Engine) ProcessEvent(ctx context.Context, ev ir.Event) Result {
	start := time.Now()
	ev = ir.NormalizeEvent(ev)
	res := Result{ID: e.ids.Generate(), Kind: ev.Kind(), Key: subjectKey(ev)}

	ctx, span := e.tracer.Start(ctx, "admitlog.process_event", trace.WithAttributes(
		attribute.String("admitlog.event_id", res.ID),
		attribute.String("admitlog.event_kind", string(res.Kind)),
		attribute.String("admitlog.key", res.Key),
	))
	defer span.End()

	err := e.process(ctx, ev, &res)
	switch {
	case err == nil:
		res.Status = StatusApplied
	case ir.IsMessageIgnored(err):
		res.Status = StatusIgnored
		res.Reason = reasonOf(err)
	default:
		res.Status = StatusFailed
		res.Err = err
		res.Reason = err.Error()
	}
	if code, ok := ir.CodeOf(err); ok {
		res.Code = string(code)
	}

	span.SetAttributes(
		attribute.String("admitlog.status", string(res.Status)),
		attribute.Int("admitlog.attempts", res.Attempts),
	)
	if res.Status == StatusFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Reason)
	}

	e.metrics.ObserveEvent(string(res.Kind), string(res.Status), time.Since(start))
	for _, c := range res.Changes {
		e.metrics.IncrementVersion(c.EntityType, c.Outcome)
	}
	e.logResult(res)
	return res
}

// process runs the locked, retried transaction of one event.
func (e *Engine) process(ctx context.Context, ev ir.Event, res *Result) error {
	if !ir.IsSupported(ev.Kind()) {
		return ir.NewUnsupportedEventError(ev.Kind())
	}
	if err := validate(ev); err != nil {
		return err
	}
	fp, err := ir.Fingerprint(ev)
	if err != nil {
		return err
	}
	res.Fingerprint = fp

	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	unlock, err := e.locker.Lock(lockCtx, lockKeys(ev)...)
	cancel()
	if err != nil {
		return err
	}
	defer unlock()

	budget := newRetryBudget(e.retry)
	for {
		res.Attempts++
		var (
			changes []Change
			at      time.Time
		)
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			// Issued inside the transaction so stored order follows commit order.
			at = e.clock.Next()
			var err error
			changes, err = e.apply(ctx, tx, ev, fp, at)
			return err
		})
		if err == nil {
			res.Changes = changes
			res.ProcessedAt = at
			return nil
		}
		if !store.IsConflict(err) {
			return err
		}

		wait, err := budget.next(res.Key, err)
		if err != nil {
			return err
		}
		e.metrics.IncrementRetry()
		e.logger.Debug("retrying after storage conflict",
			"event_id", res.ID,
			"key", res.Key,
			"attempt", res.Attempts,
			"backoff", wait,
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply is the transaction body: guard check, log record, dispatch.
func (e *Engine) apply(ctx context.Context, tx *store.Tx, ev ir.Event, fp string, at time.Time) ([]Change, error) {
	if err := e.guard.Check(ctx, tx, guard.Scope(ev), fp); err != nil {
		return nil, err
	}
	if err := e.guard.Record(ctx, tx, ev, fp, at); err != nil {
		return nil, err
	}
	return e.dispatch(ctx, tx, ev, fp, at)
}

func reasonOf(err error) string {
	var pe *ir.ProcessingError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}

func (e *Engine) logResult(res Result) {
	attrs := []any{
		"event_id", res.ID,
		"event_kind", res.Kind,
		"key", res.Key,
		"attempts", res.Attempts,
	}
	switch res.Status {
	case StatusApplied:
		e.logger.Info("event applied", append(attrs, "changes", len(res.Changes))...)
	case StatusIgnored:
		e.logger.Info("event ignored", append(attrs, "reason", res.Reason)...)
	default:
		e.logger.Warn("event failed", append(attrs, "code", res.Code, "error", res.Err)...)
	}
}

// Enqueue submits an event to the worker pool started by Run.
// Returns false once Stop has been called.
func (e *Engine) Enqueue(ev ir.Event) bool {
	_, ok := e.queue.Enqueue(ev)
	return ok
}

// Stop closes the queue. Run returns after the queued events are done.
func (e *Engine) Stop() {
	e.queue.Close()
}

// QueueLen returns the number of events waiting for a worker.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run processes enqueued events until Stop is called and the queue is
// drained, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "workers", e.workers)
	err := e.drain(ctx, e.queue, func(_ queued, res Result) {
		if e.onResult != nil {
			e.onResult(res)
		}
	})
	if err != nil {
		e.logger.Info("engine stopping", "reason", err)
		return err
	}
	e.logger.Info("engine stopping: queue closed")
	return nil
}

// Ingest processes events on the worker pool and returns their results
// in input order.
func (e *Engine) Ingest(ctx context.Context, events []ir.Event) ([]Result, error) {
	q := newEventQueue()
	for _, ev := range events {
		q.Enqueue(ev)
	}
	q.Close()

	results := make([]Result, len(events))
	var mu sync.Mutex
	err := e.drain(ctx, q, func(item queued, res Result) {
		mu.Lock()
		results[item.Seq] = res
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// drain runs the worker pool over q until it is closed and empty.
func (e *Engine) drain(ctx context.Context, q *eventQueue, handle func(queued, Result)) error {
	g, ctx := errgroup.WithContext(ctx)
	for range e.workers {
		g.Go(func() error {
			for {
				if item, ok := q.TryDequeue(); ok {
					res := e.ProcessEvent(ctx, item.Event)
					res.Seq = item.Seq
					handle(item, res)
					continue
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case _, open := <-q.Wait():
					if !open && q.Len() == 0 {
						return nil
					}
				}
			}
		})
	}
	return g.Wait()
}
