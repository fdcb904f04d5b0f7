/*
Package notify delivers committed leave transitions to the outside world.

PURPOSE:
  The engine calls a leave.Notifier after each transition commits. This
  package provides the implementations the server wires together:

    Log    - writes every event to a zap logger
    Kafka  - publishes JSON events to a Kafka topic
    Multi  - fans one event out to several notifiers
    Async  - moves delivery off the request path onto a worker

  None of them can affect the transition itself; the engine only logs a
  returned error.

SEE ALSO:
  - leave/notifier.go: Event and Notifier
*/
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LOG
// =============================================================================

// Log writes events to a logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier writing to logger.Named("notify").
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(_ context.Context, ev leave.Event) error {
	l.logger.Info("leave event",
		zap.String("type", string(ev.Type)),
		zap.String("request_id", string(ev.Request.ID)),
		zap.String("requester_id", string(ev.Request.RequesterID)),
		zap.String("actor_id", string(ev.Actor.ID)),
		zap.String("status", string(ev.Request.Status)),
		zap.Time("occurred_at", ev.OccurredAt),
	)
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers to every notifier and joins their errors.
type Multi []leave.Notifier

func (m Multi) Notify(ctx context.Context, ev leave.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// ASYNC
// =============================================================================

// ErrQueueFull is returned when Async cannot accept another event.
var ErrQueueFull = errors.New("notification queue full")

// Async queues events for a background worker. Notify never blocks: when
// the queue is full the event is dropped and ErrQueueFull returned.
type Async struct {
	next    leave.Notifier
	queue   chan leave.Event
	timeout time.Duration
	logger  *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts a worker delivering to next. Each delivery gets its own
// context bounded by timeout, detached from the caller's request.
func NewAsync(next leave.Notifier, size int, timeout time.Duration, logger *zap.Logger) *Async {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		next:    next,
		queue:   make(chan leave.Event, size),
		timeout: timeout,
		logger:  logger.Named("notify.async"),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, ev leave.Event) error {
	select {
	case a.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx := context.Background()
		cancel := func() {}
		if a.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		if err := a.next.Notify(ctx, ev); err != nil {
			a.logger.Warn("deliver event failed",
				zap.String("type", string(ev.Type)),
				zap.String("request_id", string(ev.Request.ID)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end. Notify must not be called after Close.
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.queue) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
