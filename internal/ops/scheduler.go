package ops

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"escrow-quiz-service/internal/domain"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a scheduled operation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Work is the unit of serialized work. Cancellation is cooperative: long
// work should check op.CancelRequested() at safe checkpoints.
type Work func(ctx context.Context, op *Operation) (any, error)

// Operation is a unit of work identified by its fingerprint. It is owned by
// the scheduler; callers only observe it and may request cancellation.
type Operation struct {
	ID         string
	EnqueuedAt time.Time

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	cancelled bool
	work      Work
	future    *Future
}

// Status returns the operation's current state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// StartedAt is zero until the executor picks the operation up.
func (o *Operation) StartedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startedAt
}

// CancelRequested reports whether cancellation has been requested. Running
// work is expected to poll this between suspension points.
func (o *Operation) CancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *Operation) requestCancel() {
	o.mu.Lock()
	o.cancelled = true
	o.mu.Unlock()
}

// Future is the shared result of an operation. All enqueue calls for the
// same in-flight fingerprint receive the same Future.
type Future struct {
	done   chan struct{}
	value  any
	err    error
	status Status
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the operation reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the operation settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled value; valid only after Done is closed.
func (f *Future) Result() (any, error) { return f.value, f.err }

// Status reports the terminal status; StatusQueued until settled.
func (f *Future) Status() Status {
	select {
	case <-f.done:
		return f.status
	default:
		return StatusQueued
	}
}

func (f *Future) resolve(status Status, value any, err error) {
	f.value = value
	f.err = err
	f.status = status
	close(f.done)
}

// Scheduler serializes named operations: a FIFO queue drained by a single
// executor, with at most one in-flight operation per fingerprint. It is the
// idempotency primitive for user-triggered actions; duplicate triggers share
// the in-flight Future instead of issuing duplicate work.
type Scheduler struct {
	max    int
	logger *zap.Logger
	clock  func() time.Time

	mu     sync.Mutex
	active map[string]*Operation
	queue  []*Operation
	wake   chan struct{}
}

// New builds a scheduler bounded at max pending operations.
func New(max int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		max:    max,
		logger: logger,
		clock:  time.Now,
		active: make(map[string]*Operation),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue registers work under a fingerprint. If an operation with the same
// fingerprint is already queued or running, the existing Future is returned
// and no new work is created. A full queue yields domain.ErrQueueFull.
func (s *Scheduler) Enqueue(fingerprint string, work Work) (*Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.active[fingerprint]; ok {
		s.logger.Debug("operation deduplicated", zap.String("fingerprint", fingerprint))
		return existing.future, nil
	}
	if len(s.queue) >= s.max {
		return nil, domain.ErrQueueFull
	}

	op := &Operation{
		ID:         fingerprint,
		EnqueuedAt: s.clock(),
		status:     StatusQueued,
		work:       work,
		future:     newFuture(),
	}
	s.active[fingerprint] = op
	s.queue = append(s.queue, op)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return op.future, nil
}

// Cancel requests cancellation of every active operation whose fingerprint
// starts with prefix. Queued operations settle as cancelled immediately
// without running; running operations keep executing until their next
// checkpoint and their result is discarded. Returns the number of matches.
func (s *Scheduler) Cancel(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for fingerprint, op := range s.active {
		if !strings.HasPrefix(fingerprint, prefix) {
			continue
		}
		n++
		op.requestCancel()
		op.mu.Lock()
		queued := op.status == StatusQueued
		if queued {
			op.status = StatusCancelled
		}
		op.mu.Unlock()
		if queued {
			delete(s.active, fingerprint)
			op.future.resolve(StatusCancelled, nil, domain.ErrOperationCancelled)
			s.logger.Info("queued operation cancelled", zap.String("fingerprint", fingerprint))
		}
	}
	return n
}

// Pending returns the number of queued (not yet running) operations.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drains the queue one operation at a time until ctx is done. A failing
// operation never blocks the queue; its Future settles and the executor
// moves on. On shutdown every still-queued operation settles as cancelled
// so no waiter hangs. No operation state survives process restart.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		op := s.next()
		if op == nil {
			select {
			case <-ctx.Done():
				s.drainQueued()
				return
			case <-s.wake:
				continue
			}
		}
		s.execute(ctx, op)
		select {
		case <-ctx.Done():
			s.drainQueued()
			return
		default:
		}
	}
}

func (s *Scheduler) drainQueued() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	var cancelled []*Operation
	for _, op := range pending {
		op.mu.Lock()
		if op.status == StatusQueued {
			op.status = StatusCancelled
			op.cancelled = true
			cancelled = append(cancelled, op)
		}
		op.mu.Unlock()
		if current, ok := s.active[op.ID]; ok && current == op {
			delete(s.active, op.ID)
		}
	}
	s.mu.Unlock()

	for _, op := range cancelled {
		op.future.resolve(StatusCancelled, nil, domain.ErrOperationCancelled)
	}
}

func (s *Scheduler) next() *Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		op := s.queue[0]
		s.queue = s.queue[1:]
		if op.Status() != StatusQueued {
			// settled while queued (cancellation); skip
			continue
		}
		return op
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, op *Operation) {
	op.mu.Lock()
	if op.status != StatusQueued {
		// cancelled between dispatch and execution; the future is already
		// settled, the work must not run
		op.mu.Unlock()
		return
	}
	op.status = StatusRunning
	op.startedAt = s.clock()
	op.mu.Unlock()

	value, err := s.runWork(ctx, op)

	status := StatusSucceeded
	switch {
	case op.CancelRequested():
		// the work ran to completion; its result is discarded so the chain
		// collaborator is never left mid-flight
		status = StatusCancelled
		value = nil
		err = domain.ErrOperationCancelled
	case err != nil:
		status = StatusFailed
		s.logger.Warn("operation failed", zap.String("fingerprint", op.ID), zap.Error(err))
	}

	op.mu.Lock()
	op.status = status
	op.mu.Unlock()

	s.mu.Lock()
	if current, ok := s.active[op.ID]; ok && current == op {
		delete(s.active, op.ID)
	}
	s.mu.Unlock()

	op.future.resolve(status, value, err)
}

func (s *Scheduler) runWork(ctx context.Context, op *Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op.work(ctx, op)
}
