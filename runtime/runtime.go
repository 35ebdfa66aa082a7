// Package runtime provides the shared background execution context that
// bridges synchronous callers with asynchronous device and library I/O.
//
// A single Runtime is started at application startup and torn down at
// shutdown. Operations are submitted with Submit and executed one at a time
// on the runtime's worker goroutine; completions are marshaled back to the
// caller's side through the Dispatch channel, never invoked from the worker
// itself.
package runtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskState tracks a task through its lifecycle.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskDone
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskCancelled:
		return "cancelled"
	}
	return "unknown"
}

var (
	// ErrCancelled is the result of a task cancelled before or during execution.
	ErrCancelled = errors.New("task cancelled")
	// ErrShutdown is returned when submitting to a stopped runtime.
	ErrShutdown = errors.New("runtime is shut down")
	// ErrQueueFull is returned when the task queue has no free slot.
	ErrQueueFull = errors.New("runtime queue is full")
)

// Operation is a unit of asynchronous work. The context is cancelled when
// the task is cancelled in flight or the runtime shuts down; operations
// touching the device should honor it.
type Operation func(ctx context.Context) (any, error)

// Callback receives a task's outcome. Callbacks run on the goroutine
// draining Dispatch, never on the runtime worker.
type Callback func(result any, err error)

// TaskHandle is the caller's reference to a submitted task. Its result is
// written exactly once by the runtime and may be consumed by waiting on
// Done and calling Result.
type TaskHandle struct {
	ID   string
	Name string

	mu       sync.Mutex
	state    TaskState
	result   any
	err      error
	callback Callback
	cancel   context.CancelFunc
	done     chan struct{}
}

// State returns the task's current lifecycle state.
func (h *TaskHandle) State() TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done returns a channel closed when the task's outcome is available.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the task outcome. It blocks until the task completes or
// is cancelled.
func (h *TaskHandle) Result() (any, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// OnComplete registers a callback invoked with the task outcome from the
// Dispatch drain loop. Must be set before the task completes; setting it
// afterwards has no effect.
func (h *TaskHandle) OnComplete(cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callback = cb
}

// Cancel requests cancellation. A task that has not started is guaranteed
// never to run. An in-flight task has its context cancelled; the underlying
// operation may still complete but its result is discarded.
func (h *TaskHandle) Cancel() {
	h.mu.Lock()
	switch h.state {
	case TaskPending:
		h.state = TaskCancelled
		h.err = ErrCancelled
		h.mu.Unlock()
		return
	case TaskRunning:
		cancel := h.cancel
		h.state = TaskCancelled
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	h.mu.Unlock()
}

// complete records the outcome once. Returns false if the task had already
// been finalized (e.g. cancelled before dispatch).
func (h *TaskHandle) complete(result any, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	if h.state == TaskCancelled {
		// Result of a cancelled in-flight operation is discarded.
		h.err = ErrCancelled
	} else {
		h.state = TaskDone
		h.result = result
		h.err = err
	}
	close(h.done)
	return true
}

// finalizeCancelled closes the done channel for a task cancelled before it
// ever ran.
func (h *TaskHandle) finalizeCancelled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Completion pairs a finished task with its outcome, for delivery to the
// synchronous side.
type Completion struct {
	Task   *TaskHandle
	Result any
	Err    error
}

// Deliver invokes the task's OnComplete callback, if any. Call this from
// the goroutine draining Dispatch.
func (c Completion) Deliver() {
	c.Task.mu.Lock()
	cb := c.Task.callback
	c.Task.mu.Unlock()
	if cb != nil {
		cb(c.Result, c.Err)
	}
}

type queuedTask struct {
	handle *TaskHandle
	op     Operation
}

// Runtime executes submitted operations on a single shared worker
// goroutine.
//
// Example:
//
//	rt := runtime.New(16)
//	rt.Start()
//	defer rt.Shutdown(context.Background())
//
//	h := rt.Submit("scan", func(ctx context.Context) (any, error) {
//	    return manager.Scan(ctx), nil
//	})
//	result, err := h.Result()
type Runtime struct {
	queue    chan queuedTask
	dispatch chan Completion
	stopChan chan struct{}
	workerWg sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a Runtime with the given queue capacity.
func New(queueSize int) *Runtime {
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		queue:      make(chan queuedTask, queueSize),
		dispatch:   make(chan Completion, queueSize),
		stopChan:   make(chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start launches the worker goroutine. Calling Start more than once is a
// no-op.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.workerWg.Add(1)
	go r.worker()
	log.Println("Background runtime started.")
}

// Dispatch returns the completion channel. The presentation side drains it
// on its own goroutine and calls Deliver on each completion; this is the
// marshal-back boundary between worker and caller.
func (r *Runtime) Dispatch() <-chan Completion {
	return r.dispatch
}

// Submit schedules an operation for asynchronous execution and returns
// immediately, never blocking the caller. Submitting to a stopped runtime
// yields a handle already completed with ErrShutdown; submitting when the
// queue has no free slot yields one completed with ErrQueueFull.
func (r *Runtime) Submit(name string, op Operation) *TaskHandle {
	handle := &TaskHandle{
		ID:   uuid.NewString(),
		Name: name,
		done: make(chan struct{}),
	}

	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		handle.complete(nil, ErrShutdown)
		return handle
	}

	select {
	case r.queue <- queuedTask{handle: handle, op: op}:
	case <-r.stopChan:
		handle.complete(nil, ErrShutdown)
	default:
		handle.complete(nil, ErrQueueFull)
	}
	return handle
}

func (r *Runtime) worker() {
	defer r.workerWg.Done()
	for {
		select {
		case <-r.stopChan:
			r.drainQueue()
			return
		case task := <-r.queue:
			r.runTask(task)
		}
	}
}

// drainQueue cancels everything still queued at shutdown.
func (r *Runtime) drainQueue() {
	for {
		select {
		case task := <-r.queue:
			task.handle.Cancel()
			task.handle.finalizeCancelled()
			r.deliver(Completion{Task: task.handle, Err: ErrCancelled})
		default:
			return
		}
	}
}

func (r *Runtime) runTask(task queuedTask) {
	h := task.handle

	h.mu.Lock()
	if h.state == TaskCancelled {
		h.mu.Unlock()
		h.finalizeCancelled()
		r.deliver(Completion{Task: h, Err: ErrCancelled})
		return
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	h.state = TaskRunning
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	result, err := r.invoke(ctx, task.op)

	if !h.complete(result, err) {
		return
	}
	h.mu.Lock()
	finalResult, finalErr := h.result, h.err
	h.mu.Unlock()
	r.deliver(Completion{Task: h, Result: finalResult, Err: finalErr})
}

// invoke runs the operation, converting panics into errors so one bad task
// cannot take down the shared worker.
func (r *Runtime) invoke(ctx context.Context, op Operation) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Task panic recovered: %v", rec)
			err = &PanicError{Value: rec}
		}
	}()
	return op(ctx)
}

// deliver pushes a completion without wedging the worker during shutdown.
func (r *Runtime) deliver(c Completion) {
	select {
	case r.dispatch <- c:
	case <-r.stopChan:
		// Nobody is draining anymore; the outcome stays readable on the
		// handle itself.
	}
}

// Shutdown stops the runtime, cancels outstanding tasks and waits for the
// worker to exit or the context to expire. It is safe to call once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	log.Println("Shutting down background runtime...")
	close(r.stopChan)
	r.baseCancel()

	done := make(chan struct{})
	go func() {
		r.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Background runtime stopped.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PanicError wraps a recovered panic from a task.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "task panicked"
}

// WaitTimeout waits for a handle up to d. Returns false if the task did not
// complete in time.
func WaitTimeout(h *TaskHandle, d time.Duration) bool {
	select {
	case <-h.Done():
		return true
	case <-time.After(d):
		return false
	}
}
