// Package device manages the process-wide device state: the session (context
// plus resolved kernel module), the single serialized executor through which
// every device call is funneled, and the recycling memory pool that owns all
// device buffers.
package device

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/finsim/cuvec/cudriver"
)

// ErrClosed is returned by Executor.Run after Close.
var ErrClosed = errors.New("device executor closed")

// Op is one unit of device work. It runs on the executor's worker thread and
// is the only place driver methods may be called.
type Op func(d cudriver.Driver) error

// Executor serializes all device-context access through one dedicated,
// OS-thread-locked worker goroutine. The device context is not safe for
// uncoordinated multi-thread use; any number of goroutines may call Run
// concurrently, and the worker processes their ops strictly one at a time in
// arrival order.
type Executor struct {
	drv       cudriver.Driver
	jobs      chan *job
	done      chan struct{}
	closeOnce sync.Once
}

type job struct {
	op  Op
	err chan error
}

// NewExecutor starts the worker for the given driver.
func NewExecutor(drv cudriver.Driver) *Executor {
	e := &Executor{
		drv:  drv,
		jobs: make(chan *job),
		done: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	// The device context is bound to the thread that created it.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case j := <-e.jobs:
			j.err <- e.execute(j.op)
		case <-e.done:
			return
		}
	}
}

// execute brackets the op with synchronization barriers so it observes a
// fully settled device and leaves one behind. A panic inside the op is
// surfaced as the op's error; the worker keeps serving later submissions.
func (e *Executor) execute(op Op) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("device operation panicked: %v", r)
		}
	}()
	if err := e.drv.Synchronize(); err != nil {
		return errors.WithMessage(err, "synchronizing before device operation")
	}
	if err := op(e.drv); err != nil {
		return err
	}
	return errors.WithMessage(e.drv.Synchronize(), "synchronizing after device operation")
}

// Run submits op and blocks until the worker finished it, returning the op's
// failure to the caller. Ops submitted from one goroutine are executed in
// submission order.
func (e *Executor) Run(op Op) error {
	j := &job{op: op, err: make(chan error, 1)}
	select {
	case e.jobs <- j:
		return <-j.err
	case <-e.done:
		return ErrClosed
	}
}

// Close stops the worker. Ops already handed to the worker still complete;
// later Run calls fail with ErrClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}
