// ABOUTME: Awaitable single-assignment result
// ABOUTME: Futures move once from Pending to Resolved, Rejected or Cancelled
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by Wait when the future was cancelled
var ErrCancelled = errors.New("future: cancelled")

// State of a future
type State int

const (
	Pending State = iota
	Resolved
	Rejected
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Future holds a value that becomes available later.
// The first Resolve, Reject or Cancel wins; later calls are ignored.
type Future[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	state State
	value T
	err   error
}

// New creates a pending future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// ResolvedWith returns an already-resolved future
func ResolvedWith[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// RejectedWith returns an already-rejected future
func RejectedWith[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve completes the future with a value. Reports whether it took effect.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(Resolved, v, nil)
}

// Reject completes the future with an error. Reports whether it took effect.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(Rejected, zero, err)
}

// Cancel completes the future as cancelled. Reports whether it took effect.
func (f *Future[T]) Cancel() bool {
	var zero T
	return f.complete(Cancelled, zero, ErrCancelled)
}

func (f *Future[T]) complete(state State, v T, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Pending {
		return false
	}
	f.state = state
	f.value = v
	f.err = err
	close(f.done)
	return true
}

// Done returns a channel closed once the future leaves Pending
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// State returns the current state
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the value and error without blocking.
// For a pending future it returns the zero value and a nil error.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait blocks until the future completes or ctx is done
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Forward completes dst with the outcome of src once src completes
func Forward[T any](src, dst *Future[T]) {
	go func() {
		<-src.done
		v, err := src.Result()
		switch src.State() {
		case Resolved:
			dst.Resolve(v)
		case Cancelled:
			dst.Cancel()
		default:
			dst.Reject(err)
		}
	}()
}
