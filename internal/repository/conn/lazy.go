// Package conn holds the connection lifecycle shared by storage backends.
package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/talkmate/companion/internal/errs"
)

// State is a position in the connection lifecycle.
type State int

const (
	Uninitialized State = iota
	Connecting
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DialFunc opens a connection. It must honour ctx.
type DialFunc[T any] func(ctx context.Context) (T, error)

// CloseFunc releases a connection opened by DialFunc.
type CloseFunc[T any] func(ctx context.Context, c T) error

// DefaultTimeout bounds a single dial.
const DefaultTimeout = 5 * time.Second

// Lazy dials on first use and hands the same connection to every caller.
// A failed dial leaves it Uninitialized so the next Get retries; after Close
// every Get fails with errs.ErrClosed.
type Lazy[T any] struct {
	dial    DialFunc[T]
	close   CloseFunc[T]
	timeout time.Duration

	mu    sync.Mutex
	state State
	conn  T
	// done is non-nil while a dial is in flight; waiters block on it.
	done chan struct{}
	err  error
}

// NewLazy builds an uninitialised connection. timeout <= 0 selects DefaultTimeout.
func NewLazy[T any](dial DialFunc[T], closeFn CloseFunc[T], timeout time.Duration) *Lazy[T] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lazy[T]{dial: dial, close: closeFn, timeout: timeout}
}

// State reports the current lifecycle state.
func (l *Lazy[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Get returns the connection, dialing it if needed. Dial failures are
// wrapped in errs.ErrStorageUnavailable.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		l.mu.Lock()
		switch l.state {
		case Ready:
			c := l.conn
			l.mu.Unlock()
			return c, nil
		case Closed:
			l.mu.Unlock()
			return zero, errs.ErrClosed
		case Connecting:
			done := l.done
			l.mu.Unlock()
			select {
			case <-done:
				l.mu.Lock()
				err, st := l.err, l.state
				l.mu.Unlock()
				if st == Uninitialized {
					return zero, err
				}
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		default:
			l.state = Connecting
			l.done = make(chan struct{})
			l.mu.Unlock()
			return l.connect(ctx)
		}
	}
}

func (l *Lazy[T]) connect(ctx context.Context) (T, error) {
	var zero T
	dctx, cancel := context.WithTimeout(ctx, l.timeout)
	c, err := l.dial(dctx)
	cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	done := l.done
	l.done = nil
	defer close(done)

	if err != nil {
		l.err = fmt.Errorf("%w: %w", errs.ErrStorageUnavailable, err)
		if l.state == Connecting {
			l.state = Uninitialized
		}
		return zero, l.err
	}
	if l.state == Closed {
		// Close raced the dial; do not leak the fresh connection.
		_ = l.close(context.WithoutCancel(ctx), c)
		l.err = errs.ErrClosed
		return zero, errs.ErrClosed
	}
	l.conn, l.state, l.err = c, Ready, nil
	return c, nil
}

// Close releases the connection if one is open and marks the lifecycle Closed.
// Closing twice is a no-op.
func (l *Lazy[T]) Close(ctx context.Context) error {
	l.mu.Lock()
	prev := l.state
	c := l.conn
	l.state = Closed
	var zero T
	l.conn = zero
	l.mu.Unlock()

	if prev != Ready {
		return nil
	}
	return l.close(ctx, c)
}
