package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talkmate/companion/internal/errs"
)

type fakeConn struct{ id int }

type dialer struct {
	calls  atomic.Int32
	closed atomic.Int32
	fail   atomic.Bool
	delay  time.Duration
}

func (d *dialer) dial(ctx context.Context) (*fakeConn, error) {
	n := d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return &fakeConn{id: int(n)}, nil
}

func (d *dialer) close(context.Context, *fakeConn) error {
	d.closed.Add(1)
	return nil
}

func TestLazy_DialsOnceAndReuses(t *testing.T) {
	t.Parallel()

	d := &dialer{}
	l := NewLazy(d.dial, d.close, time.Second)
	if l.State() != Uninitialized {
		t.Fatalf("want uninitialized, got %s", l.State())
	}

	c1, err := l.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c2, err := l.Get(context.Background())
	if err != nil {
		t.Fatalf("Get(2): %v", err)
	}
	if c1 != c2 || d.calls.Load() != 1 {
		t.Fatalf("connection not reused: %p %p calls=%d", c1, c2, d.calls.Load())
	}
	if l.State() != Ready {
		t.Fatalf("want ready, got %s", l.State())
	}
}

func TestLazy_FailedDialIsRetryable(t *testing.T) {
	t.Parallel()

	d := &dialer{}
	d.fail.Store(true)
	l := NewLazy(d.dial, d.close, time.Second)

	_, err := l.Get(context.Background())
	if !errors.Is(err, errs.ErrStorageUnavailable) {
		t.Fatalf("want ErrStorageUnavailable, got %v", err)
	}
	if l.State() != Uninitialized {
		t.Fatalf("failed dial must return to uninitialized, got %s", l.State())
	}

	d.fail.Store(false)
	if _, err := l.Get(context.Background()); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if d.calls.Load() != 2 {
		t.Fatalf("want 2 dials, got %d", d.calls.Load())
	}
}

func TestLazy_DialTimeout(t *testing.T) {
	t.Parallel()

	d := &dialer{delay: time.Second}
	l := NewLazy(d.dial, d.close, 20*time.Millisecond)

	start := time.Now()
	_, err := l.Get(context.Background())
	if !errors.Is(err, errs.ErrStorageUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want timeout wrapped in ErrStorageUnavailable, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("dial timeout not applied")
	}
}

func TestLazy_ConcurrentCallersShareOneDial(t *testing.T) {
	t.Parallel()

	d := &dialer{delay: 30 * time.Millisecond}
	l := NewLazy(d.dial, d.close, time.Second)

	var wg sync.WaitGroup
	conns := make([]*fakeConn, 16)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := l.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			conns[i] = c
		}(i)
	}
	wg.Wait()

	if d.calls.Load() != 1 {
		t.Fatalf("want a single dial, got %d", d.calls.Load())
	}
	for _, c := range conns {
		if c != conns[0] {
			t.Fatalf("callers got different connections")
		}
	}
}

func TestLazy_CloseIsTerminal(t *testing.T) {
	t.Parallel()

	d := &dialer{}
	l := NewLazy(d.dial, d.close, time.Second)
	if _, err := l.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.closed.Load() != 1 || l.State() != Closed {
		t.Fatalf("close not applied: closed=%d state=%s", d.closed.Load(), l.State())
	}
	if _, err := l.Get(context.Background()); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("want ErrClosed after Close, got %v", err)
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if d.closed.Load() != 1 || d.calls.Load() != 1 {
		t.Fatalf("no reconnect / double close expected: dials=%d closes=%d", d.calls.Load(), d.closed.Load())
	}
}

func TestLazy_CloseBeforeUse(t *testing.T) {
	t.Parallel()

	d := &dialer{}
	l := NewLazy(d.dial, d.close, time.Second)
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := l.Get(context.Background()); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if d.calls.Load() != 0 || d.closed.Load() != 0 {
		t.Fatalf("nothing should be dialed or closed")
	}
}

func TestLazy_CloseDuringDial(t *testing.T) {
	t.Parallel()

	d := &dialer{delay: 50 * time.Millisecond}
	l := NewLazy(d.dial, d.close, time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Get(context.Background())
		errCh <- err
	}()
	for l.State() != Connecting {
		time.Sleep(time.Millisecond)
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-errCh; !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("want ErrClosed for the racing dial, got %v", err)
	}
	if d.closed.Load() != 1 {
		t.Fatalf("connection dialed after Close must be released")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		Uninitialized: "uninitialized", Connecting: "connecting", Ready: "ready", Closed: "closed", State(9): "state(9)",
	} {
		if s.String() != want {
			t.Fatalf("%d: got %q want %q", int(s), s.String(), want)
		}
	}
}
