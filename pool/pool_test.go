package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ha1tch/gotds/internal/connio"
)

// fakeDialErr counts how many times it is called and always fails. It
// can't construct a real *connio.Conn without a live socket, so these tests
// exercise pool bookkeeping (liveCount/idle) against a Dial
// that always fails a cheap, well-defined way instead of asserting on
// opaque *connio.Conn identity.
func fakeDialErr(callCount *int64) DialFunc {
	return func(ctx context.Context) (*connio.Conn, error) {
		atomic.AddInt64(callCount, 1)
		return nil, errors.New("dial refused")
	}
}

func TestBorrowPropagatesDialError(t *testing.T) {
	var calls int64
	p := New(Config{Max: 2, Dial: fakeDialErr(&calls)})
	defer p.Shutdown()

	_, err := p.Borrow(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if st := p.Stats(); st.Live != 0 {
		t.Errorf("live = %d, want 0 after failed dial", st.Live)
	}
}

func TestBorrowRespectsContextCancelWhenFull(t *testing.T) {
	var calls int64
	blockDial := make(chan struct{})
	p := New(Config{Max: 1, Dial: func(ctx context.Context) (*connio.Conn, error) {
		atomic.AddInt64(&calls, 1)
		<-blockDial
		return nil, errors.New("never reached in this test")
	}})
	defer p.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Borrow(context.Background())
	}()
	time.Sleep(20 * time.Millisecond) // let the first borrow occupy the only slot

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Borrow(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	close(blockDial)
	wg.Wait()
}

func TestShutdownWakesWaitersWithErrShutdown(t *testing.T) {
	blockDial := make(chan struct{})
	p := New(Config{Max: 1, Dial: func(ctx context.Context) (*connio.Conn, error) {
		<-blockDial
		return nil, errors.New("dial refused after unblock")
	}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Borrow(context.Background()) // holds the only slot while parked in Dial
	}()
	time.Sleep(20 * time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Borrow(context.Background())
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the waiter park on the full pool

	p.Shutdown()

	select {
	case err := <-waiterErr:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("waiter err = %v, want ErrShutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected waiter result")
	}
	close(blockDial)
	wg.Wait()
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	var calls int64
	p := New(Config{Max: 1, Dial: fakeDialErr(&calls)})
	defer p.Shutdown()

	_, err := Retry(context.Background(), p, RetryConfig{MaxAttempts: 3}, func(ctx context.Context, c *connio.Conn) (int, error) {
		return 0, errors.New("permanent failure")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestIsRetryableClassification(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(errors.New("constraint violation")) {
		t.Error("plain server error should not be retryable")
	}
	if !IsRetryable(connio.ErrBroken) {
		t.Error("ErrBroken should be retryable")
	}
}
