package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freshcart/push-engine/internal/logger"
)

var testLog = logger.New(logger.Config{Level: slog.LevelError})

func newTestBreaker(settings Settings) *Breaker {
	reg := NewRegistry(settings, testLog, nil)
	return reg.GetWithSettings("test-dependency", settings)
}

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := newTestBreaker(Settings{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		if err := b.Execute(context.Background(), failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected operation error, got %v", i, err)
		}
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected state open after 3 failures, got %s", got)
	}

	// While open, calls are rejected without invoking the operation.
	var invoked atomic.Int32
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked.Add(1)
		return nil
	})

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if invoked.Load() != 0 {
		t.Fatal("operation was invoked while circuit was open")
	}
	if openErr.Metrics.State != StateOpen {
		t.Errorf("expected metrics state open, got %s", openErr.Metrics.State)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := newTestBreaker(Settings{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	time.Sleep(30 * time.Millisecond)

	// The probe is allowed through and its success closes the circuit.
	var invoked atomic.Int32
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if invoked.Load() != 1 {
		t.Fatalf("expected probe to invoke operation once, got %d", invoked.Load())
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", got)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	_ = b.Execute(context.Background(), failing)
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Execute(context.Background(), failing); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe to run and fail, got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected single probe failure to reopen circuit, got %s", got)
	}
}

func TestBreakerSuccessThresholdClosesHalfOpen(t *testing.T) {
	b := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	_ = b.Execute(context.Background(), failing)
	time.Sleep(20 * time.Millisecond)

	if err := b.Execute(context.Background(), succeeding); err != nil {
		t.Fatalf("first probe failed: %v", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open after one of two required successes, got %s", got)
	}

	if err := b.Execute(context.Background(), succeeding); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", got)
	}
}

func TestBreakerCallTimeoutCountsAsFailure(t *testing.T) {
	b := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
		CallTimeout:      20 * time.Millisecond,
	})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected timeout to open circuit at threshold 1, got %s", got)
	}
}

func TestBreakerSingleProbeInHalfOpen(t *testing.T) {
	b := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		CallTimeout:      time.Second,
	})

	_ = b.Execute(context.Background(), failing)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		probeDone <- b.Execute(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	// A second call while the probe is in flight fails fast.
	err := b.Execute(context.Background(), succeeding)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected concurrent call to be rejected during probe, got %v", err)
	}

	close(release)
	if err := <-probeDone; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", got)
	}
}

func TestBreakerStaleCallDoesNotDisturbProbe(t *testing.T) {
	b := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		CallTimeout:      time.Second,
	})

	// A slow call admitted while the circuit is still closed.
	staleRelease := make(chan struct{})
	staleStarted := make(chan struct{})
	staleDone := make(chan error, 1)
	go func() {
		staleDone <- b.Execute(context.Background(), func(context.Context) error {
			close(staleStarted)
			<-staleRelease
			return errBoom
		})
	}()
	<-staleStarted

	// The circuit opens and recovers into half-open with a probe in
	// flight while the stale call is still running.
	_ = b.Execute(context.Background(), failing)
	time.Sleep(20 * time.Millisecond)

	probeRelease := make(chan struct{})
	probeStarted := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Execute(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()
	<-probeStarted

	// The stale call settles with a failure mid-probe. It must neither
	// reopen the circuit nor free the probe slot.
	close(staleRelease)
	if err := <-staleDone; !errors.Is(err, errBoom) {
		t.Fatalf("expected stale call to surface its own error, got %v", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("stale failure changed state to %s during probe", got)
	}

	err := b.Execute(context.Background(), succeeding)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected second probe rejected while first is in flight, got %v", err)
	}

	close(probeRelease)
	if err := <-probeDone; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", got)
	}
}

func TestRegistryReturnsSameBreakerPerName(t *testing.T) {
	reg := NewRegistry(Settings{}, testLog, nil)

	a := reg.Get("push-transport")
	b := reg.Get("push-transport")
	c := reg.Get("role-lookup")

	if a != b {
		t.Fatal("expected the same breaker instance for the same name")
	}
	if a == c {
		t.Fatal("expected distinct breakers for distinct names")
	}

	if len(reg.Snapshot()) != 2 {
		t.Fatalf("expected 2 breakers in snapshot, got %d", len(reg.Snapshot()))
	}
}
