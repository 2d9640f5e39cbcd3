package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/marcus/taskpilot/internal/logging"
)

func newTestScheduler() *Scheduler {
	return New(WithLogger(logging.Nop()))
}

func TestAddValidation(t *testing.T) {
	s := newTestScheduler()
	noop := func(context.Context) {}

	if err := s.Add("a", 0, noop); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("Add(0) error = %v, want %v", err, ErrInvalidInterval)
	}
	if err := s.Add("a", -time.Second, noop); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("Add(-1s) error = %v, want %v", err, ErrInvalidInterval)
	}
	if err := s.Add("a", time.Hour, noop); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add("a", time.Hour, noop); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate Add error = %v, want %v", err, ErrDuplicateKey)
	}

	if d, ok := s.Interval("a"); !ok || d != time.Hour {
		t.Errorf("Interval(a) = %v, %v", d, ok)
	}
}

func TestRemove(t *testing.T) {
	s := newTestScheduler()
	_ = s.Add("a", time.Hour, func(context.Context) {})
	_ = s.Add("b", time.Hour, func(context.Context) {})

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove("a"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("second Remove error = %v, want %v", err, ErrUnknownKey)
	}
	if got := s.Keys(); len(got) != 1 || got[0] != "b" {
		t.Errorf("Keys() = %v, want [b]", got)
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestScheduler()
	ctx := context.Background()

	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() before Start error = %v, want %v", err, ErrNotRunning)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false, want true")
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start() twice error = %v, want %v", err, ErrAlreadyRunning)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestNextRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestScheduler()
	_ = s.Add("hourly", time.Hour, func(context.Context) {})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	now := time.Now()
	next := s.NextRun("hourly")
	if next.Before(now) || next.After(now.Add(time.Hour+time.Second)) {
		t.Errorf("NextRun() = %v, want within an hour of %v", next, now)
	}
	if !s.NextRun("missing").IsZero() {
		t.Error("NextRun(missing) should be zero")
	}
}

func TestJobsFireIndependently(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestScheduler()
	var fast, slow atomic.Int32

	_ = s.Add("fast", time.Second, func(context.Context) { fast.Add(1) })
	_ = s.Add("slow", time.Hour, func(context.Context) { slow.Add(1) })

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for fast.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if fast.Load() < 2 {
		t.Errorf("fast job fired %d times, want >= 2", fast.Load())
	}
	if slow.Load() != 0 {
		t.Errorf("slow job fired %d times, want 0", slow.Load())
	}
}

func TestPanickingJobIsRecovered(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestScheduler()
	var calls atomic.Int32
	_ = s.Add("boom", time.Second, func(context.Context) {
		calls.Add(1)
		panic("task exploded")
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	_ = s.Stop(context.Background())

	if calls.Load() < 2 {
		t.Errorf("job ran %d times after panicking, want the next fire to proceed", calls.Load())
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestScheduler()
	started := make(chan struct{})
	var once atomic.Bool
	_ = s.Add("long", time.Second, func(ctx context.Context) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}
}
