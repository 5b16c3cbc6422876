package delivery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewSchedulerValidates(t *testing.T) {
	if _, err := NewScheduler("x", 0, func(context.Context) {}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := NewScheduler("x", time.Second, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil tick")
	}
}

func TestSchedulerTicksImmediatelyAndStops(t *testing.T) {
	var ticks atomic.Int32
	first := make(chan struct{}, 1)
	s, err := NewScheduler("test", time.Hour, func(context.Context) {
		ticks.Add(1)
		select {
		case first <- struct{}{}:
		default:
		}
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if !s.Start(context.Background()) {
		t.Fatalf("expected first start to succeed")
	}
	if s.Start(context.Background()) {
		t.Fatalf("expected second start to be rejected")
	}

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatalf("first tick did not fire immediately")
	}

	if !s.Stop() {
		t.Fatalf("expected stop to succeed")
	}
	if s.IsRunning() {
		t.Fatalf("scheduler still running after stop")
	}
	if s.Stop() {
		t.Fatalf("expected second stop to be a no-op")
	}
	if ticks.Load() != 1 {
		t.Fatalf("ticks=%d, expected 1", ticks.Load())
	}
}

func TestSchedulerTicksDoNotOverlap(t *testing.T) {
	var active, maxActive, ticks atomic.Int32
	s, err := NewScheduler("test", 5*time.Millisecond, func(context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		ticks.Add(1)
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	if maxActive.Load() != 1 {
		t.Fatalf("max concurrent ticks=%d, expected 1", maxActive.Load())
	}
	if ticks.Load() < 2 {
		t.Fatalf("ticks=%d, expected at least 2", ticks.Load())
	}
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	var ticks atomic.Int32
	s, _ := NewScheduler("test", 5*time.Millisecond, func(context.Context) {
		if ticks.Add(1) == 1 {
			panic("boom")
		}
	}, zerolog.Nop())

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if ticks.Load() < 2 {
		t.Fatalf("scheduler did not survive a panicking tick")
	}
}

func TestSchedulerStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := NewScheduler("test", time.Hour, func(context.Context) {}, zerolog.Nop())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after parent cancellation")
	}
}
