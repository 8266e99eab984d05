package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunImmediateAndStops(t *testing.T) {
	sched := New(Options{Interval: 20 * time.Millisecond, Immediate: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return errors.New("tick 错误不应中断循环")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未按时退出")
	}
	if ticks.Load() < 3 {
		t.Fatalf("应至少执行 3 次, 实际 %d", ticks.Load())
	}
}

func TestRunCancelledDuringStartupDelay(t *testing.T) {
	sched := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := sched.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("启动延迟期间取消不应执行 tick, err=%v called=%v", err, called)
	}
}

func TestNextTickAligned(t *testing.T) {
	sched := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	if got := sched.nextTick(now); !got.Equal(time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)) {
		t.Fatalf("对齐后的下一次触发不正确: %s", got)
	}

	exact := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	if got := sched.nextTick(exact); !got.Equal(exact.Add(time.Minute)) {
		t.Fatalf("整点时应顺延一个周期: %s", got)
	}
}
