package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFanOut_CompletionOrder(t *testing.T) {
	delays := []time.Duration{60 * time.Millisecond, 0, 30 * time.Millisecond}
	results := fanOut(context.Background(), delays, len(delays), func(_ context.Context, d time.Duration) time.Duration {
		time.Sleep(d)
		return d
	})

	var got []time.Duration
	for d := range results {
		got = append(got, d)
	}
	want := []time.Duration{0, 30 * time.Millisecond, 60 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("completion order = %v, want %v", got, want)
			break
		}
	}
}

func TestFanOut_WorkerCeiling(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]int, 40)

	results := fanOut(context.Background(), items, 4, func(context.Context, int) int {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return 1
	})

	total := 0
	for r := range results {
		total += r
	}
	if total != len(items) {
		t.Errorf("results = %d, want %d", total, len(items))
	}
	if p := peak.Load(); p > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", p)
	}
}

func TestFanOut_CancelledContextSkipsWaitingTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	results := fanOut(ctx, []int{1, 2, 3, 4, 5, 6}, 1, func(_ context.Context, i int) int {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return i
	})

	<-started
	// Let the other goroutines queue on the semaphore.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	n := 0
	for range results {
		n++
	}
	if n == 0 || n == 6 {
		t.Errorf("got %d results, want the running task only (waiting ones skipped)", n)
	}
}

func TestFanOut_RunningTaskOutlivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	results := fanOut(ctx, []int{1}, 1, func(taskCtx context.Context, i int) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return taskCtx.Err()
	})

	<-started
	cancel()
	for err := range results {
		if err != nil {
			t.Errorf("running task saw %v, want an uncancelled context", err)
		}
	}
}

func TestFanOut_Empty(t *testing.T) {
	for range fanOut(context.Background(), []int(nil), 4, func(context.Context, int) int { return 0 }) {
		t.Fatal("unexpected result")
	}
}
