package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"siteplan/domain"
)

type persisterFunc func(context.Context, []domain.Task) error

func (f persisterFunc) SaveAll(ctx context.Context, tasks []domain.Task) error { return f(ctx, tasks) }

type publisherFunc func(context.Context, domain.TaskEvent) error

func (f publisherFunc) Publish(ctx context.Context, ev domain.TaskEvent) error { return f(ctx, ev) }

func staticSnapshot(tasks ...domain.Task) func() []domain.Task {
	return func() []domain.Task { return domain.CloneTasks(tasks) }
}

func TestComputeWorkerDefaults(t *testing.T) {
	tests := []struct {
		name        string
		cpu         int
		wantWorkers int
		wantBuffer  int
	}{
		{name: "floor", cpu: 0, wantWorkers: 2, wantBuffer: 128},
		{name: "single cpu", cpu: 1, wantWorkers: 2, wantBuffer: 128},
		{name: "scaled", cpu: 4, wantWorkers: 8, wantBuffer: 512},
		{name: "clamped upper", cpu: 64, wantWorkers: 16, wantBuffer: 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workers, buffer := computeWorkerDefaults(tt.cpu)
			if workers != tt.wantWorkers {
				t.Fatalf("workers mismatch: got %d want %d", workers, tt.wantWorkers)
			}
			if buffer != tt.wantBuffer {
				t.Fatalf("buffer mismatch: got %d want %d", buffer, tt.wantBuffer)
			}
		})
	}
}

func TestDispatcherConfigFromEnv(t *testing.T) {
	t.Setenv("PUBLISH_WORKERS", "3")
	t.Setenv("PUBLISH_BUFFER", "7")
	t.Setenv("PUBLISH_TIMEOUT", "2s")
	t.Setenv("PUBLISH_HANDOFF_TIMEOUT", "0s")
	cfg, err := DispatcherConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	want := DispatcherConfig{Workers: 3, Buffer: 7, Timeout: 2 * time.Second}
	if cfg != want {
		t.Fatalf("config = %#v, want %#v", cfg, want)
	}

	t.Setenv("PUBLISH_TIMEOUT", "soon")
	if _, err := DispatcherConfigFromEnv(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDispatcherWorkersProcessQueuedJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var saves, publishes atomic.Int32
	d := NewDispatcher("p1", staticSnapshot(domain.Task{ID: "1"}),
		persisterFunc(func(context.Context, []domain.Task) error { saves.Add(1); return nil }),
		publisherFunc(func(context.Context, domain.TaskEvent) error { publishes.Add(1); return nil }),
		logger, DispatcherConfig{Workers: 2, Buffer: 8, Timeout: time.Second})

	for i := 0; i < 5; i++ {
		queued, err := d.Dispatch("actor", domain.Task{ID: "1"})
		if err != nil || !queued {
			t.Fatalf("dispatch %d: queued=%v err=%v", i, queued, err)
		}
	}
	d.Close()

	if saves.Load() != 5 || publishes.Load() != 5 {
		t.Fatalf("saves=%d publishes=%d, want 5 each", saves.Load(), publishes.Load())
	}
}

func TestDispatcherRunsInlineWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	release := make(chan struct{})
	var inline atomic.Bool
	var calls atomic.Int32
	d := NewDispatcher("p1", staticSnapshot(), nil,
		publisherFunc(func(context.Context, domain.TaskEvent) error {
			if calls.Add(1) == 1 {
				<-release
			}
			inline.Store(true)
			return nil
		}),
		logger, DispatcherConfig{Workers: 1, Buffer: 0, Timeout: time.Second, HandoffTimeout: 10 * time.Millisecond})
	t.Cleanup(d.Close)

	if queued, _ := d.Dispatch("a", domain.Task{ID: "1"}); !queued {
		t.Fatal("first job should be handed to the idle worker")
	}
	// The only worker is blocked, so the next job has nowhere to go.
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	queued, err := d.Dispatch("a", domain.Task{ID: "2"})
	if queued || err != nil {
		t.Fatalf("expected inline processing, queued=%v err=%v", queued, err)
	}
	if !inline.Load() {
		t.Fatal("inline job did not run")
	}
	close(release)

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "append buffer saturated; processing inline" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected saturation warning")
	}
}

func TestDispatcherReportsInlineErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	saveErr := errors.New("table unavailable")
	pubErr := errors.New("queue unavailable")
	d := NewDispatcher("p1", staticSnapshot(),
		persisterFunc(func(context.Context, []domain.Task) error { return saveErr }),
		publisherFunc(func(context.Context, domain.TaskEvent) error { return pubErr }),
		logger, DispatcherConfig{Workers: 0})
	defer d.Close()

	queued, err := d.Dispatch("a", domain.Task{ID: "1"})
	if queued {
		t.Fatal("no workers: job must run inline")
	}
	if !errors.Is(err, saveErr) || !errors.Is(err, pubErr) {
		t.Fatalf("expected both failures, got %v", err)
	}
}

func TestDispatcherAfterCloseRunsInline(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var published atomic.Int32
	d := NewDispatcher("p1", staticSnapshot(), nil,
		publisherFunc(func(context.Context, domain.TaskEvent) error { published.Add(1); return nil }),
		logger, DispatcherConfig{Workers: 1, Buffer: 1, Timeout: time.Second})
	d.Close()
	d.Close()

	if queued, err := d.Dispatch("a", domain.Task{ID: "1"}); queued || err != nil {
		t.Fatalf("queued=%v err=%v", queued, err)
	}
	if published.Load() != 1 {
		t.Fatalf("published %d", published.Load())
	}
}

func TestDispatcherSavesLatestSnapshot(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var mu sync.Mutex
	board := []domain.Task{{ID: "1"}}
	var saved [][]domain.Task
	d := NewDispatcher("p1",
		func() []domain.Task { mu.Lock(); defer mu.Unlock(); return domain.CloneTasks(board) },
		persisterFunc(func(_ context.Context, tasks []domain.Task) error {
			mu.Lock()
			defer mu.Unlock()
			saved = append(saved, tasks)
			return nil
		}),
		nil, logger, DispatcherConfig{Workers: 4, Buffer: 16, Timeout: time.Second})

	for i := 2; i <= 6; i++ {
		mu.Lock()
		board = append(board, domain.Task{ID: string(rune('0' + i))})
		mu.Unlock()
		if _, err := d.Dispatch("a", domain.Task{ID: string(rune('0' + i))}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	d.Close()

	if got := len(saved[len(saved)-1]); got != 6 {
		t.Fatalf("last save held %d tasks, want 6", got)
	}
}
