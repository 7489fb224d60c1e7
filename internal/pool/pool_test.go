package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/vidflow/internal/domain"
)

func newTestPool(t *testing.T, cfg *Config) *Pool {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

// blockingTask returns a task that signals started and waits for release.
func blockingTask(started chan<- struct{}, release <-chan struct{}) Task {
	return Task{
		Name: "block",
		Run: func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Workers: 1, QueueSize: 1, Policy: PolicyCallerRuns}},
		{name: "no workers", cfg: Config{Workers: 0, QueueSize: 1, Policy: PolicyCallerRuns}, wantErr: true},
		{name: "no backlog", cfg: Config{Workers: 1, QueueSize: 0, Policy: PolicyCallerRuns}, wantErr: true},
		{name: "unknown policy", cfg: Config{Workers: 1, QueueSize: 1, Policy: "abort"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSampleTracksActiveAndQueued(t *testing.T) {
	p := newTestPool(t, &Config{Workers: 2, QueueSize: 3, Policy: PolicyDropWithAlert})

	started := make(chan struct{}, 5)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		if err := p.TrySubmit(blockingTask(started, release)); err != nil {
			t.Fatalf("TrySubmit() error = %v", err)
		}
	}
	<-started
	<-started

	for i := 0; i < 3; i++ {
		if err := p.TrySubmit(blockingTask(started, release)); err != nil {
			t.Fatalf("TrySubmit() backlog error = %v", err)
		}
	}

	snap := p.Sample()
	if snap.ActiveWorkers != 2 || snap.QueuedTasks != 3 {
		t.Fatalf("Sample() = active %d queued %d, want 2 and 3", snap.ActiveWorkers, snap.QueuedTasks)
	}
	if got := snap.LoadRatio(); got != 1 {
		t.Errorf("LoadRatio() = %v, want 1", got)
	}

	if err := p.TrySubmit(blockingTask(started, release)); !errors.Is(err, ErrPoolFull) {
		t.Errorf("TrySubmit() on full pool error = %v, want ErrPoolFull", err)
	}

	close(release)
	waitFor(t, func() bool { return p.Sample().Completed == 5 })

	snap = p.Sample()
	if snap.ActiveWorkers != 0 || snap.QueuedTasks != 0 {
		t.Errorf("after drain Sample() = active %d queued %d, want 0", snap.ActiveWorkers, snap.QueuedTasks)
	}
}

func TestSubmitCallerRuns(t *testing.T) {
	p := newTestPool(t, &Config{Workers: 1, QueueSize: 1, Policy: PolicyCallerRuns})

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	defer close(release)
	if _, err := p.Submit(blockingTask(started, release)); err != nil {
		t.Fatal(err)
	}
	<-started
	if _, err := p.Submit(blockingTask(started, release)); err != nil {
		t.Fatal(err)
	}

	var ran atomic.Bool
	res, err := p.Submit(Task{Name: "inline", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res != RanOnCaller {
		t.Errorf("Submit() result = %v, want %v", res, RanOnCaller)
	}
	if !ran.Load() {
		t.Error("caller-runs task did not run synchronously")
	}
}

func TestCallerRunsCountsAsActive(t *testing.T) {
	p := newTestPool(t, &Config{Workers: 1, QueueSize: 1, Policy: PolicyCallerRuns})

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	if _, err := p.Submit(blockingTask(started, release)); err != nil {
		t.Fatal(err)
	}
	<-started
	if _, err := p.Submit(blockingTask(started, release)); err != nil {
		t.Fatal(err)
	}

	done := make(chan SubmitResult, 1)
	go func() {
		res, _ := p.Submit(blockingTask(started, release))
		done <- res
	}()
	<-started

	snap := p.Sample()
	if snap.ActiveWorkers != 2 || snap.QueuedTasks != 1 {
		t.Errorf("Sample() = active %d queued %d, want 2 and 1", snap.ActiveWorkers, snap.QueuedTasks)
	}
	if got := snap.Available(); got != 0 {
		t.Errorf("Available() = %d, want 0 while the caller runs a task", got)
	}

	close(release)
	if res := <-done; res != RanOnCaller {
		t.Errorf("Submit() result = %v, want %v", res, RanOnCaller)
	}
	waitFor(t, func() bool {
		s := p.Sample()
		return s.ActiveWorkers == 0 && s.QueuedTasks == 0
	})
}

func TestSubmitDropWithAlert(t *testing.T) {
	var rejected []string
	var mu sync.Mutex
	p := newTestPool(t, &Config{
		Workers:   1,
		QueueSize: 1,
		Policy:    PolicyDropWithAlert,
		OnReject: func(task Task, snap domain.CapacitySnapshot) {
			mu.Lock()
			rejected = append(rejected, task.Name)
			mu.Unlock()
		},
	})

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	defer close(release)
	p.Submit(blockingTask(started, release))
	<-started
	p.Submit(blockingTask(started, release))

	var doneErr error
	res, err := p.Submit(Task{
		Name:   "overflow",
		Run:    func(ctx context.Context) error { return nil },
		OnDone: func(err error) { doneErr = err },
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res != Dropped {
		t.Errorf("Submit() result = %v, want %v", res, Dropped)
	}
	if !errors.Is(doneErr, ErrPoolFull) {
		t.Errorf("OnDone error = %v, want ErrPoolFull", doneErr)
	}
	if p.Sample().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", p.Sample().Rejected)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(rejected) != 1 || rejected[0] != "overflow" {
		t.Errorf("reject handler saw %v, want [overflow]", rejected)
	}
}

func TestPanicIsRoutedToFailureHandler(t *testing.T) {
	failures := make(chan error, 1)
	p := newTestPool(t, &Config{
		Workers:   1,
		QueueSize: 2,
		Policy:    PolicyDropWithAlert,
		OnFailure: func(task Task, err error) { failures <- err },
	})

	if err := p.TrySubmit(Task{Name: "boom", Run: func(ctx context.Context) error { panic("kaput") }}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failures:
		if err == nil {
			t.Fatal("expected panic error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler not called")
	}

	// The worker must survive the panic.
	done := make(chan struct{})
	if err := p.TrySubmit(Task{Name: "after", Run: func(ctx context.Context) error { close(done); return nil }}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	if p.Sample().Failed != 1 {
		t.Errorf("Failed = %d, want 1", p.Sample().Failed)
	}
}

func TestTaskTimeoutCancelsContext(t *testing.T) {
	p := newTestPool(t, &Config{Workers: 1, QueueSize: 1, TaskTimeout: 20 * time.Millisecond, Policy: PolicyDropWithAlert})

	result := make(chan error, 1)
	p.TrySubmit(Task{
		Name:   "slow",
		Run:    func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
		OnDone: func(err error) { result <- err },
	})

	select {
	case err := <-result:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("OnDone error = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was not cancelled")
	}
}

func TestStopRejectsNewTasks(t *testing.T) {
	p, err := New(&Config{Workers: 1, QueueSize: 1, Policy: PolicyDropWithAlert})
	if err != nil {
		t.Fatal(err)
	}
	p.Stop(context.Background())
	if err := p.TrySubmit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("TrySubmit() after Stop error = %v, want ErrPoolStopped", err)
	}
}
