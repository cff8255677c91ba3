package taskqueue

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/asset-runtime/errors"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := NewWorkerPool(&Config{Workers: 4})

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := p.Schedule(func(ctx context.Context) error {
			defer wg.Done()
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}
	wg.Wait()

	if count.Load() != 100 {
		t.Fatalf("expected 100 tasks run, got %d", count.Load())
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st := p.Stats()
	if st.Scheduled != 100 || st.Completed != 100 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestWorkerPool_DefaultWorkers(t *testing.T) {
	p := NewWorkerPool(nil)
	defer p.Close(context.Background())

	if p.Workers() <= 0 {
		t.Fatalf("expected positive worker count, got %d", p.Workers())
	}
}

func TestWorkerPool_ErrorPolicy(t *testing.T) {
	var mu sync.Mutex
	var got []error
	p := NewWorkerPool(&Config{
		Workers: 1,
		OnError: func(err error) {
			mu.Lock()
			got = append(got, err)
			mu.Unlock()
		},
	})

	sentinel := stderrors.New("task failed")
	_ = p.Schedule(func(ctx context.Context) error { return sentinel })
	_ = p.Schedule(func(ctx context.Context) error { panic("kaboom") })
	_ = p.Schedule(func(ctx context.Context) error { return nil })

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 policy calls, got %d", len(got))
	}
	if !stderrors.Is(got[0], sentinel) {
		t.Errorf("first error = %v, want sentinel", got[0])
	}
	if !stderrors.Is(got[1], &errors.Error{Kind: errors.KindPanic}) {
		t.Errorf("second error = %v, want panic", got[1])
	}

	st := p.Stats()
	if st.Failed != 1 || st.Panicked != 1 || st.Completed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestWorkerPool_ScheduleAfterClose(t *testing.T) {
	p := NewWorkerPool(&Config{Workers: 1})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := p.Schedule(func(ctx context.Context) error { return nil })
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindClosed}) {
		t.Fatalf("expected closed error, got %v", err)
	}

	// Second close is a no-op
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestWorkerPool_CloseDrainsQueue(t *testing.T) {
	p := NewWorkerPool(&Config{Workers: 1, QueueSize: 16})

	release := make(chan struct{})
	var ran atomic.Int32
	_ = p.Schedule(func(ctx context.Context) error {
		<-release
		ran.Add(1)
		return nil
	})
	for i := 0; i < 5; i++ {
		_ = p.Schedule(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	closed := make(chan error, 1)
	go func() { closed <- p.Close(context.Background()) }()

	close(release)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if ran.Load() != 6 {
		t.Fatalf("expected all 6 queued tasks to run, got %d", ran.Load())
	}
}

func TestWorkerPool_CloseTimeout(t *testing.T) {
	p := NewWorkerPool(&Config{Workers: 1})

	release := make(chan struct{})
	defer close(release)
	_ = p.Schedule(func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Close(ctx)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWorkerPool_CloseReleasesBlockedSchedule(t *testing.T) {
	p := NewWorkerPool(&Config{Workers: 1, QueueSize: 1})
	noop := func(ctx context.Context) error { return nil }

	started := make(chan struct{})
	release := make(chan struct{})
	if err := p.Schedule(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	<-started
	if err := p.Schedule(noop); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- p.Schedule(noop) }()
	select {
	case err := <-blocked:
		t.Fatalf("Schedule must wait while the buffer is full, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	closed := make(chan error, 1)
	go func() { closed <- p.Close(ctx) }()

	select {
	case err := <-blocked:
		if !stderrors.Is(err, &errors.Error{Kind: errors.KindClosed}) {
			t.Fatalf("expected closed error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not release the blocked Schedule")
	}

	close(release)
	<-closed
	if st := p.Stats(); st.Scheduled != 2 {
		t.Fatalf("rejected task must not count as scheduled, got %+v", st)
	}
}

func TestInline(t *testing.T) {
	var failures []error
	q := Inline{OnError: func(err error) { failures = append(failures, err) }}

	ran := false
	if err := q.Schedule(func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if !ran {
		t.Fatal("inline task should run before Schedule returns")
	}

	_ = q.Schedule(func(ctx context.Context) error { return stderrors.New("bad") })
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}

	if err := q.Schedule(nil); err == nil {
		t.Fatal("nil task should be rejected")
	}
}
