package postcommit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsTasksInOrder(t *testing.T) {
	d := New(16, time.Second)
	d.Start()
	defer d.Stop()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		d.Enqueue(context.Background(), Task{Name: "record", Run: func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}})
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDispatcherDetachesFromCallerCancellation(t *testing.T) {
	d := NewInline(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var taskErr error
	d.Enqueue(ctx, Task{Name: "check", Run: func(ctx context.Context) error {
		taskErr = ctx.Err()
		return nil
	}})

	assert.NoError(t, taskErr)
}

func TestDispatcherSurvivesFailuresAndPanics(t *testing.T) {
	d := NewInline(time.Second)
	ran := 0

	d.Enqueue(context.Background(), Task{Name: "fail", Run: func(ctx context.Context) error {
		ran++
		return errors.New("boom")
	}})
	d.Enqueue(context.Background(), Task{Name: "panic", Run: func(ctx context.Context) error {
		ran++
		panic("bad")
	}})
	d.Enqueue(context.Background(), Task{Name: "ok", Run: func(ctx context.Context) error {
		ran++
		return nil
	}})

	assert.Equal(t, 3, ran)
}

func TestDispatcherAppliesTaskTimeout(t *testing.T) {
	d := NewInline(10 * time.Millisecond)
	var deadline bool

	d.Enqueue(context.Background(), Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		deadline = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return ctx.Err()
	}})

	assert.True(t, deadline)
}

func TestDispatcherDropsAfterStop(t *testing.T) {
	d := New(1, time.Second)
	d.Start()
	d.Stop()

	done := make(chan struct{})
	go func() {
		d.Enqueue(context.Background(), Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
		d.Enqueue(context.Background(), Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "enqueue blocked after stop")
	}
}

func TestDispatcherKeepsRequestDeadline(t *testing.T) {
	d := NewInline(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	want, _ := ctx.Deadline()

	var got time.Time
	d.Enqueue(ctx, Task{Name: "check", Run: func(ctx context.Context) error {
		got, _ = ctx.Deadline()
		return nil
	}})

	assert.Equal(t, want, got)
}

func TestDispatcherSkipsTasksPastRequestDeadline(t *testing.T) {
	d := New(4, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ran := make(chan struct{}, 1)
	d.Enqueue(ctx, Task{Name: "late", Run: func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}})
	<-ctx.Done()

	var wg sync.WaitGroup
	wg.Add(1)
	d.Start()
	defer d.Stop()
	d.Enqueue(context.Background(), Task{Name: "marker", Run: func(ctx context.Context) error {
		wg.Done()
		return nil
	}})
	wg.Wait()

	assert.Empty(t, ran)
}

func TestDispatcherFullQueueGivesUpWithCaller(t *testing.T) {
	d := New(1, time.Second)
	noop := Task{Name: "fill", Run: func(ctx context.Context) error { return nil }}
	d.Enqueue(context.Background(), noop)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Enqueue(ctx, noop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "enqueue ignored caller cancellation")
	}
}
