package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGCRunOnceRebuildsJobs(t *testing.T) {
	t.Parallel()
	store, scheduler, _, rec := newTestCore(t)
	store.putReminder(*atTime(1, 8, 0, 0))
	store.putReminder(*every(2, 45))

	gc := NewGC(rec, 0, zerolog.Nop())
	gc.RunOnce(context.Background())

	if got := len(scheduler.Jobs(JobPrefix)); got != 2 {
		t.Fatalf("got %d jobs after gc pass, want 2", got)
	}
}

func TestGCSkipsOverlappingPass(t *testing.T) {
	t.Parallel()
	store, scheduler, _, rec := newTestCore(t)
	store.putReminder(*every(1, 60))

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	store.listHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	gc := NewGC(rec, time.Minute, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		gc.RunOnce(context.Background())
		close(done)
	}()

	<-entered
	// Second pass while the first one is blocked inside the list query.
	gc.RunOnce(context.Background())
	if scheduler.callCount() != 0 {
		t.Fatal("overlapping pass must be skipped, not run")
	}

	close(release)
	<-done
	if got := len(scheduler.Jobs(JobPrefix)); got != 1 {
		t.Fatalf("got %d jobs, want 1", got)
	}
}

func TestGCDefaultInterval(t *testing.T) {
	t.Parallel()
	_, _, _, rec := newTestCore(t)
	gc := NewGC(rec, 0, zerolog.Nop())
	if gc.interval != DefaultGCInterval {
		t.Fatalf("interval = %v, want %v", gc.interval, DefaultGCInterval)
	}
}
