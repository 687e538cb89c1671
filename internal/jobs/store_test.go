package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

// waitForStatus polls until the job reaches the wanted status or times out.
func waitForStatus(t *testing.T, s *Store, id string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := s.Get(id); ok && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.Get(id)
	t.Fatalf("job %s never reached %s, last seen: %+v", id, want, job)
	return Job{}
}

func TestSubmitCompletes(t *testing.T) {
	s := NewStore(0)
	started := make(chan struct{})

	id := s.Submit(context.Background(), map[string]string{"camera": "backyard"},
		func(ctx context.Context, update UpdateFunc) (*Result, error) {
			<-started
			update(50, "halfway")
			return &Result{Filename: "out.mp4", FileSize: 2048}, nil
		})

	if job, ok := s.Get(id); !ok || job.Status.Terminal() {
		t.Fatalf("fresh job = %+v, %v", job, ok)
	}
	close(started)

	job := waitForStatus(t, s, id, StatusCompleted)
	if job.Progress != 100 {
		t.Errorf("progress = %d", job.Progress)
	}
	if job.Result == nil || job.Result.Filename != "out.mp4" || job.Result.FileSize != 2048 {
		t.Errorf("result = %+v", job.Result)
	}
	if job.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestSubmitFails(t *testing.T) {
	s := NewStore(0)
	id := s.Submit(context.Background(), nil,
		func(ctx context.Context, update UpdateFunc) (*Result, error) {
			return nil, errors.New("no recorded footage")
		})

	job := waitForStatus(t, s, id, StatusFailed)
	if job.Message != "no recorded footage" {
		t.Errorf("message = %q", job.Message)
	}
	if job.Result != nil {
		t.Errorf("failed job has result: %+v", job.Result)
	}
}

func TestSubmitPanicSanitized(t *testing.T) {
	s := NewStore(0)
	id := s.Submit(context.Background(), nil,
		func(ctx context.Context, update UpdateFunc) (*Result, error) {
			panic("secret internal detail")
		})

	job := waitForStatus(t, s, id, StatusFailed)
	// The panic value never reaches clients.
	if job.Message != "internal error during processing" {
		t.Errorf("message = %q", job.Message)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	s := NewStore(0)
	id := s.Submit(context.Background(), nil,
		func(ctx context.Context, update UpdateFunc) (*Result, error) {
			update(75, "transcoding")
			update(50, "stale update")
			return &Result{Filename: "out.mp4"}, nil
		})

	job := waitForStatus(t, s, id, StatusCompleted)
	// Completion pushes to 100 regardless; the stale 50 must never have
	// rolled the job back below 75 along the way.
	if job.Progress != 100 {
		t.Errorf("progress = %d", job.Progress)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := NewStore(0)
	release := make(chan struct{})
	id := s.Submit(context.Background(), nil,
		func(ctx context.Context, update UpdateFunc) (*Result, error) {
			<-release
			return &Result{Filename: "out.mp4"}, nil
		})

	job, ok := s.Get(id)
	if !ok {
		t.Fatal("job not found")
	}
	job.Status = StatusFailed // mutating the copy must not touch the store

	if stored, _ := s.Get(id); stored.Status == StatusFailed {
		t.Error("Get returned a reference, not a snapshot")
	}
	close(release)
	waitForStatus(t, s, id, StatusCompleted)
}

func TestGetUnknown(t *testing.T) {
	s := NewStore(0)
	if _, ok := s.Get("nope"); ok {
		t.Error("unknown id should not be found")
	}
}

func TestHistoryEviction(t *testing.T) {
	s := NewStore(2)

	var ids []string
	for i := 0; i < 3; i++ {
		id := s.Submit(context.Background(), nil,
			func(ctx context.Context, update UpdateFunc) (*Result, error) {
				return &Result{Filename: "out.mp4"}, nil
			})
		ids = append(ids, id)
		waitForStatus(t, s, id, StatusCompleted)
	}

	// Oldest finished job is evicted once the limit is exceeded.
	if _, ok := s.Get(ids[0]); ok {
		t.Error("oldest job should have been evicted")
	}
	for _, id := range ids[1:] {
		if _, ok := s.Get(id); !ok {
			t.Errorf("job %s evicted too early", id)
		}
	}
	if s.Len() != 2 {
		t.Errorf("store len = %d", s.Len())
	}
}

func TestWatchSeesTerminalSnapshot(t *testing.T) {
	s := NewStore(0)
	release := make(chan struct{})
	id := s.Submit(context.Background(), nil,
		func(ctx context.Context, update UpdateFunc) (*Result, error) {
			<-release
			update(50, "halfway")
			return &Result{Filename: "out.mp4"}, nil
		})

	updates, cancel, ok := s.Watch(id)
	if !ok {
		t.Fatal("watch on live job failed")
	}
	defer cancel()
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot := <-updates:
			if snapshot.Status == StatusCompleted {
				return
			}
		case <-deadline:
			t.Fatal("never observed terminal snapshot")
		}
	}
}

func TestWatchUnknownJob(t *testing.T) {
	s := NewStore(0)
	if _, _, ok := s.Watch("nope"); ok {
		t.Error("watch on unknown job should fail")
	}
}
