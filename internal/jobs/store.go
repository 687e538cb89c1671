// Package jobs tracks asynchronous pipeline runs for the web server: job
// submission, status/progress snapshots for polling clients, and a bounded
// history of finished runs.
//
// The store owns its synchronization and is injected into handlers; it is
// never ambient state. For a given job the executing goroutine is the sole
// writer; clients only ever read snapshots.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result describes the output file of a completed job.
type Result struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
}

// Job is a point-in-time snapshot of a tracked pipeline run.
type Job struct {
	ID          string      `json:"job_id"`
	Status      Status      `json:"status"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	Request     interface{} `json:"request,omitempty"`
	Result      *Result     `json:"result,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// UpdateFunc lets a running job report progress. Progress never moves
// backwards; stale updates are ignored.
type UpdateFunc func(progress int, message string)

// RunFunc is the unit of work a job executes.
type RunFunc func(ctx context.Context, update UpdateFunc) (*Result, error)

// DefaultHistoryLimit bounds how many finished jobs are retained.
const DefaultHistoryLimit = 50

// watcherBuffer is the per-watcher channel capacity. A watcher that falls
// this far behind misses intermediate snapshots, never the terminal one it
// reads last.
const watcherBuffer = 8

// Store tracks jobs in memory for a single process.
type Store struct {
	mu           sync.Mutex
	jobs         map[string]*Job
	finished     []string // finished job ids, oldest first, for eviction
	historyLimit int
	watchers     map[string][]chan Job
	now          func() time.Time
}

// NewStore creates a store retaining up to historyLimit finished jobs
// (DefaultHistoryLimit if historyLimit <= 0).
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{
		jobs:         make(map[string]*Job),
		historyLimit: historyLimit,
		watchers:     make(map[string][]chan Job),
		now:          time.Now,
	}
}

// Submit registers a job and starts fn on its own goroutine. The echoed
// request is stored for status responses. Returns the job id immediately.
func (s *Store) Submit(ctx context.Context, request interface{}, fn RunFunc) string {
	id := uuid.NewString()
	now := s.now().UTC()

	s.mu.Lock()
	s.jobs[id] = &Job{
		ID:        id,
		Status:    StatusQueued,
		Message:   "Job queued for processing",
		Request:   request,
		CreatedAt: now,
	}
	s.mu.Unlock()

	go s.run(ctx, id, fn)

	log.Info().Str("job", id).Msg("Job submitted")
	return id
}

func (s *Store) run(ctx context.Context, id string, fn RunFunc) {
	defer func() {
		if r := recover(); r != nil {
			// Raw panic values are never surfaced to clients.
			log.Error().Str("job", id).Interface("panic", r).Msg("Job panicked")
			s.fail(id, "internal error during processing")
		}
	}()

	s.update(id, func(j *Job) {
		j.Status = StatusProcessing
		j.Message = "Processing started"
	})

	result, err := fn(ctx, func(progress int, message string) {
		s.update(id, func(j *Job) {
			if progress >= j.Progress {
				j.Progress = progress
			}
			if message != "" {
				j.Message = message
			}
		})
	})
	if err != nil {
		log.Error().Err(err).Str("job", id).Msg("Job failed")
		s.fail(id, err.Error())
		return
	}

	completed := s.now().UTC()
	s.update(id, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 100
		j.Message = "Completed successfully"
		j.Result = result
		j.CompletedAt = &completed
	})
	s.markFinished(id)
	log.Info().Str("job", id).Msg("Job completed")
}

func (s *Store) fail(id, message string) {
	completed := s.now().UTC()
	s.update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Message = message
		j.CompletedAt = &completed
	})
	s.markFinished(id)
}

// update applies a mutation under the lock and notifies watchers with the
// resulting snapshot.
func (s *Store) update(id string, mutate func(*Job)) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	mutate(job)
	snapshot := *job
	watchers := append([]chan Job(nil), s.watchers[id]...)
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- snapshot:
		default: // slow watcher, drop this snapshot
		}
	}
}

// markFinished records a terminal job for eviction and evicts the oldest
// finished jobs beyond the history limit.
func (s *Store) markFinished(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = append(s.finished, id)
	for len(s.finished) > s.historyLimit {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.jobs, oldest)
		log.Debug().Str("job", oldest).Msg("Evicted finished job from history")
	}
}

// Get returns a snapshot of the job, or false if it is unknown (never
// submitted or already evicted).
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Watch returns a channel receiving job snapshots on every change, plus a
// cancel function the caller must invoke. Returns false for unknown jobs.
func (s *Store) Watch(id string) (<-chan Job, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil, nil, false
	}

	ch := make(chan Job, watcherBuffer)
	s.watchers[id] = append(s.watchers[id], ch)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		chans := s.watchers[id]
		for i, c := range chans {
			if c == ch {
				s.watchers[id] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(s.watchers[id]) == 0 {
			delete(s.watchers, id)
		}
	}
	return ch, cancel, true
}

// Len returns the number of tracked jobs, for tests and diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
