// Package export drives the VMS export lifecycle to completion: submit a
// search and export request, poll status until ready, download the file,
// and clean up the remote export record regardless of outcome.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/exacqman/internal/exacq"
)

// State is the orchestrator's position in the export lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateSearching       State = "searching"
	StateExportRequested State = "export_requested"
	StatePolling         State = "polling"
	StateDownloading     State = "downloading"
	StateCleaningUp      State = "cleaning_up"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// cleanupTimeout bounds the deferred DeleteExport, which runs on its own
// context so cleanup survives cancellation of the run itself.
const cleanupTimeout = 10 * time.Second

// TimeoutError reports an export that never reached ready within the
// configured polling ceiling. The remote export record is still cleaned up.
type TimeoutError struct {
	ExportID string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("export %s did not become ready within %s", e.ExportID, e.Elapsed)
}

// VMS is the slice of the ExacqVision client the orchestrator drives.
// *exacq.Client satisfies it; tests substitute fakes.
type VMS interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context)
	CreateSearch(ctx context.Context, cameraID int, start, end time.Time) (*exacq.SearchResult, error)
	RequestExport(ctx context.Context, cameraID int, start, end time.Time, name string) (string, error)
	ExportStatus(ctx context.Context, exportID string) (exacq.ExportStatus, int, error)
	DownloadExport(ctx context.Context, exportID, destDir string) (string, int64, error)
	DeleteExport(ctx context.Context, exportID string) error
}

// Request describes one export run.
type Request struct {
	CameraID int
	Start    time.Time // must carry an explicit UTC offset
	End      time.Time
	Name     string // desired export filename on the VMS side, optional
	TempDir  string // where the downloaded file lands
}

// Result is a completed export run.
type Result struct {
	FilePath string
	FileSize int64
	SearchID string
	Clips    []exacq.Clip
}

// ProgressFunc receives state transitions and, during polling, the VMS
// export progress percentage.
type ProgressFunc func(state State, vmsProgress int)

// Orchestrator runs export requests against one VMS client. An Orchestrator
// handles a single run at a time; concurrent jobs each get their own.
type Orchestrator struct {
	client VMS
	policy Policy
	sleep  SleepFunc
	now    func() time.Time

	state State
}

// New creates an orchestrator with the production clock and sleeper.
func New(client VMS, policy Policy) *Orchestrator {
	return &Orchestrator{
		client: client,
		policy: policy,
		sleep:  ctxSleep,
		now:    time.Now,
		state:  StateIdle,
	}
}

// State returns the current lifecycle state, for logging and tests.
func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) setState(s State, progress ProgressFunc, vmsProgress int) {
	log.Debug().Str("from", string(o.state)).Str("to", string(s)).Msg("Export state transition")
	o.state = s
	if progress != nil {
		progress(s, vmsProgress)
	}
}

// Run executes the full export lifecycle. Whenever an export id was issued,
// DeleteExport is attempted exactly once before returning, on success and
// failure paths alike; a cleanup failure is logged but never overrides the
// run's outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	return o.RunWithProgress(ctx, req, nil)
}

// RunWithProgress is Run with a progress callback.
func (o *Orchestrator) RunWithProgress(ctx context.Context, req Request, progress ProgressFunc) (result *Result, err error) {
	if !req.Start.Before(req.End) {
		return nil, fmt.Errorf("export: start %s is not before end %s", req.Start, req.End)
	}

	var exportID string
	defer func() {
		finalState := StateDone
		if err != nil {
			finalState = StateFailed
		}
		if exportID != "" {
			o.setState(StateCleaningUp, progress, 0)
			// The delete must run even when ctx was cancelled.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			if delErr := o.client.DeleteExport(cleanupCtx, exportID); delErr != nil {
				log.Warn().Err(delErr).Str("exportId", exportID).Msg("Export cleanup failed")
			}
		}
		o.setState(finalState, progress, 0)
	}()

	// Searching
	o.setState(StateSearching, progress, 0)
	var search *exacq.SearchResult
	err = o.callWithRecovery(ctx, "search", func() error {
		var callErr error
		search, callErr = o.client.CreateSearch(ctx, req.CameraID, req.Start, req.End)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(search.Clips) == 0 {
		return nil, fmt.Errorf("export: no recorded footage for camera %d between %s and %s",
			req.CameraID, req.Start.UTC().Format(time.RFC3339), req.End.UTC().Format(time.RFC3339))
	}

	// ExportRequested
	o.setState(StateExportRequested, progress, 0)
	err = o.callWithRecovery(ctx, "request export", func() error {
		var callErr error
		exportID, callErr = o.client.RequestExport(ctx, req.CameraID, req.Start, req.End, req.Name)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	// Polling
	o.setState(StatePolling, progress, 0)
	if err = o.pollUntilReady(ctx, exportID, progress); err != nil {
		return nil, err
	}

	// Downloading
	o.setState(StateDownloading, progress, 100)
	var filePath string
	var fileSize int64
	err = o.callWithRecovery(ctx, "download export", func() error {
		var callErr error
		filePath, fileSize, callErr = o.client.DownloadExport(ctx, exportID, req.TempDir)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		FilePath: filePath,
		FileSize: fileSize,
		SearchID: search.SearchID,
		Clips:    search.Clips,
	}, nil
}

// pollUntilReady repeats status polls at the policy interval until the
// export is ready, fails, or the polling ceiling elapses.
func (o *Orchestrator) pollUntilReady(ctx context.Context, exportID string, progress ProgressFunc) error {
	started := o.now()

	for {
		var status exacq.ExportStatus
		var vmsProgress int
		err := o.callWithRecovery(ctx, "export status", func() error {
			var callErr error
			status, vmsProgress, callErr = o.client.ExportStatus(ctx, exportID)
			return callErr
		})
		if err != nil {
			return err
		}

		switch status {
		case exacq.StatusReady:
			log.Info().Str("exportId", exportID).Dur("waited", o.now().Sub(started)).Msg("Export ready")
			return nil
		case exacq.StatusFailed:
			return fmt.Errorf("export %s failed on the VMS side", exportID)
		case exacq.StatusExpired:
			return fmt.Errorf("export %s expired on the VMS side", exportID)
		default:
			if progress != nil {
				progress(StatePolling, vmsProgress)
			}
			log.Debug().
				Str("exportId", exportID).
				Int("progress", vmsProgress).
				Dur("nextPoll", o.policy.PollInterval).
				Msg("Export still processing")
		}

		elapsed := o.now().Sub(started)
		if elapsed+o.policy.PollInterval > o.policy.PollTimeout {
			return &TimeoutError{ExportID: exportID, Elapsed: elapsed}
		}
		if err := o.sleep(ctx, o.policy.PollInterval); err != nil {
			return err
		}
	}
}

// callWithRecovery runs fn, retrying transient failures with exponential
// backoff up to the policy's retry budget. An auth failure triggers one
// re-login and a re-entry into the call; a second consecutive auth failure
// aborts the run.
func (o *Orchestrator) callWithRecovery(ctx context.Context, op string, fn func() error) error {
	backoff := o.policy.RetryBackoff
	retries := 0
	reloggedIn := false

	for {
		err := fn()
		if err == nil {
			return nil
		}

		switch {
		case exacq.IsAuthFailure(err):
			if reloggedIn {
				return fmt.Errorf("%s: session invalid after re-login: %w", op, err)
			}
			log.Warn().Err(err).Str("op", op).Msg("Session invalid, re-authenticating")
			if loginErr := o.client.Login(ctx); loginErr != nil {
				return fmt.Errorf("%s: re-login failed: %w", op, loginErr)
			}
			reloggedIn = true

		case exacq.IsTransient(err):
			if retries >= o.policy.MaxRetries {
				return fmt.Errorf("%s: giving up after %d retries: %w", op, retries, err)
			}
			retries++
			log.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", retries).
				Dur("backoff", backoff).
				Msg("Transient VMS failure, retrying")
			if sleepErr := o.sleep(ctx, backoff); sleepErr != nil {
				return sleepErr
			}
			backoff *= 2
			reloggedIn = false

		default:
			return err
		}
	}
}
