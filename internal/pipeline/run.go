package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/exacqman/internal/config"
	"github.com/fpang/exacqman/internal/exacq"
	"github.com/fpang/exacqman/internal/export"
)

// RunRequest describes one full extract run: VMS export plus transcode.
type RunRequest struct {
	CameraAlias string
	CameraID    int
	Start       time.Time
	End         time.Time
	Multiplier  int
	Quality     Quality
	Crop        CropProvider // nil disables cropping
	Burnin      bool
	OutputName  string // optional override; default encodes date, alias, multiplier
	ServerURL   string
}

// RunResult is a completed extract run.
type RunResult struct {
	OutputPath string
	Filename   string
	FileSize   int64
}

// ProgressFunc reports coarse pipeline progress: 0 search, 25 export
// requested, 50 downloaded, 75 transcoding, 100 done.
type ProgressFunc func(percent int, message string)

// Validate rejects malformed run parameters before any remote call.
func (r RunRequest) Validate(maxExportDuration time.Duration) error {
	if !r.Start.Before(r.End) {
		return &config.ValidationError{Field: "time_range", Reason: "start must be before end"}
	}
	if d := r.End.Sub(r.Start); d > maxExportDuration {
		return &config.ValidationError{
			Field:  "time_range",
			Reason: fmt.Sprintf("range %s exceeds the configured export ceiling %s", d, maxExportDuration),
		}
	}
	if r.Multiplier < 1 {
		return &config.ValidationError{Field: "timelapse_multiplier", Reason: "must be a positive integer"}
	}
	if _, ok := qualityPresets[r.Quality]; !ok {
		return &config.ValidationError{Field: "quality", Reason: fmt.Sprintf("unknown tier %q", r.Quality)}
	}
	return nil
}

// DefaultOutputName encodes camera alias, date, and processing parameters
// into the output filename for traceability.
func DefaultOutputName(alias string, start time.Time, multiplier int, quality Quality, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	name := fmt.Sprintf("%s_%s_%dx", start.In(loc).Format("2006-01-02"), alias, multiplier)
	if quality != QualityMedium {
		name += "_" + string(quality)
	}
	return name + ".mp4"
}

// Run executes the full pipeline for one request: login, export retrieval,
// timestamp table, transcode, and move into the output directory. Temp
// files are scoped to this run and removed on every path; the VMS session
// is closed on every path.
func Run(ctx context.Context, cfg *config.Config, req RunRequest, progress ProgressFunc) (*RunResult, error) {
	if err := req.Validate(cfg.Settings.MaxExportDuration); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(int, string) {}
	}

	tempDir, err := os.MkdirTemp("", "exacqman-run-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", tempDir).Msg("Failed to remove run temp dir")
		}
	}()

	client := exacq.NewClient(req.ServerURL, cfg.User, cfg.Password)
	progress(0, "Authenticating with VMS")
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	defer func() {
		// Logout must run even when ctx was cancelled.
		logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client.Logout(logoutCtx)
	}()

	policy := export.DefaultPolicy()
	policy.PollInterval = cfg.Settings.PollInterval
	policy.PollTimeout = cfg.Settings.ExportTimeout

	orch := export.New(client, policy)
	progress(0, "Searching for recorded footage")
	exportResult, err := orch.RunWithProgress(ctx, export.Request{
		CameraID: req.CameraID,
		Start:    req.Start,
		End:      req.End,
		Name:     req.OutputName,
		TempDir:  tempDir,
	}, func(state export.State, vmsProgress int) {
		switch state {
		case export.StateExportRequested:
			progress(25, "Export requested, waiting for VMS")
		case export.StatePolling:
			progress(25, fmt.Sprintf("VMS export %d%% complete", vmsProgress))
		case export.StateDownloading:
			progress(50, "Downloading footage")
		}
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(75, "Processing video")
	meta, err := ProbeVideo(exportResult.FilePath)
	if err != nil {
		return nil, &ProcessingError{Stage: StageProbe, Err: err}
	}

	stamps, err := BuildClipStamps(exportResult.Clips, meta.FrameRate)
	if err != nil {
		return nil, fmt.Errorf("build timestamp table: %w", err)
	}

	filename := req.OutputName
	if filename == "" {
		filename = DefaultOutputName(req.CameraAlias, req.Start, req.Multiplier, req.Quality, cfg.Settings.Location)
	}
	if filepath.Ext(filename) != ".mp4" {
		filename += ".mp4"
	}

	if err := os.MkdirAll(cfg.Settings.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	outputPath := filepath.Join(cfg.Settings.OutputDir, filename)

	err = Transcode(ctx, TranscodeRequest{
		InputPath:  exportResult.FilePath,
		OutputPath: outputPath,
		WorkDir:    tempDir,
		Crop:       req.Crop,
		Multiplier: req.Multiplier,
		Stamps:     stamps,
		Burnin:     req.Burnin,
		FontWeight: cfg.Settings.FontWeight,
		Location:   cfg.Settings.Location,
		Quality:    req.Quality,
	})
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}

	progress(100, "Done")
	log.Info().
		Str("camera", req.CameraAlias).
		Str("output", outputPath).
		Int64("bytes", info.Size()).
		Msg("Extract pipeline complete")

	return &RunResult{
		OutputPath: outputPath,
		Filename:   filename,
		FileSize:   info.Size(),
	}, nil
}

// TimelapseFile applies crop (optional) and timelapse decimation to an
// existing video file, without timestamp burn-in, re-encoding at the
// medium quality tier.
func TimelapseFile(ctx context.Context, inputPath, outputPath string, multiplier int, crop CropProvider) error {
	if multiplier < 1 {
		return &config.ValidationError{Field: "multiplier", Reason: "must be a positive integer"}
	}

	workDir, err := os.MkdirTemp("", "exacqman-timelapse-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	return Transcode(ctx, TranscodeRequest{
		InputPath:  inputPath,
		OutputPath: outputPath,
		WorkDir:    workDir,
		Crop:       crop,
		Multiplier: multiplier,
		Quality:    QualityMedium,
	})
}

// CompressFile re-encodes an existing video at the given quality tier.
// Output is always a single .mp4 with the pipeline's fixed codec, so
// repeating the operation is idempotent in format.
func CompressFile(ctx context.Context, inputPath, outputPath string, quality Quality) error {
	workDir, err := os.MkdirTemp("", "exacqman-compress-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	return Transcode(ctx, TranscodeRequest{
		InputPath:  inputPath,
		OutputPath: outputPath,
		WorkDir:    workDir,
		Multiplier: 1,
		Quality:    quality,
	})
}
