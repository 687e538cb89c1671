// Package pipeline turns a downloaded VMS export into the finished video:
// optional crop, timelapse decimation, per-frame timestamp burn-in, and a
// final compression pass into a fixed-codec .mp4.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/exacqman/internal/config"
)

// Stage identifies which transcode stage a ProcessingError came from.
type Stage string

const (
	StageProbe     Stage = "probe"
	StageCrop      Stage = "crop"
	StageTimelapse Stage = "timelapse"
	StageOverlay   Stage = "overlay"
	StageCompress  Stage = "compress"
)

// ProcessingError reports a failed transcode stage. Partial output files
// are removed before it is returned; a corrupt artifact is never left on
// disk.
type ProcessingError struct {
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Quality is a compression preset tier.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// qualityPreset maps a tier onto a target bitrate and a resolution ceiling
// (longest-edge width; sources below the ceiling are never upscaled).
type qualityPreset struct {
	bitrate  string
	maxWidth int
}

var qualityPresets = map[Quality]qualityPreset{
	QualityLow:    {bitrate: "500k", maxWidth: 960},
	QualityMedium: {bitrate: "1000k", maxWidth: 1280},
	QualityHigh:   {bitrate: "2500k", maxWidth: 1920},
}

// ParseQuality validates a quality tier name.
func ParseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case QualityLow, QualityMedium, QualityHigh:
		return Quality(s), nil
	case "":
		return QualityMedium, nil
	default:
		return "", &config.ValidationError{
			Field:  "quality",
			Reason: fmt.Sprintf("%q is not one of low, medium, high", s),
		}
	}
}

// CropProvider supplies an optional crop rectangle. Satisfied by a config
// value or by an interactive collaborator; the pipeline itself never blocks
// on terminal or GUI input.
type CropProvider func() (config.Rect, bool, error)

// FixedCrop returns a CropProvider for a configured rectangle.
func FixedCrop(r config.Rect) CropProvider {
	return func() (config.Rect, bool, error) { return r, true, nil }
}

// NoCrop is the CropProvider used when cropping is disabled.
func NoCrop() (config.Rect, bool, error) { return config.Rect{}, false, nil }

// Intermediate encoding settings. Stages before the final compression pass
// re-encode near-losslessly so quality decisions happen exactly once.
const (
	intermediateCRF    = 18
	intermediatePreset = "veryfast"
)

// TranscodeRequest describes one transcode run over a downloaded clip.
type TranscodeRequest struct {
	InputPath  string
	OutputPath string
	WorkDir    string // scratch dir for intermediates; caller removes it

	Crop       CropProvider // nil means no crop
	Multiplier int          // timelapse multiplier, >= 1
	Stamps     []FrameStamp // pre-decimation stamp table; empty disables burn-in
	Burnin     bool
	FontWeight int // overlay outline weight
	Location   *time.Location
	Quality    Quality
}

// Transcode applies the stages in order: crop, timelapse decimation,
// timestamp burn-in (on kept frames only), compression. Any stage failure
// aborts the rest, removes partial outputs, and reports the failing stage.
func Transcode(ctx context.Context, req TranscodeRequest) error {
	meta, err := ProbeVideo(req.InputPath)
	if err != nil {
		return &ProcessingError{Stage: StageProbe, Err: err}
	}

	multiplier := req.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	current := req.InputPath

	// Crop
	if req.Crop != nil {
		rect, ok, err := req.Crop()
		if err != nil {
			return &ProcessingError{Stage: StageCrop, Err: err}
		}
		if ok {
			rect = ClampCrop(rect, meta.Width, meta.Height)
			out := filepath.Join(req.WorkDir, "crop.mp4")
			if err := runFFmpeg(ctx, StageCrop, buildCropArgs(current, out, rect), out); err != nil {
				return err
			}
			current = out
		}
	}

	// Timelapse decimation
	if multiplier > 1 {
		out := filepath.Join(req.WorkDir, "timelapse.mp4")
		if err := runFFmpeg(ctx, StageTimelapse, buildTimelapseArgs(current, out, multiplier, meta.FrameRate), out); err != nil {
			return err
		}
		current = out
	}

	// Timestamp burn-in, on the frames actually retained
	if req.Burnin && len(req.Stamps) > 0 {
		kept := DecimateStamps(req.Stamps, multiplier)
		srtPath := filepath.Join(req.WorkDir, "stamps.srt")
		if err := writeStampsSRT(srtPath, kept, meta.FrameRate, req.Location); err != nil {
			return &ProcessingError{Stage: StageOverlay, Err: err}
		}
		out := filepath.Join(req.WorkDir, "overlay.mp4")
		if err := runFFmpeg(ctx, StageOverlay, buildOverlayArgs(current, out, srtPath, req.FontWeight), out); err != nil {
			return err
		}
		current = out
	}

	// Compression, always
	if err := runFFmpeg(ctx, StageCompress, buildCompressArgs(current, req.OutputPath, req.Quality), req.OutputPath); err != nil {
		return err
	}

	return nil
}

// ClampCrop fits a rectangle inside the frame and rounds its size down to
// even values, which yuv420p encoding requires.
func ClampCrop(r config.Rect, width, height int) config.Rect {
	if r.X >= width {
		r.X = width - 2
	}
	if r.Y >= height {
		r.Y = height - 2
	}
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X+r.Width > width {
		r.Width = width - r.X
	}
	if r.Y+r.Height > height {
		r.Height = height - r.Y
	}
	r.Width -= r.Width % 2
	r.Height -= r.Height % 2
	if r.Width < 2 {
		r.Width = 2
	}
	if r.Height < 2 {
		r.Height = 2
	}
	return r
}

// --- Stage argument builders ---
//
// Surveillance exports carry no usable audio, so every stage maps the video
// stream only.

func intermediateArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-crf", strconv.Itoa(intermediateCRF),
		"-preset", intermediatePreset,
		"-an",
	}
}

func buildCropArgs(inputPath, outputPath string, r config.Rect) []string {
	args := []string{"-i", inputPath}
	args = append(args, "-vf", fmt.Sprintf("crop=%d:%d:%d:%d", r.Width, r.Height, r.X, r.Y))
	args = append(args, intermediateArgs()...)
	args = append(args, "-y", outputPath)
	return args
}

// buildTimelapseArgs keeps every Nth frame and re-stamps presentation times
// so the output runs at the source frame rate with 1/N the duration:
// output_frame_count = ceil(input_frame_count / N).
func buildTimelapseArgs(inputPath, outputPath string, multiplier int, frameRate float64) []string {
	args := []string{"-i", inputPath}
	vf := fmt.Sprintf("select='not(mod(n\\,%d))',setpts=N/(%s*TB)", multiplier, formatFPS(frameRate))
	args = append(args, "-vf", vf)
	args = append(args, "-r", formatFPS(frameRate))
	args = append(args, "-vsync", "vfr")
	args = append(args, intermediateArgs()...)
	args = append(args, "-y", outputPath)
	return args
}

func buildOverlayArgs(inputPath, outputPath, srtPath string, fontWeight int) []string {
	style := fmt.Sprintf(
		"FontName=Arial,FontSize=14,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,BorderStyle=1,Outline=%d,Alignment=1,MarginL=12,MarginV=12",
		fontWeight)
	args := []string{"-i", inputPath}
	args = append(args, "-vf", fmt.Sprintf("subtitles=%s:force_style='%s'", srtPath, style))
	args = append(args, intermediateArgs()...)
	args = append(args, "-y", outputPath)
	return args
}

// buildCompressArgs produces the final .mp4: H.264 at the tier's target
// bitrate with a resolution ceiling, never upscaling smaller sources.
func buildCompressArgs(inputPath, outputPath string, quality Quality) []string {
	preset, ok := qualityPresets[quality]
	if !ok {
		preset = qualityPresets[QualityMedium]
	}

	args := []string{"-i", inputPath}
	args = append(args, "-c:v", "libx264")
	args = append(args, "-b:v", preset.bitrate)
	args = append(args, "-maxrate", preset.bitrate)
	args = append(args, "-bufsize", preset.bitrate)
	args = append(args, "-vf", fmt.Sprintf("scale='min(%d,iw)':-2,format=yuv420p", preset.maxWidth))
	args = append(args, "-movflags", "+faststart")
	args = append(args, "-an")
	args = append(args, "-y", outputPath)
	return args
}

func formatFPS(frameRate float64) string {
	return strconv.FormatFloat(frameRate, 'f', -1, 64)
}

// runFFmpeg executes one stage, removing the stage's output file if the
// pass fails so no corrupt artifact survives.
func runFFmpeg(ctx context.Context, stage Stage, args []string, outputPath string) error {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return &ProcessingError{Stage: stage, Err: fmt.Errorf("ffmpeg not found in PATH: %w", err)}
	}

	log.Debug().
		Str("stage", string(stage)).
		Strs("args", args).
		Msg("Running ffmpeg stage")

	start := time.Now()
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if err != nil {
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", outputPath).Msg("Failed to remove partial stage output")
		}
		log.Warn().
			Err(err).
			Str("stage", string(stage)).
			Str("ffmpeg_output", truncate(string(output), 2000)).
			Dur("duration", elapsed).
			Msg("ffmpeg stage failed")
		return &ProcessingError{Stage: stage, Err: fmt.Errorf("ffmpeg: %w\nOutput: %s", err, truncate(string(output), 2000))}
	}

	log.Info().
		Str("stage", string(stage)).
		Str("output", outputPath).
		Dur("duration", elapsed).
		Msg("ffmpeg stage complete")
	return nil
}

// truncate returns the last n characters of s; ffmpeg puts the failure
// reason at the end of its output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
