package pipeline

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// VideoMetadata holds the stream properties the pipeline needs from a
// downloaded clip: dimensions for crop clamping, frame rate for timestamp
// arithmetic, and duration for frame counting.
type VideoMetadata struct {
	Duration  time.Duration
	Width     int
	Height    int
	FrameRate float64
	Codec     string
	BitRate   int64
}

// CheckFFmpegAvailable checks if ffmpeg is available in the system PATH.
// Called at startup to validate transcoding capability.
func CheckFFmpegAvailable() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: video processing is unavailable. Install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)")
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return nil
}

// ffprobeOutput represents the JSON structure from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

// ProbeVideo extracts stream metadata from a video file using ffprobe.
func ProbeVideo(filePath string) (*VideoMetadata, error) {
	log.Debug().Str("path", filePath).Msg("Probing video metadata")

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.Command(ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	metadata := &VideoMetadata{}
	if probe.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			metadata.Duration = time.Duration(dur * float64(time.Second))
		}
	}
	if probe.Format.BitRate != "" {
		metadata.BitRate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	}

	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		if metadata.Width == 0 {
			metadata.Width = stream.Width
			metadata.Height = stream.Height
		}
		if metadata.Codec == "" {
			metadata.Codec = stream.CodecName
		}
		if metadata.FrameRate == 0 && stream.RFrameRate != "" {
			metadata.FrameRate = parseFrameRate(stream.RFrameRate)
		}
	}

	if metadata.Width == 0 || metadata.FrameRate == 0 {
		return nil, fmt.Errorf("no usable video stream in %s", filePath)
	}

	log.Debug().
		Dur("duration", metadata.Duration).
		Int("width", metadata.Width).
		Int("height", metadata.Height).
		Float64("frame_rate", metadata.FrameRate).
		Str("codec", metadata.Codec).
		Msg("Video metadata probed")

	return metadata, nil
}

// parseFrameRate parses frame rate from ffprobe format (e.g., "30/1" -> 30.0)
func parseFrameRate(value string) float64 {
	parts := strings.Split(value, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
	}
	rate, _ := strconv.ParseFloat(value, 64)
	return rate
}
